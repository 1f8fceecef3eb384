package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/tradedash/internal/event"
)

// connectKey is the single singleflight key: every attempt, whatever the
// token, joins the one in flight.
const connectKey = "connect"

// Manager multiplexes one live session across any number of subscribers.
type Manager struct {
	cfg     ManagerConfig
	factory TransportFactory
	logger  *slog.Logger

	connects singleflight.Group

	// Guarded by mu. generation increments on every teardown so that
	// attempts and sessions belonging to an older connection become inert.
	mu         sync.Mutex
	state      State
	token      string
	transport  Transport
	session    *session
	generation uint64
	reg        *registry

	sessions   atomic.Int64
	reconnects atomic.Int64
}

// session is one established transport and its read goroutine.
type session struct {
	id       uuid.UUID
	tr       Transport
	gen      uint64
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// NewManager creates a new Connection Manager. A nil factory uses the
// gorilla/websocket client.
func NewManager(cfg ManagerConfig, factory TransportFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = ClientFactory(logger)
	}

	return &Manager{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		reg:     newRegistry(),
	}
}

// Connect establishes the live session for token.
//
// Concurrent calls share one attempt. A call made while connected with the
// same token returns immediately; a different token replaces the session.
// ctx bounds only how long this caller waits, not the shared attempt.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.state == StateConnected && m.token == token {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ch := m.connects.DoChan(connectKey, func() (interface{}, error) {
		return nil, m.connect(token)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect runs inside the singleflight group.
func (m *Manager) connect(token string) error {
	m.mu.Lock()
	if m.state == StateConnected && m.token == token {
		m.mu.Unlock()
		return nil
	}
	old := m.detachLocked()
	m.generation++
	gen := m.generation
	m.state = StateConnecting
	m.token = token
	m.mu.Unlock()

	// The previous session is fully closed before the next one is dialed
	if old != nil {
		old.Close()
		m.logger.Info("closed previous live session")
	}

	return m.establish(gen, token, false)
}

// establish creates and connects a transport for generation gen.
func (m *Manager) establish(gen uint64, token string, resumed bool) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return ErrConnectAborted
	}
	tr := m.factory(m.cfg.clientConfig(token))
	m.transport = tr
	m.mu.Unlock()

	m.sessions.Add(1)
	err := tr.Connect(context.Background())

	m.mu.Lock()
	if gen != m.generation || m.transport != tr {
		m.mu.Unlock()
		tr.Close()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnectAborted, err)
		}
		return ErrConnectAborted
	}

	if err != nil {
		m.transport = nil
		m.state = StateDisconnected
		m.token = ""
		m.mu.Unlock()

		tr.Close()
		if !errors.Is(err, ErrConnectFailed) {
			err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
		m.logger.Warn("live feed connect failed",
			"url", m.cfg.URL,
			"resumed", resumed,
			"error", err,
		)
		return err
	}

	s := &session{
		id:   uuid.New(),
		tr:   tr,
		gen:  gen,
		stop: make(chan struct{}),
	}
	m.session = s
	m.state = StateConnected
	m.mu.Unlock()

	if resumed {
		m.reconnects.Add(1)
	}
	m.logger.Info("live feed connected",
		"session", s.id,
		"url", m.cfg.URL,
		"resumed", resumed,
	)

	go m.readLoop(s)

	return nil
}

// Disconnect closes the live session, clears every subscription and forgets
// the token. Safe to call at any time, including with no connection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	wasActive := m.state != StateDisconnected
	dropped := m.reg.len()
	tr := m.detachLocked()
	m.reg.clear()
	m.generation++
	m.state = StateDisconnected
	m.token = ""
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}

	if wasActive || dropped > 0 {
		m.logger.Info("live feed disconnected", "subscriptions_cleared", dropped)
	}
}

// detachLocked stops the current session and releases its transport. When a
// transport existed its subscriptions are cleared. Must be called with mu held.
func (m *Manager) detachLocked() Transport {
	if m.session != nil {
		m.session.halt()
		m.session = nil
	}

	tr := m.transport
	m.transport = nil
	if tr != nil {
		if n := m.reg.clear(); n > 0 {
			m.logger.Debug("subscriptions cleared with previous session", "count", n)
		}
	}
	return tr
}

// Subscribe registers h for channel and returns the registration. Subscribing
// before any connection exists is allowed.
func (m *Manager) Subscribe(channel string, h Handler) *Subscription {
	if h == nil {
		panic("connection: nil handler")
	}

	s := &Subscription{
		ID:      uuid.New(),
		Channel: channel,
		handler: h,
		manager: m,
	}

	m.mu.Lock()
	m.reg.add(s)
	m.mu.Unlock()

	m.logger.Debug("subscribed", "channel", channel, "subscription", s.ID)
	return s
}

// Unsubscribe removes one registration. No-op if it is not registered.
func (m *Manager) Unsubscribe(channel string, sub *Subscription) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	removed := m.reg.remove(channel, sub)
	m.mu.Unlock()

	if removed {
		m.logger.Debug("unsubscribed", "channel", channel, "subscription", sub.ID)
	}
}

// IsConnected reports whether a session is currently established.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Token returns the credential of the current or pending session, or ""
// when disconnected.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		State:         m.state,
		Subscriptions: m.reg.len(),
		Channels:      m.reg.channelCount(),
	}
	if m.session != nil {
		stats.SessionID = m.session.id.String()
	}
	m.mu.Unlock()

	stats.Sessions = m.sessions.Load()
	stats.Reconnects = m.reconnects.Load()
	return stats
}

// readLoop announces the session and forwards its frames until it stops.
func (m *Manager) readLoop(s *session) {
	m.publish(s.gen, event.Event{
		Channel:    event.ChannelConnect,
		Payload:    event.Connected{SessionID: s.id.String()},
		ReceivedAt: time.Now(),
	})

	for {
		select {
		case <-s.stop:
			return

		case msg := <-s.tr.Messages():
			m.forward(s, msg)

		case err := <-s.tr.Errors():
			// Deliver what arrived before the failure first
			m.drain(s)
			m.handleDrop(s, err)
			return
		}
	}
}

// drain forwards buffered frames without blocking.
func (m *Manager) drain(s *session) {
	for {
		select {
		case msg := <-s.tr.Messages():
			m.forward(s, msg)
		default:
			return
		}
	}
}

// forward decodes one frame and publishes it.
func (m *Manager) forward(s *session, msg TimestampedMessage) {
	ev, err := event.Decode(msg.Data, msg.ReceivedAt)
	if err != nil {
		m.logger.Warn("dropping undecodable frame",
			"session", s.id,
			"error", err,
		)
		return
	}
	m.publish(s.gen, ev)
}

// handleDrop reacts to the loss of a live session: it announces the loss and
// re-establishes the session with the same token and policy.
func (m *Manager) handleDrop(s *session, cause error) {
	m.mu.Lock()
	if s.gen != m.generation || m.session != s {
		m.mu.Unlock()
		return
	}
	m.session = nil
	tr := m.transport
	m.transport = nil
	m.state = StateConnecting
	token := m.token
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}

	m.logger.Warn("live session lost",
		"session", s.id,
		"error", cause,
	)

	if !errors.Is(cause, ErrClosedByServer) {
		m.publish(s.gen, errorEvent(cause))
	}
	m.publish(s.gen, event.Event{
		Channel:    event.ChannelDisconnect,
		Payload:    event.Disconnected{Reason: cause.Error()},
		ReceivedAt: time.Now(),
	})

	// Joins a user Connect if one is already in flight
	m.connects.DoChan(connectKey, func() (interface{}, error) {
		return nil, m.resume(s.gen, token)
	})
}

// resume re-establishes a dropped session. Exhausting the retry budget is
// reported on the error channel; subscriptions are kept for a later Connect.
func (m *Manager) resume(gen uint64, token string) error {
	err := m.establish(gen, token, true)
	if err == nil || errors.Is(err, ErrConnectAborted) {
		return err
	}
	m.publish(gen, errorEvent(err))
	return err
}

// publish delivers ev to a snapshot of the channel's subscribers, in
// registration order. Events from a superseded generation are dropped.
func (m *Manager) publish(gen uint64, ev event.Event) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	subs := m.reg.snapshot(ev.Channel)
	m.mu.Unlock()

	for _, s := range subs {
		// Removed earlier in this same dispatch
		if !s.Active() {
			continue
		}
		m.invoke(s, ev)
	}
}

// invoke calls one handler, recovering and logging a panic.
func (m *Manager) invoke(s *Subscription, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber panicked",
				"channel", ev.Channel,
				"subscription", s.ID,
				"panic", r,
			)
		}
	}()
	s.handler(ev)
}

func errorEvent(err error) event.Event {
	return event.Event{
		Channel:    event.ChannelError,
		Payload:    event.TransportError{Err: err},
		ReceivedAt: time.Now(),
	}
}
