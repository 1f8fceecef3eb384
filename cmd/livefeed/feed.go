package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/tradedash/internal/auth"
	"github.com/rickgao/tradedash/internal/connection"
	"github.com/rickgao/tradedash/internal/event"
)

// maxTokenSwitches bounds how often connect re-issues a token switch that
// was absorbed by an in-flight resume of the previous session.
const maxTokenSwitches = 3

var errTokenNotAdopted = errors.New("live session did not adopt the current token")

// attacher re-subscribes a component after the manager dropped its
// subscriptions.
type attacher interface {
	Attach() int
}

// liveSession is the part of the Connection Manager the feed drives.
type liveSession interface {
	Connect(ctx context.Context, token string) error
	State() connection.State
	Token() string
}

// errorLogger logs transport failures reported on the error channel.
type errorLogger struct {
	mgr    *connection.Manager
	logger *slog.Logger
	sub    *connection.Subscription
}

// Attach subscribes the error channel unless already subscribed.
func (e *errorLogger) Attach() int {
	if e.sub.Active() {
		return 0
	}
	e.sub = e.mgr.Subscribe(event.ChannelError, e.log)
	return 1
}

func (e *errorLogger) log(ev event.Event) {
	if p, ok := ev.Payload.(event.TransportError); ok {
		e.logger.Warn("live feed error", "error", p.Err)
	}
}

// feed keeps the live session aligned with the current token: it reconnects
// when the token rotates and retries when the manager has given up.
type feed struct {
	mgr      liveSession
	tokens   auth.TokenSource
	interval time.Duration
	logger   *slog.Logger
	attach   []attacher

	token string
}

// connect reads the token and establishes the session. Failures are logged;
// the next refresh tick tries again.
func (f *feed) connect(ctx context.Context) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			f.logger.Warn("no bearer token available, live feed idle")
		} else {
			f.logger.Error("failed to read token", "error", err)
		}
		return
	}

	rotated := f.token != "" && token != f.token
	if !rotated && f.token != "" && f.mgr.State() != connection.StateDisconnected {
		return
	}

	if rotated {
		f.logger.Info("bearer token changed, replacing live session")
	}

	if err := f.establish(ctx, token); err != nil {
		if ctx.Err() == nil {
			f.logger.Error("live feed connect failed", "error", err)
		}
		return
	}
	f.token = token

	attached := 0
	for _, a := range f.attach {
		attached += a.Attach()
	}
	if attached > 0 {
		f.logger.Debug("re-attached subscribers", "channels", attached)
	}
}

// establish connects with token and confirms the manager adopted it. A
// Connect issued while the manager resumes the previous session shares that
// attempt and succeeds on the old token, so the switch is issued again.
func (f *feed) establish(ctx context.Context, token string) error {
	for i := 0; ; i++ {
		if err := f.mgr.Connect(ctx, token); err != nil {
			return err
		}
		if f.mgr.Token() == token {
			return nil
		}
		if i == maxTokenSwitches {
			return errTokenNotAdopted
		}
		f.logger.Debug("connect joined resume of previous session, switching token again")
	}
}

// run refreshes the token until ctx is done.
func (f *feed) run(ctx context.Context) {
	if f.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connect(ctx)
		}
	}
}
