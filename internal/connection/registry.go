package connection

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/tradedash/internal/event"
)

// Handler receives events published on a channel.
type Handler func(ev event.Event)

// Subscription is a single registration of a Handler on a channel.
// Registering the same handler twice yields two independent subscriptions.
type Subscription struct {
	ID      uuid.UUID
	Channel string

	handler Handler
	manager *Manager
	removed atomic.Bool
}

// Unsubscribe removes exactly this registration. Safe to call more than once
// and from inside a handler.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.manager == nil {
		return
	}
	s.manager.Unsubscribe(s.Channel, s)
}

// Active reports whether the subscription is still registered.
func (s *Subscription) Active() bool {
	return s != nil && !s.removed.Load()
}

// registry maps channel names to subscriptions in registration order.
// It is not safe for concurrent use; the Manager guards it with its mutex.
type registry struct {
	channels map[string][]*Subscription
	count    int
}

func newRegistry() *registry {
	return &registry{
		channels: make(map[string][]*Subscription),
	}
}

// add appends a subscription to its channel.
func (r *registry) add(s *Subscription) {
	r.channels[s.Channel] = append(r.channels[s.Channel], s)
	r.count++
}

// remove deletes the given subscription from channel. The channel slice is
// rebuilt rather than edited in place so snapshots held by dispatchers stay
// intact.
func (r *registry) remove(channel string, s *Subscription) bool {
	subs := r.channels[channel]
	for i, cur := range subs {
		if cur != s {
			continue
		}

		s.removed.Store(true)
		r.count--

		if len(subs) == 1 {
			delete(r.channels, channel)
			return true
		}

		next := make([]*Subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		r.channels[channel] = next
		return true
	}
	return false
}

// snapshot returns a copy of the channel's subscriptions.
func (r *registry) snapshot(channel string) []*Subscription {
	subs := r.channels[channel]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*Subscription, len(subs))
	copy(out, subs)
	return out
}

// clear removes every subscription and returns how many were dropped.
func (r *registry) clear() int {
	n := r.count
	for _, subs := range r.channels {
		for _, s := range subs {
			s.removed.Store(true)
		}
	}
	r.channels = make(map[string][]*Subscription)
	r.count = 0
	return n
}

func (r *registry) len() int {
	return r.count
}

func (r *registry) channelCount() int {
	return len(r.channels)
}
