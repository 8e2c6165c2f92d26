package hub

import "sync"

// Subscription is one live viewer's attachment to a channel. Events arrive
// on the Events channel until the subscription is closed, after which the
// channel is closed too.
type Subscription struct {
	id      string
	channel string
	user    string

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// Channel returns the channel this subscription is attached to.
func (s *Subscription) Channel() string { return s.channel }

// User returns the subscribing user identity.
func (s *Subscription) User() string { return s.user }

// Events is the stream of delivered events. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed when the subscription ends, whichever side ended it.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// trySend attempts a non-blocking delivery. It reports false when the
// subscription is closed or its buffer is full, which callers treat as a
// broken subscriber.
func (s *Subscription) trySend(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.done)
		close(s.events)
	})
}
