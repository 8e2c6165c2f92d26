// Package hub fans live job status updates out to any number of attached
// viewers. Channels group viewers by job kind (plus the aggregate dashboard
// channel); every subscriber on a channel observes events in publish order.
//
// Delivery is best effort per subscriber: a subscriber whose buffer is full
// or whose connection is gone is evicted without affecting the others.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantor/quantor/pkg/task"
)

// DashboardChannel is the aggregate channel that receives every job's
// events regardless of kind.
const DashboardChannel = "dashboard"

// DefaultHeartbeatInterval is how often keep-alive events are pushed to
// open subscriptions.
const DefaultHeartbeatInterval = 10 * time.Second

// subscriberBuffer is the per-subscription event buffer. A subscriber that
// falls this far behind is considered broken and evicted.
const subscriberBuffer = 64

// EventType distinguishes status payloads from keep-alives.
type EventType string

const (
	EventStatus    EventType = "status"
	EventHeartbeat EventType = "heartbeat"
)

// Event is one push update delivered to a subscription.
type Event struct {
	Type     EventType     `json:"type"`
	Channel  string        `json:"channel"`
	Snapshot task.Snapshot `json:"snapshot,omitzero"`
}

// ReplayFunc supplies the current snapshot for a channel so a connecting
// subscriber starts from live state instead of an idle placeholder. The
// bool reports whether a job exists for the channel.
type ReplayFunc func(channel string) (task.Snapshot, bool)

// Hub manages the per-channel subscriber sets.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[string]*Subscription // channel -> user -> sub
	replay   ReplayFunc

	heartbeatInterval time.Duration
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{
		channels:          make(map[string]map[string]*Subscription),
		heartbeatInterval: DefaultHeartbeatInterval,
	}
}

// WithReplay attaches the snapshot source used for replay-on-connect.
func (h *Hub) WithReplay(fn ReplayFunc) *Hub {
	h.replay = fn
	return h
}

// WithHeartbeatInterval overrides the keep-alive period (useful in tests).
func (h *Hub) WithHeartbeatInterval(d time.Duration) *Hub {
	if d > 0 {
		h.heartbeatInterval = d
	}
	return h
}

// Start launches the heartbeat loop. It returns immediately; the loop stops
// when ctx is cancelled, closing all open subscriptions.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case <-ticker.C:
				h.Heartbeat()
			}
		}
	}()
}

// Subscribe attaches a viewer to a channel. The current channel snapshot
// (or an explicit idle one) is delivered as the first event. A second
// subscribe for the same (channel, user) pair closes the previous
// subscription.
func (h *Hub) Subscribe(channel, user string) *Subscription {
	sub := &Subscription{
		id:      uuid.New().String(),
		channel: channel,
		user:    user,
		events:  make(chan Event, subscriberBuffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	users, ok := h.channels[channel]
	if !ok {
		users = make(map[string]*Subscription)
		h.channels[channel] = users
	}
	if prev, ok := users[user]; ok {
		prev.close()
	}
	users[user] = sub

	first := Event{Type: EventStatus, Channel: channel}
	if h.replay != nil {
		if snap, ok := h.replay(channel); ok {
			first.Snapshot = snap
		} else {
			first.Snapshot = task.Snapshot{State: task.StateIdle}
		}
	} else {
		first.Snapshot = task.Snapshot{State: task.StateIdle}
	}
	// Buffer is empty at this point, the replay event always fits.
	sub.events <- first
	h.mu.Unlock()

	log.Debug().
		Str("component", "hub").
		Str("channel", channel).
		Str("user", user).
		Str("subscription_id", sub.id).
		Msg("Subscriber attached")
	return sub
}

// Unsubscribe closes the subscription and removes it from its channel.
// Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

// Publish delivers a status snapshot to every open subscription on the
// channel. Subscribers that cannot accept the event are evicted; the rest
// are unaffected.
func (h *Hub) Publish(channel string, snap task.Snapshot) {
	ev := Event{Type: EventStatus, Channel: channel, Snapshot: snap}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.channels[channel] {
		if !sub.trySend(ev) {
			log.Debug().
				Str("component", "hub").
				Str("channel", channel).
				Str("subscription_id", sub.id).
				Msg("Evicting broken subscriber")
			h.removeLocked(sub)
		}
	}
}

// Heartbeat pushes a keep-alive to every open subscription on every
// channel, evicting any that fail delivery.
func (h *Hub) Heartbeat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel, users := range h.channels {
		ev := Event{Type: EventHeartbeat, Channel: channel}
		for _, sub := range users {
			if !sub.trySend(ev) {
				h.removeLocked(sub)
			}
		}
	}
}

// SubscriberCount reports open subscriptions on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, users := range h.channels {
		for _, sub := range users {
			sub.close()
		}
	}
	h.channels = make(map[string]map[string]*Subscription)
}

// removeLocked evicts one subscription. Callers must hold h.mu.
func (h *Hub) removeLocked(sub *Subscription) {
	sub.close()
	if users, ok := h.channels[sub.channel]; ok {
		if current, ok := users[sub.user]; ok && current == sub {
			delete(users, sub.user)
			if len(users) == 0 {
				delete(h.channels, sub.channel)
			}
		}
	}
}
