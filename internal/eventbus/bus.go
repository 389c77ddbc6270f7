// Package eventbus implements the typed event bus of spec §9: the
// reshape of the source program's callback chains (source bridge +
// pattern matcher + emergency hook) into one bus that the engine loop
// feeds and that external collaborators subscribe to by event kind.
// The broadcast/channel-per-subscriber shape is adapted from the
// teacher's SSE client-registry manager (one buffered channel per
// subscriber, closed on unsubscribe), generalized from a single
// generic Message type to the five concrete event kinds of spec §7.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event is the sum type of spec §7's typed events. Exactly one of the
// fields is non-nil for any given Event.
type Event struct {
	SeedStateChanged   *SeedStateChanged
	AlertRaised        *AlertRaised
	PhaseChanged       *PhaseChanged
	DivergenceCaptured *DivergenceCaptured
	OutboxProgress     *OutboxProgress
}

// SeedStateChanged fires when SeedStore's freshness bucket changes.
type SeedStateChanged struct {
	Freshness string
}

// AlertRaised fires when PatternMatcher emits a PatternAlert.
type AlertRaised struct {
	AlertID string
	Level   string
	Title   string
}

// PhaseChanged fires on every EmergencyStateMachine transition.
type PhaseChanged struct {
	From, To, Reason string
}

// DivergenceCaptured fires when DivergenceCapturer persists a snapshot.
type DivergenceCaptured struct {
	SnapshotID string
	Severity   string
}

// OutboxProgress fires after each UploadOutbox.RunOnce batch.
type OutboxProgress struct {
	Uploaded, Pending, Failed int
}

// Bus is a typed, fan-out, non-blocking event bus: Publish never blocks
// on a slow subscriber (each subscriber channel is buffered and a full
// channel drops the event rather than stalling the publisher), matching
// the teacher's SSE manager's buffered-channel design.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	log         zerolog.Logger
}

// New constructs an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
		log:         log.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers a new subscriber and returns its event channel.
// An existing subscriber with the same id is replaced and its old
// channel closed, matching AddClient's re-registration behavior.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[id]; ok {
		close(old)
	}
	ch := make(chan Event, 64)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish fans an Event out to every subscriber. A subscriber whose
// buffer is full has the event dropped for it and a warning logged;
// the bus never blocks the publisher (the engine loop) waiting on a
// slow consumer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.log.Warn().Str("subscriber", id).Msg("event dropped, subscriber buffer full")
		}
	}
}
