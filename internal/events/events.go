// Package events is the in-process event bus of the client. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
package events

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
)

// Event is implemented by every event type.
type Event interface {
	eventName() string
}

// EventTooMuchDriftWithServerClock reports a certificate rejected because the
// client clock is outside the server ballpark.
type EventTooMuchDriftWithServerClock struct {
	ServerTimestamp           time.Time
	ClientTimestamp           time.Time
	BallparkClientEarlyOffset time.Duration
	BallparkClientLateOffset  time.Duration
}

// EventMonitorCrashed reports a background task that stopped on an error.
type EventMonitorCrashed struct {
	Monitor string
	Err     error
}

// EventNewCertificates is published after a poll added certificates.
type EventNewCertificates struct {
	Count      int
	Timestamps certificates.PerTopicLastTimestamps
}

// EventInvalidCertificate is published when the server sent a certificate
// breaking the organization consistency.
type EventInvalidCertificate struct {
	Err error
}

type EventOffline struct{}

type EventOnline struct{}

func (EventTooMuchDriftWithServerClock) eventName() string { return "too_much_drift_with_server_clock" }
func (EventMonitorCrashed) eventName() string              { return "monitor_crashed" }
func (EventNewCertificates) eventName() string             { return "new_certificates" }
func (EventInvalidCertificate) eventName() string          { return "invalid_certificate" }
func (EventOffline) eventName() string                     { return "offline" }
func (EventOnline) eventName() string                      { return "online" }

// Name returns the stable name of the event, used in logs.
func Name(e Event) string { return e.eventName() }

// Publisher is the side of the bus the core depends on.
type Publisher interface {
	Publish(e Event)
}

type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish hands e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
