package events

import (
	"sync"

	"github.com/randalmurphal/storyloop/internal/metrics"
)

// AllSessions is the session key for an observer that watches every session.
const AllSessions = "*"

const defaultBacklog = 256

// Publisher fans a session's events out to whoever is watching it. A UI tab,
// a terminal client and the CLI can all observe one session at the same time;
// detaching one of them never affects the others.
type Publisher interface {
	// Publish hands event to every observer of event.SessionID and to the
	// AllSessions observers. It never waits on a slow observer.
	Publish(event Event)
	// Subscribe attaches a new observer to sessionID.
	Subscribe(sessionID string) <-chan Event
	// Unsubscribe detaches the observer and closes its channel.
	Unsubscribe(sessionID string, ch <-chan Event)
	// Close detaches every observer.
	Close()
}

// observer is one attached watcher. Events that arrive while its backlog is
// full are dropped for this observer only.
type observer struct {
	ch chan Event
}

func (o observer) offer(ev Event) {
	select {
	case o.ch <- ev:
	default:
		metrics.DroppedEvents.WithLabelValues(string(ev.Type)).Inc()
	}
}

// MemoryPublisher keeps observers in process, grouped by session ID.
type MemoryPublisher struct {
	mu        sync.RWMutex
	observers map[string][]observer
	backlog   int
	shutdown  bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets how many undelivered events an observer may hold
// before further events are dropped for it.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.backlog = size
	}
}

func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		observers: make(map[string][]observer),
		backlog:   defaultBacklog,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return
	}

	for _, o := range p.observers[event.SessionID] {
		o.offer(event)
	}
	if event.SessionID == AllSessions {
		return
	}
	for _, o := range p.observers[AllSessions] {
		o.offer(event)
	}
}

// Subscribe returns an already closed channel once the publisher is shut down.
func (p *MemoryPublisher) Subscribe(sessionID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	o := observer{ch: make(chan Event, p.backlog)}
	p.observers[sessionID] = append(p.observers[sessionID], o)
	return o.ch
}

// Unsubscribe is a no-op for a channel that is not attached to sessionID.
// A session with no observers left is forgotten.
func (p *MemoryPublisher) Unsubscribe(sessionID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	attached := p.observers[sessionID]
	kept := attached[:0]
	for _, o := range attached {
		if o.ch == ch {
			close(o.ch)
			continue
		}
		kept = append(kept, o)
	}
	if len(kept) == 0 {
		delete(p.observers, sessionID)
		return
	}
	p.observers[sessionID] = kept
}

// Close is idempotent.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	for id, attached := range p.observers {
		for _, o := range attached {
			close(o.ch)
		}
		delete(p.observers, id)
	}
}

// SubscriberCount reports how many observers are attached to sessionID.
func (p *MemoryPublisher) SubscriberCount(sessionID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.observers[sessionID])
}

// NopPublisher is used when nothing watches a session, such as a headless run.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

func (NopPublisher) Subscribe(string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

func (NopPublisher) Unsubscribe(string, <-chan Event) {}

func (NopPublisher) Close() {}
