package task

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTaskList           EventType = "tasks:list"
	EventTaskUpdated        EventType = "task:updated"
	EventSubjectTaskUpdated EventType = "book:task:updated"
	EventTaskRemoved        EventType = "task:removed"
)

// Event is one message delivered to a subscriber.
// Tasks is set for EventTaskList, Task for every other type.
type Event struct {
	Type  EventType `json:"type"`
	Task  *Task     `json:"task,omitempty"`
	Tasks []Task    `json:"tasks,omitempty"`
}

const defaultSubscriberBuffer = 256

// Broadcaster fans task snapshots out to every registered subscription.
//
// Delivery never blocks the publisher: a subscriber whose buffer is full
// misses that event, and the miss is counted on its subscription.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscription is a registered observer. Read events from C until it is closed.
type Subscription struct {
	ID string
	C  <-chan Event

	ch      chan Event
	b       *Broadcaster
	dropped atomic.Int64

	mu       sync.RWMutex
	subjects map[string]struct{}
	closed   bool
}

// Subscribe registers a new observer. baseline is queued as the first event.
func (b *Broadcaster) Subscribe(baseline []Task) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{
		ID:       uuid.NewString(),
		C:        ch,
		ch:       ch,
		b:        b,
		subjects: make(map[string]struct{}),
	}
	if baseline == nil {
		baseline = []Task{}
	}
	ch <- Event{Type: EventTaskList, Tasks: baseline}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call twice.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.ID]; !ok {
		return
	}
	delete(b.subs, sub.ID)

	sub.mu.Lock()
	sub.closed = true
	close(sub.ch)
	sub.mu.Unlock()
}

// Publish delivers t to every subscriber, then a subject-scoped copy to those
// watching t.SubjectID.
func (b *Broadcaster) Publish(t Task) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		sub.send(Event{Type: EventTaskUpdated, Task: &t})
		if t.SubjectID != "" && sub.Watching(t.SubjectID) {
			sub.send(Event{Type: EventSubjectTaskUpdated, Task: &t})
		}
	}
}

// PublishRemoved announces that t left the store.
func (b *Broadcaster) PublishRemoved(t Task) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		sub.send(Event{Type: EventTaskRemoved, Task: &t})
	}
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *Subscription) send(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("Subscriber %s is not keeping up, %d events dropped.", s.ID, n)
		}
	}
}

// Watch adds subject-scoped notifications for subjectID.
func (s *Subscription) Watch(subjectID string) {
	if subjectID == "" {
		return
	}
	s.mu.Lock()
	s.subjects[subjectID] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscription) Unwatch(subjectID string) {
	s.mu.Lock()
	delete(s.subjects, subjectID)
	s.mu.Unlock()
}

func (s *Subscription) Watching(subjectID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subjects[subjectID]
	return ok
}

// Dropped returns how many events this subscriber missed because its buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.b.Unsubscribe(s)
}
