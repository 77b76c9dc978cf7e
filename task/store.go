package task

import (
	"sort"
	"sync"
	"time"
)

// Publisher receives every change the store commits, in commit order.
type Publisher interface {
	Publish(t Task)
	PublishRemoved(t Task)
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	SubjectID string
	Kind      Kind
	Status    Status
}

func (f Filter) match(t *Task) bool {
	if f.SubjectID != "" && t.SubjectID != f.SubjectID {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// Store is the in-memory task registry.
//
// Records are replaced, never edited in place: Update works on a copy and
// swaps it in under the write lock, so readers only ever see whole records.
// The publisher is called while the lock is held, which keeps the order of
// published snapshots identical to the order of committed changes.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Task
	seq     uint64
	pub     Publisher
}

// NewStore creates a Store. pub may be nil.
func NewStore(pub Publisher) *Store {
	return &Store{
		records: make(map[string]*Task),
		pub:     pub,
	}
}

// Put inserts a new record.
func (s *Store) Put(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[t.ID]; exists {
		return ErrDuplicateID
	}
	s.seq++
	rec := t.clone()
	rec.seq = s.seq
	s.records[t.ID] = &rec
	if s.pub != nil {
		s.pub.Publish(rec.snapshot())
	}
	return nil
}

// Get returns a snapshot of the record with the given id.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Task{}, false
	}
	return rec.snapshot(), true
}

// Update applies fn to a copy of the record and commits it if fn returns nil.
// Terminal records are never passed to fn: the call returns ErrAlreadyTerminal
// together with the current snapshot. Any error from fn leaves the record as it was.
func (s *Store) Update(id string, fn func(t *Task) error) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if cur.Status.IsTerminal() {
		return cur.snapshot(), ErrAlreadyTerminal
	}

	next := cur.clone()
	if err := fn(&next); err != nil {
		return cur.snapshot(), err
	}
	if next.Status != StatusRunning {
		next.handle = nil
	}
	s.records[id] = &next
	snap := next.snapshot()
	if s.pub != nil {
		s.pub.Publish(snap)
	}
	return snap, nil
}

// List returns the records matching f, newest first.
func (s *Store) List(f Filter) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(f)
}

func (s *Store) listLocked(f Filter) []Task {
	recs := make([]*Task, 0, len(s.records))
	for _, rec := range s.records {
		if f.match(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})

	out := make([]Task, len(recs))
	for i, rec := range recs {
		out[i] = rec.snapshot()
	}
	return out
}

// Snapshot calls fn with the full task list while holding off writers.
// No change can be published between the list being taken and fn returning.
func (s *Store) Snapshot(fn func(tasks []Task)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.listLocked(Filter{}))
}

// Remove deletes a record regardless of its state.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	delete(s.records, id)
	if s.pub != nil {
		s.pub.PublishRemoved(rec.snapshot())
	}
	return true
}

// RemoveOlderThan deletes terminal records created at least maxAge before now.
// Pending and running records are kept whatever their age.
func (s *Store) RemoveOlderThan(maxAge time.Duration, now time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Task
	for id, rec := range s.records {
		if !rec.Status.IsTerminal() || now.Sub(rec.CreatedAt) < maxAge {
			continue
		}
		delete(s.records, id)
		snap := rec.snapshot()
		removed = append(removed, snap)
		if s.pub != nil {
			s.pub.PublishRemoved(snap)
		}
	}
	return removed
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
