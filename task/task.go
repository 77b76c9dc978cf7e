package task

import (
	"time"
)

type Kind string

const (
	KindGenerate Kind = "generate"
	KindPreview  Kind = "preview"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

type LogEntry struct {
	Stream    Stream    `json:"type"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Parameters are the renderer options a task was submitted with.
// Zero values mean "not supplied".
type Parameters struct {
	From     int  `json:"from,omitempty"`
	To       int  `json:"to,omitempty"`
	Compress bool `json:"compress,omitempty"`
	Test     bool `json:"test,omitempty"`
	Pages    int  `json:"pages,omitempty"`
	Verbose  bool `json:"verbose,omitempty"`
}

// Stopper is the only part of a live renderer process the manager can reach.
type Stopper interface {
	RequestStop() error
}

type Task struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"type"`
	SubjectID     string     `json:"bookId"`
	Status        Status     `json:"status"`
	Progress      int        `json:"progress"`
	Parameters    Parameters `json:"options"`
	Log           []LogEntry `json:"logs"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailureReason string     `json:"error,omitempty"`

	handle Stopper // non-nil iff Status == StatusRunning
	seq    uint64
}

// clone returns a deep copy that still carries the running handle.
// Only the store works with such copies.
func (t *Task) clone() Task {
	c := *t
	if t.Log != nil {
		c.Log = make([]LogEntry, len(t.Log))
		copy(c.Log, t.Log)
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// snapshot is the copy handed out to readers and subscribers.
func (t *Task) snapshot() Task {
	c := t.clone()
	c.handle = nil
	return c
}

// appendLog adds an entry, evicting the oldest ones when max > 0 is exceeded.
func (t *Task) appendLog(e LogEntry, max int) {
	t.Log = append(t.Log, e)
	if max > 0 && len(t.Log) > max {
		t.Log = append(t.Log[:0:0], t.Log[len(t.Log)-max:]...)
	}
}
