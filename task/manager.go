package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"vrainweb/config"
	"vrainweb/progress"

	"github.com/lithammer/shortuuid/v4"
)

const (
	defaultQueueSize = 256
	defaultPageSize  = 20
	recentTaskCount  = 5
	statsRecentCount = 10

	minCleanupInterval = time.Second
)

type Manager struct {
	cfg            *config.Config
	store          *Store
	events         *Broadcaster
	runner         *runner
	taskQueue      chan string
	submitMu       sync.Mutex
	concurrencySem chan struct{}
	now            func() time.Time
	newID          func() string
}

type Option func(*Manager)

// WithClassifier replaces the progress marker table.
func WithClassifier(c progress.Classifier) Option {
	return func(m *Manager) { m.runner.classifier = c }
}

// WithClock replaces time.Now for every timestamp the manager records.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator replaces the task id source. Ids must be unique.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

func NewManager(cfg *config.Config, spawner Spawner, opts ...Option) (*Manager, error) {
	if spawner == nil {
		return nil, fmt.Errorf("task manager needs a spawner")
	}
	if len(cfg.RenderCommand) == 0 {
		return nil, fmt.Errorf("no renderer command configured")
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	events := NewBroadcaster(cfg.SubscriberBuffer)
	store := NewStore(events)
	m := &Manager{
		cfg:       cfg,
		store:     store,
		events:    events,
		taskQueue: make(chan string, queueSize),
		now:       time.Now,
		newID: func() string {
			return fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
		},
	}
	if cfg.MaxConcurrency > 0 {
		m.concurrencySem = make(chan struct{}, cfg.MaxConcurrency)
	}
	m.runner = &runner{
		spawner:    spawner,
		classifier: progress.Default,
		store:      store,
		command:    cfg.RenderCommand,
		dir:        cfg.RenderRoot,
		lineBuffer: int(cfg.LineBufferSize),
		maxLog:     cfg.MaxLogEntries,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runner.now = m.now
	return m, nil
}

// Start runs the worker and retention loops until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	log.Println("Task manager started. Concurrency limit:", m.cfg.MaxConcurrency)
	if m.cfg.TaskRetention > 0 {
		go m.cleanupLoop(ctx)
	}
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("Worker loop shutting down.")
			return
		case id := <-m.taskQueue:
			if m.concurrencySem == nil {
				go m.processTask(ctx, id)
				continue
			}
			// Wait for a free processing slot
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				log.Println("Worker loop shutting down.")
				return
			}
			go func(id string) {
				defer func() { <-m.concurrencySem }() // Release slot
				m.processTask(ctx, id)
			}(id)
		}
	}
}

// processTask runs a single task under the configured timeout.
func (m *Manager) processTask(parentCtx context.Context, id string) {
	taskCtx, cancel := parentCtx, context.CancelFunc(func() {})
	if m.cfg.RenderTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(parentCtx, m.cfg.RenderTimeout)
	}
	defer cancel()

	log.Printf("Processing task %s", id)
	m.runner.run(taskCtx, id)
}

// cleanupInterval checks 4 times per retention period, but never more often
// than once a second.
func cleanupInterval(retention time.Duration) time.Duration {
	return max(retention/4, minCleanupInterval)
}

// cleanupLoop periodically drops finished tasks past the retention age.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval(m.cfg.TaskRetention))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Cleanup loop shutting down.")
			return
		case <-ticker.C:
			m.Sweep(m.cfg.TaskRetention)
		}
	}
}

// Submit records a pending task and queues it for execution.
// It never waits for the renderer.
func (m *Manager) Submit(kind Kind, subjectID string, params Parameters) (Task, error) {
	switch kind {
	case KindGenerate:
	case KindPreview:
		params.Test = true
	default:
		return Task{}, fmt.Errorf("unknown task kind %q", kind)
	}

	t := Task{
		ID:         m.newID(),
		Kind:       kind,
		SubjectID:  subjectID,
		Status:     StatusPending,
		Parameters: params,
		Log:        []LogEntry{},
		CreatedAt:  m.now(),
	}

	// Only submitters send on the queue, so while submitMu is held a free
	// slot stays free until the record is stored and its id enqueued.
	m.submitMu.Lock()
	if len(m.taskQueue) == cap(m.taskQueue) {
		m.submitMu.Unlock()
		return Task{}, ErrQueueFull
	}
	if err := m.store.Put(t); err != nil {
		m.submitMu.Unlock()
		return Task{}, err
	}
	m.taskQueue <- t.ID
	m.submitMu.Unlock()

	log.Printf("Task %s (%s %s) submitted to queue.", t.ID, kind, subjectID)
	return t, nil
}

func (m *Manager) Get(id string) (Task, bool) {
	return m.store.Get(id)
}

func (m *Manager) List(f Filter) []Task {
	return m.store.List(f)
}

// Cancel stops a running task. Tasks in any other state are returned unchanged.
// The task is marked cancelled as soon as the stop signal is sent; the
// renderer's own exit is not awaited.
func (m *Manager) Cancel(id string) (Task, error) {
	var stop Stopper
	t, err := m.store.Update(id, func(t *Task) error {
		if t.Status != StatusRunning {
			return errNotRunning
		}
		now := m.now()
		stop = t.handle
		t.handle = nil
		t.Status = StatusCancelled
		t.CompletedAt = &now
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return Task{}, fmt.Errorf("cancel %s: %w", id, err)
	case err != nil:
		return t, nil
	}

	if stop != nil {
		if err := stop.RequestStop(); err != nil {
			log.Printf("Stop signal for task %s failed: %v", id, err)
		}
	}
	log.Printf("Task %s cancelled.", id)
	return t, nil
}

// CancelSubject cancels every running task of the given kind for a subject.
func (m *Manager) CancelSubject(subjectID string, kind Kind) ([]Task, error) {
	running := m.store.List(Filter{SubjectID: subjectID, Kind: kind, Status: StatusRunning})
	cancelled := make([]Task, 0, len(running))
	for _, t := range running {
		ct, err := m.Cancel(t.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return cancelled, err
		}
		cancelled = append(cancelled, ct)
	}
	return cancelled, nil
}

type Page struct {
	Tasks    []Task `json:"data"`
	Page     int    `json:"page"`
	PageSize int    `json:"limit"`
	Total    int    `json:"total"`
	Pages    int    `json:"pages"`
}

// Query filters, sorts newest first, then returns the requested 1-based page.
func (m *Manager) Query(f Filter, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	all := m.store.List(f)
	total := len(all)
	pages := 0
	if total > 0 {
		pages = (total-1)/pageSize + 1
	}

	// Compare page numbers before multiplying so a huge page cannot overflow.
	start, end := total, total
	if page <= pages {
		start = (page - 1) * pageSize
		end = min(start+pageSize, total)
	}

	return Page{
		Tasks:    all[start:end],
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Pages:    pages,
	}
}

type SubjectStatus struct {
	IsActive    bool   `json:"isGenerating"`
	CurrentTask *Task  `json:"currentTask,omitempty"`
	RecentTasks []Task `json:"recentTasks"`
}

// StatusForSubject reports whether a task of kind is running for subjectID.
func (m *Manager) StatusForSubject(subjectID string, kind Kind) SubjectStatus {
	tasks := m.store.List(Filter{SubjectID: subjectID, Kind: kind})

	var st SubjectStatus
	for i := range tasks {
		if tasks[i].Status == StatusRunning {
			current := tasks[i]
			st.IsActive = true
			st.CurrentTask = &current
			break
		}
	}
	if len(tasks) > recentTaskCount {
		tasks = tasks[:recentTaskCount]
	}
	st.RecentTasks = tasks
	return st
}

// Logs returns the last limit log entries of a task, or all of them when limit <= 0.
func (m *Manager) Logs(id string, limit int) ([]LogEntry, error) {
	t, ok := m.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("logs %s: %w", id, ErrNotFound)
	}
	entries := t.Log
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

type Stats struct {
	Total     int          `json:"total"`
	Pending   int          `json:"pending"`
	Running   int          `json:"running"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Cancelled int          `json:"cancelled"`
	ByKind    map[Kind]int `json:"byType"`
	Recent    []Task       `json:"recent"`
}

func (m *Manager) Stats() Stats {
	tasks := m.store.List(Filter{})
	st := Stats{Total: len(tasks), ByKind: make(map[Kind]int)}
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			st.Pending++
		case StatusRunning:
			st.Running++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
		st.ByKind[t.Kind]++
	}
	if len(tasks) > statsRecentCount {
		tasks = tasks[:statsRecentCount]
	}
	st.Recent = tasks
	return st
}

// Sweep removes finished tasks created at least maxAge ago and returns how many went.
func (m *Manager) Sweep(maxAge time.Duration) int {
	removed := m.store.RemoveOlderThan(maxAge, m.now())
	if len(removed) > 0 {
		log.Printf("Removed %d finished tasks older than %s.", len(removed), maxAge)
	}
	return len(removed)
}

// Subscribe registers a live observer. The first event on the returned
// subscription is the full task list; every later change follows in order.
func (m *Manager) Subscribe() *Subscription {
	var sub *Subscription
	m.store.Snapshot(func(tasks []Task) {
		sub = m.events.Subscribe(tasks)
	})
	return sub
}

// Subscribers returns the number of live subscriptions.
func (m *Manager) Subscribers() int {
	return m.events.Len()
}
