package task

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"syscall"
	"time"

	"vrainweb/progress"
)

// Command describes one renderer invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Process is a started renderer. Both streams must be read to EOF before Wait.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until exit. err is set only when the exit status could not
	// be determined; a non-zero exit is reported through exitCode.
	Wait() (exitCode int, err error)
	Signal(sig syscall.Signal) error
}

// Spawner launches renderer processes.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
}

const defaultLineBuffer = 1024 * 1024

// processStopper exposes a process only as a termination request.
type processStopper struct {
	proc Process
}

func (s processStopper) RequestStop() error {
	return s.proc.Signal(syscall.SIGTERM)
}

// runner drives one task at a time from pending to a terminal status.
// It is the only owner of the Process; the store only ever holds its Stopper.
type runner struct {
	spawner    Spawner
	classifier progress.Classifier
	store      *Store
	now        func() time.Time

	command    []string
	dir        string
	lineBuffer int
	maxLog     int
}

func (r *runner) commandFor(t Task) Command {
	args := make([]string, 0, len(r.command)+8)
	if len(r.command) > 1 {
		args = append(args, r.command[1:]...)
	}
	args = append(args, BuildArgs(t)...)

	var path string
	if len(r.command) > 0 {
		path = r.command[0]
	}
	return Command{Path: path, Args: args, Dir: r.dir}
}

// run executes the task with the given id. Errors end up in the task record.
func (r *runner) run(ctx context.Context, id string) {
	t, ok := r.store.Get(id)
	if !ok || t.Status != StatusPending {
		return
	}

	cmd := r.commandFor(t)
	log.Printf("Executing for task %s: %s (in %s)", id, cmd, cmd.Dir)

	proc, err := r.spawner.Spawn(ctx, cmd)
	if err != nil {
		spawnErr := &SpawnError{Err: err}
		log.Printf("Task %s failed: %v", id, spawnErr)
		r.store.Update(id, func(t *Task) error {
			now := r.now()
			t.Status = StatusFailed
			t.FailureReason = spawnErr.Error()
			t.CompletedAt = &now
			return nil
		})
		return
	}

	stop := processStopper{proc: proc}
	_, err = r.store.Update(id, func(t *Task) error {
		now := r.now()
		t.Status = StatusRunning
		t.StartedAt = &now
		t.handle = stop
		return nil
	})
	if err != nil {
		// The record went away between spawn and start; nobody can cancel
		// this process any more, so stop it here.
		log.Printf("Task %s vanished before start (%v), stopping renderer.", id, err)
		_ = stop.RequestStop()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.consume(id, proc.Stdout(), StreamStdout)
	}()
	go func() {
		defer wg.Done()
		r.consume(id, proc.Stderr(), StreamStderr)
	}()
	wg.Wait()

	code, waitErr := proc.Wait()
	r.finish(ctx, id, code, waitErr)
}

// consume reads one output stream line by line until EOF.
// A line longer than the buffer ends line parsing; the remainder is drained
// so the renderer never blocks on a full pipe.
func (r *runner) consume(id string, rd io.Reader, stream Stream) {
	if rd == nil {
		return
	}
	size := r.lineBuffer
	if size <= 0 {
		size = defaultLineBuffer
	}
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, min(size, 64*1024)), size)

	for scanner.Scan() {
		r.appendLine(id, stream, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Task %s: stopped parsing %s: %v", id, stream, err)
		_, _ = io.Copy(io.Discard, rd)
	}
}

func (r *runner) appendLine(id string, stream Stream, line string) {
	percent, hit := 0, false
	if stream == StreamStdout && r.classifier != nil {
		percent, hit = r.classifier.Classify(line)
	}

	_, err := r.store.Update(id, func(t *Task) error {
		if t.Status != StatusRunning {
			return errNotRunning
		}
		t.appendLog(LogEntry{Stream: stream, Text: line, Timestamp: r.now()}, r.maxLog)
		if hit && percent >= t.Progress && percent <= 100 {
			t.Progress = percent
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrAlreadyTerminal) && !errors.Is(err, ErrNotFound) {
		log.Printf("Task %s: dropped %s line: %v", id, stream, err)
	}
}

func (r *runner) finish(ctx context.Context, id string, code int, waitErr error) {
	t, err := r.store.Update(id, func(t *Task) error {
		if t.Status != StatusRunning {
			return errNotRunning
		}
		now := r.now()
		t.CompletedAt = &now
		t.handle = nil

		switch {
		case waitErr == nil && code == 0:
			t.Status = StatusCompleted
			t.Progress = 100
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			t.Status = StatusFailed
			t.FailureReason = fmt.Sprintf("renderer timed out: %v", &ProcessError{ExitCode: code, Err: waitErr})
		default:
			t.Status = StatusFailed
			t.FailureReason = (&ProcessError{ExitCode: code, Err: waitErr}).Error()
		}
		return nil
	})
	switch {
	case errors.Is(err, ErrAlreadyTerminal):
		log.Printf("Renderer for task %s exited with code %d after the task was %s.", id, code, t.Status)
	case err != nil:
		log.Printf("Renderer for task %s exited with code %d: %v", id, code, err)
	case t.Status == StatusCompleted:
		log.Printf("Task %s completed successfully.", id)
	default:
		log.Printf("Task %s failed: %s", id, t.FailureReason)
	}
}
