package task

import (
	"context"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"vrainweb/config"
)

// fakeProcess is a renderer whose output and exit are driven by the test.
type fakeProcess struct {
	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter
	exit             chan int
	signals          chan syscall.Signal
	exitOnce         sync.Once
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{
		exit:    make(chan int, 1),
		signals: make(chan syscall.Signal, 8),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) Wait() (int, error) {
	return <-p.exit, nil
}

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	select {
	case p.signals <- sig:
	default:
	}
	return nil
}

// stdout blocks until the runner has read the line.
func (p *fakeProcess) stdout(line string) {
	_, _ = p.stdoutW.Write([]byte(line + "\n"))
}

func (p *fakeProcess) stderr(line string) {
	_, _ = p.stderrW.Write([]byte(line + "\n"))
}

func (p *fakeProcess) exitWith(code int) {
	p.exitOnce.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
		p.exit <- code
	})
}

// fakeSpawner records every command and hands the started processes to the test.
type fakeSpawner struct {
	mu       sync.Mutex
	commands []Command
	procs    chan *fakeProcess
	fail     func(cmd Command) error
	// killOnDone makes the process exit with -1 once the spawn context ends,
	// like exec.CommandContext does.
	killOnDone bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{procs: make(chan *fakeProcess, 16)}
}

func (s *fakeSpawner) Spawn(ctx context.Context, cmd Command) (Process, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	fail := s.fail
	s.mu.Unlock()

	if fail != nil {
		if err := fail(cmd); err != nil {
			return nil, err
		}
	}
	p := newFakeProcess()
	if s.killOnDone {
		go func() {
			<-ctx.Done()
			p.exitWith(-1)
		}()
	}
	s.procs <- p
	return p, nil
}

func (s *fakeSpawner) recorded() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *fakeSpawner) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-s.procs:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("renderer was never spawned")
		return nil
	}
}

func testConfig() *config.Config {
	return &config.Config{
		RenderCommand:  []string{"perl", "vrain.pl"},
		RenderRoot:     "/srv/vrain",
		MaxConcurrency: 4,
		QueueSize:      32,
		RenderTimeout:  10 * time.Second,
		TaskRetention:  time.Hour,
	}
}

// fakeClock advances one second on every reading so creation order is unambiguous.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// collectUpdates reads task:updated events for id until the task is terminal.
func collectUpdates(t *testing.T, sub *Subscription, id string) []Task {
	t.Helper()
	var out []Task
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			if ev.Type != EventTaskUpdated || ev.Task.ID != id {
				continue
			}
			out = append(out, *ev.Task)
			if ev.Task.Status.IsTerminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("task %s never reached a terminal state, saw %d updates", id, len(out))
			return out
		}
	}
}
