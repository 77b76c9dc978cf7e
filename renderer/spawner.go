package renderer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	"vrainweb/config"
	"vrainweb/task"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// waitDelay bounds how long Wait keeps the pipes open after the process
// was killed, in case a grandchild still holds them.
const waitDelay = 5 * time.Second

// Spawner starts vrain.pl through os/exec.
type Spawner struct {
	cfg *config.Config
}

func NewSpawner(cfg *config.Config) (*Spawner, error) {
	if len(cfg.RenderCommand) == 0 {
		return nil, fmt.Errorf("no renderer command configured")
	}

	info, err := os.Stat(cfg.RenderRoot)
	if err != nil {
		return nil, fmt.Errorf("render root %s: %w", cfg.RenderRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("render root %s is not a directory", cfg.RenderRoot)
	}

	// A missing binary is not fatal here: each task records the failure.
	if _, err := exec.LookPath(cfg.RenderCommand[0]); err != nil {
		log.Printf("Warning: renderer binary not found or not in PATH: %s", cfg.RenderCommand[0])
	}
	log.Printf("Using render root: %s", cfg.RenderRoot)

	return &Spawner{cfg: cfg}, nil
}

// Spawn starts cmd and returns once the process is running.
// The process is killed when ctx is done.
func (s *Spawner) Spawn(ctx context.Context, cmd task.Command) (task.Process, error) {
	if err := s.checkResources(cmd.Dir); err != nil {
		return nil, fmt.Errorf("insufficient system resources: %w", err)
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	return &process{cmd: c, stdout: stdout, stderr: stderr}, nil
}

type process struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *process) Stdout() io.Reader { return p.stdout }
func (p *process) Stderr() io.Reader { return p.stderr }

func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the process was ended by a signal.
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *process) Signal(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Signal(sig)
}

// checkResources verifies that the system has enough free resources to start a new job.
// A zero threshold disables the corresponding check.
func (s *Spawner) checkResources(dir string) error {
	// CPU
	if s.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			log.Printf("Warning: could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-s.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], s.cfg.ThrottleCPU)
		}
	}

	// Memory
	if s.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("Warning: could not get memory usage: %v", err)
		} else if vm.Available < uint64(s.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, s.cfg.ThrottleFreeMem)
		}
	}

	// Disk
	if s.cfg.ThrottleFreeDisk > 0 {
		if dir == "" {
			dir = "."
		}
		d, err := disk.Usage(dir)
		if err != nil {
			log.Printf("Warning: could not get disk usage for %s: %v", dir, err)
		} else if d.Free < uint64(s.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, s.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
