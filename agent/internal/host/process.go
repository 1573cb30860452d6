package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"tunnel-agent/agent/internal/logging"
)

const DefaultStopTimeout = 10 * time.Second

var (
	ErrNoCommand        = errors.New("no service command configured")
	ErrNotRunning       = errors.New("service is not running")
	errPauseUnsupported = errors.New("pausing a process is not supported on this platform")
)

type ProcessOptions struct {
	// Command is split with shell quoting rules; the first word is the
	// executable.
	Command     string
	Dir         string
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Process runs the exposed service as a child of the agent.
type Process struct {
	argv        []string
	argvErr     error
	dir         string
	stopTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{}
	paused bool
}

func NewProcess(opts ProcessOptions) *Process {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	argv, err := SplitCommand(opts.Command)
	return &Process{
		argv:        argv,
		argvErr:     err,
		dir:         opts.Dir,
		stopTimeout: opts.StopTimeout,
		logger:      logging.OrNop(opts.Logger).With(logging.KeyComponent, "service"),
	}
}

// SplitCommand splits a command line into argv. Quotes and backslash
// escapes follow POSIX shell rules; no expansion is done.
func SplitCommand(command string) ([]string, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse service command: %w", err)
	}
	return argv, nil
}

// Start launches the service. Starting a running service is a no-op.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.argvErr != nil {
		return p.argvErr
	}
	if len(p.argv) == 0 {
		return ErrNoCommand
	}
	if p.runningLocked() {
		p.logger.Info("service already running")
		return nil
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Dir = p.dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		p.logger.Info("service exited", logging.KeyError, err)
		close(done)
	}()

	p.cmd = cmd
	p.done = done
	p.paused = false
	p.logger.Info("service started", "pid", cmd.Process.Pid)
	return nil
}

// Stop asks the service to exit and kills it after the stop timeout.
// Stopping a stopped service is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.runningLocked() {
		p.logger.Info("service already stopped")
		return nil
	}

	proc := p.cmd.Process
	if p.paused {
		if err := resumeProcess(proc.Pid); err != nil {
			p.logger.Warn("failed to resume paused service before stop", logging.KeyError, err)
		}
		p.paused = false
	}

	sig := os.Interrupt
	if runtime.GOOS == "windows" {
		sig = os.Kill
	}
	if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("failed to signal service", logging.KeyError, err)
	}

	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	p.logger.Warn("service did not exit in time, killing")
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill service: %w", err)
	}
	<-p.done
	return nil
}

func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

// Pid returns the service's process id, or 0 when it is not running.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return 0
	}
	return p.cmd.Process.Pid
}

// Pause freezes the running service in place.
func (p *Process) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return ErrNotRunning
	}
	if p.paused {
		return nil
	}
	if err := pauseProcess(p.cmd.Process.Pid); err != nil {
		return err
	}
	p.paused = true
	return nil
}

func (p *Process) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return ErrNotRunning
	}
	if !p.paused {
		return nil
	}
	if err := resumeProcess(p.cmd.Process.Pid); err != nil {
		return err
	}
	p.paused = false
	return nil
}

func (p *Process) runningLocked() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
