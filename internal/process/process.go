// Package process provides a helper for starting and managing a single
// subprocess: the external tool session a job's supervisor launches.
//
// It is adapted for skillpilot's session supervisor (spec §4.E); it is not
// a general-purpose process manager.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/qfliuyang/skillpilot/logger"
)

const termType = "xterm-256color"

// Config configures a Process.
type Config struct {
	PTY               bool
	Path              string
	Args              []string
	Env               []string
	Stdout            io.Writer
	Stderr            io.Writer
	Dir               string
	InterruptSignal   syscall.Signal
	SignalGracePeriod time.Duration
}

// Process is an operating system level process.
type Process struct {
	conf       Config
	logger     logger.Logger
	command    *exec.Cmd
	waitResult error

	mu            sync.Mutex
	pid           int
	started, done chan struct{}
}

// New returns a new Process, not yet started.
func New(l logger.Logger, c Config) *Process {
	if c.InterruptSignal == 0 {
		c.InterruptSignal = syscall.SIGTERM
	}
	if c.SignalGracePeriod == 0 {
		c.SignalGracePeriod = 5 * time.Second
	}
	return &Process{logger: l, conf: c}
}

// Pid returns the pid of the running process, or 0 if not yet started.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// WaitResult returns the raw error returned by exec.Cmd.Wait.
func (p *Process) WaitResult() error {
	return p.waitResult
}

// Started returns a channel closed once the process has started.
func (p *Process) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{})
	}
	return p.started
}

// Done returns a channel closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		p.done = make(chan struct{})
	}
	return p.done
}

// Run starts the command and blocks until it finishes, or until ctx is
// cancelled (in which case the process is interrupted, then killed after
// the grace period).
func (p *Process) Run(ctx context.Context) error {
	if p.command != nil {
		return errors.New("process is already running")
	}

	p.command = exec.Command(p.conf.Path, p.conf.Args...)
	p.command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if p.conf.Dir != "" {
		if _, err := os.Stat(p.conf.Dir); os.IsNotExist(err) {
			return fmt.Errorf("process working directory %q doesn't exist", p.conf.Dir)
		}
		p.command.Dir = p.conf.Dir
	}

	p.mu.Lock()
	if p.done == nil {
		p.done = make(chan struct{})
	}
	if p.started == nil {
		p.started = make(chan struct{})
	}
	p.mu.Unlock()

	p.command.Env = append(os.Environ(), p.conf.Env...)

	var wg sync.WaitGroup

	if p.conf.PTY {
		p.logger.Debug("[process] running with a PTY")
		p.command.Env = append(p.command.Env, "TERM="+termType)

		f, err := pty.Start(p.command)
		if err != nil {
			return fmt.Errorf("starting pty: %w", err)
		}
		defer f.Close()

		_, _ = term.MakeRaw(int(f.Fd()))

		p.mu.Lock()
		p.pid = p.command.Process.Pid
		p.mu.Unlock()
		close(p.started)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, copyErr := io.Copy(p.conf.Stdout, f)
			if copyErr != nil && !errors.Is(copyErr, syscall.EIO) {
				p.logger.Error("[process] PTY copy failed: %v", copyErr)
			}
		}()
	} else {
		p.logger.Debug("[process] running without a PTY")
		p.command.Stdout = p.conf.Stdout
		p.command.Stderr = p.conf.Stderr

		if err := p.command.Start(); err != nil {
			return fmt.Errorf("starting command: %w", err)
		}

		p.mu.Lock()
		p.pid = p.command.Process.Pid
		p.mu.Unlock()
		close(p.started)
	}

	go func() {
		if ctx == nil {
			return
		}
		select {
		case <-p.Done():
			return
		case <-ctx.Done():
			p.logger.Debug("[process] context done, interrupting pid=%d", p.pid)
			if err := p.Interrupt(); err != nil {
				p.logger.Warn("[process] interrupt failed: %v", err)
			}
			select {
			case <-p.Done():
				return
			case <-time.After(p.conf.SignalGracePeriod):
				p.logger.Warn("[process] not terminated in time, killing pid=%d", p.pid)
				if err := p.Terminate(); err != nil {
					p.logger.Error("[process] kill failed: %v", err)
				}
			}
		}
	}()

	p.logger.Info("[process] running with pid %d", p.pid)
	p.waitResult = p.command.Wait()
	close(p.done)

	if err := timeoutWait(&wg, 10*time.Second); err != nil {
		p.logger.Debug("[process] timed out waiting for copy goroutines: %v", err)
	}

	return nil
}

// Interrupt sends the configured interrupt signal to the process group.
func (p *Process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.command == nil || p.command.Process == nil {
		return nil
	}
	if err := syscall.Kill(-p.pid, p.conf.InterruptSignal); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("interrupting pgid %d: %w", p.pid, err)
	}
	return nil
}

// Terminate sends SIGKILL to the process group.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.command == nil || p.command.Process == nil {
		return nil
	}
	if err := syscall.Kill(-p.pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("killing pgid %d: %w", p.pid, err)
	}
	return nil
}

// ExitCode returns the process's exit code once it has finished, or -1 if
// it hasn't finished or exited abnormally (e.g. via signal).
func (p *Process) ExitCode() int {
	if p.command == nil || p.command.ProcessState == nil {
		return -1
	}
	return p.command.ProcessState.ExitCode()
}

func timeoutWait(wg *sync.WaitGroup, d time.Duration) error {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-time.After(d):
		return errors.New("timeout")
	}
}
