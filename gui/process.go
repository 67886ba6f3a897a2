package gui

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcessState is the lifecycle state of a spawned GUI process.
type ProcessState int

const (
	// StateStarting means the process has been requested but not started yet.
	StateStarting ProcessState = iota
	// StateRunning means the process is running.
	StateRunning
	// StateExited means the process has exited, whatever its exit code.
	StateExited
	// StateFailed means the process could not be waited on.
	StateFailed
)

// String returns a string representation of the ProcessState.
func (ps ProcessState) String() string {
	switch ps {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateExited:
		return "Exited"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

// Process is a handle on a spawned GUI process.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int
	// Wait blocks until the process has exited. The exit status is not
	// interpreted: a non-zero exit is still a normal termination.
	Wait() error
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// Stop asks the process to exit, killing it after grace.
	Stop(grace time.Duration) error
}

// ExecProcess is a Process backed by os/exec.
type ExecProcess struct {
	cmd    *exec.Cmd
	pid    int
	logs   *LogBuffer
	logger *slog.Logger

	mu       sync.Mutex
	state    ProcessState
	exitCode int
	waitErr  error
	done     chan struct{}
}

func newExecProcess(cmd *exec.Cmd, logs *LogBuffer, logger *slog.Logger) *ExecProcess {
	return &ExecProcess{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		logs:     logs,
		logger:   logger,
		state:    StateRunning,
		exitCode: -1,
		done:     make(chan struct{}),
	}
}

// Pid returns the process id.
func (p *ExecProcess) Pid() int {
	return p.pid
}

// Done is closed once the process has exited.
func (p *ExecProcess) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits. It returns an error only if the
// process could not be waited on; exit codes are available via ExitCode.
func (p *ExecProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// State returns the current process state.
func (p *ExecProcess) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the exit code, or -1 while running or when the process
// was killed by a signal.
func (p *ExecProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Logs returns the buffer of captured output lines.
func (p *ExecProcess) Logs() *LogBuffer {
	return p.logs
}

// Stop sends an interrupt, waits up to grace for the process to exit, then
// kills it.
func (p *ExecProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.logger.Info("Stopping GUI process", "pid", p.pid)
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		// Interrupt is not supported everywhere (e.g. Windows); fall through to kill.
		p.logger.Warn("Failed to interrupt GUI process", "pid", p.pid, "error", err)
		grace = 0
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		p.logger.Info("GUI process exited after interrupt", "pid", p.pid)
		return nil
	case <-timer.C:
	}

	p.logger.Warn("GUI process did not exit gracefully, killing it", "pid", p.pid)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill GUI process (PID %d): %w", p.pid, err)
	}
	<-p.done
	return nil
}

// finish records the result of cmd.Wait.
func (p *ExecProcess) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.As(err, &exitErr), errors.Is(err, exec.ErrWaitDelay):
		p.state = StateExited
		if p.cmd.ProcessState != nil {
			p.exitCode = p.cmd.ProcessState.ExitCode()
		}
	default:
		p.state = StateFailed
		p.waitErr = err
	}
	close(p.done)
}
