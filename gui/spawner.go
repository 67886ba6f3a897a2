// Package gui spawns and tracks the external GUI runtime process.
package gui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogCapacity = 1000
	defaultWaitDelay   = 2 * time.Second
)

// DefaultExecutable is the name of the runtime launcher inside the runtime
// home directory.
func DefaultExecutable() string {
	if runtime.GOOS == "windows" {
		return "nw.exe"
	}
	return "nw"
}

// LauncherPath returns the path of the runtime launcher under home. An
// empty executable selects DefaultExecutable.
func LauncherPath(home, executable string) string {
	if executable == "" {
		executable = DefaultExecutable()
	}
	return filepath.Join(home, executable)
}

// Spec describes a process to spawn.
type Spec struct {
	Path string   // Executable path.
	Args []string // Arguments, without the executable itself.
	Dir  string   // Optional working directory.
	Env  []string // Extra KEY=VALUE pairs appended to the inherited environment.
}

// Spawner starts GUI processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// ExecSpawner starts processes with os/exec and forwards their output to a
// logger line by line.
type ExecSpawner struct {
	Logger      *slog.Logger  // Optional, defaults to slog.Default()
	LogCapacity int           // Optional, defaults to 1000 lines
	WaitDelay   time.Duration // Optional, defaults to 2s. Bounds output draining after exit.
}

// Spawn starts the process described by spec. The child inherits the
// current environment. The process lifetime is not bound to ctx; ctx only
// aborts a spawn that has not started yet.
func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Path == "" {
		return nil, fmt.Errorf("executable path is required")
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "GUIProcess")
	capacity := s.LogCapacity
	if capacity == 0 {
		capacity = defaultLogCapacity
	}
	waitDelay := s.WaitDelay
	if waitDelay == 0 {
		waitDelay = defaultWaitDelay
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = waitDelay

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	logger.Info("Starting GUI process with command line", "command", spec.Path, "args", strings.Join(spec.Args, " "), "dir", spec.Dir)
	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	logs := NewLogBuffer(capacity)
	proc := newExecProcess(cmd, logs, logger)
	pid := proc.Pid()
	logger.Info("GUI process started", "pid", pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go forwardOutput(&readers, stdoutR, "stdout", pid, logs, logger)
	go forwardOutput(&readers, stderrR, "stderr", pid, logs, logger)

	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		readers.Wait()
		proc.finish(err)
		logger.Info("GUI process exited", "pid", pid, "exitCode", proc.ExitCode(), "state", proc.State().String())
	}()

	return proc, nil
}

func forwardOutput(wg *sync.WaitGroup, r io.Reader, source string, pid int, logs *LogBuffer, logger *slog.Logger) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		logs.Add(source, line, pid)
		if source == "stderr" {
			logger.Warn("GUI stderr", "pid", pid, "output", line)
		} else {
			logger.Info("GUI stdout", "pid", pid, "output", line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("Error reading GUI output", "source", source, "pid", pid, "error", err)
		// Keep draining so the child never blocks on a full pipe.
		io.Copy(io.Discard, r)
	}
}
