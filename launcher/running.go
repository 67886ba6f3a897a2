package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomyedwab/nwhost/gui"
	"github.com/tomyedwab/nwhost/journal"
)

// RunningLaunch is a launch whose server is serving and whose GUI has been
// spawned.
type RunningLaunch struct {
	id          string
	server      Server
	process     gui.Process
	port        int
	assetDir    string
	handoffPath string
	grace       time.Duration
	logger      *slog.Logger
	rec         *recorder

	once        sync.Once
	shutdownErr error
}

// ID returns the launch id used in logs and the journal.
func (r *RunningLaunch) ID() string {
	return r.id
}

// Port returns the port the API server is bound to.
func (r *RunningLaunch) Port() int {
	return r.port
}

// AssetDir returns the absolute asset directory handed to the GUI.
func (r *RunningLaunch) AssetDir() string {
	return r.assetDir
}

// HandoffPath returns the path of the published handoff file.
func (r *RunningLaunch) HandoffPath() string {
	return r.handoffPath
}

// Process returns the GUI process handle.
func (r *RunningLaunch) Process() gui.Process {
	return r.process
}

func (r *RunningLaunch) String() string {
	return fmt.Sprintf("launch %s (port %d, pid %d)", r.id, r.port, r.process.Pid())
}

// WaitForTerminationThenShutdown blocks until the GUI process exits, then
// shuts the server down: gracefully for up to the configured grace period,
// then forcibly. If ctx is cancelled first, the GUI is asked to stop and
// the same shutdown follows.
//
// The result is nil once the server has stopped, even if the graceful phase
// timed out. Only the first call does any work; later calls return its
// result.
func (r *RunningLaunch) WaitForTerminationThenShutdown(ctx context.Context) error {
	r.once.Do(func() {
		r.waitForTermination(ctx)
		r.shutdownErr = r.shutdown(ctx)
	})
	return r.shutdownErr
}

func (r *RunningLaunch) waitForTermination(ctx context.Context) {
	pid := r.process.Pid()
	select {
	case <-r.process.Done():
	case <-ctx.Done():
		r.logger.Info("Launch cancelled, stopping GUI runtime", "pid", pid)
		if err := r.process.Stop(r.grace); err != nil {
			r.logger.Error("Failed to stop GUI runtime", "pid", pid, "error", err)
		}
	}

	detail := "exited"
	if err := r.process.Wait(); err != nil {
		r.logger.Error("Failed to wait for GUI runtime", "pid", pid, "error", err)
		detail = err.Error()
	} else if coder, ok := r.process.(interface{ ExitCode() int }); ok {
		detail = fmt.Sprintf("exit code %d", coder.ExitCode())
	}
	r.logger.Info("GUI runtime terminated", "pid", pid, "status", detail)
	r.rec.record(func(j *journal.Journal) error { return j.LogGUIExited(r.id, pid, detail) })
}

func (r *RunningLaunch) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.grace)
	gracefulErr := r.server.Shutdown(shutdownCtx)
	cancel()
	if gracefulErr != nil {
		r.logger.Warn("API server did not stop gracefully, forcing", "port", r.port, "grace", r.grace, "error", gracefulErr)
	}

	if closeErr := r.server.Close(); closeErr != nil {
		err := fmt.Errorf("failed to stop API server on port %d: %w", r.port, errors.Join(gracefulErr, closeErr))
		r.logger.Error("API server shutdown failed", "port", r.port, "error", err)
		r.rec.record(func(j *journal.Journal) error { return j.LogShutdownFailed(r.id, r.port, err) })
		return err
	}

	r.logger.Info("API server stopped", "port", r.port)
	r.rec.record(func(j *journal.Journal) error { return j.LogShutdownCompleted(r.id, r.port) })
	return nil
}
