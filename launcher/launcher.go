// Package launcher starts a desktop application made of an in-process HTTP
// API server and an external GUI runtime process, and supervises their
// joint lifecycle.
//
// A launch binds the server to a free port in the ephemeral range, writes
// that port into a small script file inside the GUI's asset directory,
// starts the runtime on the asset directory and returns a RunningLaunch.
// WaitForTerminationThenShutdown then blocks until the GUI exits and stops
// the server, first gracefully and then forcibly.
package launcher

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tomyedwab/nwhost/access"
	"github.com/tomyedwab/nwhost/gui"
	"github.com/tomyedwab/nwhost/handoff"
	"github.com/tomyedwab/nwhost/httpserver"
	"github.com/tomyedwab/nwhost/journal"
	"github.com/tomyedwab/nwhost/middleware"
)

// Launcher launches the application described by its Config. A Launcher
// may be launched again once the previous launch has shut down.
type Launcher struct {
	cfg Config
}

// New creates a Launcher for cfg. The configuration is validated by Launch.
func New(cfg Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Config returns a copy of the launcher's configuration.
func (l *Launcher) Config() Config {
	return l.cfg
}

// Launch validates the configuration, starts the API server, publishes its
// port and spawns the GUI. On failure after the server started, the server
// is closed before returning.
func (l *Launcher) Launch(ctx context.Context) (*RunningLaunch, error) {
	cfg := l.cfg.withDefaults()
	home, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	launchID := uuid.New().String()
	logger := cfg.Logger.With("component", "Launcher", "launchID", launchID)
	rec := &recorder{journal: cfg.Journal, launchID: launchID, logger: logger}

	assetDir, layout, err := cfg.resolveAssets()
	if err != nil {
		return nil, rec.failed(StageResolveAssets, err)
	}
	logger.Info("Launching", "assetDir", assetDir, "layout", layout.String())
	rec.record(func(j *journal.Journal) error { return j.LogLaunchStarted(launchID, assetDir) })

	handler := cfg.Handler
	var authority *access.Authority
	if cfg.RequireToken {
		authority, err = access.NewAuthority(0)
		if err != nil {
			return nil, rec.failed(StageStartServer, err)
		}
	}
	handler = wrapHandler(handler, cfg, authority, logger)

	server, err := cfg.StartServer(ctx, httpserver.Options{
		Handler:      handler,
		ContextRoot:  httpserver.ContextRoot(cfg.BaseURL),
		Host:         cfg.BindHost,
		Range:        cfg.PortRange,
		ReadyTimeout: cfg.ReadyTimeout,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, rec.failed(StageStartServer, err)
	}
	port := server.Port()
	logger.Info("API server bound", "port", port)
	rec.record(func(j *journal.Journal) error { return j.LogServerBound(launchID, port) })

	// From here on a failure must not leave the listener behind.
	rollback := func(stage Stage, err error) error {
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("Failed to close API server after failed launch", "port", port, "error", closeErr)
		}
		return rec.failed(stage, err)
	}

	handoffPath, err := handoff.Publish(assetDir, cfg.HandoffPath, port)
	if err != nil {
		return nil, rollback(StageHandoff, err)
	}
	logger.Info("Published server port", "path", handoffPath, "port", port)
	rec.record(func(j *journal.Journal) error { return j.LogHandoffPublished(launchID, handoffPath, port) })

	spec := gui.Spec{
		Path: gui.LauncherPath(home, cfg.RuntimeExecutable),
		Args: []string{assetDir},
		Dir:  cfg.WorkDir,
	}
	if spec.Dir == "" {
		spec.Dir = assetDir
	}
	if authority != nil {
		token, err := authority.Mint(launchID, port)
		if err != nil {
			return nil, rollback(StageSpawn, err)
		}
		spec.Env = append(spec.Env, access.TokenEnv+"="+token)
	}

	process, err := cfg.Spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, rollback(StageSpawn, err)
	}
	pid := process.Pid()
	logger.Info("GUI runtime started", "pid", pid, "runtime", spec.Path)
	rec.record(func(j *journal.Journal) error { return j.LogGUISpawned(launchID, pid) })

	return &RunningLaunch{
		id:          launchID,
		server:      server,
		process:     process,
		port:        port,
		assetDir:    assetDir,
		handoffPath: handoffPath,
		grace:       cfg.ShutdownGrace,
		logger:      logger,
		rec:         rec,
	}, nil
}

// LaunchThenWaitForTerminationThenShutdown launches and then supervises the
// launch until the GUI exits and the server has stopped.
func (l *Launcher) LaunchThenWaitForTerminationThenShutdown(ctx context.Context) error {
	running, err := l.Launch(ctx)
	if err != nil {
		return err
	}
	return running.WaitForTerminationThenShutdown(ctx)
}

func wrapHandler(h http.Handler, cfg Config, authority *access.Authority, logger *slog.Logger) http.Handler {
	var chain []func(http.Handler) http.Handler
	if authority != nil {
		chain = append(chain, middleware.TokenRequired(authority))
	}
	if cfg.AllowCrossOrigin {
		chain = append(chain, middleware.EnableCrossOrigin)
	}
	chain = append(chain, middleware.LogRequests(logger))
	return middleware.Chain(h, chain...)
}

// recorder writes lifecycle events to the optional journal. Journal
// failures are logged and never abort a launch.
type recorder struct {
	journal  *journal.Journal
	launchID string
	logger   *slog.Logger
}

func (r *recorder) record(write func(j *journal.Journal) error) {
	if r.journal == nil {
		return
	}
	if err := write(r.journal); err != nil {
		r.logger.Warn("Failed to write launch journal", "error", err)
	}
}

func (r *recorder) failed(stage Stage, err error) error {
	startupErr := &StartupError{Stage: stage, Err: err}
	r.logger.Error("Launch failed", "stage", string(stage), "error", err)
	r.record(func(j *journal.Journal) error { return j.LogLaunchFailed(r.launchID, string(stage), err) })
	return startupErr
}
