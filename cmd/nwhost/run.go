package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/nwhost/gui"
	"github.com/tomyedwab/nwhost/httputils"
	"github.com/tomyedwab/nwhost/journal"
	"github.com/tomyedwab/nwhost/launcher"
)

func newRunCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the GUI and serve its API until the window closes",
		Long: `Start the API server, publish its port, launch the NW.js runtime on the
asset directory and wait for it to exit. SIGINT and SIGTERM close the
window and run the same shutdown.

The API serves GET <context root>/status and, with --static-dir, the
files of that directory under the context root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("base-url", "", "base URL whose first path segment is the API context root")
	flags.String("asset-dir", "", "GUI asset directory (default: app/ next to the binary)")
	flags.String("handoff-path", "", "handoff file path relative to the asset directory")
	flags.String("static-dir", "", "directory served under the API context root")
	flags.String("runtime-home", "", "NW.js installation directory (default: $NW_HOME)")
	flags.String("runtime-executable", "", "runtime launcher inside the installation directory")
	flags.String("work-dir", "", "GUI working directory (default: the asset directory)")
	flags.String("bind-host", "", "API bind address")
	flags.Int("port-low", 0, "lowest API port to try")
	flags.Int("port-high", 0, "highest API port to try")
	flags.Duration("ready-timeout", 0, "how long to wait for the API to answer before launching the GUI")
	flags.Duration("shutdown-grace", 0, "how long in-flight requests may finish after the GUI exits")
	flags.Bool("require-token", false, "require the per-launch token on every API request")
	flags.Bool("allow-cross-origin", false, "allow cross-origin API requests")
	bindFlags(c.v, flags, map[string]string{
		"base_url":           "base-url",
		"asset_dir":          "asset-dir",
		"handoff_path":       "handoff-path",
		"static_dir":         "static-dir",
		"runtime_home":       "runtime-home",
		"runtime_executable": "runtime-executable",
		"work_dir":           "work-dir",
		"bind_host":          "bind-host",
		"port_low":           "port-low",
		"port_high":          "port-high",
		"ready_timeout":      "ready-timeout",
		"shutdown_grace":     "shutdown-grace",
		"require_token":      "require-token",
		"allow_cross_origin": "allow-cross-origin",
	})
	return cmd
}

func (c *cli) run(cmd *cobra.Command) error {
	settings, err := loadSettings(c.v)
	if err != nil {
		return err
	}
	cfg, err := settings.launcherConfig()
	if err != nil {
		return err
	}

	if settings.Journal != "" {
		j, err := journal.Open(settings.Journal)
		if err != nil {
			return fmt.Errorf("failed to open journal %s: %w", settings.Journal, err)
		}
		defer j.Close()
		cfg.Journal = j
	}

	var current atomic.Pointer[launcher.RunningLaunch]
	cfg.Handler = newAPIHandler(settings.StaticDir, &current, c.logger)
	cfg.Logger = c.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	running, err := launcher.New(cfg).Launch(ctx)
	if err != nil {
		return err
	}
	current.Store(running)
	c.logger.Info("Launch running", "launchID", running.ID(), "port", running.Port(), "pid", running.Process().Pid())

	return running.WaitForTerminationThenShutdown(ctx)
}

const statusOutputLines = 50

type statusResponse struct {
	LaunchID string         `json:"launchId"`
	Port     int            `json:"port"`
	PID      int            `json:"pid"`
	AssetDir string         `json:"assetDir"`
	Uptime   string         `json:"uptime"`
	State    string         `json:"state,omitempty"`
	Output   []gui.LogEntry `json:"output,omitempty"`
}

// newAPIHandler serves the built-in status endpoint and an optional
// static directory.
func newAPIHandler(staticDir string, current *atomic.Pointer[launcher.RunningLaunch], logger *slog.Logger) http.Handler {
	started := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		running := current.Load()
		if running == nil {
			httputils.HandleAPIResponse(w, r, logger, nil, errors.New("launch in progress"), http.StatusServiceUnavailable)
			return
		}
		resp := statusResponse{
			LaunchID: running.ID(),
			Port:     running.Port(),
			PID:      running.Process().Pid(),
			AssetDir: running.AssetDir(),
			Uptime:   time.Since(started).Round(time.Second).String(),
		}
		if proc, ok := running.Process().(*gui.ExecProcess); ok {
			resp.State = proc.State().String()
			resp.Output = proc.Logs().Latest(statusOutputLines)
		}
		httputils.HandleAPIResponse(w, r, logger, resp, nil, http.StatusOK)
	})
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}
