package launcher

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"time"

	"github.com/tomyedwab/nwhost/gui"
	"github.com/tomyedwab/nwhost/handoff"
	"github.com/tomyedwab/nwhost/httpserver"
	"github.com/tomyedwab/nwhost/journal"
)

const (
	DefaultRuntimeHomeEnv = "NW_HOME"
	DefaultShutdownGrace  = 2 * time.Second
)

// DefaultBaseURL is the base URL used unless one is configured. Only its
// path matters: the API is served under /api.
func DefaultBaseURL() *url.URL {
	return &url.URL{Scheme: "http", Host: "localhost", Path: "/api"}
}

// Layout describes where the asset directory lives relative to the
// directory holding the marker's origin.
type Layout struct {
	// AssetSubdir is looked up next to the origin in a packaged install.
	AssetSubdir string
	// DevAssetPath is looked up one level above in a source checkout.
	DevAssetPath string
}

var DefaultLayout = Layout{
	AssetSubdir:  "app",
	// Go checkouts keep web sources under web/ rather than src/main/
	DevAssetPath: "web/src/app",
}

// Server is the part of a running HTTP server the supervisor needs.
type Server interface {
	Port() int
	Shutdown(ctx context.Context) error
	Close() error
}

// ServerStarter binds and starts the API server.
type ServerStarter func(ctx context.Context, opts httpserver.Options) (Server, error)

// StartHTTPServer is the default ServerStarter.
func StartHTTPServer(ctx context.Context, opts httpserver.Options) (Server, error) {
	s, err := httpserver.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OriginFunc maps a marker type to a file whose directory anchors asset
// resolution.
type OriginFunc func(marker reflect.Type) (string, error)

// Config describes a launch. Use NewBuilder to start from the defaults.
type Config struct {
	BaseURL *url.URL     // Optional, defaults to DefaultBaseURL. Only the first path segment is used.
	Handler http.Handler // Required. Application API.

	// Asset directory locators, in order of precedence.
	AssetDir   string
	MarkerType reflect.Type
	Marker     any

	HandoffPath string // Optional, defaults to js/tempPort.js

	RuntimeHome       string                          // Optional if RuntimeHomeEnv is set in the environment
	RuntimeHomeEnv    string                          // Optional, defaults to NW_HOME
	RuntimeExecutable string                          // Optional, defaults to nw (nw.exe on Windows)
	LookupEnv         func(key string) (string, bool) // Optional, defaults to os.LookupEnv
	OriginOf          OriginFunc                      // Optional, defaults to SourceOrigin then ExecutableOrigin
	Layout            Layout                          // Optional, defaults to DefaultLayout
	WorkDir           string                          // Optional, defaults to the asset directory

	BindHost     string               // Optional, defaults to 127.0.0.1
	PortRange    httpserver.PortRange // Optional, defaults to httpserver.EphemeralRange
	ReadyTimeout time.Duration        // Optional, defaults to 2s. Negative disables the probe.

	ShutdownGrace time.Duration // Optional, defaults to 2s

	RequireToken     bool // Require the per-launch token on every API request
	AllowCrossOrigin bool // Answer CORS preflights and allow any origin

	StartServer ServerStarter    // Optional, defaults to StartHTTPServer
	Spawner     gui.Spawner      // Optional, defaults to an ExecSpawner
	Logger      *slog.Logger     // Optional, defaults to slog.Default()
	Journal     *journal.Journal // Optional, nil disables the launch journal

	// Set by Builder.BaseURL(nil); a cleared base URL is not defaulted.
	baseURLCleared bool
}

// DefaultConfig returns a Config with the default base URL set.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL(),
		HandoffPath:    handoff.DefaultRelativePath,
		RuntimeHomeEnv: DefaultRuntimeHomeEnv,
		Layout:         DefaultLayout,
		ShutdownGrace:  DefaultShutdownGrace,
	}
}

// withDefaults fills in every optional field. A base URL cleared through
// the Builder stays nil so that validate reports it.
func (c Config) withDefaults() Config {
	if c.BaseURL == nil && !c.baseURLCleared {
		c.BaseURL = DefaultBaseURL()
	}
	if c.HandoffPath == "" {
		c.HandoffPath = handoff.DefaultRelativePath
	}
	if c.RuntimeHomeEnv == "" {
		c.RuntimeHomeEnv = DefaultRuntimeHomeEnv
	}
	if c.LookupEnv == nil {
		c.LookupEnv = os.LookupEnv
	}
	if c.Layout.AssetSubdir == "" {
		c.Layout.AssetSubdir = DefaultLayout.AssetSubdir
	}
	if c.Layout.DevAssetPath == "" {
		c.Layout.DevAssetPath = DefaultLayout.DevAssetPath
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.StartServer == nil {
		c.StartServer = StartHTTPServer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Spawner == nil {
		c.Spawner = &gui.ExecSpawner{Logger: c.Logger}
	}
	return c
}

// runtimeHome returns the explicit runtime home or the value of
// RuntimeHomeEnv.
func (c Config) runtimeHome() string {
	if c.RuntimeHome != "" {
		return c.RuntimeHome
	}
	if value, ok := c.LookupEnv(c.RuntimeHomeEnv); ok {
		return value
	}
	return ""
}

// validate checks the preconditions in a fixed order and returns the
// resolved runtime home.
func (c Config) validate() (string, error) {
	if c.Handler == nil {
		return "", &ConfigError{Err: ErrMissingHandler}
	}
	if c.BaseURL == nil {
		return "", &ConfigError{Err: ErrMissingBaseURL}
	}
	if c.AssetDir == "" && c.MarkerType == nil && c.Marker == nil {
		return "", &ConfigError{Err: ErrNoAssetLocator}
	}
	home := c.runtimeHome()
	if home == "" {
		return "", &ConfigError{Err: ErrMissingRuntimeHome, Detail: "set RuntimeHome or $" + c.RuntimeHomeEnv}
	}
	return home, nil
}
