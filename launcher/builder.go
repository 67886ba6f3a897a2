package launcher

import (
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/tomyedwab/nwhost/gui"
	"github.com/tomyedwab/nwhost/httpserver"
	"github.com/tomyedwab/nwhost/journal"
)

// Builder assembles a launch configuration. It is a value: every setter
// returns a modified copy and leaves the receiver untouched, so a partially
// configured Builder can be shared and specialized.
//
//	l := launcher.NewBuilder().
//		Handler(api).
//		Marker(App{}).
//		Build()
type Builder struct {
	cfg Config
}

// NewBuilder starts from DefaultConfig.
func NewBuilder() Builder {
	return Builder{cfg: DefaultConfig()}
}

// BuilderFrom starts from an existing configuration.
func BuilderFrom(cfg Config) Builder {
	b := Builder{cfg: cfg}
	b.cfg.BaseURL = cloneURL(cfg.BaseURL)
	return b
}

// Build returns a Launcher for the configuration. Validation happens at
// launch time.
func (b Builder) Build() *Launcher {
	cfg := b.cfg
	cfg.BaseURL = cloneURL(cfg.BaseURL)
	return New(cfg)
}

// BaseURL sets the URL whose first path segment becomes the context root.
// The URL is copied. Passing nil clears it and fails the launch with
// ErrMissingBaseURL.
func (b Builder) BaseURL(u *url.URL) Builder {
	b.cfg.BaseURL = cloneURL(u)
	b.cfg.baseURLCleared = u == nil
	return b
}

// Handler sets the application API handler.
func (b Builder) Handler(h http.Handler) Builder {
	b.cfg.Handler = h
	return b
}

// HandoffPath sets the handoff file path, relative to the asset directory.
func (b Builder) HandoffPath(relPath string) Builder {
	b.cfg.HandoffPath = relPath
	return b
}

// AssetDir sets the asset directory explicitly. It wins over any marker.
func (b Builder) AssetDir(dir string) Builder {
	b.cfg.AssetDir = dir
	return b
}

// Marker locates the asset directory from the code of marker's type.
func (b Builder) Marker(marker any) Builder {
	b.cfg.Marker = marker
	return b
}

// MarkerType locates the asset directory from the code of t. It wins over
// Marker.
func (b Builder) MarkerType(t reflect.Type) Builder {
	b.cfg.MarkerType = t
	return b
}

// RuntimeHome sets the GUI runtime home, overriding the environment.
func (b Builder) RuntimeHome(dir string) Builder {
	b.cfg.RuntimeHome = dir
	return b
}

// RuntimeHomeEnv names the environment variable holding the runtime home.
func (b Builder) RuntimeHomeEnv(name string) Builder {
	b.cfg.RuntimeHomeEnv = name
	return b
}

// RuntimeExecutable names the runtime binary inside the runtime home.
func (b Builder) RuntimeExecutable(name string) Builder {
	b.cfg.RuntimeExecutable = name
	return b
}

// LookupEnv replaces os.LookupEnv for reading the runtime home.
func (b Builder) LookupEnv(lookup func(string) (string, bool)) Builder {
	b.cfg.LookupEnv = lookup
	return b
}

// OriginOf sets the single function anchoring marker-based asset
// resolution. Unset, SourceOrigin is tried before ExecutableOrigin.
func (b Builder) OriginOf(origin OriginFunc) Builder {
	b.cfg.OriginOf = origin
	return b
}

// Layout sets where assets are looked up relative to the marker origin.
func (b Builder) Layout(layout Layout) Builder {
	b.cfg.Layout = layout
	return b
}

// WorkDir sets the GUI working directory. It defaults to the asset
// directory.
func (b Builder) WorkDir(dir string) Builder {
	b.cfg.WorkDir = dir
	return b
}

// BindHost sets the host the API server listens on.
func (b Builder) BindHost(host string) Builder {
	b.cfg.BindHost = host
	return b
}

// PortRange sets the ports scanned for a free listener.
func (b Builder) PortRange(r httpserver.PortRange) Builder {
	b.cfg.PortRange = r
	return b
}

// ReadyTimeout bounds the readiness check after binding. Negative skips it.
func (b Builder) ReadyTimeout(d time.Duration) Builder {
	b.cfg.ReadyTimeout = d
	return b
}

// ShutdownGrace bounds the graceful server shutdown after the GUI exits.
func (b Builder) ShutdownGrace(d time.Duration) Builder {
	b.cfg.ShutdownGrace = d
	return b
}

// RequireToken makes every API request carry the per-launch token.
func (b Builder) RequireToken(require bool) Builder {
	b.cfg.RequireToken = require
	return b
}

// AllowCrossOrigin answers CORS preflights and allows any origin.
func (b Builder) AllowCrossOrigin(allow bool) Builder {
	b.cfg.AllowCrossOrigin = allow
	return b
}

// StartServer replaces StartHTTPServer.
func (b Builder) StartServer(start ServerStarter) Builder {
	b.cfg.StartServer = start
	return b
}

// Spawner replaces the exec-based GUI spawner.
func (b Builder) Spawner(s gui.Spawner) Builder {
	b.cfg.Spawner = s
	return b
}

// Logger sets the logger that component loggers derive from.
func (b Builder) Logger(logger *slog.Logger) Builder {
	b.cfg.Logger = logger
	return b
}

// Journal records launch lifecycle events. Nil disables recording.
func (b Builder) Journal(j *journal.Journal) Builder {
	b.cfg.Journal = j
	return b
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}
