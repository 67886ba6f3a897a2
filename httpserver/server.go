// Package httpserver runs the in-process API server of a desktop launch: it
// binds inside a port range, mounts the application handler under its
// context root and exposes the two shutdown phases used by the supervisor.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBindHost     = "127.0.0.1"
	defaultReadyTimeout = 2 * time.Second
)

// Options configures Start.
type Options struct {
	Handler      http.Handler  // Required. Mounted under ContextRoot.
	ContextRoot  string        // Optional, e.g. "/api". Empty mounts at "/".
	Host         string        // Optional, defaults to 127.0.0.1
	Range        PortRange     // Optional, defaults to EphemeralRange
	ReadyTimeout time.Duration // Optional, defaults to 2s. Negative disables the probe.
	Logger       *slog.Logger  // Optional, defaults to slog.Default()
}

// Server is a running HTTP server bound to a negotiated port.
type Server struct {
	server      *http.Server
	listener    net.Listener
	contextRoot string
	logger      *slog.Logger

	done     chan struct{}
	serveErr error
}

// Start binds a listener inside the configured port range and serves the
// handler on it in a background goroutine. It returns once the serve loop has
// answered a readiness check, or with an error if binding or the check fails.
// Readiness checks are answered by the server and never reach the handler.
func Start(ctx context.Context, opts Options) (*Server, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	host := opts.Host
	if host == "" {
		host = defaultBindHost
	}
	portRange := opts.Range
	if portRange == (PortRange{}) {
		portRange = EphemeralRange
	}
	readyTimeout := opts.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = defaultReadyTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root, err := cleanContextRoot(opts.ContextRoot)
	if err != nil {
		return nil, err
	}

	listener, err := portRange.Listen(host)
	if err != nil {
		return nil, err
	}

	s := &Server{
		server: &http.Server{
			Handler:           answerReadiness(mount(root, opts.Handler)),
			ReadHeaderTimeout: 30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		listener:    listener,
		contextRoot: root,
		logger:      logger.With("component", "HTTPServer"),
		done:        make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		s.logger.Info("Serving", "addr", listener.Addr().String(), "contextRoot", root)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", "error", err)
			s.serveErr = err
		}
	}()

	if readyTimeout > 0 {
		if err := NewProbe(readyTimeout).WaitReady(ctx, s.URL()); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	return PortOf(s.listener.Addr())
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// URL returns the base URL of the mounted handler, including the context
// root and a trailing slash.
func (s *Server) URL() string {
	u := url.URL{Scheme: "http", Host: s.listener.Addr().String(), Path: s.contextRoot + "/"}
	return u.String()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Graceful shutdown requested", "port", s.Port())
	return s.server.Shutdown(ctx)
}

// Close immediately closes the listener and all connections.
func (s *Server) Close() error {
	s.logger.Info("Forced shutdown", "port", s.Port())
	if err := s.server.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Done is closed once the serve loop has returned.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the serve loop, if any. It is only
// meaningful after Done is closed.
func (s *Server) Err() error {
	<-s.done
	return s.serveErr
}

// ContextRoot extracts the context root from a base URL: its first path
// segment with a leading slash, or "" when the path is empty. Host and port
// are ignored.
func ContextRoot(base *url.URL) string {
	trimmed := strings.Trim(base.Path, "/")
	if trimmed == "" {
		return ""
	}
	first, _, _ := strings.Cut(trimmed, "/")
	return "/" + first
}

func cleanContextRoot(root string) (string, error) {
	trimmed := strings.Trim(root, "/")
	if trimmed == "" {
		return "", nil
	}
	if strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("context root %q must be a single path segment", root)
	}
	return "/" + trimmed, nil
}

// answerReadiness replies to readiness checks from the serve loop itself so
// they never reach the application handler.
func answerReadiness(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(ReadinessHeader) != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func mount(root string, h http.Handler) http.Handler {
	if root == "" {
		return h
	}
	mux := http.NewServeMux()
	mux.Handle(root+"/", http.StripPrefix(root, h))
	return mux
}
