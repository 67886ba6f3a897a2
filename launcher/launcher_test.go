package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomyedwab/nwhost/access"
	"github.com/tomyedwab/nwhost/gui"
	"github.com/tomyedwab/nwhost/handoff"
	"github.com/tomyedwab/nwhost/httpserver"
	"github.com/tomyedwab/nwhost/journal"
)

type fakeProcess struct {
	pid     int
	done    chan struct{}
	once    sync.Once
	stopped atomic.Bool
	waitErr error
}

func newFakeProcess(exited bool) *fakeProcess {
	p := &fakeProcess{pid: 4242, done: make(chan struct{})}
	if exited {
		p.exit()
	}
	return p
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.waitErr
}

func (p *fakeProcess) Stop(grace time.Duration) error {
	p.stopped.Store(true)
	p.exit()
	return nil
}

type fakeSpawner struct {
	mu     sync.Mutex
	specs  []gui.Spec
	exited bool
	err    error
	last   *fakeProcess
}

func (s *fakeSpawner) Spawn(ctx context.Context, spec gui.Spec) (gui.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)
	if s.err != nil {
		return nil, s.err
	}
	s.last = newFakeProcess(s.exited)
	return s.last, nil
}

func (s *fakeSpawner) spawned() []gui.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gui.Spec(nil), s.specs...)
}

type fakeServer struct {
	port        int
	shutdownErr error
	closeErr    error
	shutdowns   atomic.Int32
	closes      atomic.Int32
}

func (s *fakeServer) Port() int { return s.port }

func (s *fakeServer) Shutdown(ctx context.Context) error {
	s.shutdowns.Add(1)
	return s.shutdownErr
}

func (s *fakeServer) Close() error {
	s.closes.Add(1)
	return s.closeErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noEnv(string) (string, bool) {
	return "", false
}

func pingHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	return mux
}

// newAssetDir creates an asset directory with the js/ folder the handoff
// file is written to.
func newAssetDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "js"), 0755); err != nil {
		t.Fatalf("Failed to create js dir: %v", err)
	}
	return dir
}

func testBuilder(assetDir string, spawner gui.Spawner) Builder {
	return NewBuilder().
		Handler(pingHandler()).
		AssetDir(assetDir).
		RuntimeHome("/opt/nw").
		LookupEnv(noEnv).
		Spawner(spawner).
		Logger(quietLogger())
}

func get(t *testing.T, port int, path string, header http.Header) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d%s", port, path), nil)
	if err != nil {
		t.Fatalf("NewRequest returned error: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func assertRefused(t *testing.T, port int) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err == nil {
		conn.Close()
		t.Errorf("Expected port %d to refuse connections", port)
	}
}

func TestLaunchBindsEphemeralPortAndPublishesIt(t *testing.T) {
	assetDir := newAssetDir(t)
	spawner := &fakeSpawner{exited: true}

	running, err := testBuilder(assetDir, spawner).Build().Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	defer running.WaitForTerminationThenShutdown(context.Background())

	port := running.Port()
	if port < 49152 || port > 65535 {
		t.Errorf("Port %d outside the ephemeral range", port)
	}

	content, err := os.ReadFile(filepath.Join(assetDir, "js", "tempPort.js"))
	if err != nil {
		t.Fatalf("Failed to read handoff file: %v", err)
	}
	if want := fmt.Sprintf("var serverPort = %d;\n", port); string(content) != want {
		t.Errorf("Expected handoff content %q, got %q", want, string(content))
	}
	if running.HandoffPath() != filepath.Join(assetDir, "js", "tempPort.js") {
		t.Errorf("Unexpected handoff path %s", running.HandoffPath())
	}

	status, body := get(t, port, "/api/ping", nil)
	if status != http.StatusOK || body != "pong" {
		t.Errorf("Expected 200 pong, got %d %q", status, body)
	}

	specs := spawner.spawned()
	if len(specs) != 1 {
		t.Fatalf("Expected one spawn, got %d", len(specs))
	}
	spec := specs[0]
	if spec.Path != filepath.Join("/opt/nw", gui.DefaultExecutable()) {
		t.Errorf("Unexpected runtime path %s", spec.Path)
	}
	if len(spec.Args) != 1 || spec.Args[0] != assetDir {
		t.Errorf("Expected the asset dir as sole argument, got %v", spec.Args)
	}
	if spec.Dir != assetDir {
		t.Errorf("Expected working dir %s, got %s", assetDir, spec.Dir)
	}
	if len(spec.Env) != 0 {
		t.Errorf("Expected no extra environment, got %v", spec.Env)
	}
}

func TestLaunchCustomHandoffPathAndWorkDir(t *testing.T) {
	assetDir := t.TempDir()
	workDir := t.TempDir()
	spawner := &fakeSpawner{exited: true}

	running, err := testBuilder(assetDir, spawner).
		HandoffPath("port.js").
		WorkDir(workDir).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	defer running.WaitForTerminationThenShutdown(context.Background())

	content, err := os.ReadFile(filepath.Join(assetDir, "port.js"))
	if err != nil {
		t.Fatalf("Failed to read handoff file: %v", err)
	}
	if string(content) != handoff.Content(running.Port()) {
		t.Errorf("Unexpected handoff content %q", string(content))
	}
	if spawner.spawned()[0].Dir != workDir {
		t.Errorf("Expected working dir %s, got %s", workDir, spawner.spawned()[0].Dir)
	}
}

func TestLaunchUsesContextRootOfBaseURL(t *testing.T) {
	base, _ := url.Parse("http://example.com:9999/service/v1")
	running, err := testBuilder(newAssetDir(t), &fakeSpawner{exited: true}).
		BaseURL(base).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	defer running.WaitForTerminationThenShutdown(context.Background())

	if status, body := get(t, running.Port(), "/service/ping", nil); status != http.StatusOK || body != "pong" {
		t.Errorf("Expected 200 pong under /service, got %d %q", status, body)
	}
	if status, _ := get(t, running.Port(), "/api/ping", nil); status != http.StatusNotFound {
		t.Errorf("Expected 404 outside the context root, got %d", status)
	}
}

func TestRelaunchOverwritesHandoffFile(t *testing.T) {
	assetDir := newAssetDir(t)
	handoffFile := filepath.Join(assetDir, "js", "tempPort.js")
	if err := os.WriteFile(handoffFile, []byte("var serverPort = 1;\n// stale\n"), 0644); err != nil {
		t.Fatalf("Failed to write stale handoff file: %v", err)
	}

	l := testBuilder(assetDir, &fakeSpawner{exited: true}).Build()
	for i := 0; i < 2; i++ {
		running, err := l.Launch(context.Background())
		if err != nil {
			t.Fatalf("Launch %d returned error: %v", i, err)
		}
		content, err := os.ReadFile(handoffFile)
		if err != nil {
			t.Fatalf("Failed to read handoff file: %v", err)
		}
		if string(content) != handoff.Content(running.Port()) {
			t.Errorf("Launch %d: expected %q, got %q", i, handoff.Content(running.Port()), string(content))
		}
		if err := running.WaitForTerminationThenShutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown %d returned error: %v", i, err)
		}
	}
}

func TestSupervisorShutsDownAfterGUIExit(t *testing.T) {
	running, err := testBuilder(newAssetDir(t), &fakeSpawner{exited: true}).Build().Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	port := running.Port()

	if err := running.WaitForTerminationThenShutdown(context.Background()); err != nil {
		t.Fatalf("WaitForTerminationThenShutdown returned error: %v", err)
	}
	assertRefused(t, port)

	// Second call is a no-op with the same result
	if err := running.WaitForTerminationThenShutdown(context.Background()); err != nil {
		t.Errorf("Second call returned error: %v", err)
	}
}

func TestSupervisorWaitsForGUI(t *testing.T) {
	spawner := &fakeSpawner{}
	running, err := testBuilder(newAssetDir(t), spawner).Build().Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- running.WaitForTerminationThenShutdown(context.Background())
	}()

	select {
	case err := <-result:
		t.Fatalf("Supervisor returned before the GUI exited: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if status, _ := get(t, running.Port(), "/api/ping", nil); status != http.StatusOK {
		t.Errorf("Expected server to keep serving while the GUI runs, got %d", status)
	}

	spawner.last.exit()
	select {
	case err := <-result:
		if err != nil {
			t.Errorf("WaitForTerminationThenShutdown returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Supervisor did not return after the GUI exited")
	}
	if spawner.last.stopped.Load() {
		t.Error("GUI should not have been stopped by the supervisor")
	}
	assertRefused(t, running.Port())
}

func TestSupervisorStopsGUIWhenCancelled(t *testing.T) {
	spawner := &fakeSpawner{}
	running, err := testBuilder(newAssetDir(t), spawner).Build().Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := running.WaitForTerminationThenShutdown(ctx); err != nil {
		t.Fatalf("WaitForTerminationThenShutdown returned error: %v", err)
	}
	if !spawner.last.stopped.Load() {
		t.Error("Expected the GUI to be stopped")
	}
	assertRefused(t, running.Port())
}

func TestSupervisorForcesShutdownAfterGrace(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})

	spawner := &fakeSpawner{}
	running, err := testBuilder(newAssetDir(t), spawner).
		Handler(mux).
		ShutdownGrace(100 * time.Millisecond).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}

	go http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/slow", running.Port()))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("Slow request never reached the handler")
	}

	spawner.last.exit()
	start := time.Now()
	if err := running.WaitForTerminationThenShutdown(context.Background()); err != nil {
		t.Fatalf("Forced shutdown should not be reported as an error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Shutdown returned after %v, before the grace period", elapsed)
	}
	assertRefused(t, running.Port())
}

func TestSupervisorReportsShutdownFailure(t *testing.T) {
	server := &fakeServer{
		port:        50001,
		shutdownErr: context.DeadlineExceeded,
		closeErr:    errors.New("listener stuck"),
	}
	running, err := testBuilder(newAssetDir(t), &fakeSpawner{exited: true}).
		StartServer(func(ctx context.Context, opts httpserver.Options) (Server, error) {
			return server, nil
		}).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}

	first := running.WaitForTerminationThenShutdown(context.Background())
	if first == nil || !strings.Contains(first.Error(), "listener stuck") {
		t.Fatalf("Expected shutdown failure, got %v", first)
	}
	if !errors.Is(first, context.DeadlineExceeded) {
		t.Errorf("Expected the graceful error to be joined, got %v", first)
	}

	second := running.WaitForTerminationThenShutdown(context.Background())
	if second != first {
		t.Errorf("Expected the first result again, got %v", second)
	}
	if server.shutdowns.Load() != 1 || server.closes.Load() != 1 {
		t.Errorf("Expected one shutdown and one close, got %d and %d", server.shutdowns.Load(), server.closes.Load())
	}
}

func TestLaunchRollsBackServerOnSpawnFailure(t *testing.T) {
	var port int
	spawner := &fakeSpawner{err: errors.New("exec format error")}
	_, err := testBuilder(newAssetDir(t), spawner).
		StartServer(func(ctx context.Context, opts httpserver.Options) (Server, error) {
			s, err := StartHTTPServer(ctx, opts)
			if err == nil {
				port = s.Port()
			}
			return s, err
		}).
		Build().
		Launch(context.Background())

	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("Expected StartupError, got %v", err)
	}
	if startupErr.Stage != StageSpawn {
		t.Errorf("Expected stage %s, got %s", StageSpawn, startupErr.Stage)
	}
	if port == 0 {
		t.Fatal("Server was never started")
	}
	assertRefused(t, port)
}

func TestLaunchRollsBackServerOnHandoffFailure(t *testing.T) {
	server := &fakeServer{port: 50002}
	spawner := &fakeSpawner{}
	// No js/ directory, so the handoff file cannot be created
	_, err := testBuilder(t.TempDir(), spawner).
		StartServer(func(ctx context.Context, opts httpserver.Options) (Server, error) {
			return server, nil
		}).
		Build().
		Launch(context.Background())

	var startupErr *StartupError
	if !errors.As(err, &startupErr) || startupErr.Stage != StageHandoff {
		t.Fatalf("Expected handoff StartupError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected a missing directory error, got %v", err)
	}
	if server.closes.Load() != 1 {
		t.Errorf("Expected the server to be closed once, got %d", server.closes.Load())
	}
	if len(spawner.spawned()) != 0 {
		t.Error("GUI should not be spawned after a handoff failure")
	}
}

func TestLaunchStartServerFailure(t *testing.T) {
	spawner := &fakeSpawner{}
	_, err := testBuilder(newAssetDir(t), spawner).
		StartServer(func(ctx context.Context, opts httpserver.Options) (Server, error) {
			return nil, httpserver.ErrNoPortAvailable
		}).
		Build().
		Launch(context.Background())

	var startupErr *StartupError
	if !errors.As(err, &startupErr) || startupErr.Stage != StageStartServer {
		t.Fatalf("Expected start_server StartupError, got %v", err)
	}
	if !errors.Is(err, httpserver.ErrNoPortAvailable) {
		t.Errorf("Expected ErrNoPortAvailable, got %v", err)
	}
	if len(spawner.spawned()) != 0 {
		t.Error("GUI should not be spawned when the server failed")
	}
}

func TestLaunchRequireToken(t *testing.T) {
	spawner := &fakeSpawner{exited: true}
	running, err := testBuilder(newAssetDir(t), spawner).
		RequireToken(true).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	defer running.WaitForTerminationThenShutdown(context.Background())

	var token string
	for _, kv := range spawner.spawned()[0].Env {
		if value, ok := strings.CutPrefix(kv, access.TokenEnv+"="); ok {
			token = value
		}
	}
	if token == "" {
		t.Fatalf("Expected %s in the GUI environment", access.TokenEnv)
	}

	if status, _ := get(t, running.Port(), "/api/ping", nil); status != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", status)
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	if status, body := get(t, running.Port(), "/api/ping", header); status != http.StatusOK || body != "pong" {
		t.Errorf("Expected 200 pong with token, got %d %q", status, body)
	}
}

func TestLaunchRequireTokenAnswersPreflightItself(t *testing.T) {
	var reached atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached.Add(1)
	})
	running, err := testBuilder(newAssetDir(t), &fakeSpawner{exited: true}).
		Handler(handler).
		RequireToken(true).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	defer running.WaitForTerminationThenShutdown(context.Background())

	req, err := http.NewRequest(http.MethodOptions, fmt.Sprintf("http://127.0.0.1:%d/api/admin/delete", running.Port()), nil)
	if err != nil {
		t.Fatalf("NewRequest returned error: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 for an unauthenticated preflight, got %d", resp.StatusCode)
	}
	if n := reached.Load(); n != 0 {
		t.Errorf("Unauthenticated OPTIONS reached the handler %d time(s)", n)
	}
}

func TestLaunchAllowCrossOrigin(t *testing.T) {
	running, err := testBuilder(newAssetDir(t), &fakeSpawner{exited: true}).
		AllowCrossOrigin(true).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	defer running.WaitForTerminationThenShutdown(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/ping", running.Port()))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected Access-Control-Allow-Origin header")
	}
}

func TestLaunchJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open returned error: %v", err)
	}
	defer j.Close()

	running, err := testBuilder(newAssetDir(t), &fakeSpawner{exited: true}).
		Journal(j).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	if err := running.WaitForTerminationThenShutdown(context.Background()); err != nil {
		t.Fatalf("WaitForTerminationThenShutdown returned error: %v", err)
	}

	events, err := j.GetEventsByLaunchID(running.ID())
	if err != nil {
		t.Fatalf("GetEventsByLaunchID returned error: %v", err)
	}
	expected := []journal.EventType{
		journal.EventLaunchStarted,
		journal.EventServerBound,
		journal.EventHandoffPublished,
		journal.EventGUISpawned,
		journal.EventGUIExited,
		journal.EventShutdownCompleted,
	}
	if len(events) != len(expected) {
		t.Fatalf("Expected %d events, got %d", len(expected), len(events))
	}
	for i, event := range events {
		if event.EventType != string(expected[i]) {
			t.Errorf("Event %d: expected %s, got %s", i, expected[i], event.EventType)
		}
	}
	if events[1].Port == nil || *events[1].Port != running.Port() {
		t.Errorf("Expected server_bound port %d, got %v", running.Port(), events[1].Port)
	}

	// A failed launch is journaled too
	_, err = testBuilder(newAssetDir(t), &fakeSpawner{err: errors.New("boom")}).
		Journal(j).
		Build().
		Launch(context.Background())
	if err == nil {
		t.Fatal("Expected launch to fail")
	}
	failed, err := j.GetEventsByType(journal.EventLaunchFailed, 10)
	if err != nil {
		t.Fatalf("GetEventsByType returned error: %v", err)
	}
	if len(failed) != 1 || !strings.HasPrefix(failed[0].Detail, string(StageSpawn)) {
		t.Errorf("Expected one spawn failure event, got %+v", failed)
	}
}

func TestLaunchThenWaitForTerminationThenShutdown(t *testing.T) {
	var port int
	err := testBuilder(newAssetDir(t), &fakeSpawner{exited: true}).
		StartServer(func(ctx context.Context, opts httpserver.Options) (Server, error) {
			s, err := StartHTTPServer(ctx, opts)
			if err == nil {
				port = s.Port()
			}
			return s, err
		}).
		Build().
		LaunchThenWaitForTerminationThenShutdown(context.Background())
	if err != nil {
		t.Fatalf("LaunchThenWaitForTerminationThenShutdown returned error: %v", err)
	}
	assertRefused(t, port)
}

// writeRuntime installs a shell script standing in for the GUI runtime.
func writeRuntime(t *testing.T, script string) string {
	t.Helper()
	home := t.TempDir()
	path := filepath.Join(home, gui.DefaultExecutable())
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("Failed to write runtime script: %v", err)
	}
	return home
}

func TestLaunchWithRealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on Windows")
	}
	assetDir := newAssetDir(t)
	home := writeRuntime(t, `cat "$1/js/tempPort.js" > "$1/seen.txt"
pwd -P > "$1/cwd.txt"
exit 3
`)

	running, err := NewBuilder().
		Handler(pingHandler()).
		AssetDir(assetDir).
		LookupEnv(func(key string) (string, bool) {
			if key == "NW_HOME" {
				return home, true
			}
			return "", false
		}).
		Logger(quietLogger()).
		Build().
		Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	// A non-zero exit is still a normal termination
	if err := running.WaitForTerminationThenShutdown(context.Background()); err != nil {
		t.Fatalf("WaitForTerminationThenShutdown returned error: %v", err)
	}

	seen, err := os.ReadFile(filepath.Join(assetDir, "seen.txt"))
	if err != nil {
		t.Fatalf("Runtime did not run: %v", err)
	}
	if string(seen) != handoff.Content(running.Port()) {
		t.Errorf("Runtime saw %q, expected %q", string(seen), handoff.Content(running.Port()))
	}

	cwd, _ := os.ReadFile(filepath.Join(assetDir, "cwd.txt"))
	want, _ := filepath.EvalSymlinks(assetDir)
	if strings.TrimSpace(string(cwd)) != want {
		t.Errorf("Expected working dir %s, got %s", want, strings.TrimSpace(string(cwd)))
	}

	if proc, ok := running.Process().(*gui.ExecProcess); !ok || proc.ExitCode() != 3 {
		t.Errorf("Expected an ExecProcess with exit code 3, got %v", running.Process())
	}
	assertRefused(t, running.Port())
}
