package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/compatscan/internal/analyzer"
	"github.com/seantiz/compatscan/internal/compat"
	"github.com/seantiz/compatscan/internal/engine"
	"github.com/seantiz/compatscan/internal/model"
	"github.com/seantiz/compatscan/internal/store"
	"github.com/seantiz/compatscan/internal/suggest"
	"github.com/seantiz/compatscan/internal/workspace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// funcRunner adapts a function to engine.Runner.
type funcRunner func(ctx context.Context, exec *engine.Execution) (*model.Result, error)

func (f funcRunner) Run(ctx context.Context, exec *engine.Execution) (*model.Result, error) {
	return f(ctx, exec)
}

func (funcRunner) Info() engine.RunnerInfo {
	return engine.RunnerInfo{Description: "test runner"}
}

// untilCancelled reports some progress and then waits for cancellation.
func untilCancelled(_ context.Context, exec *engine.Execution) (*model.Result, error) {
	exec.Progress(20, "Working", 0)
	for {
		if err := exec.Checkpoint(); err != nil {
			return nil, err
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type testServerOpts struct {
	runner        engine.Runner
	maxConcurrent int
	heartbeat     time.Duration
}

// newTestServer wires a server over an in-memory scheduler. Without a
// runner, scan jobs run the real pipeline.
func newTestServer(t *testing.T, opts testServerOpts) *Server {
	t.Helper()
	logger := discardLogger()

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ds, err := compat.LoadDataset("")
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	resolver, err := compat.New(ds, nil, 0)
	if err != nil {
		t.Fatalf("compat.New: %v", err)
	}

	runner := opts.runner
	if runner == nil {
		runner = engine.NewPipeline(engine.PipelineConfig{
			Acquirer:  workspace.NewAcquirer(workspace.Options{WorkDir: t.TempDir()}, logger),
			Resolver:  resolver,
			Walk:      analyzer.WalkOptions{Exclude: analyzer.DefaultExclude},
			Suggester: suggest.Rules{},
		}, logger)
	}
	reg := engine.NewRegistry()
	reg.Register(model.KindScan, runner)

	js := store.NewJobStore(db, logger)
	sched := engine.NewScheduler(js, engine.NewEventBus(logger), reg,
		engine.Options{MaxConcurrent: opts.maxConcurrent}, logger)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	return NewServer(Config{Addr: ":0", HeartbeatInterval: opts.heartbeat}, sched, resolver, logger)
}

// waitForStatus polls the job store until the job reaches the expected status.
func waitForStatus(t *testing.T, srv *Server, id, expected string, timeout time.Duration) *model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := srv.sched.Store().Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j.Status == expected {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, testServerOpts{})
	var reqID string
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		reqID = middleware.GetReqID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/test", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if reqID != "abc-123" {
		t.Errorf("handler saw request id %q, want abc-123", reqID)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t, testServerOpts{})
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t, testServerOpts{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/v1/jobs", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	srv := newTestServer(t, testServerOpts{})
	srv.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
