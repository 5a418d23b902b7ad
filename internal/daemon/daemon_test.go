package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/sessionmgr"
)

type fakeRunner struct {
	ran chan string
}

func (f *fakeRunner) Run(ctx context.Context, sessionID, startURL string, opts model.StartOptions) error {
	f.ran <- sessionID
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeRunner) {
	t.Helper()
	root := t.TempDir()
	sessions, err := sessionmgr.New(root, collab.OSFilesystem{}, nil)
	if err != nil {
		t.Fatalf("sessionmgr.New: %v", err)
	}
	runner := &fakeRunner{ran: make(chan string, 4)}
	return New(sessions, runner, "test"), runner
}

func TestHealthReportsSessionCount(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStartSessionReturnsAcceptedAndRuns(t *testing.T) {
	s, runner := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	body := strings.NewReader(`{"url": "https://example.com/"}`)
	resp, err := http.Post(srv.URL+"/sessions", "application/json", body)
	if err != nil {
		t.Fatalf("POST /sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["id"] == "" {
		t.Fatal("expected a session id in the response")
	}

	select {
	case ran := <-runner.ran:
		if ran != out["id"] {
			t.Fatalf("runner ran %q, want %q", ran, out["id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the runner to be invoked for the new session")
	}
}

func TestStartSessionRejectsMissingURL(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sessions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetUnknownSessionReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/nope")
	if err != nil {
		t.Fatalf("GET /sessions/nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListSessionsIncludesCreated(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	http.Post(srv.URL+"/sessions", "application/json", strings.NewReader(`{"url":"https://example.com/"}`))

	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Sessions []map[string]any `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(out.Sessions))
	}
}
