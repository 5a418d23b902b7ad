// Package daemon implements webmirrord's HTTP API: submitting a crawl
// session, checking its status, resuming an interrupted one, and listing
// or deleting sessions. Route registration, method-switch-per-path
// handlers, CORS, and the jsonResponse helper are adapted directly from
// the teacher's cmd/dev-console/main.go setupHTTPRoutes — a plain
// net/http mux with one handler per resource path rather than a router
// library, matching the teacher's own zero-dependency HTTP surface.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/webmirror/webmirror/internal/errs"
	"github.com/webmirror/webmirror/internal/metrics"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/sessionmgr"
	"github.com/webmirror/webmirror/internal/util"
)

// Runner is the subset of *orchestrator.Orchestrator the daemon drives.
// Run is invoked in a goroutine per session; the HTTP handler that
// triggers it returns as soon as the session is created, not when the
// crawl finishes.
type Runner interface {
	Run(ctx context.Context, sessionID, startURL string, opts model.StartOptions) error
}

// Server holds the daemon's dependencies and implements http.Handler.
type Server struct {
	sessions *sessionmgr.Manager
	runner   Runner
	mux      *http.ServeMux
	version  string
}

// New builds a daemon Server. sessions is the Session State Machine this
// process owns; runner drives each session's phase pipeline.
func New(sessions *sessionmgr.Manager, runner Runner, version string) *Server {
	s := &Server{sessions: sessions, runner: runner, version: version}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", cors(s.handleHealth))
	s.mux.HandleFunc("/metrics", cors(metrics.Handler().ServeHTTP))
	s.mux.HandleFunc("/sessions", cors(s.handleSessions))
	s.mux.HandleFunc("/sessions/", cors(s.handleSessionByID))
	s.mux.HandleFunc("/", cors(s.handleRoot))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{
		"name":     "webmirrord",
		"version":  s.version,
		"health":   "/health",
		"sessions": "/sessions",
		"metrics":  "/metrics",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonResponse(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
	})
}

type startRequest struct {
	URL     string             `json:"url"`
	Options model.StartOptions `json:"options"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResponse(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
	case http.MethodPost:
		s.handleStart(w, r)
	default:
		jsonResponse(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.URL == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	opts := req.Options
	if opts.MaxDepth == 0 && opts.RateRPS == 0 {
		opts = model.DefaultStartOptions()
	}
	sessionID := fmt.Sprintf("sess-%d", time.Now().UnixNano())

	// Create synchronously so a client's immediate GET /sessions/{id} sees
	// the session; Run's own Create call is then a no-op (sessionmgr.Create
	// is idempotent on a known id).
	if _, err := s.sessions.Create(sessionID, req.URL, opts); err != nil {
		writeErr(w, err)
		return
	}

	util.SafeGo(func() {
		if err := s.runner.Run(context.Background(), sessionID, req.URL, opts); err != nil {
			_ = err // session's own status/error log records the failure; nothing else to report here
		}
	})

	jsonResponse(w, http.StatusAccepted, map[string]string{"id": sessionID, "status": "created"})
}

// handleSessionByID dispatches /sessions/{id} and /sessions/{id}/resume.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "" {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]

	if len(parts) == 2 && parts[1] == "resume" {
		s.handleResume(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.sessions.Get(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, sess)
	case http.MethodDelete:
		if err := s.sessions.Delete(id); err != nil {
			writeErr(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, map[string]bool{"deleted": true})
	default:
		jsonResponse(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonResponse(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	sess, err := s.sessions.Resume(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	util.SafeGo(func() {
		_ = s.runner.Run(context.Background(), sess.ID, sess.StartURL, sess.Options)
	})
	jsonResponse(w, http.StatusAccepted, sess)
}

// writeErr maps a *errs.Error to an HTTP status the CLI can branch on.
func writeErr(w http.ResponseWriter, err error) {
	e, ok := errs.AsError(err)
	if !ok {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch e.Kind {
	case errs.KindSessionNotFound:
		status = http.StatusNotFound
	case errs.KindSessionNotRecoverable, errs.KindSessionExpired:
		status = http.StatusConflict
	case errs.KindTooManySessions:
		status = http.StatusTooManyRequests
	}
	jsonResponse(w, status, map[string]string{"error": e.Error(), "kind": string(e.Kind)})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}
