// Package sessionmgr implements the Session Manager (spec §4.11):
// create/resume/update/complete/list/delete durable crawl sessions, a
// global sessions index plus per-session state files written via atomic
// temp+rename, periodic checkpointing, and startup recovery arbitration.
// Grounded on the teacher's internal/session/sessions.go (named-snapshot
// store shape: an in-memory map plus an insertion-order slice, guarded by
// a single RWMutex) generalized from named in-memory snapshots to durable
// on-disk sessions, and on internal/cachestore's atomic-index persistence
// idiom (itself grounded on the teacher's capture/settings.go) reused
// here for the sessions index and per-session state files.
package sessionmgr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/errs"
	"github.com/webmirror/webmirror/internal/events"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/redaction"
)

// redactor scrubs secrets out of a session's cookie snapshot and error log
// before either ever reaches disk; the in-memory session keeps the
// unredacted values since a resumed crawl may still need real cookies.
var redactor = redaction.NewEngine(redaction.CreditCardPattern())

// checkpointInterval and checkpointURLCount are spec §4.11's fixed
// checkpoint cadence: every 5 minutes or every 100 processed URLs.
const (
	checkpointInterval  = 5 * time.Minute
	checkpointURLCount  = 100
	recoverableWindow   = time.Hour
)

// summary is the compact entry stored in the global sessions.json index
// (spec §6 "Persisted layout").
type summary struct {
	ID        string             `json:"id"`
	StartURL  string             `json:"start_url"`
	Status    model.SessionStatus `json:"status"`
	Progress  float64            `json:"progress"`
	StartTime time.Time          `json:"start_time"`
	OutputDir string             `json:"output_dir"`
}

// Manager owns the in-memory session table plus its durable mirror on
// disk. Safe for concurrent use; index and state-file writes are
// serialized behind mu, matching the teacher's SessionManager posture
// (spec §5 "Shared-resource discipline").
type Manager struct {
	mu       sync.RWMutex
	root     string
	fs       collab.Filesystem
	sink     events.Sink
	sessions map[string]*model.Session
	order    []string

	urlsSinceCheckpoint map[string]int
}

// New opens a Manager rooted at root, loading any existing sessions.json
// index and running the recoverability arbitration named in spec §4.11
// ("From any active state on process termination the state becomes
// interrupted, marked at next startup").
func New(root string, fs collab.Filesystem, sink events.Sink) (*Manager, error) {
	m := &Manager{
		root:                root,
		fs:                  fs,
		sink:                sink,
		sessions:            make(map[string]*model.Session),
		order:               make([]string, 0),
		urlsSinceCheckpoint: make(map[string]int),
	}
	if err := m.loadIndex(); err != nil {
		return nil, err
	}
	m.arbitrateRecoveryLocked(time.Now())
	return m, nil
}

func (m *Manager) indexPath() string { return filepath.Join(m.root, "sessions.json") }

func (m *Manager) sessionDir(id string) string { return filepath.Join(m.root, id) }

func (m *Manager) statePath(id string) string {
	return filepath.Join(m.sessionDir(id), "session-state.json")
}

func (m *Manager) loadIndex() error {
	data, err := os.ReadFile(m.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindFileMissing, "read sessions index", err)
	}
	var summaries map[string]summary
	if err := json.Unmarshal(data, &summaries); err != nil {
		// A corrupt index is non-fatal: start with an empty table rather
		// than failing the whole process open.
		return nil
	}
	for id, s := range summaries {
		sess, err := m.readStateFile(id)
		if err != nil {
			// The summary survives even if its state file is gone; it is
			// simply non-recoverable (spec §4.11 recoverability rule (b)).
			m.sessions[id] = &model.Session{ID: id, StartURL: s.StartURL, Status: s.Status, Progress: s.Progress, StartTime: s.StartTime, OutputDir: s.OutputDir}
		} else {
			m.sessions[id] = sess
		}
		m.order = append(m.order, id)
	}
	return nil
}

func (m *Manager) readStateFile(id string) (*model.Session, error) {
	data, err := os.ReadFile(m.statePath(id))
	if err != nil {
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errs.Wrap(errs.KindCacheCorrupt, "parse session state", err)
	}
	return &sess, nil
}

// arbitrateRecoveryLocked applies spec §4.11's state-machine rule: any
// session left in an active state by process termination becomes
// interrupted, and emits session_recovery_available for sessions the
// recoverability rule still allows resuming.
func (m *Manager) arbitrateRecoveryLocked(now time.Time) {
	for _, id := range m.order {
		sess := m.sessions[id]
		if sess.Status.IsTerminal() {
			continue
		}
		outputDirExists, _, _ := m.fs.Stat(sess.OutputDir)
		wasActive := sess.Status != model.SessionInterrupted
		if wasActive {
			sess.Status = model.SessionInterrupted
		}
		if model.Recoverable(*sess, outputDirExists, now) {
			if m.sink != nil {
				m.sink.Emit(events.Envelope{SessionID: id, EmittedAt: now, Event: events.SessionRecoveryAvailable{
					SessionID:  id,
					LastStatus: string(sess.Status),
					Progress:   int(sess.Progress * 100),
				}})
			}
		}
	}
}

// Create starts a new session at startURL with the given options (spec
// §6 "Start request"). Calling Create again with an id already in use is
// a no-op that returns the existing session: the daemon's HTTP handler
// creates the session synchronously so a client's immediate GET sees it,
// then hands the same id to the Orchestrator's Run, which also calls
// Create on its way in.
func (m *Manager) Create(id, startURL string, opts model.StartOptions) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}

	opts = opts.Clamp()
	now := time.Now()
	sess := &model.Session{
		ID:           id,
		StartURL:     startURL,
		Status:       model.SessionCreated,
		StartTime:    now,
		Options:      opts,
		OutputDir:    m.sessionDir(id),
		VisitedURLs:  make(map[string]bool),
		ResumePoints: make([]model.ResumePoint, 0),
	}
	if err := m.fs.MkdirAll(sess.OutputDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindDiskFull, "create session output dir", err)
	}
	m.sessions[id] = sess
	m.order = append(m.order, id)
	if err := m.persistLocked(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session by id.
func (m *Manager) Get(id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, errs.New(errs.KindSessionNotFound, id)
	}
	return sess, nil
}

// List returns all known sessions in creation order.
func (m *Manager) List() []*model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// Delete removes a session's in-memory and on-disk record. It does not
// remove the session's output directory; callers that want the full
// wipe do that through the Filesystem collaborator explicitly.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return errs.New(errs.KindSessionNotFound, id)
	}
	delete(m.sessions, id)
	delete(m.urlsSinceCheckpoint, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	_ = m.fs.Remove(m.statePath(id))
	return m.writeIndexLocked()
}

// Transition moves a session to next, enforcing the state machine in
// model.SessionStatus. On success the transition is checkpointed
// immediately (spec §4.11: "on each significant event ... the manager
// writes both a global sessions index and a per-session state file").
func (m *Manager) Transition(id string, next model.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return errs.New(errs.KindSessionNotFound, id)
	}
	if !sess.Status.CanTransition(next) {
		return errs.New(errs.KindInternalInvariant, fmt.Sprintf("invalid transition %s -> %s", sess.Status, next))
	}
	sess.Status = next
	if next == model.SessionCompleted || next == model.SessionError || next == model.SessionTimeout {
		sess.EndTime = time.Now()
		sess.AddResumePoint(model.ResumePoint{Type: model.ResumePointCompleted, At: sess.EndTime, Progress: sess.Progress, AssetCount: sess.Stats.AssetsDiscovered})
	}
	if next == model.SessionResuming {
		sess.ResumeCount++
		sess.AddResumePoint(model.ResumePoint{Type: model.ResumePointResumed, At: time.Now(), Progress: sess.Progress, AssetCount: sess.Stats.AssetsDiscovered})
	}
	return m.persistLocked(sess)
}

// Resume re-enters crawling from interrupted, preserving accumulated
// collections (spec §4.11 state machine). Returns SessionNotRecoverable
// if the recoverability rule no longer holds.
func (m *Manager) Resume(id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, errs.New(errs.KindSessionNotFound, id)
	}
	outputDirExists, _, _ := m.fs.Stat(sess.OutputDir)
	if !model.Recoverable(*sess, outputDirExists, time.Now()) {
		return nil, errs.New(errs.KindSessionNotRecoverable, id)
	}
	if !sess.Status.CanTransition(model.SessionResuming) {
		return nil, errs.New(errs.KindSessionNotRecoverable, id)
	}
	sess.Status = model.SessionResuming
	sess.ResumeCount++
	sess.AddResumePoint(model.ResumePoint{Type: model.ResumePointResumed, At: time.Now(), Progress: sess.Progress, AssetCount: sess.Stats.AssetsDiscovered})
	sess.Status = model.SessionCrawling
	if err := m.persistLocked(sess); err != nil {
		return nil, err
	}
	if m.sink != nil {
		m.sink.Emit(events.Envelope{SessionID: id, EmittedAt: time.Now(), Event: events.SessionResumed{SessionID: id}})
	}
	return sess, nil
}

// RecordURLVisited tracks one processed URL toward the 100-URL checkpoint
// threshold and marks it visited on the session (spec §4.11
// checkpointing, §5 ordering guarantee "never re-enters a URL that is
// already downloaded").
func (m *Manager) RecordURLVisited(id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return errs.New(errs.KindSessionNotFound, id)
	}
	if sess.VisitedURLs == nil {
		sess.VisitedURLs = make(map[string]bool)
	}
	sess.VisitedURLs[url] = true
	sess.Stats.PagesVisited++
	m.urlsSinceCheckpoint[id]++
	if m.urlsSinceCheckpoint[id] >= checkpointURLCount {
		m.urlsSinceCheckpoint[id] = 0
		return m.checkpointLocked(sess)
	}
	return nil
}

// MaybeCheckpoint writes a checkpoint if at least checkpointInterval has
// elapsed since the session's last one (spec §4.11: "every 5 minutes").
func (m *Manager) MaybeCheckpoint(id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return errs.New(errs.KindSessionNotFound, id)
	}
	if now.Sub(sess.LastCheckpoint) < checkpointInterval {
		return nil
	}
	return m.checkpointLocked(sess)
}

func (m *Manager) checkpointLocked(sess *model.Session) error {
	sess.LastCheckpoint = time.Now()
	sess.AddResumePoint(model.ResumePoint{Type: model.ResumePointCheckpoint, At: sess.LastCheckpoint, Progress: sess.Progress, AssetCount: sess.Stats.AssetsDiscovered})
	return m.persistLocked(sess)
}

// persistLocked writes both the per-session state file and the global
// index atomically. Caller must hold m.mu.
func (m *Manager) persistLocked(sess *model.Session) error {
	onDisk := *sess
	onDisk.CookieSnapshot = redactor.RedactBytes(sess.CookieSnapshot)
	onDisk.ErrorLog = redactor.RedactStrings(sess.ErrorLog)
	data, err := json.MarshalIndent(&onDisk, "", "  ")
	if err != nil {
		return err
	}
	if err := m.fs.WriteFileAtomic(m.statePath(sess.ID), data, 0o600); err != nil {
		return errs.Wrap(errs.KindDiskFull, "write session state", err)
	}
	return m.writeIndexLocked()
}

func (m *Manager) writeIndexLocked() error {
	summaries := make(map[string]summary, len(m.sessions))
	for id, sess := range m.sessions {
		summaries[id] = summary{
			ID:        id,
			StartURL:  sess.StartURL,
			Status:    sess.Status,
			Progress:  sess.Progress,
			StartTime: sess.StartTime,
			OutputDir: sess.OutputDir,
		}
	}
	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return err
	}
	if err := m.fs.MkdirAll(m.root, 0o755); err != nil {
		return errs.Wrap(errs.KindDiskFull, "create session root", err)
	}
	if err := m.fs.WriteFileAtomic(m.indexPath(), data, 0o600); err != nil {
		return errs.Wrap(errs.KindDiskFull, "write sessions index", err)
	}
	return nil
}
