package sessionmgr

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/errs"
	"github.com/webmirror/webmirror/internal/events"
	"github.com/webmirror/webmirror/internal/model"
)

func TestCreatePersistsStateAndIndex(t *testing.T) {
	root := t.TempDir()
	m, err := New(root, collab.OSFilesystem{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sess, err := m.Create("sess-1", "https://example.com/", model.DefaultStartOptions())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != model.SessionCreated {
		t.Fatalf("Status = %v, want created", sess.Status)
	}

	if _, err := collab.OSFilesystem{}.Stat(filepath.Join(root, "sessions.json")); err != nil {
		t.Fatalf("stat sessions.json: %v", err)
	}
	exists, _, _ := collab.OSFilesystem{}.Stat(filepath.Join(root, "sess-1", "session-state.json"))
	if !exists {
		t.Fatal("expected session-state.json to exist")
	}
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	root := t.TempDir()
	m, _ := New(root, collab.OSFilesystem{}, nil)
	m.Create("sess-1", "https://example.com/", model.DefaultStartOptions())

	if err := m.Transition("sess-1", model.SessionCompleted); err == nil {
		t.Fatal("expected invalid transition created->completed to fail")
	}
	if err := m.Transition("sess-1", model.SessionAnalyzing); err != nil {
		t.Fatalf("Transition to analyzing: %v", err)
	}
	if err := m.Transition("sess-1", model.SessionCrawling); err != nil {
		t.Fatalf("Transition to crawling: %v", err)
	}

	sess, _ := m.Get("sess-1")
	if sess.Status != model.SessionCrawling {
		t.Fatalf("Status = %v, want crawling", sess.Status)
	}
}

func TestTransitionToTerminalIsFinal(t *testing.T) {
	root := t.TempDir()
	m, _ := New(root, collab.OSFilesystem{}, nil)
	m.Create("sess-1", "https://example.com/", model.DefaultStartOptions())
	m.Transition("sess-1", model.SessionAnalyzing)
	m.Transition("sess-1", model.SessionCrawling)
	if err := m.Transition("sess-1", model.SessionError); err != nil {
		t.Fatalf("Transition to error: %v", err)
	}
	if err := m.Transition("sess-1", model.SessionCrawling); err == nil {
		t.Fatal("expected no transition out of a terminal state")
	}
}

func TestResumeRejectsExpiredSession(t *testing.T) {
	root := t.TempDir()
	m, _ := New(root, collab.OSFilesystem{}, nil)
	sess, _ := m.Create("sess-1", "https://example.com/", model.DefaultStartOptions())
	sess.StartTime = time.Now().Add(-2 * time.Hour)
	m.Transition("sess-1", model.SessionAnalyzing)
	m.Transition("sess-1", model.SessionCrawling)
	m.Transition("sess-1", model.SessionInterrupted)

	_, err := m.Resume("sess-1")
	if err == nil {
		t.Fatal("expected resume to fail for an expired session")
	}
	if !errs.Is(err, errs.KindSessionNotRecoverable) {
		t.Fatalf("error kind = %v, want session_not_recoverable", err)
	}
}

func TestResumeReentersCrawlingAndRecordsResumePoint(t *testing.T) {
	root := t.TempDir()
	m, _ := New(root, collab.OSFilesystem{}, nil)
	m.Create("sess-1", "https://example.com/", model.DefaultStartOptions())
	m.Transition("sess-1", model.SessionAnalyzing)
	m.Transition("sess-1", model.SessionCrawling)
	m.Transition("sess-1", model.SessionInterrupted)

	sess, err := m.Resume("sess-1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sess.Status != model.SessionCrawling {
		t.Fatalf("Status = %v, want crawling", sess.Status)
	}
	if sess.ResumeCount != 1 {
		t.Fatalf("ResumeCount = %d, want 1", sess.ResumeCount)
	}
	if len(sess.ResumePoints) == 0 || sess.ResumePoints[len(sess.ResumePoints)-1].Type != model.ResumePointResumed {
		t.Fatal("expected a session_resumed resume point to be recorded")
	}
}

func TestRecordURLVisitedCheckpointsAtThreshold(t *testing.T) {
	root := t.TempDir()
	m, _ := New(root, collab.OSFilesystem{}, nil)
	m.Create("sess-1", "https://example.com/", model.DefaultStartOptions())

	for i := 0; i < checkpointURLCount-1; i++ {
		if err := m.RecordURLVisited("sess-1", "https://example.com/p"); err != nil {
			t.Fatalf("RecordURLVisited: %v", err)
		}
	}
	sess, _ := m.Get("sess-1")
	if len(sess.ResumePoints) != 0 {
		t.Fatalf("expected no checkpoint before threshold, got %d resume points", len(sess.ResumePoints))
	}

	if err := m.RecordURLVisited("sess-1", "https://example.com/final"); err != nil {
		t.Fatalf("RecordURLVisited: %v", err)
	}
	if len(sess.ResumePoints) == 0 || sess.ResumePoints[len(sess.ResumePoints)-1].Type != model.ResumePointCheckpoint {
		t.Fatal("expected a progress_checkpoint resume point at the 100-URL threshold")
	}
}

func TestLoadIndexRecoversAcrossManagerInstances(t *testing.T) {
	root := t.TempDir()
	m1, _ := New(root, collab.OSFilesystem{}, nil)
	m1.Create("sess-1", "https://example.com/", model.DefaultStartOptions())
	m1.Transition("sess-1", model.SessionAnalyzing)

	m2, err := New(root, collab.OSFilesystem{}, nil)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	sess, err := m2.Get("sess-1")
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	// arbitrateRecoveryLocked marks any still-active session interrupted
	// at startup (spec §4.11).
	if sess.Status != model.SessionInterrupted {
		t.Fatalf("Status after reload = %v, want interrupted", sess.Status)
	}
}

func TestArbitrateRecoveryEmitsRecoveryAvailable(t *testing.T) {
	root := t.TempDir()
	sink := events.NewChannelSink(4)
	m1, _ := New(root, collab.OSFilesystem{}, nil)
	m1.Create("sess-1", "https://example.com/", model.DefaultStartOptions())
	m1.Transition("sess-1", model.SessionAnalyzing)
	m1.Transition("sess-1", model.SessionCrawling)

	_, err := New(root, collab.OSFilesystem{}, sink)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}

	select {
	case env := <-sink.C():
		if env.Event.Type() != events.TypeSessionRecoveryAvailable {
			t.Fatalf("event type = %v, want session_recovery_available", env.Event.Type())
		}
	default:
		t.Fatal("expected a session_recovery_available event on reload")
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	root := t.TempDir()
	m, _ := New(root, collab.OSFilesystem{}, nil)
	m.Create("sess-1", "https://example.com/", model.DefaultStartOptions())

	if err := m.Delete("sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get("sess-1"); !errs.Is(err, errs.KindSessionNotFound) {
		t.Fatalf("expected session_not_found after delete, got %v", err)
	}
}
