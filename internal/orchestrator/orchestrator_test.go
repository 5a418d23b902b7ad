package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/webmirror/webmirror/internal/cachestore"
	"github.com/webmirror/webmirror/internal/collab"
	"github.com/webmirror/webmirror/internal/events"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/sessionmgr"
)

type fakePage struct {
	html string
}

func (p *fakePage) Goto(ctx context.Context, url string) error { return nil }
func (p *fakePage) Evaluate(ctx context.Context, script string) (any, error) {
	return true, nil
}
func (p *fakePage) Content(ctx context.Context) (string, error) { return p.html, nil }
func (p *fakePage) NetworkLog(ctx context.Context) ([]collab.NetworkLogEntry, error) {
	return nil, nil
}
func (p *fakePage) Close() error { return nil }

type fakeDriver struct{ page *fakePage }

func (d *fakeDriver) NewPage(ctx context.Context, w, h int) (collab.HeadlessPage, error) {
	return d.page, nil
}

type fakeTransport struct{}

func (fakeTransport) Fetch(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (collab.FetchResult, error) {
	return collab.FetchResult{Status: 200, Bytes: []byte("body")}, nil
}

func (fakeTransport) Head(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (collab.FetchResult, error) {
	return collab.FetchResult{Status: 200, Headers: map[string][]string{"Content-Length": {"4"}}}, nil
}

func TestRunExecutesFullPhaseSequenceToCompleted(t *testing.T) {
	root := t.TempDir()
	html := `<html><head><link rel="stylesheet" href="/a.css"></head><body><img src="/b.png"></body></html>`

	cache, err := cachestore.Open(root+"/.cache", 64*1024*1024, time.Hour)
	if err != nil {
		t.Fatalf("cachestore.Open: %v", err)
	}
	sink := events.NewChannelSink(32)
	sessions, err := sessionmgr.New(root, collab.OSFilesystem{}, sink)
	if err != nil {
		t.Fatalf("sessionmgr.New: %v", err)
	}

	o := New(Deps{
		Driver:    &fakeDriver{page: &fakePage{html: html}},
		Transport: fakeTransport{},
		FS:        collab.OSFilesystem{},
		Cache:     cache,
		Sessions:  sessions,
		Sink:      sink,
	})

	opts := model.DefaultStartOptions()
	opts.TotalTimeout = 10 * time.Second
	if err := o.Run(context.Background(), "sess-1", "https://example.com/", opts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sess, err := sessions.Get("sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Status != model.SessionCompleted {
		t.Fatalf("Status = %v, want completed", sess.Status)
	}

	exists, _, _ := collab.OSFilesystem{}.Stat(root + "/sess-1/index.html")
	if !exists {
		t.Fatal("expected rewritten index.html to be written")
	}
}

func TestRunTimesOutWhenTotalTimeoutExpires(t *testing.T) {
	root := t.TempDir()
	cache, _ := cachestore.Open(root+"/.cache", 64*1024*1024, time.Hour)
	sessions, _ := sessionmgr.New(root, collab.OSFilesystem{}, nil)

	o := New(Deps{
		Driver:    &fakeDriver{page: &fakePage{html: "<html></html>"}},
		Transport: fakeTransport{},
		FS:        collab.OSFilesystem{},
		Cache:     cache,
		Sessions:  sessions,
	})

	opts := model.DefaultStartOptions()
	opts.TotalTimeout = 1 * time.Nanosecond
	err := o.Run(context.Background(), "sess-2", "https://example.com/", opts)
	if err == nil {
		t.Fatal("expected an error from an immediately-expired session timeout")
	}

	sess, getErr := sessions.Get("sess-2")
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if sess.Status != model.SessionTimeout && sess.Status != model.SessionError {
		t.Fatalf("Status = %v, want timeout or error", sess.Status)
	}
}
