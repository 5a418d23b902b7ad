// Package browserbridge is the embedding application's concrete
// collab.HeadlessDriver: it drives a real browser by talking HTTP to an
// external bridge process, the same boundary the teacher draws between
// its Go core and the browser extension that does the actual page
// automation (internal/bridge/conn.go's DoHTTP/IsServerRunning pair talks
// to that companion process; this package adapts the same pattern to a
// page-oriented API). Per-operation timeouts mirror the teacher's
// internal/bridge/timeout.go tiering: page lifecycle calls (new page,
// close) are fast; navigation, script evaluation, and network-log reads
// round-trip to the real browser and get a longer budget.
package browserbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/webmirror/webmirror/internal/collab"
)

const (
	// FastTimeout bounds page lifecycle calls that never touch the
	// network (new page, close).
	FastTimeout = 5 * time.Second
	// SlowTimeout bounds calls that round-trip to the real browser
	// (navigate, evaluate, network log).
	SlowTimeout = 30 * time.Second
)

// Driver is a collab.HeadlessDriver backed by an external bridge process
// listening on baseURL.
type Driver struct {
	baseURL string
	client  *http.Client
}

// New builds a Driver pointed at a running bridge process, e.g.
// "http://127.0.0.1:9222".
func New(baseURL string) *Driver {
	return &Driver{baseURL: baseURL, client: &http.Client{}}
}

type newPageResponse struct {
	PageID string `json:"page_id"`
}

// NewPage asks the bridge to open a page at the given viewport and
// returns a handle to it.
func (d *Driver) NewPage(ctx context.Context, viewportW, viewportH int) (collab.HeadlessPage, error) {
	reqBody, err := json.Marshal(map[string]any{"viewport_w": viewportW, "viewport_h": viewportH})
	if err != nil {
		return nil, err
	}
	var resp newPageResponse
	if err := d.doJSON(ctx, FastTimeout, http.MethodPost, "/pages", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("browserbridge: new page: %w", err)
	}
	return &page{baseURL: d.baseURL, client: d.client, id: resp.PageID}, nil
}

// page is a collab.HeadlessPage backed by one bridge-managed page.
type page struct {
	baseURL string
	client  *http.Client
	id      string
}

func (p *page) Goto(ctx context.Context, url string) error {
	body, err := json.Marshal(map[string]any{"url": url})
	if err != nil {
		return err
	}
	return p.doJSON(ctx, SlowTimeout, http.MethodPost, "/pages/"+p.id+"/goto", body, nil)
}

type evaluateResponse struct {
	Result any `json:"result"`
}

func (p *page) Evaluate(ctx context.Context, script string) (any, error) {
	body, err := json.Marshal(map[string]any{"script": script})
	if err != nil {
		return nil, err
	}
	var resp evaluateResponse
	if err := p.doJSON(ctx, SlowTimeout, http.MethodPost, "/pages/"+p.id+"/evaluate", body, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

type contentResponse struct {
	HTML string `json:"html"`
}

func (p *page) Content(ctx context.Context) (string, error) {
	var resp contentResponse
	if err := p.doJSON(ctx, FastTimeout, http.MethodGet, "/pages/"+p.id+"/content", nil, &resp); err != nil {
		return "", err
	}
	return resp.HTML, nil
}

type networkLogResponse struct {
	Entries []collab.NetworkLogEntry `json:"entries"`
}

func (p *page) NetworkLog(ctx context.Context) ([]collab.NetworkLogEntry, error) {
	var resp networkLogResponse
	if err := p.doJSON(ctx, SlowTimeout, http.MethodGet, "/pages/"+p.id+"/network-log", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (p *page) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), FastTimeout)
	defer cancel()
	return p.doJSON(ctx, FastTimeout, http.MethodDelete, "/pages/"+p.id, nil, nil)
}

// doJSON issues one bridge request and decodes the JSON response body
// into out (when non-nil).
func (p *page) doJSON(ctx context.Context, timeout time.Duration, method, path string, body []byte, out any) error {
	return doJSON(ctx, p.client, p.baseURL, timeout, method, path, body, out)
}

func (d *Driver) doJSON(ctx context.Context, timeout time.Duration, method, path string, body []byte, out any) error {
	return doJSON(ctx, d.client, d.baseURL, timeout, method, path, body, out)
}

func doJSON(ctx context.Context, client *http.Client, baseURL string, timeout time.Duration, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bridge request %s %s: HTTP %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
