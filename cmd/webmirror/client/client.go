// Package client is webmirror's HTTP client for talking to a running
// webmirrord daemon: start a session, poll its status, resume or delete
// it. Adapted directly from the teacher's cmd/gasoline-cmd/server.Client
// (same HealthCheck-then-POST shape, same localhost-only base URL
// convention), trading the teacher's JSON-RPC envelope for plain REST
// since webmirrord's API is a handful of session-shaped resources rather
// than a generic MCP tool-call surface.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/webmirror/webmirror/internal/model"
)

// Client connects to a running webmirrord daemon via HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client pointing at the given base URL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// NewWithPort creates a client for localhost on the given port.
func NewWithPort(port int) *Client {
	return New(fmt.Sprintf("http://127.0.0.1:%d", port))
}

// HealthCheck reports whether the daemon is reachable and responsive.
func (c *Client) HealthCheck() bool {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	hc := &http.Client{Timeout: 2 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StartSession asks the daemon to begin mirroring startURL.
func (c *Client) StartSession(startURL string, opts model.StartOptions) (*model.Session, error) {
	body, err := json.Marshal(map[string]any{"url": startURL, "options": opts})
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}
	resp, err := c.httpClient.Post(c.baseURL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return nil, httpError(resp)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode start response: %w", err)
	}
	return &model.Session{ID: out.ID, StartURL: startURL, Status: model.SessionCreated, Options: opts}, nil
}

// GetSession fetches a session's current state.
func (c *Client) GetSession(id string) (*model.Session, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/sessions/" + id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp)
	}
	var sess model.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// ListSessions fetches every session the daemon knows about.
func (c *Client) ListSessions() ([]*model.Session, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/sessions")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp)
	}
	var out struct {
		Sessions []*model.Session `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode session list: %w", err)
	}
	return out.Sessions, nil
}

// ResumeSession asks the daemon to resume an interrupted session.
func (c *Client) ResumeSession(id string) (*model.Session, error) {
	resp, err := c.httpClient.Post(c.baseURL+"/sessions/"+id+"/resume", "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return nil, httpError(resp)
	}
	var sess model.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode resume response: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session's bookkeeping (not its output on disk).
func (c *Client) DeleteSession(id string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/sessions/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}
	return nil
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, parsed.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}
