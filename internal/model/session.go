package model

import "time"

// SessionStatus is the Session Manager's state machine state (spec §4.11).
type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionAnalyzing  SessionStatus = "analyzing"
	SessionCrawling   SessionStatus = "crawling"
	SessionVerifying  SessionStatus = "verifying"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionInterrupted SessionStatus = "interrupted"
	SessionError      SessionStatus = "error"
	SessionTimeout     SessionStatus = "timeout"
	SessionResuming    SessionStatus = "resuming"
)

// terminalStatuses never transition further (spec §4.11, §8 invariant: "A
// session marked completed is never transitioned by a subsequent startup").
var terminalStatuses = map[SessionStatus]bool{
	SessionCompleted: true,
	SessionError:     true,
	SessionTimeout:   true,
}

// IsTerminal reports whether s is a terminal state.
func (s SessionStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// validTransitions encodes the state machine edges named in spec §4.11,
// including the recovery loop interrupted -> resuming -> crawling.
var validTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionCreated:     {SessionAnalyzing: true, SessionError: true, SessionTimeout: true, SessionInterrupted: true},
	SessionAnalyzing:   {SessionCrawling: true, SessionError: true, SessionTimeout: true, SessionInterrupted: true},
	SessionCrawling:    {SessionVerifying: true, SessionError: true, SessionTimeout: true, SessionInterrupted: true},
	SessionVerifying:   {SessionProcessing: true, SessionError: true, SessionTimeout: true, SessionInterrupted: true},
	SessionProcessing:  {SessionCompleted: true, SessionError: true, SessionTimeout: true, SessionInterrupted: true},
	SessionInterrupted: {SessionResuming: true},
	SessionResuming:    {SessionCrawling: true, SessionError: true, SessionTimeout: true},
}

// CanTransition reports whether moving from s to next is legal.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return validTransitions[s][next]
}

// ResumePointType enumerates the session log's checkpoint kinds (spec §4.11).
type ResumePointType string

const (
	ResumePointResumed    ResumePointType = "session_resumed"
	ResumePointCheckpoint ResumePointType = "progress_checkpoint"
	ResumePointCompleted  ResumePointType = "session_completed"
)

// ResumePoint is one entry in a session's bounded ring buffer of resume
// points (capacity 20, spec §4.11).
type ResumePoint struct {
	Type      ResumePointType `json:"type"`
	At        time.Time       `json:"at"`
	Progress  float64         `json:"progress"`
	AssetCount int            `json:"asset_count"`
	Note      string          `json:"note,omitempty"`
}

// StartOptions is the options object accepted on a start request (spec §6).
type StartOptions struct {
	MaxDepth           int             `json:"max_depth"`
	MaxFiles           int             `json:"max_files"`
	MaxFileSize        int64           `json:"max_file_size"`
	PageTimeout        time.Duration   `json:"page_timeout"`
	TotalTimeout       time.Duration   `json:"total_timeout"`
	FollowExternalLinks bool           `json:"follow_external_links"`
	IncludeTypes       []AssetType     `json:"include_types,omitempty"`
	ExcludeTypes       []AssetType     `json:"exclude_types,omitempty"`
	RateRPS            float64         `json:"rate_rps"`
	RateMaxConcurrent  int             `json:"rate_max_concurrent"`
	CacheEnabled       bool            `json:"cache_enabled"`
	CacheMaxSize       int64           `json:"cache_max_size"`
	BrowserHeadless    bool            `json:"browser_headless"`
	ViewportW          int             `json:"viewport_w"`
	ViewportH          int             `json:"viewport_h"`
	AnalysisDepth      int             `json:"analysis_depth"`
}

// DefaultStartOptions matches the defaults named in spec §6.
func DefaultStartOptions() StartOptions {
	return StartOptions{
		MaxDepth:          3,
		PageTimeout:       30 * time.Second,
		TotalTimeout:      5 * time.Minute,
		RateRPS:           8,
		RateMaxConcurrent: 5,
		CacheEnabled:      true,
		CacheMaxSize:      512 * 1024 * 1024,
		BrowserHeadless:   true,
		ViewportW:         1280,
		ViewportH:         800,
		AnalysisDepth:     2,
	}
}

// Clamp enforces the hard bounds named in spec §6 (max_depth capped at 5).
func (o StartOptions) Clamp() StartOptions {
	if o.MaxDepth > 5 {
		o.MaxDepth = 5
	}
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	return o
}

// Stats accumulates per-session counters surfaced in status_update events.
type Stats struct {
	AssetsDiscovered int `json:"assets_discovered"`
	AssetsDownloaded int `json:"assets_downloaded"`
	AssetsFailed     int `json:"assets_failed"`
	PagesVisited     int `json:"pages_visited"`
	BytesDownloaded  int64 `json:"bytes_downloaded"`
}

// Session is the Session Manager's durable record (spec §3 "Session",
// §4.11).
type Session struct {
	ID               string        `json:"id"`
	StartURL         string        `json:"start_url"`
	Status           SessionStatus `json:"status"`
	Progress         float64       `json:"progress"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time,omitempty"`
	ResumeCount      int           `json:"resume_count"`
	LastCheckpoint   time.Time     `json:"last_checkpoint"`
	Options          StartOptions  `json:"options"`
	Stats            Stats         `json:"stats"`
	OutputDir        string        `json:"output_dir"`
	ResumePoints     []ResumePoint `json:"resume_points"`
	VisitedURLs      map[string]bool `json:"visited_urls"`
	QueuedURLs       []string      `json:"queued_urls"`
	CookieSnapshot   []byte        `json:"cookie_snapshot,omitempty"`
	ErrorLog         []string      `json:"error_log,omitempty"`
}

const maxResumePoints = 20

// AddResumePoint appends a resume point, evicting the oldest once the
// 20-entry ring buffer is full (spec §4.11).
func (s *Session) AddResumePoint(rp ResumePoint) {
	s.ResumePoints = append(s.ResumePoints, rp)
	if len(s.ResumePoints) > maxResumePoints {
		s.ResumePoints = s.ResumePoints[len(s.ResumePoints)-maxResumePoints:]
	}
}

// Recoverable implements the recoverability rule of spec §4.11: start time
// within the last hour, output directory still present, and previous
// status one of crawling/processing/starting/interrupted.
func Recoverable(s Session, outputDirExists bool, now time.Time) bool {
	if now.Sub(s.StartTime) > time.Hour {
		return false
	}
	if !outputDirExists {
		return false
	}
	switch s.Status {
	case SessionCrawling, SessionProcessing, SessionInterrupted:
		return true
	}
	return false
}
