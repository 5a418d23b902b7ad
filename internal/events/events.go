// Package events defines the closed tagged-variant event stream the core
// emits (spec §6). Each concrete event type satisfies Event via Type(),
// keeping the union closed and switchable instead of an open dictionary
// of fields — the same discipline the teacher applies to its MCP
// tool-call dispatch (internal/capture/query_dispatcher.go dispatches on
// a fixed, enumerated command tag rather than a loose map).
package events

import "time"

// Type is the closed set of event tags.
type Type string

const (
	TypeStatusUpdate                   Type = "status_update"
	TypePayloadAnalysisComplete        Type = "payload_analysis_complete"
	TypeProgressUpdate                 Type = "progress_update"
	TypeAssetFound                     Type = "asset_found"
	TypeCompletenessVerificationDone   Type = "completeness_verification_complete"
	TypeSymlinksCreated                Type = "symlinks_created"
	TypeSessionRecoveryAvailable       Type = "session_recovery_available"
	TypeSessionResumed                 Type = "session_resumed"
	TypeSessionResumeFailed            Type = "session_resume_failed"
	TypeSessionNotFound                Type = "session_not_found"
	TypeConnectionStatus               Type = "connection_status"
	TypeError                          Type = "error"
)

// Event is implemented by every concrete event payload.
type Event interface {
	Type() Type
}

// Envelope wraps a concrete Event with its session and emission time, the
// shape actually handed to whatever transport (socket, channel, callback)
// the embedder supplies (spec §6: "the transport of this stream ... is
// external").
type Envelope struct {
	SessionID string    `json:"session_id"`
	EmittedAt time.Time `json:"emitted_at"`
	Event     Event     `json:"event"`
}

type StatusUpdate struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	AssetsTotal  int    `json:"assets_total"`
	AssetsDone   int    `json:"assets_done"`
}

func (StatusUpdate) Type() Type { return TypeStatusUpdate }

type PayloadAnalysisComplete struct {
	TotalAssets     int     `json:"total_assets"`
	TotalBytes      int64   `json:"total_bytes"`
	CriticalCount   int     `json:"critical_count"`
	CompletenessEst float64 `json:"completeness_estimate"`
	ETASeconds      float64 `json:"eta_seconds"`
}

func (PayloadAnalysisComplete) Type() Type { return TypePayloadAnalysisComplete }

type ProgressUpdate struct {
	Phase    string `json:"phase"`
	Progress int    `json:"progress"`
}

func (ProgressUpdate) Type() Type { return TypeProgressUpdate }

type AssetFound struct {
	CanonicalURL string `json:"canonical_url"`
	AssetType    string `json:"asset_type"`
	Critical     bool   `json:"critical"`
}

func (AssetFound) Type() Type { return TypeAssetFound }

type CompletenessVerificationComplete struct {
	CompletenessPercent float64 `json:"completeness_percent"`
	MissingCount        int     `json:"missing_count"`
	FailedCount         int     `json:"failed_count"`
}

func (CompletenessVerificationComplete) Type() Type { return TypeCompletenessVerificationDone }

type SymlinksCreated struct {
	Count int `json:"count"`
}

func (SymlinksCreated) Type() Type { return TypeSymlinksCreated }

type SessionRecoveryAvailable struct {
	SessionID  string `json:"session_id"`
	LastStatus string `json:"last_status"`
	Progress   int    `json:"progress"`
}

func (SessionRecoveryAvailable) Type() Type { return TypeSessionRecoveryAvailable }

type SessionResumed struct {
	SessionID string `json:"session_id"`
}

func (SessionResumed) Type() Type { return TypeSessionResumed }

type SessionResumeFailed struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (SessionResumeFailed) Type() Type { return TypeSessionResumeFailed }

type SessionNotFound struct {
	SessionID string `json:"session_id"`
}

func (SessionNotFound) Type() Type { return TypeSessionNotFound }

type ConnectionStatus struct {
	Connected bool `json:"connected"`
}

func (ConnectionStatus) Type() Type { return TypeConnectionStatus }

type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (Error) Type() Type { return TypeError }

// Sink is the narrow seam the core publishes events through; the
// transport that actually moves envelopes off-process is an external
// collaborator (spec §6).
type Sink interface {
	Emit(Envelope)
}

// ChannelSink is a Sink backed by a buffered channel, a minimal in-process
// default useful for tests and for embedding without a real transport.
type ChannelSink struct {
	ch chan Envelope
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Envelope, buffer)}
}

func (s *ChannelSink) Emit(e Envelope) {
	select {
	case s.ch <- e:
	default:
		// Drop rather than block the crawl on a slow/absent consumer;
		// events are observability, not load-bearing for correctness.
	}
}

func (s *ChannelSink) C() <-chan Envelope { return s.ch }
