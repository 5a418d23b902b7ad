package events

import (
	"testing"
	"time"
)

func TestEventTypesMatchConstants(t *testing.T) {
	cases := []struct {
		event Event
		want  Type
	}{
		{StatusUpdate{}, TypeStatusUpdate},
		{PayloadAnalysisComplete{}, TypePayloadAnalysisComplete},
		{ProgressUpdate{}, TypeProgressUpdate},
		{AssetFound{}, TypeAssetFound},
		{CompletenessVerificationComplete{}, TypeCompletenessVerificationDone},
		{SymlinksCreated{}, TypeSymlinksCreated},
		{SessionRecoveryAvailable{}, TypeSessionRecoveryAvailable},
		{SessionResumed{}, TypeSessionResumed},
		{SessionResumeFailed{}, TypeSessionResumeFailed},
		{SessionNotFound{}, TypeSessionNotFound},
		{ConnectionStatus{}, TypeConnectionStatus},
		{Error{}, TypeError},
	}
	for _, c := range cases {
		if got := c.event.Type(); got != c.want {
			t.Errorf("%T.Type() = %q, want %q", c.event, got, c.want)
		}
	}
}

func TestChannelSinkDeliversEnvelope(t *testing.T) {
	sink := NewChannelSink(1)
	env := Envelope{
		SessionID: "sess-1",
		EmittedAt: time.Unix(0, 0),
		Event:     ProgressUpdate{Phase: "crawl", Progress: 50},
	}
	sink.Emit(env)

	select {
	case got := <-sink.C():
		if got.SessionID != "sess-1" {
			t.Fatalf("SessionID = %q, want sess-1", got.SessionID)
		}
		if got.Event.Type() != TypeProgressUpdate {
			t.Fatalf("Event.Type() = %q, want %q", got.Event.Type(), TypeProgressUpdate)
		}
	default:
		t.Fatal("expected envelope to be delivered on buffered channel")
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(Envelope{Event: StatusUpdate{Status: "first"}})
	sink.Emit(Envelope{Event: StatusUpdate{Status: "second"}})

	got := <-sink.C()
	su, ok := got.Event.(StatusUpdate)
	if !ok {
		t.Fatalf("Event = %T, want StatusUpdate", got.Event)
	}
	if su.Status != "first" {
		t.Fatalf("Status = %q, want first (second should have been dropped)", su.Status)
	}

	select {
	case extra := <-sink.C():
		t.Fatalf("expected no further envelopes, got %+v", extra)
	default:
	}
}
