package transcription

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeSegmentSource feeds scripted segments through a channel
type fakeSegmentSource struct {
	segments chan LiveSegment
	err      error
}

func newFakeSegmentSource(buffer int) *fakeSegmentSource {
	return &fakeSegmentSource{segments: make(chan LiveSegment, buffer)}
}

func (f *fakeSegmentSource) SubscribeToLiveSegments(ctx context.Context, sessionID string) (<-chan LiveSegment, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.segments, func() {}, nil
}

func TestLiveBackendAccumulatesFinalSegments(t *testing.T) {
	source := newFakeSegmentSource(8)
	source.segments <- LiveSegment{Text: "hel", Final: false}
	source.segments <- LiveSegment{Text: "hello", Final: true}
	source.segments <- LiveSegment{Text: "wor", Final: false}
	source.segments <- LiveSegment{Text: "world", Final: true}
	source.segments <- LiveSegment{Done: true}

	backend := NewLiveBackend(source, 5*time.Second)
	result, err := backend.Transcribe(context.Background(), Request{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", result.Text)
	}
	if result.Words != nil {
		t.Errorf("expected no word timing from live path, got %d words", len(result.Words))
	}
}

func TestLiveBackendStreamClose(t *testing.T) {
	source := newFakeSegmentSource(4)
	source.segments <- LiveSegment{Text: "only segment", Final: true}
	close(source.segments)

	backend := NewLiveBackend(source, 5*time.Second)
	result, err := backend.Transcribe(context.Background(), Request{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "only segment" {
		t.Errorf("expected %q, got %q", "only segment", result.Text)
	}
}

func TestLiveBackendSessionCap(t *testing.T) {
	source := newFakeSegmentSource(4)
	source.segments <- LiveSegment{Text: "partial", Final: true}
	// No Done segment: the cap must force-finalize.

	backend := NewLiveBackend(source, 50*time.Millisecond)
	result, err := backend.Transcribe(context.Background(), Request{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "partial" {
		t.Errorf("expected %q, got %q", "partial", result.Text)
	}
}

func TestLiveBackendErrorMapping(t *testing.T) {
	tests := []struct {
		code         string
		expectedKind FailureKind
	}{
		{"no-speech", FailureNoSpeech},
		{"not-allowed", FailureNotAllowed},
		{"service-not-allowed", FailureNotAllowed},
		{"network", FailureNetwork},
		{"audio-capture", FailureAudioCapture},
		{"aborted", FailureAudioCapture},
		{"something-unknown", FailureAudioCapture},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			source := newFakeSegmentSource(2)
			source.segments <- LiveSegment{Err: tt.code}

			backend := NewLiveBackend(source, 5*time.Second)
			_, err := backend.Transcribe(context.Background(), Request{SessionID: "session-1"})
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var be *BackendError
			if !errors.As(err, &be) {
				t.Fatalf("expected BackendError, got %T", err)
			}
			if be.Kind != tt.expectedKind {
				t.Errorf("expected kind %q, got %q", tt.expectedKind, be.Kind)
			}
			if be.Backend != BackendLive {
				t.Errorf("expected backend %q, got %q", BackendLive, be.Backend)
			}
		})
	}
}

func TestLiveBackendRejectsConcurrentSessions(t *testing.T) {
	source := newFakeSegmentSource(0)

	backend := NewLiveBackend(source, time.Second)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		backend.Transcribe(context.Background(), Request{SessionID: "first"})
	}()
	<-started

	// Give the first session time to claim the busy flag.
	var err error
	for i := 0; i < 50; i++ {
		_, err = backend.Transcribe(context.Background(), Request{SessionID: "second"})
		if errors.Is(err, ErrSessionActive) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}

	source.segments <- LiveSegment{Done: true}
	<-done
}

func TestLiveBackendRequiresSessionID(t *testing.T) {
	backend := NewLiveBackend(newFakeSegmentSource(1), time.Second)
	_, err := backend.Transcribe(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestLiveBackendSubscribeFailure(t *testing.T) {
	source := newFakeSegmentSource(1)
	source.err = errors.New("broker unavailable")

	backend := NewLiveBackend(source, time.Second)
	_, err := backend.Transcribe(context.Background(), Request{SessionID: "session-1"})

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if be.Kind != FailureNetwork {
		t.Errorf("expected kind %q, got %q", FailureNetwork, be.Kind)
	}
}

func TestLiveBackendContextCancellation(t *testing.T) {
	source := newFakeSegmentSource(0)
	backend := NewLiveBackend(source, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := backend.Transcribe(ctx, Request{SessionID: "session-1"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
