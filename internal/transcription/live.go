/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MPR2023/VoiceGuardian/internal/logging"
)

// LiveSegment is one incremental recognition update from a browser
// capture session. Interim segments replace each other; final segments
// accumulate into the transcript. A client that hits a capture error
// reports it through Err, and Done marks the end of the session stream.
type LiveSegment struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Final     bool   `json:"final"`
	Err       string `json:"error,omitempty"`
	Done      bool   `json:"done,omitempty"`
}

// SegmentSource delivers live segments for a capture session. The
// returned channel is closed when the subscription ends; cancel tears
// the subscription down.
type SegmentSource interface {
	SubscribeToLiveSegments(ctx context.Context, sessionID string) (<-chan LiveSegment, func(), error)
}

// LiveBackend turns a stream of browser speech recognition segments
// into a transcript. The browser performs the actual recognition; this
// backend accumulates final segments until the stream ends or the
// session cap elapses.
type LiveBackend struct {
	source SegmentSource
	cap    time.Duration
	busy   atomic.Bool
}

// NewLiveBackend creates a live capture backend with the given session cap
func NewLiveBackend(source SegmentSource, sessionCap time.Duration) *LiveBackend {
	return &LiveBackend{source: source, cap: sessionCap}
}

// Name implements the Backend interface
func (l *LiveBackend) Name() string {
	return BackendLive
}

// Transcribe implements the Backend interface. The request's SessionID
// selects the segment stream; Audio is ignored because the browser
// already holds the microphone.
func (l *LiveBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		return nil, &BackendError{
			Backend: BackendLive,
			Kind:    FailureAudioCapture,
			Err:     errors.New("live transcription requires a session id"),
		}
	}
	if !l.busy.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	defer l.busy.Store(false)

	segments, cancel, err := l.source.SubscribeToLiveSegments(ctx, req.SessionID)
	if err != nil {
		return nil, &BackendError{
			Backend: BackendLive,
			Kind:    FailureNetwork,
			Err:     fmt.Errorf("failed to subscribe to live segments: %w", err),
		}
	}
	defer cancel()

	logging.LogTranscription(BackendLive, "session_started",
		zap.String("session_id", req.SessionID),
		zap.Duration("session_cap", l.cap),
	)

	timer := time.NewTimer(l.cap)
	defer timer.Stop()

	var finals []string
	for {
		select {
		case <-ctx.Done():
			return nil, &BackendError{Backend: BackendLive, Kind: FailureAudioCapture, Err: ctx.Err()}

		case <-timer.C:
			// Session cap reached: force-finalize whatever accumulated.
			logging.LogTranscription(BackendLive, "session_cap_reached",
				zap.String("session_id", req.SessionID),
				zap.Int("final_segments", len(finals)),
			)
			return l.finalize(req.SessionID, finals)

		case seg, ok := <-segments:
			if !ok {
				return l.finalize(req.SessionID, finals)
			}
			if seg.Err != "" {
				return nil, liveError(seg.Err)
			}
			if seg.Done {
				return l.finalize(req.SessionID, finals)
			}
			if seg.Final {
				text := strings.TrimSpace(seg.Text)
				if text != "" {
					finals = append(finals, text)
				}
			}
		}
	}
}

func (l *LiveBackend) finalize(sessionID string, finals []string) (*Result, error) {
	text := strings.TrimSpace(strings.Join(finals, " "))
	logging.LogTranscription(BackendLive, "session_completed",
		zap.String("session_id", sessionID),
		zap.Int("final_segments", len(finals)),
		zap.Int("text_length", len(text)),
	)
	// Live recognition reports no word timing; downstream analysis
	// falls back to synthetic timestamps.
	return &Result{Text: text, Words: nil}, nil
}

// liveError maps client-reported recognition error codes onto the
// failure taxonomy. Unknown codes are treated as capture failures.
func liveError(code string) *BackendError {
	var kind FailureKind
	switch code {
	case "no-speech":
		kind = FailureNoSpeech
	case "not-allowed", "service-not-allowed":
		kind = FailureNotAllowed
	case "network":
		kind = FailureNetwork
	case "audio-capture", "aborted":
		kind = FailureAudioCapture
	default:
		kind = FailureAudioCapture
	}
	return &BackendError{
		Backend: BackendLive,
		Kind:    kind,
		Err:     fmt.Errorf("browser recognition error: %s", code),
	}
}
