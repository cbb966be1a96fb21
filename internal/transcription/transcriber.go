/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package transcription provides the three transcription backends (remote
// STT service, local whisper model, live recognition stream) and the
// orchestrator that selects between them and walks the fallback chain.
package transcription

import (
	"context"
	"errors"
	"fmt"
)

// Backend names as they appear in requests, statuses and stored events
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
	BackendLive   = "live"
)

// Word is a transcribed word with timing in seconds
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is a normalized transcription result. Words is empty for backends
// that cannot provide word timing; consumers must treat that as "position
// unknown", not an error.
type Result struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// Request carries the input for one transcription attempt. Audio is a
// normalized WAV payload for the remote and local backends; SessionID
// identifies the live recognition stream for the live backend.
type Request struct {
	Audio     []byte
	SessionID string
}

// Backend is one transcription strategy
type Backend interface {
	// Name returns the backend identifier
	Name() string

	// Transcribe converts the request's audio source to text. Blocking
	// work honors ctx cancellation.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// FailureKind classifies backend failures for fallback and messaging
type FailureKind string

const (
	// FailureNetwork covers unreachable services and non-2xx responses
	FailureNetwork FailureKind = "network"

	// FailureModel covers local model load and inference failures
	FailureModel FailureKind = "model"

	// FailureNoSpeech marks a degenerate transcript (under 3 non-whitespace
	// characters), treated like a backend failure for fallback purposes
	FailureNoSpeech FailureKind = "no-speech"

	// FailureAudioCapture and FailureNotAllowed are live-backend
	// environment failures reported by the client; they are terminal
	FailureAudioCapture FailureKind = "audio-capture"
	FailureNotAllowed   FailureKind = "not-allowed"
)

// ErrSessionActive is returned when a live recognition session is started
// while another one is still running. Sessions are rejected, never queued.
var ErrSessionActive = errors.New("live recognition session already active")

// BackendError is a typed transcription failure. Raw causes stay wrapped
// here; only the human-readable Message crosses the orchestrator boundary.
type BackendError struct {
	Backend string
	Kind    FailureKind
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend %s failure: %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s backend %s failure", e.Backend, e.Kind)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Message returns the operator-facing remediation message for this failure
func (e *BackendError) Message() string {
	switch e.Kind {
	case FailureNetwork:
		return fmt.Sprintf("Could not reach the %s transcription service. Check the connection and try again.", e.Backend)
	case FailureModel:
		return "The local transcription model is unavailable. Falling back may be possible."
	case FailureNoSpeech:
		return "No speech detected in the audio."
	case FailureAudioCapture:
		return "No microphone input was captured. Check that a microphone is connected."
	case FailureNotAllowed:
		return "Microphone access was denied. Grant permission and try again."
	default:
		return "Transcription failed."
	}
}

// Terminal reports whether this failure must not be retried on another
// backend automatically
func (e *BackendError) Terminal() bool {
	return e.Kind == FailureAudioCapture || e.Kind == FailureNotAllowed
}

// AsBackendError unwraps err into a *BackendError if possible
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
