/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package events defines the persisted record of one analysis run.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnalysisEvent is the stored outcome of one moderation analysis run,
// from audio intake through flag projection
type AnalysisEvent struct {
	// Core identification
	UUID      string    `json:"uuid" db:"uuid"`
	RequestID string    `json:"request_id" db:"request_id"`
	ClientID  string    `json:"client_id" db:"client_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Audio metadata
	AudioHash     string  `json:"audio_hash" db:"audio_hash"`
	AudioDuration float64 `json:"audio_duration" db:"audio_duration"`
	SampleRate    int     `json:"sample_rate" db:"sample_rate"`

	// Processing results
	Backend     string `json:"backend" db:"backend"`
	Transcript  string `json:"transcript" db:"transcript"`
	FlagCount   int    `json:"flag_count" db:"flag_count"`
	MaxSeverity string `json:"max_severity,omitempty" db:"max_severity"`

	// Outcome
	ProcessingTime int64  `json:"processing_time_ms" db:"processing_time_ms"`
	Success        bool   `json:"success" db:"success"`
	ErrorMessage   string `json:"error_message,omitempty" db:"error_message"`
}

// NewAnalysisEvent creates an event with a generated UUID and current timestamp
func NewAnalysisEvent(clientID, requestID string) *AnalysisEvent {
	return &AnalysisEvent{
		UUID:      uuid.NewString(),
		RequestID: requestID,
		ClientID:  clientID,
		Timestamp: time.Now(),
		Success:   true,
	}
}

// SetAudioMetadata records the intake audio's hash, duration and sample rate
func (ae *AnalysisEvent) SetAudioMetadata(hash string, duration float64, sampleRate int) {
	ae.AudioHash = hash
	ae.AudioDuration = duration
	ae.SampleRate = sampleRate
}

// SetTranscript records the transcript and the backend that produced it
func (ae *AnalysisEvent) SetTranscript(backend, transcript string) {
	ae.Backend = backend
	ae.Transcript = transcript
}

// SetModerationResult records the flag count and the highest severity seen.
// Calling it marks processing as complete.
func (ae *AnalysisEvent) SetModerationResult(flagCount int, maxSeverity string) {
	ae.FlagCount = flagCount
	ae.MaxSeverity = maxSeverity
	ae.ProcessingTime = time.Since(ae.Timestamp).Milliseconds()
}

// SetError marks the event as failed
func (ae *AnalysisEvent) SetError(err error) {
	ae.Success = false
	ae.ErrorMessage = err.Error()
	ae.ProcessingTime = time.Since(ae.Timestamp).Milliseconds()
}

// IsValid performs basic validation before persistence
func (ae *AnalysisEvent) IsValid() error {
	if ae.UUID == "" {
		return fmt.Errorf("UUID is required")
	}
	if ae.RequestID == "" {
		return fmt.Errorf("requestID is required")
	}
	if ae.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if ae.FlagCount < 0 {
		return fmt.Errorf("flag count cannot be negative")
	}
	return nil
}

// String returns a human-readable representation of the event
func (ae *AnalysisEvent) String() string {
	return fmt.Sprintf("AnalysisEvent{UUID: %s, Backend: %s, Flags: %d, MaxSeverity: %s, Success: %t}",
		ae.UUID, ae.Backend, ae.FlagCount, ae.MaxSeverity, ae.Success)
}
