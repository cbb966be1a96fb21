//go:build !whisper

/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package transcription

import (
	"context"
	"errors"
)

// LocalBackend is a stub used when whisper support is not compiled in.
// Build with -tags whisper to enable local inference.
type LocalBackend struct {
	modelPath string
}

// NewLocalBackend creates a stub local backend
func NewLocalBackend(modelPath string) *LocalBackend {
	return &LocalBackend{modelPath: modelPath}
}

// Name implements the Backend interface
func (l *LocalBackend) Name() string {
	return BackendLocal
}

// Transcribe always fails with a model error in the stub build
func (l *LocalBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	return nil, &BackendError{
		Backend: BackendLocal,
		Kind:    FailureModel,
		Err:     errors.New("local transcription not available: built without whisper support"),
	}
}

// Close implements the lifecycle contract shared with the whisper build
func (l *LocalBackend) Close() error {
	return nil
}
