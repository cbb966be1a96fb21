//go:build whisper

/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package transcription

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.uber.org/zap"

	"github.com/MPR2023/VoiceGuardian/internal/audio"
	"github.com/MPR2023/VoiceGuardian/internal/logging"
)

// LocalBackend runs inference with a local whisper model. The model is
// loaded lazily on first use and shared across calls behind an explicit
// lifecycle handle so tests can substitute a fake backend instead.
type LocalBackend struct {
	modelPath string

	mu    sync.Mutex
	model whisper.Model
}

// NewLocalBackend creates a local model backend. The model file is not
// touched until the first Transcribe call.
func NewLocalBackend(modelPath string) *LocalBackend {
	return &LocalBackend{modelPath: modelPath}
}

// Name implements the Backend interface
func (l *LocalBackend) Name() string {
	return BackendLocal
}

// Transcribe implements the Backend interface
func (l *LocalBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &BackendError{Backend: BackendLocal, Kind: FailureModel, Err: err}
	}

	samples, _, err := audio.DecodeWAV(req.Audio)
	if err != nil {
		return nil, &BackendError{Backend: BackendLocal, Kind: FailureModel, Err: fmt.Errorf("failed to decode audio: %w", err)}
	}

	model, err := l.ensureModel()
	if err != nil {
		return nil, &BackendError{Backend: BackendLocal, Kind: FailureModel, Err: err}
	}

	wctx, err := model.NewContext()
	if err != nil {
		return nil, &BackendError{Backend: BackendLocal, Kind: FailureModel, Err: fmt.Errorf("failed to create whisper context: %w", err)}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &BackendError{Backend: BackendLocal, Kind: FailureModel, Err: fmt.Errorf("failed to process audio: %w", err)}
	}

	var transcript strings.Builder
	var words []Word
	for {
		if err := ctx.Err(); err != nil {
			return nil, &BackendError{Backend: BackendLocal, Kind: FailureModel, Err: err}
		}

		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}

		if transcript.Len() > 0 {
			transcript.WriteString(" ")
		}
		text := strings.TrimSpace(segment.Text)
		transcript.WriteString(text)
		words = append(words, segmentWords(text, segment.Start.Seconds(), segment.End.Seconds())...)
	}

	result := &Result{Text: strings.TrimSpace(transcript.String()), Words: words}

	logging.LogTranscription(BackendLocal, "completed",
		zap.Int("samples", len(samples)),
		zap.Int("words", len(words)),
		zap.Int("text_length", len(result.Text)),
	)

	return result, nil
}

// ensureModel lazily loads the shared whisper model
func (l *LocalBackend) ensureModel() (whisper.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.model != nil {
		return l.model, nil
	}

	if _, err := os.Stat(l.modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", l.modelPath)
	}

	model, err := whisper.New(l.modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	logging.LogTranscription(BackendLocal, "model_loaded", zap.String("model_path", l.modelPath))
	l.model = model
	return model, nil
}

// Close releases the shared whisper model
func (l *LocalBackend) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.model != nil {
		l.model.Close()
		l.model = nil
		logging.LogTranscription(BackendLocal, "model_closed")
	}
	return nil
}

// segmentWords distributes a segment's time range evenly across its words.
// Whisper reports timing per segment, not per word, so word boundaries are
// interpolated; the ordering invariants still hold.
func segmentWords(text string, start, end float64) []Word {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil
	}

	step := (end - start) / float64(len(tokens))
	words := make([]Word, len(tokens))
	for i, token := range tokens {
		words[i] = Word{
			Word:  token,
			Start: start + float64(i)*step,
			End:   start + float64(i+1)*step,
		}
	}
	return words
}
