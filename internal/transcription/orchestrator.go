/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/MPR2023/VoiceGuardian/internal/audio"
	"github.com/MPR2023/VoiceGuardian/internal/logging"
)

// State is the orchestrator's position in one transcription run
type State string

const (
	StateIdle                 State = "idle"
	StateSelecting            State = "selecting"
	StateExecuting            State = "executing"
	StateSucceeded            State = "succeeded"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateExhausted            State = "exhausted"
)

// Mode selects how the orchestrator picks a backend
type Mode string

const (
	// ModeSmart picks by configured preference and walks the fallback
	// chain on failure
	ModeSmart Mode = "smart"

	// ModeRemote, ModeLocal and ModeLive pin a single backend with no
	// fallback
	ModeRemote Mode = Mode(BackendRemote)
	ModeLocal  Mode = Mode(BackendLocal)
	ModeLive   Mode = Mode(BackendLive)
)

// StatusSink receives progress updates during a transcription run. The
// dashboard surfaces these verbatim; ordering matters.
type StatusSink interface {
	Status(status string)
}

// Status values reported to the sink
const (
	StatusConnecting           = "connecting"
	StatusSucceeded            = "succeeded"
	StatusAwaitingConfirmation = "awaiting-confirmation"
	StatusExhausted            = "exhausted"
	statusTranscribingPrefix   = "transcribing:"
	statusFailedPrefix         = "failed:"
)

// StatusTranscribing formats the per-backend in-progress status
func StatusTranscribing(backend string) string {
	return statusTranscribingPrefix + backend
}

// StatusFailed formats the per-backend failure status
func StatusFailed(backend string) string {
	return statusFailedPrefix + backend
}

// LogSink is the default status sink; it logs each status transition
type LogSink struct{}

func (LogSink) Status(status string) {
	logging.LogTranscription("orchestrator", "status", zap.String("status", status))
}

// Outcome is the result of one orchestrated run
type Outcome struct {
	// Result is set only when State is StateSucceeded
	Result *Result

	// Backend is the backend that produced Result, or the last one
	// attempted
	Backend string

	// State is the terminal state of the run
	State State

	// Failures collects the per-backend failures encountered, in
	// attempt order
	Failures []*BackendError

	// Cached reports that Result was served from the result cache
	// without touching a backend
	Cached bool
}

// Options configures an Orchestrator
type Options struct {
	// PreferServer and PreferBrowser mirror the operator's source
	// preferences. When both are set the server path wins; when neither
	// is set the server path is still the default.
	PreferServer  bool
	PreferBrowser bool

	// CacheTTL bounds how long a transcription result is reused for
	// byte-identical audio. Zero disables the cache.
	CacheTTL time.Duration
}

// Orchestrator selects a transcription backend for each request and
// walks the fallback chain when backends fail. Falling back to live
// capture is never silent: it requires explicit operator confirmation
// because it re-records through the microphone instead of reusing the
// uploaded audio.
type Orchestrator struct {
	remote Backend
	local  Backend
	live   Backend

	prefServer  bool
	prefBrowser bool

	sink    StatusSink
	results *cache.Cache
}

// NewOrchestrator wires the three backends behind a selection policy.
// Any backend may be nil; nil backends are skipped in the chain.
func NewOrchestrator(remote, local, live Backend, sink StatusSink, opts Options) *Orchestrator {
	if sink == nil {
		sink = LogSink{}
	}
	var results *cache.Cache
	if opts.CacheTTL > 0 {
		results = cache.New(opts.CacheTTL, opts.CacheTTL*2)
	}
	return &Orchestrator{
		remote:      remote,
		local:       local,
		live:        live,
		prefServer:  opts.PreferServer,
		prefBrowser: opts.PreferBrowser,
		sink:        sink,
		results:     results,
	}
}

// Run executes one transcription request. In smart mode it walks the
// fallback chain across the non-interactive backends and stops at
// StateAwaitingConfirmation if only live capture remains; a pinned mode
// attempts exactly one backend.
func (o *Orchestrator) Run(ctx context.Context, mode Mode, req Request) (*Outcome, error) {
	return o.RunWithSink(ctx, mode, req, o.sink)
}

// RunWithSink is Run with a per-request status sink, for callers that
// surface the status sequence to their own clients. Safe for concurrent
// use; each run reports only to its own sink.
func (o *Orchestrator) RunWithSink(ctx context.Context, mode Mode, req Request, sink StatusSink) (*Outcome, error) {
	if sink == nil {
		sink = o.sink
	}
	sink.Status(StatusConnecting)

	if entry := o.cachedResult(mode, req); entry != nil {
		sink.Status(StatusSucceeded)
		logging.LogTranscription("orchestrator", "cache_hit", zap.Int("audio_bytes", len(req.Audio)))
		return &Outcome{Result: entry.result, Backend: entry.backend, State: StateSucceeded, Cached: true}, nil
	}

	chain, err := o.selectChain(mode)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{State: StateExecuting}
	for i, backend := range chain {
		// Falling back to live capture re-records through the microphone
		// instead of reusing the uploaded audio, so it needs explicit
		// operator confirmation. Live as the operator's own first choice
		// runs directly.
		if backend.Name() == BackendLive && i > 0 {
			outcome.State = StateAwaitingConfirmation
			outcome.Backend = BackendLive
			sink.Status(StatusAwaitingConfirmation)
			return outcome, nil
		}

		result, err := o.attempt(ctx, backend, req, sink)
		if err == nil {
			o.storeResult(mode, req, backend.Name(), result)
			outcome.Result = result
			outcome.Backend = backend.Name()
			outcome.State = StateSucceeded
			sink.Status(StatusSucceeded)
			return outcome, nil
		}

		if err == ErrSessionActive {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		be, ok := AsBackendError(err)
		if !ok {
			be = &BackendError{Backend: backend.Name(), Kind: FailureModel, Err: err}
		}
		outcome.Failures = append(outcome.Failures, be)
		outcome.Backend = backend.Name()
		sink.Status(StatusFailed(backend.Name()))
		logging.LogTranscription(backend.Name(), "failed",
			zap.String("kind", string(be.Kind)),
			zap.Error(be.Err),
		)

		if be.Terminal() {
			break
		}
	}

	outcome.State = StateExhausted
	sink.Status(StatusExhausted)
	return outcome, nil
}

// ConfirmLive executes the live attempt after the operator accepted the
// fallback prompt from a Run that ended in StateAwaitingConfirmation.
func (o *Orchestrator) ConfirmLive(ctx context.Context, req Request) (*Outcome, error) {
	return o.ConfirmLiveWithSink(ctx, req, o.sink)
}

// ConfirmLiveWithSink is ConfirmLive with a per-request status sink
func (o *Orchestrator) ConfirmLiveWithSink(ctx context.Context, req Request, sink StatusSink) (*Outcome, error) {
	if o.live == nil {
		return nil, fmt.Errorf("live transcription is not configured")
	}
	if sink == nil {
		sink = o.sink
	}

	outcome := &Outcome{Backend: BackendLive, State: StateExecuting}
	result, err := o.attempt(ctx, o.live, req, sink)
	if err != nil {
		if err == ErrSessionActive {
			return nil, err
		}
		be, ok := AsBackendError(err)
		if !ok {
			be = &BackendError{Backend: BackendLive, Kind: FailureAudioCapture, Err: err}
		}
		outcome.Failures = append(outcome.Failures, be)
		outcome.State = StateExhausted
		sink.Status(StatusFailed(BackendLive))
		sink.Status(StatusExhausted)
		return outcome, nil
	}

	outcome.Result = result
	outcome.State = StateSucceeded
	sink.Status(StatusSucceeded)
	return outcome, nil
}

// attempt runs a single backend, normalizing degenerate transcripts into
// no-speech failures
func (o *Orchestrator) attempt(ctx context.Context, backend Backend, req Request, sink StatusSink) (*Result, error) {
	sink.Status(StatusTranscribing(backend.Name()))
	start := time.Now()

	result, err := backend.Transcribe(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(result.Text)) < 3 {
		return nil, &BackendError{
			Backend: backend.Name(),
			Kind:    FailureNoSpeech,
			Err:     fmt.Errorf("transcript too short: %q", result.Text),
		}
	}

	logging.LogTranscription(backend.Name(), "succeeded",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("text_length", len(result.Text)),
	)
	return result, nil
}

// selectChain resolves the mode into an ordered backend chain
func (o *Orchestrator) selectChain(mode Mode) ([]Backend, error) {
	switch mode {
	case ModeRemote:
		return o.pinned(o.remote, BackendRemote)
	case ModeLocal:
		return o.pinned(o.local, BackendLocal)
	case ModeLive:
		return o.pinned(o.live, BackendLive)
	case ModeSmart, "":
		// Server path first unless the operator prefers the browser-side
		// local model alone. When both preferences are set the server
		// path wins. Live capture is always last: it re-records through
		// the microphone and stays behind the confirmation gate.
		var chain []Backend
		serverFirst := o.prefServer || !o.prefBrowser
		if serverFirst {
			chain = appendBackend(chain, o.remote)
			chain = appendBackend(chain, o.local)
			chain = appendBackend(chain, o.live)
		} else {
			chain = appendBackend(chain, o.local)
			chain = appendBackend(chain, o.remote)
			chain = appendBackend(chain, o.live)
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("no transcription backends configured")
		}
		return chain, nil
	default:
		return nil, fmt.Errorf("unknown transcription mode: %s", mode)
	}
}

func (o *Orchestrator) pinned(b Backend, name string) ([]Backend, error) {
	if b == nil {
		return nil, fmt.Errorf("%s transcription backend not configured", name)
	}
	return []Backend{b}, nil
}

func appendBackend(chain []Backend, b Backend) []Backend {
	if b == nil {
		return chain
	}
	return append(chain, b)
}

type cacheEntry struct {
	result  *Result
	backend string
}

// cachedResult returns a previously computed result for byte-identical
// audio. Live requests carry no audio and are never cached.
func (o *Orchestrator) cachedResult(mode Mode, req Request) *cacheEntry {
	if o.results == nil || len(req.Audio) == 0 || mode == ModeLive {
		return nil
	}
	if v, ok := o.results.Get(audio.Hash(req.Audio)); ok {
		if entry, ok := v.(*cacheEntry); ok {
			return entry
		}
	}
	return nil
}

func (o *Orchestrator) storeResult(mode Mode, req Request, backend string, result *Result) {
	if o.results == nil || len(req.Audio) == 0 || mode == ModeLive {
		return
	}
	o.results.SetDefault(audio.Hash(req.Audio), &cacheEntry{result: result, backend: backend})
}
