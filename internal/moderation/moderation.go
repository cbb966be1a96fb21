/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package moderation scans transcripts for policy violations using the
// keyword lexicon and emits flagged spans in token order.
package moderation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MPR2023/VoiceGuardian/internal/config"
	"github.com/MPR2023/VoiceGuardian/internal/lexicon"
)

const (
	// matchScore is the fixed confidence for keyword matches. It is not
	// derived from the match itself.
	matchScore = 0.9

	// strictTierScore is the confidence assigned to medium- and low-tier
	// matches under strict mode
	strictTierScore = 0.75

	// contextRadius is the number of characters sliced on each side of the
	// first occurrence of a flagged word
	contextRadius = 30
)

// nonAlpha strips everything but alphabetic characters before lexicon lookup
var nonAlpha = regexp.MustCompile(`[^a-zA-Z]+`)

// TranscriptWord is a word with timing as produced by a transcription backend.
// Start and End are seconds; Start <= End and non-decreasing across a sequence.
type TranscriptWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Timing locates a flagged span in the source audio. Synthetic timings are
// index-as-seconds fallbacks used when the backend supplied no word timing;
// they keep spans orderable but must not be rendered as waveform markers.
type Timing struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Synthetic bool    `json:"synthetic"`
}

// FlaggedSpan is one policy violation found in a transcript
type FlaggedSpan struct {
	Word    string           `json:"word"`
	Timing  Timing           `json:"timing"`
	Label   lexicon.Severity `json:"label"`
	Score   float64          `json:"score"`
	Context string           `json:"context"`
}

// Engine converts transcripts into flagged spans. It is a pure data
// transform: no failure modes, no hidden state, identical output for
// identical input.
type Engine struct {
	lex        *lexicon.Lexicon
	strictness string
}

// NewEngine creates a moderation engine over the given lexicon
func NewEngine(lex *lexicon.Lexicon, strictness string) *Engine {
	if strictness == "" {
		strictness = config.StrictnessStandard
	}
	return &Engine{lex: lex, strictness: strictness}
}

// Moderate scans a transcript and returns flagged spans in token order.
// words is optional word-level timing: entries aligned with the token index
// provide real timestamps, everything else falls back to index-as-seconds
// synthetic timing. An empty transcript yields an empty result.
func (e *Engine) Moderate(transcript string, words []TranscriptWord) []FlaggedSpan {
	tokens := strings.Fields(transcript)
	if len(tokens) == 0 {
		return nil
	}

	var spans []FlaggedSpan
	for i, token := range tokens {
		cleaned := strings.ToLower(nonAlpha.ReplaceAllString(token, ""))
		if cleaned == "" {
			continue
		}

		severity, ok := e.lex.Lookup(cleaned)
		if !ok {
			continue
		}

		score, keep := e.applyStrictness(severity)
		if !keep {
			continue
		}

		spans = append(spans, FlaggedSpan{
			Word:    token,
			Timing:  timingFor(i, words),
			Label:   severity,
			Score:   score,
			Context: contextAround(transcript, token),
		})
	}

	return spans
}

// applyStrictness decides whether a tier is flagged at the configured
// strictness and with what confidence
func (e *Engine) applyStrictness(severity lexicon.Severity) (float64, bool) {
	switch e.strictness {
	case config.StrictnessLenient:
		if severity == lexicon.SeverityProfanity {
			return 0, false
		}
		return matchScore, true
	case config.StrictnessStrict:
		if severity == lexicon.SeverityToxic {
			return matchScore, true
		}
		return strictTierScore, true
	default:
		return matchScore, true
	}
}

// timingFor returns real timing when the token index is covered by the
// backend's word sequence, and synthetic index-as-seconds timing otherwise
func timingFor(index int, words []TranscriptWord) Timing {
	if index < len(words) {
		return Timing{Start: words[index].Start, End: words[index].End}
	}
	return Timing{Start: float64(index), End: float64(index + 1), Synthetic: true}
}

// contextAround slices a window around the first textual occurrence of the
// raw token. Repeated occurrences share the first occurrence's context.
// Window edges are aligned to rune boundaries so a multi-byte rune is
// never split.
func contextAround(transcript, token string) string {
	idx := strings.Index(transcript, token)
	if idx < 0 {
		idx = 0
	}

	start := idx - contextRadius
	if start < 0 {
		start = 0
	}
	end := idx + len(token) + contextRadius
	if end > len(transcript) {
		end = len(transcript)
	}
	for start > 0 && !utf8.RuneStart(transcript[start]) {
		start--
	}
	for end < len(transcript) && !utf8.RuneStart(transcript[end]) {
		end++
	}

	return transcript[start:end]
}
