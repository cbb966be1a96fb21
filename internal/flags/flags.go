/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package flags projects moderation spans into reviewer-facing flag
// records and tracks their review lifecycle.
package flags

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MPR2023/VoiceGuardian/internal/lexicon"
	"github.com/MPR2023/VoiceGuardian/internal/moderation"
)

// snippetRadius is the number of characters sliced on each side of the
// flagged phrase for the reviewer snippet. Wider than the moderation
// context window: reviewers need surrounding sentences, not just the
// immediate neighborhood.
const snippetRadius = 80

// Severity buckets as shown to reviewers
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Review categories
const (
	CategoryProfanity  = "Profanity"
	CategoryQuality    = "Quality"
	CategoryCompliance = "Compliance"
)

// Flag statuses
const (
	StatusOpen      = "open"
	StatusResolved  = "resolved"
	StatusEscalated = "escalated"
)

// Review actions
const (
	ActionResolve  = "resolve"
	ActionEscalate = "escalate"
	ActionComment  = "comment"
)

// ReviewAction is one entry in a flag's append-only review history
type ReviewAction struct {
	Action   string    `json:"action"`
	Reviewer string    `json:"reviewer"`
	Note     string    `json:"note,omitempty"`
	Date     time.Time `json:"date"`
}

// FlagRecord is the reviewer-facing projection of one flagged span
type FlagRecord struct {
	ID           string         `json:"id" db:"id"`
	AnalysisUUID string         `json:"analysis_uuid" db:"analysis_uuid"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	StartTime    float64        `json:"start_time" db:"start_time"`
	EndTime      float64        `json:"end_time" db:"end_time"`
	Synthetic    bool           `json:"synthetic" db:"synthetic"`
	Label        string         `json:"label" db:"label"`
	Phrase       string         `json:"flagged_phrase" db:"flagged_phrase"`
	Description  string         `json:"description" db:"description"`
	Snippet      string         `json:"snippet" db:"snippet"`
	Confidence   float64        `json:"confidence" db:"confidence"`
	Severity     string         `json:"severity" db:"severity"`
	Category     string         `json:"category" db:"category"`
	Speaker      string         `json:"speaker,omitempty" db:"speaker"`
	PolicyLink   string         `json:"policy_link,omitempty" db:"policy_link"`
	Status       string         `json:"status" db:"status"`
	History      []ReviewAction `json:"history" db:"history"`
}

// Project converts one flagged span into a reviewer record. It is a pure
// transform; persistence and review state changes happen elsewhere.
func Project(span moderation.FlaggedSpan, transcript string) FlagRecord {
	severity := severityFor(span.Label)
	return FlagRecord{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		StartTime:   span.Timing.Start,
		EndTime:     span.Timing.End,
		Synthetic:   span.Timing.Synthetic,
		Label:       string(span.Label),
		Phrase:      span.Word,
		Description: descriptionFor(span.Label, span.Word),
		Snippet:     snippetAround(transcript, span.Word),
		Confidence:  span.Score,
		Severity:    severity,
		Category:    categoryFor(span.Label),
		Status:      StatusOpen,
	}
}

// ProjectAll projects every span of one analysis, stamping the analysis UUID
func ProjectAll(spans []moderation.FlaggedSpan, transcript, analysisUUID string) []FlagRecord {
	records := make([]FlagRecord, 0, len(spans))
	for _, span := range spans {
		record := Project(span, transcript)
		record.AnalysisUUID = analysisUUID
		records = append(records, record)
	}
	return records
}

// MaxSeverity returns the highest reviewer severity among records, or ""
func MaxSeverity(records []FlagRecord) string {
	max := ""
	for _, r := range records {
		if severityRank(r.Severity) > severityRank(max) {
			max = r.Severity
		}
	}
	return max
}

func severityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func severityFor(label lexicon.Severity) string {
	switch label {
	case lexicon.SeverityToxic, lexicon.SeverityHate:
		return SeverityCritical
	case lexicon.SeverityWarning, lexicon.SeverityProfanity:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func categoryFor(label lexicon.Severity) string {
	switch label {
	case lexicon.SeverityProfanity:
		return CategoryProfanity
	case lexicon.SeverityWarning:
		return CategoryQuality
	case lexicon.SeverityHate:
		return CategoryCompliance
	default:
		return CategoryQuality
	}
}

func descriptionFor(label lexicon.Severity, word string) string {
	return fmt.Sprintf("Flagged term %q (%s)", word, label)
}

// snippetAround recomputes the reviewer snippet independently of the
// moderation context window, around the first textual occurrence of the
// flagged phrase. Offsets always index the original transcript and window
// edges are aligned to rune boundaries so a multi-byte rune is never
// split.
func snippetAround(transcript, phrase string) string {
	idx := strings.Index(transcript, phrase)
	if idx < 0 {
		idx = foldIndex(transcript, phrase)
	}
	if idx < 0 {
		idx = 0
	}
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + len(phrase) + snippetRadius
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

// foldIndex finds the first case-insensitive occurrence of phrase in s,
// returning an offset into s itself. Lowercasing a copy can shift byte
// offsets for non-ASCII text, so the original is scanned directly.
func foldIndex(s, phrase string) int {
	if phrase == "" {
		return 0
	}
	for i := range s {
		if i+len(phrase) > len(s) {
			break
		}
		if strings.EqualFold(s[i:i+len(phrase)], phrase) {
			return i
		}
	}
	return -1
}

// Resolve appends a resolve action and closes the flag
func (f *FlagRecord) Resolve(reviewer, note string) error {
	return f.applyReview(ActionResolve, reviewer, note)
}

// Escalate appends an escalate action and marks the flag escalated
func (f *FlagRecord) Escalate(reviewer, note string) error {
	return f.applyReview(ActionEscalate, reviewer, note)
}

// Comment appends a comment without changing the flag's status
func (f *FlagRecord) Comment(reviewer, note string) error {
	if strings.TrimSpace(note) == "" {
		return fmt.Errorf("comment requires a note")
	}
	return f.applyReview(ActionComment, reviewer, note)
}

// Apply dispatches a named review action
func (f *FlagRecord) Apply(action, reviewer, note string) error {
	switch action {
	case ActionResolve:
		return f.Resolve(reviewer, note)
	case ActionEscalate:
		return f.Escalate(reviewer, note)
	case ActionComment:
		return f.Comment(reviewer, note)
	default:
		return fmt.Errorf("unknown review action: %s", action)
	}
}

func (f *FlagRecord) applyReview(action, reviewer, note string) error {
	if strings.TrimSpace(reviewer) == "" {
		return fmt.Errorf("review action requires a reviewer")
	}

	// History is append-only; prior actions are never rewritten.
	f.History = append(f.History, ReviewAction{
		Action:   action,
		Reviewer: reviewer,
		Note:     note,
		Date:     time.Now(),
	})

	switch action {
	case ActionResolve:
		f.Status = StatusResolved
	case ActionEscalate:
		f.Status = StatusEscalated
	}
	return nil
}
