/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package lexicon holds the flagged-term lexicon and its severity map.
// The lexicon is loaded once at startup and immutable afterwards.
package lexicon

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity is the tier assigned to a flagged term
type Severity string

const (
	SeverityToxic     Severity = "toxic"
	SeverityWarning   Severity = "warning"
	SeverityProfanity Severity = "profanity"

	// SeverityHate is not produced by the keyword matcher but is part of the
	// label vocabulary consumed by flag projection
	SeverityHate Severity = "hate"
)

// Lexicon maps cleaned tokens to severity tiers. Tier resolution checks the
// high-severity set, then the medium-severity set, then falls back to
// profanity for any other term in the flagged set, so tiers are mutually
// exclusive by construction.
type Lexicon struct {
	flagged map[string]struct{}
	high    map[string]struct{}
	medium  map[string]struct{}
}

// lexiconFile is the YAML shape for a lexicon file. The flagged list is
// optional; when omitted the full set is the union of the three tiers.
type lexiconFile struct {
	Toxic     []string `yaml:"toxic"`
	Warning   []string `yaml:"warning"`
	Profanity []string `yaml:"profanity"`
	Flagged   []string `yaml:"flagged"`
}

// Default returns the built-in lexicon
func Default() *Lexicon {
	lex, err := build(
		[]string{"hate", "kill", "racist", "attack", "violent", "abuse", "threat"},
		[]string{"stupid", "idiot", "dumb", "loser", "shut", "ugly", "pathetic"},
		[]string{"damn", "hell", "crap", "sucks", "freaking", "screwed"},
		nil,
	)
	if err != nil {
		// The built-in lists are authored to satisfy the subset invariant
		panic(fmt.Sprintf("built-in lexicon invalid: %v", err))
	}
	return lex
}

// LoadFile reads a YAML lexicon file and validates its tier integrity
func LoadFile(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file: %w", err)
	}

	var file lexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon file %s: %w", path, err)
	}

	lex, err := build(file.Toxic, file.Warning, file.Profanity, file.Flagged)
	if err != nil {
		return nil, fmt.Errorf("invalid lexicon file %s: %w", path, err)
	}

	return lex, nil
}

// build assembles a lexicon and enforces the subset invariant: every high-
// and medium-severity term must be present in the full flagged set.
func build(toxic, warning, profanity, flagged []string) (*Lexicon, error) {
	lex := &Lexicon{
		flagged: make(map[string]struct{}),
		high:    make(map[string]struct{}),
		medium:  make(map[string]struct{}),
	}

	for _, term := range toxic {
		lex.high[normalize(term)] = struct{}{}
	}
	for _, term := range warning {
		lex.medium[normalize(term)] = struct{}{}
	}

	if len(flagged) > 0 {
		for _, term := range flagged {
			lex.flagged[normalize(term)] = struct{}{}
		}
		for term := range lex.high {
			if _, ok := lex.flagged[term]; !ok {
				return nil, fmt.Errorf("high-severity term %q missing from flagged set", term)
			}
		}
		for term := range lex.medium {
			if _, ok := lex.flagged[term]; !ok {
				return nil, fmt.Errorf("medium-severity term %q missing from flagged set", term)
			}
		}
	} else {
		// Full set is the union of the tier lists
		for term := range lex.high {
			lex.flagged[term] = struct{}{}
		}
		for term := range lex.medium {
			lex.flagged[term] = struct{}{}
		}
	}
	for _, term := range profanity {
		lex.flagged[normalize(term)] = struct{}{}
	}

	if len(lex.flagged) == 0 {
		return nil, fmt.Errorf("lexicon has no flagged terms")
	}

	return lex, nil
}

// Lookup resolves a cleaned token (lowercase, alphabetic only) to its
// severity tier. A term placed in both the high and medium lists resolves
// to toxic because the high set is always checked first.
func (l *Lexicon) Lookup(token string) (Severity, bool) {
	if _, ok := l.high[token]; ok {
		return SeverityToxic, true
	}
	if _, ok := l.medium[token]; ok {
		return SeverityWarning, true
	}
	if _, ok := l.flagged[token]; ok {
		return SeverityProfanity, true
	}
	return "", false
}

// Size returns the number of flagged terms
func (l *Lexicon) Size() int {
	return len(l.flagged)
}

// normalize lowercases a term as authored in a lexicon file
func normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
