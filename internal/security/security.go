/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package security holds input hygiene helpers shared by the API and
// storage layers.
package security

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidRecordID is returned when a record identifier format is invalid
	ErrInvalidRecordID = errors.New("invalid record id")

	// recordIDPattern validates record ids to only allow safe characters
	recordIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// SanitizeLogInput removes newline characters to prevent log injection attacks.
// Use it for all user-controlled data before logging.
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// ValidateRecordID ensures a path identifier (analysis uuid or flag id)
// contains only safe characters and cannot traverse paths. Only allows
// alphanumeric ASCII characters, dashes, and underscores.
func ValidateRecordID(id string) error {
	if id == "" {
		return ErrInvalidRecordID
	}

	if strings.Contains(id, "/") || strings.Contains(id, "\\") || strings.Contains(id, "..") {
		return ErrInvalidRecordID
	}

	if !recordIDPattern.MatchString(id) {
		return ErrInvalidRecordID
	}

	return nil
}
