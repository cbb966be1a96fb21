/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/MPR2023/VoiceGuardian/internal/flags"
)

// FlagsStore handles database operations for flag records
type FlagsStore struct {
	db *Database
}

// NewFlagsStore creates a new flags store
func NewFlagsStore(db *Database) *FlagsStore {
	return &FlagsStore{db: db}
}

const selectFlagFields = `
	SELECT id, analysis_uuid, timestamp,
		   start_time, end_time, synthetic,
		   label, flagged_phrase, description, snippet,
		   confidence, severity, category, speaker, policy_link,
		   status, history
	FROM flags`

// Insert stores a new flag record
func (s *FlagsStore) Insert(record *flags.FlagRecord) error {
	if record.ID == "" {
		return fmt.Errorf("flag record requires an id")
	}
	if record.AnalysisUUID == "" {
		return fmt.Errorf("flag record requires an analysis uuid")
	}

	historyJSON, err := marshalHistory(record.History)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flags (
			id, analysis_uuid, timestamp,
			start_time, end_time, synthetic,
			label, flagged_phrase, description, snippet,
			confidence, severity, category, speaker, policy_link,
			status, history
		) VALUES (
			?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?
		)`

	_, err = s.db.DB().Exec(query,
		record.ID, record.AnalysisUUID, record.Timestamp,
		record.StartTime, record.EndTime, record.Synthetic,
		record.Label, record.Phrase, record.Description, record.Snippet,
		record.Confidence, record.Severity, record.Category, record.Speaker, record.PolicyLink,
		record.Status, historyJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert flag: %w", err)
	}

	return nil
}

// InsertAll stores every record of one analysis in a single transaction
func (s *FlagsStore) InsertAll(records []flags.FlagRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range records {
		record := &records[i]
		historyJSON, err := marshalHistory(record.History)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO flags (
				id, analysis_uuid, timestamp,
				start_time, end_time, synthetic,
				label, flagged_phrase, description, snippet,
				confidence, severity, category, speaker, policy_link,
				status, history
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID, record.AnalysisUUID, record.Timestamp,
			record.StartTime, record.EndTime, record.Synthetic,
			record.Label, record.Phrase, record.Description, record.Snippet,
			record.Confidence, record.Severity, record.Category, record.Speaker, record.PolicyLink,
			record.Status, historyJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert flag %s: %w", record.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flags: %w", err)
	}

	log.Printf("📝 Stored %d flags for analysis %s", len(records), records[0].AnalysisUUID)
	return nil
}

// GetByID retrieves a flag record by its id
func (s *FlagsStore) GetByID(id string) (*flags.FlagRecord, error) {
	row := s.db.DB().QueryRow(selectFlagFields+` WHERE id = ?`, id)
	return s.scanFlag(row)
}

// ListByAnalysis retrieves every flag of one analysis in span order
func (s *FlagsStore) ListByAnalysis(analysisUUID string) ([]*flags.FlagRecord, error) {
	return s.queryFlags(selectFlagFields+` WHERE analysis_uuid = ? ORDER BY start_time ASC`, analysisUUID)
}

// ListOpen retrieves flags still awaiting review, most recent first
func (s *FlagsStore) ListOpen(limit int) ([]*flags.FlagRecord, error) {
	query := selectFlagFields + ` WHERE status = ? ORDER BY timestamp DESC`
	args := []interface{}{flags.StatusOpen}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryFlags(query, args...)
}

// FlagListOptions defines filtering and pagination for flag queries
type FlagListOptions struct {
	Severity string
	Category string
	Status   string

	Limit  int
	Offset int
}

// List retrieves flag records with filtering and pagination
func (s *FlagsStore) List(options FlagListOptions) ([]*flags.FlagRecord, error) {
	query := selectFlagFields + ` WHERE 1=1`
	var args []interface{}

	if options.Severity != "" {
		query += " AND severity = ?"
		args = append(args, options.Severity)
	}
	if options.Category != "" {
		query += " AND category = ?"
		args = append(args, options.Category)
	}
	if options.Status != "" {
		query += " AND status = ?"
		args = append(args, options.Status)
	}

	query += " ORDER BY timestamp DESC"

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)
		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return s.queryFlags(query, args...)
}

// Update persists a flag's review state after an applied action. History
// rows only ever grow; the caller appends through the flags package.
func (s *FlagsStore) Update(record *flags.FlagRecord) error {
	historyJSON, err := marshalHistory(record.History)
	if err != nil {
		return err
	}

	result, err := s.db.DB().Exec(
		"UPDATE flags SET status = ?, history = ? WHERE id = ?",
		record.Status, historyJSON, record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("flag not found: %s", record.ID)
	}

	return nil
}

func (s *FlagsStore) queryFlags(query string, args ...interface{}) ([]*flags.FlagRecord, error) {
	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	defer rows.Close()

	var records []*flags.FlagRecord
	for rows.Next() {
		record, err := s.scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flag: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flags: %w", err)
	}

	return records, nil
}

// scanFlag scans a database row into a FlagRecord struct
func (s *FlagsStore) scanFlag(scanner interface{}) (*flags.FlagRecord, error) {
	var record flags.FlagRecord
	var historyJSON string

	var row interface {
		Scan(dest ...interface{}) error
	}

	switch v := scanner.(type) {
	case *sql.Row:
		row = v
	case *sql.Rows:
		row = v
	default:
		return nil, fmt.Errorf("unsupported scanner type")
	}

	err := row.Scan(
		&record.ID, &record.AnalysisUUID, &record.Timestamp,
		&record.StartTime, &record.EndTime, &record.Synthetic,
		&record.Label, &record.Phrase, &record.Description, &record.Snippet,
		&record.Confidence, &record.Severity, &record.Category, &record.Speaker, &record.PolicyLink,
		&record.Status, &historyJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("flag not found")
		}
		return nil, err
	}

	if historyJSON != "" && historyJSON != "[]" {
		if err := json.Unmarshal([]byte(historyJSON), &record.History); err != nil {
			return nil, fmt.Errorf("failed to parse flag history: %w", err)
		}
	}

	return &record, nil
}

func marshalHistory(history []flags.ReviewAction) (string, error) {
	if history == nil {
		return "[]", nil
	}
	data, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("failed to marshal flag history: %w", err)
	}
	return string(data), nil
}
