/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package storage

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/MPR2023/VoiceGuardian/internal/events"
)

// AnalysisEventsStore handles database operations for analysis events
type AnalysisEventsStore struct {
	db *Database
}

// NewAnalysisEventsStore creates a new analysis events store
func NewAnalysisEventsStore(db *Database) *AnalysisEventsStore {
	return &AnalysisEventsStore{db: db}
}

// Insert stores a new analysis event
func (s *AnalysisEventsStore) Insert(event *events.AnalysisEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid analysis event: %w", err)
	}

	query := `
		INSERT INTO analysis_events (
			uuid, request_id, client_id, timestamp,
			audio_hash, audio_duration, sample_rate,
			backend, transcript, flag_count, max_severity,
			processing_time_ms, success, error_message
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?
		)`

	_, err := s.db.DB().Exec(query,
		event.UUID, event.RequestID, event.ClientID, event.Timestamp,
		event.AudioHash, event.AudioDuration, event.SampleRate,
		event.Backend, event.Transcript, event.FlagCount, event.MaxSeverity,
		event.ProcessingTime, event.Success, event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis event: %w", err)
	}

	log.Printf("📝 Stored analysis event: %s (backend: %s, flags: %d)",
		event.UUID, event.Backend, event.FlagCount)
	return nil
}

// GetByUUID retrieves an analysis event by its UUID
func (s *AnalysisEventsStore) GetByUUID(uuid string) (*events.AnalysisEvent, error) {
	query := selectAnalysisFields + ` WHERE uuid = ?`

	row := s.db.DB().QueryRow(query, uuid)
	return s.scanAnalysisEvent(row)
}

// List retrieves analysis events with pagination and filtering
func (s *AnalysisEventsStore) List(options ListOptions) ([]*events.AnalysisEvent, error) {
	query, args := s.buildListQuery(options)

	rows, err := s.db.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis events: %w", err)
	}
	defer rows.Close()

	var eventsList []*events.AnalysisEvent
	for rows.Next() {
		event, err := s.scanAnalysisEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis event: %w", err)
		}
		eventsList = append(eventsList, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis events: %w", err)
	}

	return eventsList, nil
}

// Count returns the total number of analysis events matching the filter
func (s *AnalysisEventsStore) Count(options ListOptions) (int64, error) {
	options.Limit = 0
	options.Offset = 0
	query, args := s.buildListQuery(options)

	countQuery := "SELECT COUNT(*) FROM (" + query + ") as filtered"

	var count int64
	err := s.db.DB().QueryRow(countQuery, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count analysis events: %w", err)
	}

	return count, nil
}

// GetByAudioHash finds analyses of the same audio payload
func (s *AnalysisEventsStore) GetByAudioHash(audioHash string) ([]*events.AnalysisEvent, error) {
	query := selectAnalysisFields + ` WHERE audio_hash = ? ORDER BY timestamp DESC`

	rows, err := s.db.DB().Query(query, audioHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query by audio hash: %w", err)
	}
	defer rows.Close()

	var eventsList []*events.AnalysisEvent
	for rows.Next() {
		event, err := s.scanAnalysisEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis event: %w", err)
		}
		eventsList = append(eventsList, event)
	}

	return eventsList, nil
}

// Delete removes an analysis event by UUID. Associated flags are removed
// by the foreign key cascade.
func (s *AnalysisEventsStore) Delete(uuid string) error {
	result, err := s.db.DB().Exec("DELETE FROM analysis_events WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("failed to delete analysis event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("analysis event not found: %s", uuid)
	}

	log.Printf("🗑️  Deleted analysis event: %s", uuid)
	return nil
}

// DeleteOlderThan removes analysis events older than the cutoff and
// returns the number removed. Used by retention cleanup.
func (s *AnalysisEventsStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.DB().Exec("DELETE FROM analysis_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired analysis events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	ClientID  string
	Backend   string
	Success   *bool // nil = all, true = success only, false = errors only
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // "timestamp", "flag_count", "processing_time_ms"
	SortOrder string // "ASC", "DESC"
}

const selectAnalysisFields = `
	SELECT uuid, request_id, client_id, timestamp,
		   audio_hash, audio_duration, sample_rate,
		   backend, transcript, flag_count, max_severity,
		   processing_time_ms, success, error_message
	FROM analysis_events`

// listSortColumns whitelists ORDER BY targets; anything else falls back
// to timestamp
var listSortColumns = map[string]bool{
	"timestamp":          true,
	"flag_count":         true,
	"processing_time_ms": true,
}

// buildListQuery constructs the SQL query based on ListOptions
func (s *AnalysisEventsStore) buildListQuery(options ListOptions) (string, []interface{}) {
	query := selectAnalysisFields + ` WHERE 1=1`

	var args []interface{}

	if options.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, options.ClientID)
	}

	if options.Backend != "" {
		query += " AND backend = ?"
		args = append(args, options.Backend)
	}

	if options.Success != nil {
		query += " AND success = ?"
		args = append(args, *options.Success)
	}

	if options.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, options.StartTime)
	}

	if options.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, options.EndTime)
	}

	sortBy := options.SortBy
	if !listSortColumns[sortBy] {
		sortBy = "timestamp"
	}

	sortOrder := options.SortOrder
	if sortOrder != "ASC" {
		sortOrder = "DESC"
	}

	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args
}

// scanAnalysisEvent scans a database row into an AnalysisEvent struct
func (s *AnalysisEventsStore) scanAnalysisEvent(scanner interface{}) (*events.AnalysisEvent, error) {
	var event events.AnalysisEvent

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
		&event.UUID, &event.RequestID, &event.ClientID, &event.Timestamp,
		&event.AudioHash, &event.AudioDuration, &event.SampleRate,
		&event.Backend, &event.Transcript, &event.FlagCount, &event.MaxSeverity,
		&event.ProcessingTime, &event.Success, &event.ErrorMessage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("analysis event not found")
		}
		return nil, err
	}

	return &event, nil
}
