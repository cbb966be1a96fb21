/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package api exposes the moderation pipeline and its records over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MPR2023/VoiceGuardian/internal/audio"
	"github.com/MPR2023/VoiceGuardian/internal/events"
	"github.com/MPR2023/VoiceGuardian/internal/flags"
	"github.com/MPR2023/VoiceGuardian/internal/logging"
	"github.com/MPR2023/VoiceGuardian/internal/messaging"
	"github.com/MPR2023/VoiceGuardian/internal/moderation"
	"github.com/MPR2023/VoiceGuardian/internal/security"
	"github.com/MPR2023/VoiceGuardian/internal/storage"
	"github.com/MPR2023/VoiceGuardian/internal/transcription"
)

// maxAudioUpload bounds multipart audio payloads (32MB)
const maxAudioUpload = 32 << 20

// FlagPublisher publishes flag events to the message bus. Nil-able:
// deployments without NATS skip publication.
type FlagPublisher interface {
	PublishFlagEvent(event *messaging.FlagEvent) error
	PublishEscalation(event *messaging.FlagEvent) error
}

// AnalysesHandler runs the analysis pipeline and serves stored analyses
type AnalysesHandler struct {
	orchestrator *transcription.Orchestrator
	engine       *moderation.Engine
	eventsStore  *storage.AnalysisEventsStore
	flagsStore   *storage.FlagsStore
	publisher    FlagPublisher
}

// NewAnalysesHandler creates the analyses handler
func NewAnalysesHandler(
	orchestrator *transcription.Orchestrator,
	engine *moderation.Engine,
	eventsStore *storage.AnalysisEventsStore,
	flagsStore *storage.FlagsStore,
	publisher FlagPublisher,
) *AnalysesHandler {
	return &AnalysesHandler{
		orchestrator: orchestrator,
		engine:       engine,
		eventsStore:  eventsStore,
		flagsStore:   flagsStore,
		publisher:    publisher,
	}
}

// AnalysisResponse is the result of one analysis run
type AnalysisResponse struct {
	Analysis *events.AnalysisEvent `json:"analysis"`
	Flags    []flags.FlagRecord    `json:"flags"`
	Statuses []string              `json:"statuses"`
	State    string                `json:"state"`
	Message  string                `json:"message,omitempty"`
}

// ListAnalysesResponse represents the response for listing analyses
type ListAnalysesResponse struct {
	Analyses   []*events.AnalysisEvent `json:"analyses"`
	Total      int64                   `json:"total"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"page_size"`
	TotalPages int                     `json:"total_pages"`
}

// textAnalysisRequest is the JSON body for transcript-only runs
type textAnalysisRequest struct {
	Transcript string `json:"transcript"`
	ClientID   string `json:"client_id"`
}

// confirmLiveRequest resumes an awaiting-confirmation run
type confirmLiveRequest struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id"`
}

// recordingSink captures the status sequence for the API response
type recordingSink struct {
	statuses []string
}

func (r *recordingSink) Status(status string) {
	r.statuses = append(r.statuses, status)
	logging.LogTranscription("orchestrator", "status", zap.String("status", status))
}

// HandleAnalyses handles GET /api/analyses and POST /api/analyses
func (h *AnalysesHandler) HandleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listAnalyses(w, r)
	case http.MethodPost:
		h.createAnalysis(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAnalysisByID handles GET /api/analyses/{uuid}
func (h *AnalysesHandler) HandleAnalysisByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/analyses/")
	if err := security.ValidateRecordID(id); err != nil {
		http.Error(w, "Analysis ID is required", http.StatusBadRequest)
		return
	}

	event, err := h.eventsStore.GetByUUID(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Analysis not found", http.StatusNotFound)
			return
		}
		logging.LogError(err, "Failed to get analysis", zap.String("uuid", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	records, err := h.flagsStore.ListByAnalysis(id)
	if err != nil {
		logging.LogError(err, "Failed to list analysis flags", zap.String("uuid", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	flagValues := make([]flags.FlagRecord, 0, len(records))
	for _, record := range records {
		flagValues = append(flagValues, *record)
	}

	writeJSON(w, http.StatusOK, AnalysisResponse{
		Analysis: event,
		Flags:    flagValues,
		State:    string(storedState(event)),
	})
}

// storedState reconstructs the terminal run state for a persisted analysis
func storedState(event *events.AnalysisEvent) transcription.State {
	if event.Success {
		return transcription.StateSucceeded
	}
	return transcription.StateExhausted
}

// HandleConfirmLive handles POST /api/analyses/confirm-live
func (h *AnalysesHandler) HandleConfirmLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req confirmLiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	sink := &recordingSink{}
	outcome, err := h.orchestrator.ConfirmLiveWithSink(r.Context(),
		transcription.Request{SessionID: req.SessionID}, sink)
	if err != nil {
		if err == transcription.ErrSessionActive {
			http.Error(w, "A live session is already active", http.StatusConflict)
			return
		}
		logging.LogError(err, "Live confirmation failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.finishAnalysis(w, outcome, sink, req.ClientID, nil)
}

// createAnalysis handles POST /api/analyses. Multipart bodies carry audio
// for transcription; JSON bodies carry a ready transcript.
func (h *AnalysesHandler) createAnalysis(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "application/json") {
		h.createTextAnalysis(w, r)
		return
	}

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "audio file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		http.Error(w, "Failed to read audio", http.StatusBadRequest)
		return
	}

	mode := transcription.Mode(r.FormValue("mode"))
	clientID := r.FormValue("client_id")
	sessionID := r.FormValue("session_id")

	sink := &recordingSink{}
	outcome, err := h.orchestrator.RunWithSink(r.Context(), mode,
		transcription.Request{Audio: audioData, SessionID: sessionID}, sink)
	if err != nil {
		if err == transcription.ErrSessionActive {
			http.Error(w, "A live session is already active", http.StatusConflict)
			return
		}
		logging.LogError(err, "Transcription run failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.finishAnalysis(w, outcome, sink, clientID, audioData)
}

// createTextAnalysis runs moderation over a client-supplied transcript
func (h *AnalysesHandler) createTextAnalysis(w http.ResponseWriter, r *http.Request) {
	var req textAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		http.Error(w, "transcript is required", http.StatusBadRequest)
		return
	}

	event := events.NewAnalysisEvent(req.ClientID, uuid.NewString())
	event.SetTranscript("text", req.Transcript)

	records := h.moderate(event, req.Transcript, nil)
	h.persistAndRespond(w, event, records, nil, string(transcription.StateSucceeded), "")
}

// finishAnalysis runs the moderation half of the pipeline over a
// transcription outcome
func (h *AnalysesHandler) finishAnalysis(
	w http.ResponseWriter,
	outcome *transcription.Outcome,
	sink *recordingSink,
	clientID string,
	audioData []byte,
) {
	event := events.NewAnalysisEvent(clientID, uuid.NewString())

	if len(audioData) > 0 {
		if info, err := audio.Inspect(audioData); err == nil {
			event.SetAudioMetadata(audio.Hash(audioData), info.Duration, info.SampleRate)
		} else {
			event.SetAudioMetadata(audio.Hash(audioData), 0, 0)
		}
	}

	switch outcome.State {
	case transcription.StateAwaitingConfirmation:
		// Nothing is persisted yet; the client re-posts through
		// confirm-live once the operator accepts.
		writeJSON(w, http.StatusAccepted, AnalysisResponse{
			Statuses: sink.statuses,
			State:    string(outcome.State),
			Message:  "Server transcription failed. Confirm to retry with live capture.",
		})
		return

	case transcription.StateExhausted:
		event.SetError(lastFailure(outcome))
		event.Backend = outcome.Backend
		if err := h.eventsStore.Insert(event); err != nil {
			logging.LogError(err, "Failed to store failed analysis")
		}
		writeJSON(w, http.StatusBadGateway, AnalysisResponse{
			Analysis: event,
			Statuses: sink.statuses,
			State:    string(outcome.State),
			Message:  failureMessage(outcome),
		})
		return
	}

	event.SetTranscript(outcome.Backend, outcome.Result.Text)
	records := h.moderate(event, outcome.Result.Text, outcome.Result.Words)
	h.persistAndRespond(w, event, records, sink.statuses, string(outcome.State), "")
}

// moderate runs the engine and projects spans into flag records
func (h *AnalysesHandler) moderate(event *events.AnalysisEvent, transcript string, words []transcription.Word) []flags.FlagRecord {
	timed := make([]moderation.TranscriptWord, 0, len(words))
	for _, w := range words {
		timed = append(timed, moderation.TranscriptWord{Word: w.Word, Start: w.Start, End: w.End})
	}

	spans := h.engine.Moderate(transcript, timed)
	records := flags.ProjectAll(spans, transcript, event.UUID)
	event.SetModerationResult(len(records), flags.MaxSeverity(records))
	return records
}

func (h *AnalysesHandler) persistAndRespond(
	w http.ResponseWriter,
	event *events.AnalysisEvent,
	records []flags.FlagRecord,
	statuses []string,
	state, message string,
) {
	if err := h.eventsStore.Insert(event); err != nil {
		logging.LogError(err, "Failed to store analysis", zap.String("uuid", event.UUID))
		http.Error(w, "Failed to store analysis", http.StatusInternalServerError)
		return
	}
	if err := h.flagsStore.InsertAll(records); err != nil {
		logging.LogError(err, "Failed to store flags", zap.String("uuid", event.UUID))
		http.Error(w, "Failed to store flags", http.StatusInternalServerError)
		return
	}

	h.publishFlags(records)

	logging.LogAnalysisEvent(event, "Analysis completed",
		zap.Int("flags", len(records)),
		zap.String("backend", event.Backend),
	)

	writeJSON(w, http.StatusCreated, AnalysisResponse{
		Analysis: event,
		Flags:    records,
		Statuses: statuses,
		State:    state,
		Message:  message,
	})
}

// publishFlags pushes stored flags onto the bus; critical flags go out
// regardless, others are best-effort alerting fodder
func (h *AnalysesHandler) publishFlags(records []flags.FlagRecord) {
	if h.publisher == nil {
		return
	}

	for _, record := range records {
		event := &messaging.FlagEvent{
			FlagID:       record.ID,
			AnalysisUUID: record.AnalysisUUID,
			Phrase:       record.Phrase,
			Severity:     record.Severity,
			Category:     record.Category,
			Status:       record.Status,
			Confidence:   record.Confidence,
			Timestamp:    time.Now().Unix(),
		}
		if err := h.publisher.PublishFlagEvent(event); err != nil {
			logging.LogWarn("Failed to publish flag event",
				zap.String("flag_id", record.ID),
				zap.Error(err),
			)
		}
	}
}

// listAnalyses handles GET /api/analyses
func (h *AnalysesHandler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := parseIntParam(query.Get("page"), 1)
	pageSize := parseIntParam(query.Get("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}

	options := storage.ListOptions{
		ClientID:  query.Get("client_id"),
		Backend:   query.Get("backend"),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
		SortBy:    query.Get("sort_by"),
		SortOrder: strings.ToUpper(query.Get("sort_order")),
	}

	if successStr := query.Get("success"); successStr != "" {
		if success, err := strconv.ParseBool(successStr); err == nil {
			options.Success = &success
		}
	}

	if startTimeStr := query.Get("start_time"); startTimeStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
			options.StartTime = &startTime
		}
	}
	if endTimeStr := query.Get("end_time"); endTimeStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endTimeStr); err == nil {
			options.EndTime = &endTime
		}
	}

	total, err := h.eventsStore.Count(options)
	if err != nil {
		logging.LogError(err, "Failed to count analyses")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	analyses, err := h.eventsStore.List(options)
	if err != nil {
		logging.LogError(err, "Failed to list analyses")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	writeJSON(w, http.StatusOK, ListAnalysesResponse{
		Analyses:   analyses,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

func lastFailure(outcome *transcription.Outcome) error {
	if len(outcome.Failures) == 0 {
		return errors.New("transcription exhausted with no usable backend")
	}
	return outcome.Failures[len(outcome.Failures)-1]
}

// failureMessage picks the operator-facing message for an exhausted run
func failureMessage(outcome *transcription.Outcome) string {
	if len(outcome.Failures) == 0 {
		return "Transcription failed."
	}
	return outcome.Failures[len(outcome.Failures)-1].Message()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// parseIntParam parses integer parameter with default value
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}

	if value, err := strconv.Atoi(param); err == nil {
		return value
	}

	return defaultValue
}
