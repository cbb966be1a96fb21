/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MPR2023/VoiceGuardian/internal/flags"
	"github.com/MPR2023/VoiceGuardian/internal/logging"
	"github.com/MPR2023/VoiceGuardian/internal/messaging"
	"github.com/MPR2023/VoiceGuardian/internal/security"
	"github.com/MPR2023/VoiceGuardian/internal/storage"
)

// FlagsHandler serves flag records and their review workflow
type FlagsHandler struct {
	store     *storage.FlagsStore
	publisher FlagPublisher
}

// NewFlagsHandler creates the flags handler
func NewFlagsHandler(store *storage.FlagsStore, publisher FlagPublisher) *FlagsHandler {
	return &FlagsHandler{store: store, publisher: publisher}
}

// ListFlagsResponse represents the response for listing flags
type ListFlagsResponse struct {
	Flags []*flags.FlagRecord `json:"flags"`
	Count int                 `json:"count"`
}

// reviewRequest is the body of POST /api/flags/{id}/review
type reviewRequest struct {
	Action   string `json:"action"`
	Reviewer string `json:"reviewer"`
	Note     string `json:"note"`
}

// HandleFlags handles GET /api/flags
func (h *FlagsHandler) HandleFlags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	options := storage.FlagListOptions{
		Severity: query.Get("severity"),
		Category: query.Get("category"),
		Status:   query.Get("status"),
		Limit:    parseIntParam(query.Get("limit"), 50),
		Offset:   parseIntParam(query.Get("offset"), 0),
	}
	if options.Limit > 200 {
		options.Limit = 200
	}

	records, err := h.store.List(options)
	if err != nil {
		logging.LogError(err, "Failed to list flags")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ListFlagsResponse{Flags: records, Count: len(records)})
}

// HandleFlagByID handles GET /api/flags/{id} and POST /api/flags/{id}/review
func (h *FlagsHandler) HandleFlagByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/flags/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Flag ID is required", http.StatusBadRequest)
		return
	}

	id := parts[0]
	if err := security.ValidateRecordID(id); err != nil {
		http.Error(w, "Invalid flag ID", http.StatusBadRequest)
		return
	}

	if len(parts) > 1 && parts[1] == "review" {
		h.reviewFlag(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.getFlagByID(w, id)
}

func (h *FlagsHandler) getFlagByID(w http.ResponseWriter, id string) {
	record, err := h.store.GetByID(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Flag not found", http.StatusNotFound)
			return
		}
		logging.LogError(err, "Failed to get flag", zap.String("flag_id", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// reviewFlag handles POST /api/flags/{id}/review
func (h *FlagsHandler) reviewFlag(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	record, err := h.store.GetByID(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Flag not found", http.StatusNotFound)
			return
		}
		logging.LogError(err, "Failed to get flag", zap.String("flag_id", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := record.Apply(req.Action, req.Reviewer, req.Note); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.Update(record); err != nil {
		logging.LogError(err, "Failed to update flag", zap.String("flag_id", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Escalated critical flags go to the alerting subject.
	if req.Action == flags.ActionEscalate && record.Severity == flags.SeverityCritical && h.publisher != nil {
		event := &messaging.FlagEvent{
			FlagID:       record.ID,
			AnalysisUUID: record.AnalysisUUID,
			Phrase:       record.Phrase,
			Severity:     record.Severity,
			Category:     record.Category,
			Status:       record.Status,
			Reviewer:     req.Reviewer,
			Confidence:   record.Confidence,
			Timestamp:    time.Now().Unix(),
		}
		if err := h.publisher.PublishEscalation(event); err != nil {
			logging.LogWarn("Failed to publish escalation",
				zap.String("flag_id", record.ID),
				zap.Error(err),
			)
		}
	}

	logging.Sugar.Infow("Flag reviewed",
		"flag_id", record.ID,
		"action", req.Action,
		"reviewer", security.SanitizeLogInput(req.Reviewer),
		"status", record.Status,
	)

	writeJSON(w, http.StatusOK, record)
}
