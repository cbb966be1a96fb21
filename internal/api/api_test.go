package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MPR2023/VoiceGuardian/internal/config"
	"github.com/MPR2023/VoiceGuardian/internal/flags"
	"github.com/MPR2023/VoiceGuardian/internal/lexicon"
	"github.com/MPR2023/VoiceGuardian/internal/logging"
	"github.com/MPR2023/VoiceGuardian/internal/messaging"
	"github.com/MPR2023/VoiceGuardian/internal/moderation"
	"github.com/MPR2023/VoiceGuardian/internal/storage"
	"github.com/MPR2023/VoiceGuardian/internal/transcription"
)

// stubBackend returns a fixed transcription result
type stubBackend struct {
	name string
	text string
	err  error
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Transcribe(ctx context.Context, req transcription.Request) (*transcription.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &transcription.Result{Text: s.text}, nil
}

// capturePublisher records published flag events
type capturePublisher struct {
	events      []*messaging.FlagEvent
	escalations []*messaging.FlagEvent
}

func (c *capturePublisher) PublishFlagEvent(event *messaging.FlagEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) PublishEscalation(event *messaging.FlagEvent) error {
	c.escalations = append(c.escalations, event)
	return nil
}

type testEnv struct {
	analyses  *AnalysesHandler
	flagsAPI  *FlagsHandler
	events    *storage.AnalysisEventsStore
	flags     *storage.FlagsStore
	publisher *capturePublisher
}

func newTestEnv(t *testing.T, remote transcription.Backend) *testEnv {
	t.Helper()

	if err := logging.Initialize(); err != nil {
		t.Fatalf("failed to initialize logging: %v", err)
	}

	db, err := storage.NewDatabase(storage.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eventsStore := storage.NewAnalysisEventsStore(db)
	flagsStore := storage.NewFlagsStore(db)
	publisher := &capturePublisher{}

	orch := transcription.NewOrchestrator(remote, nil, nil, nil, transcription.Options{})
	engine := moderation.NewEngine(lexicon.Default(), config.StrictnessStandard)

	return &testEnv{
		analyses:  NewAnalysesHandler(orch, engine, eventsStore, flagsStore, publisher),
		flagsAPI:  NewFlagsHandler(flagsStore, publisher),
		events:    eventsStore,
		flags:     flagsStore,
		publisher: publisher,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestCreateTextAnalysis(t *testing.T) {
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote})

	w := postJSON(t, env.analyses.HandleAnalyses, "/api/analyses", map[string]string{
		"transcript": "that was a stupid thing to say",
		"client_id":  "client-1",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp AnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Analysis.Backend != "text" {
		t.Errorf("expected text backend, got %q", resp.Analysis.Backend)
	}
	if len(resp.Flags) != 1 || resp.Flags[0].Phrase != "stupid" {
		t.Errorf("expected one stupid flag, got %+v", resp.Flags)
	}
	if resp.Analysis.MaxSeverity != flags.SeverityWarning {
		t.Errorf("expected warning severity, got %q", resp.Analysis.MaxSeverity)
	}

	// Stored flags are published on the bus.
	if len(env.publisher.events) != 1 {
		t.Errorf("expected 1 published flag event, got %d", len(env.publisher.events))
	}

	// And the analysis is retrievable afterwards.
	stored, err := env.events.GetByUUID(resp.Analysis.UUID)
	if err != nil {
		t.Fatalf("stored analysis not found: %v", err)
	}
	if stored.FlagCount != 1 {
		t.Errorf("expected flag count 1, got %d", stored.FlagCount)
	}
}

func TestCreateTextAnalysisValidation(t *testing.T) {
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote})

	w := postJSON(t, env.analyses.HandleAnalyses, "/api/analyses", map[string]string{
		"transcript": "   ",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty transcript, got %d", w.Code)
	}
}

func multipartAudioRequest(t *testing.T, mode string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write([]byte("fake wav bytes"))
	if mode != "" {
		writer.WriteField("mode", mode)
	}
	writer.WriteField("client_id", "client-1")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestCreateAudioAnalysis(t *testing.T) {
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote, text: "you stupid idiot listen"})

	w := httptest.NewRecorder()
	env.analyses.HandleAnalyses(w, multipartAudioRequest(t, ""))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp AnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Analysis.Backend != transcription.BackendRemote {
		t.Errorf("expected remote backend, got %q", resp.Analysis.Backend)
	}
	if len(resp.Flags) != 2 {
		t.Errorf("expected 2 flags, got %d", len(resp.Flags))
	}
	if resp.Analysis.AudioHash == "" {
		t.Error("expected audio hash to be recorded")
	}

	// Status sequence is surfaced verbatim.
	expected := []string{
		transcription.StatusConnecting,
		transcription.StatusTranscribing(transcription.BackendRemote),
		transcription.StatusSucceeded,
	}
	if len(resp.Statuses) != len(expected) {
		t.Fatalf("expected statuses %v, got %v", expected, resp.Statuses)
	}
	for i := range expected {
		if resp.Statuses[i] != expected[i] {
			t.Errorf("status[%d]: expected %q, got %q", i, expected[i], resp.Statuses[i])
		}
	}
}

func TestCreateAudioAnalysisExhausted(t *testing.T) {
	backendErr := &transcription.BackendError{
		Backend: transcription.BackendRemote,
		Kind:    transcription.FailureNetwork,
		Err:     errors.New("connection refused"),
	}
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote, err: backendErr})

	w := httptest.NewRecorder()
	env.analyses.HandleAnalyses(w, multipartAudioRequest(t, ""))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	var resp AnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.State != string(transcription.StateExhausted) {
		t.Errorf("expected exhausted state, got %q", resp.State)
	}
	if !strings.Contains(resp.Message, "transcription service") {
		t.Errorf("expected remediation message, got %q", resp.Message)
	}
	if resp.Analysis.Success {
		t.Error("expected failed analysis record")
	}
}

func TestMissingAudioFile(t *testing.T) {
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("mode", "smart")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	env.analyses.HandleAnalyses(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetAnalysisByID(t *testing.T) {
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote})

	created := postJSON(t, env.analyses.HandleAnalyses, "/api/analyses", map[string]string{
		"transcript": "a stupid remark",
	})
	var resp AnalysisResponse
	if err := json.Unmarshal(created.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/"+resp.Analysis.UUID, nil)
	w := httptest.NewRecorder()
	env.analyses.HandleAnalysisByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got AnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Analysis.UUID != resp.Analysis.UUID {
		t.Errorf("uuid mismatch: %q vs %q", got.Analysis.UUID, resp.Analysis.UUID)
	}
	if len(got.Flags) != 1 {
		t.Errorf("expected flags included, got %d", len(got.Flags))
	}
	if got.State != string(transcription.StateSucceeded) {
		t.Errorf("expected succeeded state, got %q", got.State)
	}

	// Unknown uuid is a 404.
	req = httptest.NewRequest(http.MethodGet, "/api/analyses/does-not-exist", nil)
	w = httptest.NewRecorder()
	env.analyses.HandleAnalysisByID(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetAnalysisByIDFailedRun(t *testing.T) {
	backendErr := &transcription.BackendError{
		Backend: transcription.BackendRemote,
		Kind:    transcription.FailureNetwork,
		Err:     errors.New("connection refused"),
	}
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote, err: backendErr})

	w := httptest.NewRecorder()
	env.analyses.HandleAnalyses(w, multipartAudioRequest(t, ""))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	var created AnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	// The stored record reports the run's terminal state, not a blanket
	// success.
	req := httptest.NewRequest(http.MethodGet, "/api/analyses/"+created.Analysis.UUID, nil)
	w = httptest.NewRecorder()
	env.analyses.HandleAnalysisByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got AnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Analysis.Success {
		t.Error("expected failed analysis record")
	}
	if got.State != string(transcription.StateExhausted) {
		t.Errorf("expected exhausted state, got %q", got.State)
	}
}

func TestListAnalyses(t *testing.T) {
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote})

	for _, transcript := range []string{"first stupid remark", "second clean remark"} {
		postJSON(t, env.analyses.HandleAnalyses, "/api/analyses", map[string]string{
			"transcript": transcript,
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/analyses?page_size=10", nil)
	w := httptest.NewRecorder()
	env.analyses.HandleAnalyses(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ListAnalysesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Total != 2 || len(resp.Analyses) != 2 {
		t.Errorf("expected 2 analyses, got total=%d len=%d", resp.Total, len(resp.Analyses))
	}
}

func TestFlagsListAndReview(t *testing.T) {
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote})

	// Seed one analysis with a critical flag ("hate" is a high tier term).
	postJSON(t, env.analyses.HandleAnalyses, "/api/analyses", map[string]string{
		"transcript": "so much hate in this clip",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/flags?severity=critical", nil)
	w := httptest.NewRecorder()
	env.flagsAPI.HandleFlags(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list ListFlagsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("expected 1 critical flag, got %d", list.Count)
	}
	flagID := list.Flags[0].ID

	// Escalating a critical flag publishes to the escalation subject.
	w = postJSON(t, env.flagsAPI.HandleFlagByID, "/api/flags/"+flagID+"/review", map[string]string{
		"action":   "escalate",
		"reviewer": "alex",
		"note":     "needs legal review",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var reviewed flags.FlagRecord
	if err := json.Unmarshal(w.Body.Bytes(), &reviewed); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if reviewed.Status != flags.StatusEscalated {
		t.Errorf("expected escalated status, got %q", reviewed.Status)
	}
	if len(reviewed.History) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(reviewed.History))
	}
	if len(env.publisher.escalations) != 1 {
		t.Errorf("expected escalation published, got %d", len(env.publisher.escalations))
	}

	// Unknown action is rejected without touching the record.
	w = postJSON(t, env.flagsAPI.HandleFlagByID, "/api/flags/"+flagID+"/review", map[string]string{
		"action":   "archive",
		"reviewer": "alex",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown action, got %d", w.Code)
	}
}

func TestFlagByIDNotFound(t *testing.T) {
	env := newTestEnv(t, &stubBackend{name: transcription.BackendRemote})

	req := httptest.NewRequest(http.MethodGet, "/api/flags/nope", nil)
	w := httptest.NewRecorder()
	env.flagsAPI.HandleFlagByID(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/flags/bad..id", nil)
	w = httptest.NewRecorder()
	env.flagsAPI.HandleFlagByID(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid id, got %d", w.Code)
	}
}
