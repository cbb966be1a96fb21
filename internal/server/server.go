/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

// Package server wires the analysis pipeline, persistence and message
// bus behind one HTTP server.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MPR2023/VoiceGuardian/internal/api"
	"github.com/MPR2023/VoiceGuardian/internal/config"
	"github.com/MPR2023/VoiceGuardian/internal/lexicon"
	"github.com/MPR2023/VoiceGuardian/internal/logging"
	"github.com/MPR2023/VoiceGuardian/internal/messaging"
	"github.com/MPR2023/VoiceGuardian/internal/moderation"
	"github.com/MPR2023/VoiceGuardian/internal/storage"
	"github.com/MPR2023/VoiceGuardian/internal/transcription"
)

// Server hosts the VoiceGuardian HTTP API and its background services
type Server struct {
	cfg    *config.Config
	mux    *http.ServeMux
	server *http.Server

	db           *storage.Database
	eventsStore  *storage.AnalysisEventsStore
	flagsStore   *storage.FlagsStore
	nats         *messaging.NATSService
	orchestrator *transcription.Orchestrator
	localBackend *transcription.LocalBackend
	retention    *storage.RetentionJob

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a fully wired server from configuration
func New(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Server.DBPath})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	eventsStore := storage.NewAnalysisEventsStore(db)
	flagsStore := storage.NewFlagsStore(db)

	lex, err := loadLexicon(cfg)
	if err != nil {
		db.Close()
		cancel()
		return nil, err
	}
	engine := moderation.NewEngine(lex, cfg.Moderation.Strictness)

	// The bus is optional: without NATS the live backend and flag
	// publication are disabled but upload analysis still works.
	var natsService *messaging.NATSService
	var liveBackend transcription.Backend
	var publisher api.FlagPublisher
	if cfg.NATS.URL != "" {
		natsService = messaging.NewNATSService(cfg.NATS.URL, cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait)
		if err := natsService.Connect(); err != nil {
			logging.LogWarn("NATS unavailable, continuing without message bus")
			natsService = nil
		} else {
			liveBackend = transcription.NewLiveBackend(natsService, cfg.Transcription.LiveCap)
			publisher = natsService
		}
	}

	remoteBackend := transcription.NewRemoteBackend(
		cfg.Transcription.RemoteURL,
		cfg.Transcription.Model,
		cfg.Transcription.RemoteRPS,
	)
	localBackend := transcription.NewLocalBackend(cfg.Transcription.WhisperModel)

	orchestrator := transcription.NewOrchestrator(
		remoteBackend, localBackend, liveBackend, nil,
		transcription.Options{
			PreferServer:  cfg.Transcription.PreferServer,
			PreferBrowser: cfg.Transcription.PreferBrowser,
			CacheTTL:      cfg.Transcription.CacheTTL,
		},
	)

	s := &Server{
		cfg:          cfg,
		mux:          http.NewServeMux(),
		db:           db,
		eventsStore:  eventsStore,
		flagsStore:   flagsStore,
		nats:         natsService,
		orchestrator: orchestrator,
		localBackend: localBackend,
		ctx:          ctx,
		cancel:       cancel,
	}

	if cfg.Retention.AutoCleanup {
		s.retention = storage.NewRetentionJob(eventsStore, cfg.Retention.Days, cfg.Retention.CleanupInterval)
	}

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.routes(engine, publisher)
	return s, nil
}

func loadLexicon(cfg *config.Config) (*lexicon.Lexicon, error) {
	if cfg.Moderation.LexiconPath == "" {
		return lexicon.Default(), nil
	}
	lex, err := lexicon.LoadFile(cfg.Moderation.LexiconPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load lexicon: %w", err)
	}
	return lex, nil
}

// routes sets up HTTP routing
func (s *Server) routes(engine *moderation.Engine, publisher api.FlagPublisher) {
	analysesHandler := api.NewAnalysesHandler(s.orchestrator, engine, s.eventsStore, s.flagsStore, publisher)
	flagsHandler := api.NewFlagsHandler(s.flagsStore, publisher)

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/analyses", analysesHandler.HandleAnalyses)
	s.mux.HandleFunc("/api/analyses/confirm-live", analysesHandler.HandleConfirmLive)
	s.mux.HandleFunc("/api/analyses/", analysesHandler.HandleAnalysisByID)
	s.mux.HandleFunc("/api/flags", flagsHandler.HandleFlags)
	s.mux.HandleFunc("/api/flags/", flagsHandler.HandleFlagByID)

	logging.Sugar.Infow("🌐 HTTP routes configured",
		"analyses_endpoint", "/api/analyses",
		"flags_endpoint", "/api/flags",
		"health_endpoint", "/health")
}

// Start starts the server and background services. It blocks until the
// listener fails or Stop is called.
func (s *Server) Start() error {
	if s.retention != nil {
		go s.retention.Run(s.ctx)
	}

	logging.Sugar.Infow("🚀 VoiceGuardian starting",
		"addr", s.server.Addr,
		"strictness", s.cfg.Moderation.Strictness,
		"stt_url", s.cfg.Transcription.RemoteURL,
		"nats_connected", s.nats != nil)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server and its resources
func (s *Server) Stop() error {
	logging.Sugar.Infow("🛑 Shutting down VoiceGuardian")

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if err := s.localBackend.Close(); err != nil {
		logging.LogWarn("Failed to close local transcription backend")
	}
	if s.nats != nil {
		s.nats.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("database close failed: %w", err)
	}

	logging.Sugar.Infow("✅ VoiceGuardian shut down successfully")
	return nil
}

// handleHealth provides system health information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"database":  s.db.Ping() == nil,
		"bus":       s.nats != nil && s.nats.IsConnected(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		logging.Sugar.Errorw("Failed to write health response", "error", err)
	}
}
