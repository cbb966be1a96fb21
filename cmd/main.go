/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/MPR2023/VoiceGuardian/internal/config"
	"github.com/MPR2023/VoiceGuardian/internal/logging"
	"github.com/MPR2023/VoiceGuardian/internal/server"
)

func main() {
	// Initialize structured logging
	if err := logging.Initialize(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	cfg, err := config.Load()
	if err != nil {
		logging.LogError(err, "Failed to load configuration")
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		logging.LogError(err, "Failed to create server")
		log.Fatalf("Failed to create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Sugar.Infow("Received shutdown signal", "signal", sig.String())
		if err := srv.Stop(); err != nil {
			logging.LogError(err, "Shutdown failed")
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			logging.LogError(err, "Server failed")
			log.Fatalf("Server failed: %v", err)
		}
	}
}
