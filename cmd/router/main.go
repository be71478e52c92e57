// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// AliceInTensorLand — Mail Router Service
//
// Entry point for the email triage daemon. It:
//  1. Loads configuration from config.yaml
//  2. Connects to Redis (record store) and PostgreSQL (staff directory)
//  3. Builds the IMAP source, classifier client, and SMTP sender
//  4. Runs the dispatch loop (ingest → classify → route → forward)
//  5. Serves a health check endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/aliceintensorland/mailrouter/internal/classifier"
	"github.com/aliceintensorland/mailrouter/internal/config"
	"github.com/aliceintensorland/mailrouter/internal/directory"
	"github.com/aliceintensorland/mailrouter/internal/dispatch"
	"github.com/aliceintensorland/mailrouter/internal/mailsource"
	"github.com/aliceintensorland/mailrouter/internal/sender"
	"github.com/aliceintensorland/mailrouter/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mail router service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailbox", cfg.IMAP.Mailbox,
		"classifier_model", cfg.Classifier.Model,
		"floor_delay", cfg.FloorDelay,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	recordStore := store.NewStore(rdb)
	if err := recordStore.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	dir, err := directory.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise directory store", "error", err)
		os.Exit(1)
	}

	// --- Mail Source ---
	var tokenSource oauth2.TokenSource
	if cfg.IMAP.ClientID != "" {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.IMAP.ClientID,
			ClientSecret: cfg.IMAP.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://mail.google.com/"},
		}
		tokenSource = oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.IMAP.RefreshToken})
		slog.Info("mailbox auth: XOAUTH2")
	}

	source := mailsource.NewSource(mailsource.Config{
		Host:          cfg.IMAP.Host,
		Port:          cfg.IMAP.Port,
		Username:      cfg.IMAP.Username,
		Password:      cfg.IMAP.Password,
		Mailbox:       cfg.IMAP.Mailbox,
		AttachmentDir: cfg.AttachmentDir,
		TokenSource:   tokenSource,
	})

	// --- Classifier ---
	cls := classifier.NewClient(classifier.Config{
		BaseURL: cfg.Classifier.URL,
		Model:   cfg.Classifier.Model,
		Timeout: cfg.Classifier.Timeout,
	})

	// --- Sender ---
	smtpClient := sender.NewClient(sender.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	// --- Dispatch Loop ---
	orch := dispatch.New(dispatch.Config{
		Store:               recordStore,
		Source:              source,
		Classifier:          cls,
		Directory:           dir,
		Sender:              smtpClient,
		FloorDelay:          cfg.FloorDelay,
		MaxClassifyAttempts: cfg.MaxClassifyAttempts,
	})

	go orch.Run(ctx)

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := recordStore.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := dir.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stops the dispatch loop between records

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("mail router listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mail router stopped")
}
