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

// AliceInTensorLand — Directory Seed Command
//
// Standalone CLI tool that creates the staff and feedback tables and
// populates them with the demo roster. Intended for new deployments and
// local development.
//
// Usage:
//
//	go run ./cmd/seed/ [--staff] [--feedback]
//
// With no flags both tables are seeded.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aliceintensorland/mailrouter/internal/config"
	"github.com/aliceintensorland/mailrouter/internal/directory"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	staffFlag := flag.Bool("staff", false, "Seed the staff directory")
	feedbackFlag := flag.Bool("feedback", false, "Seed the feedback corpus")
	flag.Parse()

	seedStaff := *staffFlag
	seedFeedback := *feedbackFlag
	if !seedStaff && !seedFeedback {
		seedStaff, seedFeedback = true, true
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	if seedStaff {
		n, err := dir.SeedStaff(ctx)
		if err != nil {
			slog.Error("staff seed failed", "inserted", n, "error", err)
			os.Exit(1)
		}
		slog.Info("staff directory seeded", "inserted", n)
	}

	if seedFeedback {
		n, err := dir.SeedFeedback(ctx)
		if err != nil {
			slog.Error("feedback seed failed", "inserted", n, "error", err)
			os.Exit(1)
		}
		slog.Info("feedback corpus seeded", "inserted", n)
	}

	slog.Info("seed complete")
}
