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

// Inbox Triage — API Server
//
// Entry point for the triage service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to Redis (sessions) and optionally PostgreSQL (audit trail)
//  3. Loads the sender tier directory
//  4. Builds the LLM gateway and the triage engine
//  5. Serves the HTTP API with OAuth sign-in against Azure AD
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jearle/inboxtriage/internal/audit"
	"github.com/jearle/inboxtriage/internal/auth"
	"github.com/jearle/inboxtriage/internal/config"
	"github.com/jearle/inboxtriage/internal/engine"
	"github.com/jearle/inboxtriage/internal/llm"
	"github.com/jearle/inboxtriage/internal/server"
	"github.com/jearle/inboxtriage/internal/tiers"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting inbox triage service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"model", cfg.AnthropicModel,
		"llm_max_retries", cfg.LLMMaxRetries,
		"llm_timeout", cfg.LLMTimeout,
		"env", cfg.AppEnv,
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

	sessions := auth.NewSessionStore(rdb, cfg.SessionTTL)
	if err := sessions.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Optional Audit Sink (Postgres) ---
	var sink audit.Sink
	var pgPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		store, err := audit.NewStore(ctx, pgPool)
		if err != nil {
			slog.Error("failed to initialise audit store", "error", err)
			os.Exit(1)
		}
		sink = store
		slog.Info("audit trail enabled")
	}
	auditLog := audit.New(sink)

	// --- Sender Tiers ---
	directory, err := tiers.Load(cfg.TierConfigPath)
	if err != nil {
		if errors.Is(err, tiers.ErrConfigNotFound) {
			slog.Error("tier config not found, create it before starting",
				"path", cfg.TierConfigPath,
			)
		} else {
			slog.Error("failed to load tier config", "error", err)
		}
		os.Exit(1)
	}

	// --- LLM Gateway ---
	gateway := llm.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel,
		llm.WithMaxRetries(cfg.LLMMaxRetries),
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithCallsPerMinute(cfg.LLMCallsPerMin),
	)

	// --- Triage Engine ---
	eng := engine.New(engine.Config{
		Tiers:            directory,
		Gateway:          gateway,
		Audit:            auditLog,
		MaxTokensSummary: cfg.MaxTokensSummary,
		MaxTokensDraft:   cfg.MaxTokensDraft,
		SummaryWorkers:   cfg.SummaryWorkers,
	})

	// --- HTTP API ---
	api := server.New(server.Config{
		AppConfig: cfg,
		Engine:    eng,
		Gateway:   gateway,
		Sessions:  sessions,
		OAuth:     auth.OAuthConfig(cfg),
		Audit:     auditLog,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // LLM calls can run long
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		if pgPool != nil {
			pgPool.Close()
		}
	}()

	slog.Info("triage service listening", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("triage service stopped")
}
