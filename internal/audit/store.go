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

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a Postgres-backed audit sink. Inserts are best-effort: a failed
// insert is logged and the request continues.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an audit store backed by the given Postgres pool.
// It ensures the audit_events table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	slog.Info("audit store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id         UUID PRIMARY KEY,
			action     TEXT NOT NULL,
			fields     JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
	`)
	return err
}

// Record inserts one audit event. Insert failures never propagate.
func (s *Store) Record(ctx context.Context, action string, fields map[string]any) {
	payload, err := json.Marshal(fields)
	if err != nil {
		slog.Warn("audit event fields not serialisable", "action", action, "error", err)
		payload = []byte("{}")
	}

	// Bounded so a slow database cannot stall request handling.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, action, fields)
		VALUES ($1, $2, $3)
	`, uuid.New(), action, payload)
	if err != nil {
		slog.Warn("audit event insert failed", "action", action, "error", err)
	}
}
