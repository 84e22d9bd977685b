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

// Package server exposes the triage pipeline over HTTP. All /api/* routes
// require a signed-in session; auth, health, and metrics endpoints do not.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/jearle/inboxtriage/internal/audit"
	"github.com/jearle/inboxtriage/internal/auth"
	"github.com/jearle/inboxtriage/internal/config"
	"github.com/jearle/inboxtriage/internal/engine"
	"github.com/jearle/inboxtriage/internal/graph"
	"github.com/jearle/inboxtriage/internal/llm"
)

// SessionStore is the session persistence the server needs.
// *auth.SessionStore satisfies it.
type SessionStore interface {
	Create(ctx context.Context, sess *auth.Session) (string, error)
	Save(ctx context.Context, id string, sess *auth.Session) error
	Get(ctx context.Context, id string) (*auth.Session, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// UsageReporter exposes session-level gateway usage. *llm.Client satisfies it.
type UsageReporter interface {
	Stats() llm.Stats
	ResetStats()
}

// Config collects the server's collaborators.
type Config struct {
	AppConfig *config.Config
	Engine    *engine.Engine
	Gateway   UsageReporter
	Sessions  SessionStore
	OAuth     *oauth2.Config
	Audit     *audit.Logger
}

// Server is the HTTP API for the triage service.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	gateway  UsageReporter
	sessions SessionStore
	oauth    *oauth2.Config
	audit    *audit.Logger

	// newGraphClient builds a Graph client for a request's session.
	// Swappable in tests.
	newGraphClient func(ctx context.Context, sessionID string, sess *auth.Session) (*graph.Client, error)
}

// New creates the server.
func New(cfg Config) *Server {
	s := &Server{
		cfg:      cfg.AppConfig,
		engine:   cfg.Engine,
		gateway:  cfg.Gateway,
		sessions: cfg.Sessions,
		oauth:    cfg.OAuth,
		audit:    cfg.Audit,
	}
	if s.audit == nil {
		s.audit = audit.New(nil)
	}
	s.newGraphClient = func(ctx context.Context, sessionID string, sess *auth.Session) (*graph.Client, error) {
		hc, err := auth.HTTPClient(ctx, s.oauth, s.sessions, sessionID, sess)
		if err != nil {
			return nil, err
		}
		return graph.NewClient(hc, s.cfg.GraphBaseURL), nil
	}
	return s
}

// Handler returns the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	mux.HandleFunc("POST /api/inbox/process", s.handleProcessInbox)
	mux.HandleFunc("POST /api/emails/{id}/summarize", s.handleSummarize)
	mux.HandleFunc("POST /api/emails/{id}/draft", s.handleDraft)
	mux.HandleFunc("POST /api/emails/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /api/emails/send", s.handleSend)
	mux.HandleFunc("GET /api/session/stats", s.handleStats)
	mux.HandleFunc("POST /api/session/reset", s.handleResetStats)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withRequestID(s.withAccessLog(s.withAuth(mux)))
}

// graphClient builds a Graph client for the request's session. On failure it
// writes the error response itself and returns false.
func (s *Server) graphClient(w http.ResponseWriter, r *http.Request) (*graph.Client, bool) {
	id, sess := sessionFrom(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	gc, err := s.newGraphClient(r.Context(), id, sess)
	if err != nil {
		slog.Error("graph client build failed", "error", err)
		writeError(w, http.StatusUnauthorized, "token refresh failed, sign in again")
		return nil, false
	}
	return gc, true
}

// newGraphClientForToken builds a Graph client straight from a fresh token,
// used during the OAuth callback before a session ID exists.
func (s *Server) newGraphClientForToken(ctx context.Context, sess *auth.Session) *graph.Client {
	tok := &oauth2.Token{
		AccessToken: sess.AccessToken,
		TokenType:   "Bearer",
		Expiry:      sess.Expiry,
	}
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	return graph.NewClient(hc, s.cfg.GraphBaseURL)
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError sends a JSON error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
