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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jearle/inboxtriage/internal/auth"
	"github.com/jearle/inboxtriage/internal/graph"
	"github.com/jearle/inboxtriage/internal/models"
)

// stateCookie carries the OAuth CSRF state between login and callback.
const stateCookie = "inboxtriage_oauth_state"

// styleEmailLimit caps how many sent messages are fetched for style context.
const styleEmailLimit = 10

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	stateParam := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookie)
	if err != nil || stateParam == "" || stateParam != cookie.Value {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	// State is single-use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	tok, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("token exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	sess := &auth.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	// Best effort: a missing profile permission should not block sign-in.
	gc := s.newGraphClientForToken(r.Context(), sess)
	if user, err := gc.GetCurrentUser(r.Context()); err == nil && user != nil {
		sess.UserName = user.Name
		sess.UserEmail = user.Email
	}

	id, err := s.sessions.Create(r.Context(), sess)
	if err != nil {
		slog.Error("session create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})

	s.audit.Info(r.Context(), "auth.login")
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		if err := s.sessions.Delete(r.Context(), cookie.Value); err != nil {
			slog.Warn("session delete failed", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{Name: auth.CookieName, Value: "", Path: "/", MaxAge: -1})
	s.audit.Info(r.Context(), "auth.logout")
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// processResponse is the envelope for POST /api/inbox/process.
type processResponse struct {
	Actionable      []*models.Email         `json:"actionable"`
	Filtered        []models.ProcessedEmail `json:"filtered"`
	TotalFetched    int                     `json:"total_fetched"`
	ActionableCount int                     `json:"actionable_count"`
	FilteredCount   int                     `json:"filtered_count"`
}

func (s *Server) handleProcessInbox(w http.ResponseWriter, r *http.Request) {
	gc, ok := s.graphClient(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	window := q.Get("window")
	if window == "" {
		window = "24 hours"
	}
	unreadOnly, _ := strconv.ParseBool(q.Get("unread_only"))
	maxEmails := 50
	if v, err := strconv.Atoi(q.Get("max")); err == nil && v > 0 {
		maxEmails = v
	}
	summarize, _ := strconv.ParseBool(q.Get("summarize"))
	skipResponded, _ := strconv.ParseBool(q.Get("skip_responded"))

	emails, err := gc.FetchInbox(r.Context(), window, unreadOnly, maxEmails)
	if err != nil {
		slog.Error("inbox fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch inbox")
		return
	}

	actionable, filtered := s.engine.ProcessInbox(r.Context(), emails)
	if skipResponded {
		actionable = dropHandled(r.Context(), gc, actionable)
	}
	if summarize {
		s.engine.SummarizeBatch(r.Context(), actionable)
	}

	writeJSON(w, http.StatusOK, processResponse{
		Actionable:      actionable,
		Filtered:        filtered,
		TotalFetched:    len(emails),
		ActionableCount: len(actionable),
		FilteredCount:   len(filtered),
	})
}

// dropHandled removes emails the user has effectively dealt with, by tier.
// High-priority tiers (1-2) deserve attention until the conversation has a
// sent reply; lower tiers (3-4) are done once read. Happens before
// summarization so dropped emails cost nothing.
func dropHandled(ctx context.Context, gc *graph.Client, actionable []*models.Email) []*models.Email {
	ids := make([]string, 0, len(actionable))
	for _, email := range actionable {
		if email.Tier <= models.TierImportant && email.ConversationID != "" {
			ids = append(ids, email.ConversationID)
		}
	}
	var responded map[string]bool
	if len(ids) > 0 {
		responded = gc.CheckConversationsResponded(ctx, ids)
	}

	kept := actionable[:0]
	for _, email := range actionable {
		if email.Tier <= models.TierImportant {
			if responded[email.ConversationID] {
				continue
			}
		} else if email.IsRead {
			continue
		}
		kept = append(kept, email)
	}
	return kept
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	gc, ok := s.graphClient(w, r)
	if !ok {
		return
	}

	email, err := gc.FetchMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("message fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch message")
		return
	}

	summary := s.engine.SummarizeOne(r.Context(), email)
	writeJSON(w, http.StatusOK, map[string]string{
		"email_id": email.ID,
		"summary":  summary,
	})
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	_, sess := sessionFrom(r.Context())
	gc, ok := s.graphClient(w, r)
	if !ok {
		return
	}

	// An empty body means no guidance, which is fine.
	var req models.DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email, err := gc.FetchMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("message fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch message")
		return
	}

	// Past mail to this sender wins; fall back to recent sent mail only
	// when there is none. Style fetch failures degrade to no style.
	sentToSender, err := gc.FetchSentTo(r.Context(), email.SenderEmail, styleEmailLimit)
	if err != nil {
		slog.Warn("sent-to-sender fetch failed", "error", err)
	}
	var allSent []models.SentEmail
	if len(sentToSender) == 0 {
		allSent, err = gc.FetchRecentSent(r.Context(), styleEmailLimit)
		if err != nil {
			slog.Warn("recent sent fetch failed", "error", err)
		}
	}

	resp := s.engine.DraftReply(r.Context(), email, sentToSender, allSent, sess.UserName, req.KeyPoints, req.AdditionalContext)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	gc, ok := s.graphClient(w, r)
	if !ok {
		return
	}
	success := gc.MarkRead(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

// sendRequest is the body for POST /api/emails/send.
type sendRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	gc, ok := s.graphClient(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" {
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	success := gc.Send(r.Context(), req.To, req.Subject, req.BodyHTML)
	s.audit.Info(r.Context(), "email.sent", "success", success)
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Stats())
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.gateway.ResetStats()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.sessions.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
