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

// Package auth handles the Azure AD authorization-code flow and the Redis
// session store that holds each user's tokens. The rest of the service
// only ever sees an authorised http.Client per session.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/jearle/inboxtriage/internal/config"
)

// graphScopes are the Graph permissions the service needs. offline_access
// is required for refresh tokens.
var graphScopes = []string{
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Mail.Send",
	"https://graph.microsoft.com/Mail.ReadWrite",
	"offline_access",
}

// OAuthConfig builds the oauth2 config for the configured Azure tenant.
func OAuthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.AzureClientID,
		ClientSecret: cfg.AzureClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       graphScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", cfg.AzureTenantID),
			TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.AzureTenantID),
		},
	}
}

// TokenSaver persists a session after a token refresh. *SessionStore
// satisfies it.
type TokenSaver interface {
	Save(ctx context.Context, id string, sess *Session) error
}

// HTTPClient returns an http.Client that injects the session's bearer token,
// refreshing it through the token endpoint when needed. The refreshed token,
// if any, is written back to the session store.
func HTTPClient(ctx context.Context, oauthCfg *oauth2.Config, store TokenSaver, sessionID string, sess *Session) (*http.Client, error) {
	tok := &oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Expiry:       sess.Expiry,
		TokenType:    "Bearer",
	}

	source := oauthCfg.TokenSource(ctx, tok)
	fresh, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	if fresh.AccessToken != sess.AccessToken {
		sess.AccessToken = fresh.AccessToken
		if fresh.RefreshToken != "" {
			sess.RefreshToken = fresh.RefreshToken
		}
		sess.Expiry = fresh.Expiry
		if err := store.Save(ctx, sessionID, sess); err != nil {
			// The refreshed token still works for this request; the next
			// request simply refreshes again.
			slog.Warn("failed to persist refreshed token", "error", err)
		}
	}

	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(fresh)), nil
}
