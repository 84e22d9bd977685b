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

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CookieName is the session cookie. The cookie carries only an opaque
// random session ID; tokens live server-side in Redis.
const CookieName = "inboxtriage_session"

// keyPrefix namespaces session keys in Redis.
const keyPrefix = "triage:session:"

// Session is the per-user state stored in Redis. Sessions expire with
// their Redis TTL — nothing is persisted beyond that, so a restart or
// expiry just means signing in again via SSO.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	UserName     string    `json:"user_name"`
	UserEmail    string    `json:"user_email"`
}

// SessionStore keeps sessions in Redis with a TTL.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Create stores a new session and returns its ID for the cookie.
func (s *SessionStore) Create(ctx context.Context, sess *Session) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", err
	}
	if err := s.Save(ctx, id, sess); err != nil {
		return "", err
	}
	slog.Info("session created")
	return id, nil
}

// Save writes session data under an existing ID, refreshing the TTL.
func (s *SessionStore) Save(ctx context.Context, id string, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+id, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET session: %w", err)
	}
	return nil
}

// Get returns the session for an ID, or nil when the ID is unknown or
// expired.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis DEL session: %w", err)
	}
	slog.Info("session deleted")
	return nil
}

// Ping checks the Redis connection.
func (s *SessionStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// newSessionID returns a 256-bit random URL-safe identifier.
func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
