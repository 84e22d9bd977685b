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

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// sequencedServer returns the given status codes in order, then 200s with a
// canned success body. It counts requests.
type sequencedServer struct {
	mu       sync.Mutex
	statuses []int
	requests int
}

func (s *sequencedServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := s.requests
	s.requests++
	s.mu.Unlock()

	if idx < len(s.statuses) {
		code := s.statuses[idx]
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"error":{"type":"err","message":"induced %d"}}`, code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{
		"content": [{"type": "text", "text": "SUMMARY: All good."}],
		"usage": {"input_tokens": 1000, "output_tokens": 2000}
	}`)
}

func (s *sequencedServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func newTestClient(t *testing.T, srv *sequencedServer, opts ...Option) (*Client, *[]time.Duration) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)

	var sleeps []time.Duration
	base := []Option{
		WithBaseURL(ts.URL),
		WithSleep(func(_ context.Context, d time.Duration) {
			sleeps = append(sleeps, d)
		}),
	}
	c := NewClient("test-key", "claude-sonnet-4-20250514", append(base, opts...)...)
	return c, &sleeps
}

func TestComplete_RetriesThenSucceeds(t *testing.T) {
	srv := &sequencedServer{statuses: []int{429, 503}}
	c, sleeps := newTestClient(t, srv)

	result, err := c.Complete(context.Background(), "sys", "user", 200, "summarize")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := srv.count(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if result.Text != "SUMMARY: All good." {
		t.Errorf("text = %q", result.Text)
	}
	// Backoff slept once per retryable failure: 2^1 then 2^2 seconds.
	if len(*sleeps) != 2 || (*sleeps)[0] != 2*time.Second || (*sleeps)[1] != 4*time.Second {
		t.Errorf("sleeps = %v, want [2s 4s]", *sleeps)
	}
}

func TestComplete_NonRetryableFailsImmediately(t *testing.T) {
	srv := &sequencedServer{statuses: []int{401, 401, 401}}
	c, sleeps := newTestClient(t, srv)

	_, err := c.Complete(context.Background(), "sys", "user", 200, "draft")
	if err == nil {
		t.Fatal("expected error for auth failure")
	}
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Errorf("expected *llm.Error, got %T", err)
	}
	if got := srv.count(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retries on 4xx)", got)
	}
	if len(*sleeps) != 0 {
		t.Errorf("no sleeps expected, got %v", *sleeps)
	}
}

func TestComplete_ExhaustsRetries(t *testing.T) {
	srv := &sequencedServer{statuses: []int{500, 500, 500, 500}}
	c, _ := newTestClient(t, srv)

	_, err := c.Complete(context.Background(), "sys", "user", 200, "summarize")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := srv.count(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestComplete_TimeoutRetriesWithoutSleep(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	// The first request outlives the client timeout; the second succeeds.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		first := requests == 1
		mu.Unlock()

		if first {
			time.Sleep(1 * time.Second)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"content": [{"type": "text", "text": "SUMMARY: All good."}],
			"usage": {"input_tokens": 1000, "output_tokens": 2000}
		}`)
	}))
	t.Cleanup(ts.Close)

	var sleeps []time.Duration
	c := NewClient("test-key", "claude-sonnet-4-20250514",
		WithBaseURL(ts.URL),
		WithTimeout(100*time.Millisecond),
		WithSleep(func(_ context.Context, d time.Duration) {
			sleeps = append(sleeps, d)
		}),
	)

	result, err := c.Complete(context.Background(), "sys", "user", 200, "summarize")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Text != "SUMMARY: All good." {
		t.Errorf("text = %q", result.Text)
	}

	mu.Lock()
	attempts := requests
	mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one timeout, one success)", attempts)
	}
	// A timed-out attempt already spent its wall-clock budget, so the retry
	// happens immediately.
	if len(sleeps) != 0 {
		t.Errorf("sleeps = %v, want none after a timeout", sleeps)
	}
}

func TestComplete_CostAccounting(t *testing.T) {
	srv := &sequencedServer{}
	c, _ := newTestClient(t, srv)

	result, err := c.Complete(context.Background(), "sys", "user", 200, "summarize")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// 1000 input tokens at $3/1M + 2000 output tokens at $15/1M.
	wantCost := 0.003 + 0.030
	if diff := result.Cost - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %v, want %v", result.Cost, wantCost)
	}
	if result.TotalTokens != 3000 {
		t.Errorf("total tokens = %d, want 3000", result.TotalTokens)
	}

	// Session counters accumulate across calls.
	if _, err := c.Complete(context.Background(), "sys", "user", 200, "summarize"); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	stats := c.Stats()
	if stats.TotalCalls != 2 || stats.TotalInputTokens != 2000 || stats.TotalOutputTokens != 4000 {
		t.Errorf("stats = %+v", stats)
	}

	c.ResetStats()
	if got := c.Stats(); got.TotalCalls != 0 || got.TotalCostUSD != 0 {
		t.Errorf("stats after reset = %+v", got)
	}
}

func TestComplete_ConcurrentCountersDoNotLoseUpdates(t *testing.T) {
	srv := &sequencedServer{}
	c, _ := newTestClient(t, srv)

	const calls = 20
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Complete(context.Background(), "sys", "user", 200, "summarize"); err != nil {
				t.Errorf("Complete: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := c.Stats().TotalCalls; got != calls {
		t.Errorf("session call count = %d, want %d", got, calls)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want outcome
	}{
		{"rate limit", &statusError{code: 429}, outcomeRateLimited},
		{"server error", &statusError{code: 503}, outcomeServerError},
		{"bad request", &statusError{code: 400}, outcomeFatal},
		{"auth", &statusError{code: 401}, outcomeFatal},
		{"deadline", context.DeadlineExceeded, outcomeTimeout},
		{"plain transport", errors.New("connection refused"), outcomeConnectionError},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Errorf("%s: classify = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestPricingFallback(t *testing.T) {
	srv := &sequencedServer{}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)

	c := NewClient("k", "unlisted-model", WithBaseURL(ts.URL))
	result, err := c.Complete(context.Background(), "sys", "user", 100, "summarize")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Cost <= 0 {
		t.Error("fallback pricing should still produce a positive cost")
	}
}
