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

// Package llm wraps the Anthropic completion endpoint with bounded retries,
// error classification, per-call cost accounting, and session usage totals.
//
// Every attempt outcome is logged with metadata only (model, tokens, cost,
// latency, attempt number). Prompt and response text are never logged.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://api.anthropic.com/v1/messages"
	defaultMaxRetries = 3
	defaultTimeout    = 60 * time.Second
	anthropicVersion  = "2023-06-01"

	// maxBackoff caps the exponential retry delay.
	maxBackoff = 30 * time.Second
)

// modelPricing is USD per 1M tokens.
type modelPricing struct {
	input  float64
	output float64
}

// pricing maps model identifiers to their token prices. Models not listed
// fall back to defaultPricing.
var pricing = map[string]modelPricing{
	"claude-sonnet-4-20250514": {input: 3.00, output: 15.00},
}

var defaultPricing = modelPricing{input: 3.00, output: 15.00}

// Result is the response envelope for a single completed call. Immutable.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	InputCost    float64
	OutputCost   float64
	Cost         float64
	LatencyMS    int64
	Model        string
}

// Stats is a snapshot of session-level usage counters.
type Stats struct {
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalCalls        int     `json:"total_calls"`
	Model             string  `json:"model"`
}

// Error is returned when a call fails after retries are exhausted or hits a
// non-retryable failure.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Client calls the Anthropic messages endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	maxRetries int
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration)
	prices     modelPricing

	// Session usage counters. Guarded by mu because the orchestrator may
	// run concurrent calls against one client.
	mu            sync.Mutex
	sessionCost   float64
	sessionInput  int
	sessionOutput int
	sessionCalls  int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the completion endpoint URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithMaxRetries sets the maximum attempt count.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCallsPerMinute installs a rate limiter in front of the endpoint.
// Zero means unlimited.
func WithCallsPerMinute(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), 1)
		}
	}
}

// WithSleep replaces the retry sleep function. Used by tests to avoid
// real waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates an Anthropic gateway client.
func NewClient(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		maxRetries: defaultMaxRetries,
		timeout:    defaultTimeout,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	p, ok := pricing[c.model]
	if !ok {
		p = defaultPricing
	}
	c.prices = p

	slog.Info("llm client initialised",
		"model", c.model,
		"max_retries", c.maxRetries,
		"timeout", c.timeout,
	)
	return c
}

// --- Wire format ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusError is a request the endpoint rejected with an HTTP status.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.code, e.message)
}

// outcome is the retry-relevant classification of a failed attempt.
type outcome int

const (
	outcomeRateLimited outcome = iota
	outcomeTimeout
	outcomeServerError
	outcomeConnectionError
	outcomeFatal
)

// classify maps a request error to its retry class. Pure: no I/O, no state.
// Rate limiting, timeouts, connection failures, and 5xx responses are
// retryable; every other rejection is fatal.
func classify(err error) outcome {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusTooManyRequests:
			return outcomeRateLimited
		case se.code >= 500:
			return outcomeServerError
		default:
			return outcomeFatal
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeTimeout
	}
	if ne, ok := errAsTimeout(err); ok && ne {
		return outcomeTimeout
	}
	return outcomeConnectionError
}

// errAsTimeout walks the error chain looking for a net-style Timeout() signal.
func errAsTimeout(err error) (bool, bool) {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout(), true
	}
	return false, false
}

// backoffDelay returns the wait before retry attempt n. Pure.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second // 2^attempt seconds
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Complete sends one completion request, retrying retryable failures with
// exponential backoff up to the configured attempt limit. The purpose tag
// distinguishes call types in logs and metrics; it must never contain
// email content.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int, purpose string) (*Result, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []chatMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return nil, &Error{Message: "marshal request", Err: err}
	}

	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &Error{Message: "rate limiter wait", Err: err}
			}
		}

		start := time.Now()
		result, err := c.doRequest(ctx, body)
		latencyMS := time.Since(start).Milliseconds()

		if err == nil {
			result.LatencyMS = latencyMS
			c.recordSuccess(result)

			callsTotal.WithLabelValues(purpose, "success").Inc()
			inputTokensTotal.WithLabelValues(purpose).Add(float64(result.InputTokens))
			outputTokensTotal.WithLabelValues(purpose).Add(float64(result.OutputTokens))
			costTotal.WithLabelValues(purpose).Add(result.Cost)

			c.mu.Lock()
			sessionCost, sessionCalls := c.sessionCost, c.sessionCalls
			c.mu.Unlock()

			slog.Info("llm call succeeded",
				"purpose", purpose,
				"attempt", attempt,
				"model", c.model,
				"input_tokens", result.InputTokens,
				"output_tokens", result.OutputTokens,
				"cost_usd", result.Cost,
				"latency_ms", latencyMS,
				"session_total_cost_usd", sessionCost,
				"session_call_count", sessionCalls,
			)
			return result, nil
		}

		lastErr = err
		switch classify(err) {
		case outcomeRateLimited:
			wait := backoffDelay(attempt)
			callsTotal.WithLabelValues(purpose, "rate_limited").Inc()
			slog.Warn("llm call rate limited",
				"purpose", purpose,
				"attempt", attempt,
				"wait", wait,
			)
			c.sleep(ctx, wait)

		case outcomeTimeout:
			// The request already consumed the configured timeout in
			// wall-clock time, so no extra sleep before retrying.
			callsTotal.WithLabelValues(purpose, "timeout").Inc()
			slog.Warn("llm call timed out",
				"purpose", purpose,
				"attempt", attempt,
				"latency_ms", latencyMS,
				"timeout", c.timeout,
			)

		case outcomeServerError:
			wait := backoffDelay(attempt)
			callsTotal.WithLabelValues(purpose, "server_error").Inc()
			slog.Warn("llm call server error",
				"purpose", purpose,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
			c.sleep(ctx, wait)

		case outcomeConnectionError:
			wait := backoffDelay(attempt)
			callsTotal.WithLabelValues(purpose, "connection_error").Inc()
			slog.Warn("llm call connection error",
				"purpose", purpose,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
			c.sleep(ctx, wait)

		case outcomeFatal:
			callsTotal.WithLabelValues(purpose, "client_error").Inc()
			slog.Error("llm call rejected",
				"purpose", purpose,
				"attempt", attempt,
				"error", err,
			)
			return nil, &Error{Message: "llm request rejected", Err: err}
		}
	}

	callsTotal.WithLabelValues(purpose, "exhausted").Inc()
	slog.Error("llm call failed after retries",
		"purpose", purpose,
		"max_retries", c.maxRetries,
		"error", lastErr,
	)
	return nil, &Error{
		Message: fmt.Sprintf("llm call failed after %d attempts", c.maxRetries),
		Err:     lastErr,
	}
}

// doRequest performs a single HTTP round trip and parses the response.
func (c *Client) doRequest(ctx context.Context, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, message: apiErrorMessage(respBody)}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// A 200 with an unparseable body will not improve on retry.
		return nil, &statusError{code: resp.StatusCode, message: "unexpected response body"}
	}
	if parsed.Error != nil {
		return nil, &statusError{code: resp.StatusCode, message: parsed.Error.Message}
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, &statusError{code: resp.StatusCode, message: "no text content in response"}
	}

	inputTokens := parsed.Usage.InputTokens
	outputTokens := parsed.Usage.OutputTokens
	inputCost := float64(inputTokens) / 1_000_000 * c.prices.input
	outputCost := float64(outputTokens) / 1_000_000 * c.prices.output

	return &Result{
		Text:         strings.TrimSpace(text),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		Cost:         inputCost + outputCost,
		Model:        c.model,
	}, nil
}

// apiErrorMessage extracts the error message from an API error body,
// falling back to a short raw preview.
func apiErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	preview := string(body)
	if len(preview) > 200 {
		preview = preview[:200]
	}
	return preview
}

// recordSuccess folds a completed call into the session counters.
func (c *Client) recordSuccess(r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionCost += r.Cost
	c.sessionInput += r.InputTokens
	c.sessionOutput += r.OutputTokens
	c.sessionCalls++
}

// Stats returns a snapshot of session-level usage.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TotalCostUSD:      c.sessionCost,
		TotalInputTokens:  c.sessionInput,
		TotalOutputTokens: c.sessionOutput,
		TotalCalls:        c.sessionCalls,
		Model:             c.model,
	}
}

// ResetStats zeroes the session counters.
func (c *Client) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionCost = 0
	c.sessionInput = 0
	c.sessionOutput = 0
	c.sessionCalls = 0
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
