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

// Package engine orchestrates email processing: filtering, tier assignment,
// summarization, and draft generation.
//
// The engine never fetches emails itself. It receives parsed Email values
// and a gateway, keeping it decoupled from the HTTP layers on both sides.
// LLM failures are contained per message: a failed summary or draft call
// produces a deterministic fallback, never an error to the caller.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jearle/inboxtriage/internal/audit"
	"github.com/jearle/inboxtriage/internal/filter"
	"github.com/jearle/inboxtriage/internal/llm"
	"github.com/jearle/inboxtriage/internal/models"
	"github.com/jearle/inboxtriage/internal/prompt"
	"github.com/jearle/inboxtriage/internal/tiers"
)

// Gateway is the completion endpoint the engine drives.
type Gateway interface {
	Complete(ctx context.Context, system, user string, maxTokens int, purpose string) (*llm.Result, error)
}

// Config collects the engine's collaborators and limits.
type Config struct {
	Tiers            *tiers.Directory
	Gateway          Gateway
	Audit            *audit.Logger
	MaxTokensSummary int
	MaxTokensDraft   int
	// SummaryWorkers bounds concurrent summarize calls in a batch.
	SummaryWorkers int
}

// Engine runs the triage pipeline. The tier directory and prompt builder
// are read-only, so one engine is safe for concurrent requests.
type Engine struct {
	tiers            *tiers.Directory
	gw               Gateway
	audit            *audit.Logger
	maxTokensSummary int
	maxTokensDraft   int
	summaryWorkers   int
}

// New creates an engine.
func New(cfg Config) *Engine {
	workers := cfg.SummaryWorkers
	if workers <= 0 {
		workers = 4
	}
	if cfg.MaxTokensSummary <= 0 {
		cfg.MaxTokensSummary = 200
	}
	if cfg.MaxTokensDraft <= 0 {
		cfg.MaxTokensDraft = 500
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.New(nil)
	}

	slog.Info("triage engine initialised", "summary_workers", workers)

	return &Engine{
		tiers:            cfg.Tiers,
		gw:               cfg.Gateway,
		audit:            cfg.Audit,
		maxTokensSummary: cfg.MaxTokensSummary,
		maxTokensDraft:   cfg.MaxTokensDraft,
		summaryWorkers:   workers,
	}
}

// ProcessInbox filters a batch of emails and assigns tiers to those that
// pass. The actionable slice is sorted by tier, highest priority first;
// ties keep provider delivery order. No LLM calls happen here —
// summarization is a separate, explicitly invoked stage.
func (e *Engine) ProcessInbox(ctx context.Context, emails []*models.Email) (actionable []*models.Email, filtered []models.ProcessedEmail) {
	for _, email := range emails {
		result := filter.Evaluate(email, e.tiers)

		if result.Filtered {
			filtered = append(filtered, models.ProcessedEmail{Email: email, FilterResult: result})
			e.audit.Info(ctx, "email.filtered",
				"email_id", email.ID,
				"reason", result.Reason,
			)
			continue
		}

		email.Tier = e.tiers.GetTier(email.SenderEmail)
		actionable = append(actionable, email)
		e.audit.Info(ctx, "email.classified",
			"email_id", email.ID,
			"tier", int(email.Tier),
			"tier_name", email.Tier.String(),
		)
	}

	sort.SliceStable(actionable, func(i, j int) bool {
		return actionable[i].Tier < actionable[j].Tier
	})

	e.audit.Info(ctx, "inbox.processed",
		"total_emails", len(emails),
		"actionable_count", len(actionable),
		"filtered_count", len(filtered),
	)

	return actionable, filtered
}

// SummarizeOne generates a summary for a single email and stores it on the
// message. A gateway failure is converted to a deterministic fallback
// string; it never aborts the caller.
func (e *Engine) SummarizeOne(ctx context.Context, email *models.Email) string {
	system, user := prompt.BuildSummaryPrompt(email)

	result, err := e.gw.Complete(ctx, system, user, e.maxTokensSummary, "summarize")
	if err != nil {
		e.audit.Error(ctx, "email.summarize_failed",
			"email_id", email.ID,
			"error", err.Error(),
		)
		fallback := fmt.Sprintf("Email from %s regarding %s", email.SenderName, email.Subject)
		email.Summary = fallback
		return fallback
	}

	summary := prompt.ExtractSummary(result.Text)
	email.Summary = summary

	e.audit.Info(ctx, "email.summarized",
		"email_id", email.ID,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"cost_usd", result.Cost,
		"latency_ms", result.LatencyMS,
	)

	return summary
}

// SummarizeBatch summarizes every email in the slice, running up to
// summaryWorkers gateway calls in flight. Completion order across emails
// is not a contract; failures degrade per message via SummarizeOne.
func (e *Engine) SummarizeBatch(ctx context.Context, emails []*models.Email) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.summaryWorkers)

	for _, email := range emails {
		g.Go(func() error {
			e.SummarizeOne(ctx, email)
			return nil
		})
	}

	// Workers never return errors; Wait is just the join point.
	_ = g.Wait()

	e.audit.Info(ctx, "inbox.summarized", "count", len(emails))
}

// DraftReply generates a draft response for an email, biased by the user's
// past writing. Past emails to this exact sender take precedence over
// recent sent mail for style context. A gateway failure yields a templated,
// disclaimer-stamped fallback draft rather than an error.
func (e *Engine) DraftReply(
	ctx context.Context,
	email *models.Email,
	sentToSender []models.SentEmail,
	allSent []models.SentEmail,
	userName string,
	keyPoints string,
	additionalContext string,
) models.DraftResponse {
	styleSource, styleContext, styleCount := prompt.SelectStyle(sentToSender, allSent)
	styleBlock := prompt.BuildStyleBlock(styleSource, styleContext, userName)
	system, user := prompt.BuildDraftPrompt(email, styleBlock, userName, keyPoints, additionalContext)

	result, err := e.gw.Complete(ctx, system, user, e.maxTokensDraft, "draft")
	if err != nil {
		e.audit.Error(ctx, "draft.failed",
			"email_id", email.ID,
			"style_source", string(styleSource),
			"error", err.Error(),
		)
		fallback := fmt.Sprintf("Thank you for your email regarding %s. I will review and respond accordingly.", email.Subject)
		fallback = prompt.EnsureDisclaimer(fallback, userName)
		email.Draft = fallback

		return models.DraftResponse{
			Draft:           fallback,
			StyleSource:     models.StyleNone,
			StyleEmailCount: 0,
			TokensUsed:      0,
		}
	}

	draft := prompt.EnsureDisclaimer(result.Text, userName)
	email.Draft = draft
	email.StyleSource = styleSource
	email.StyleEmailCount = styleCount

	e.audit.Info(ctx, "draft.generated",
		"email_id", email.ID,
		"style_source", string(styleSource),
		"style_email_count", styleCount,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"cost_usd", result.Cost,
		"latency_ms", result.LatencyMS,
	)

	return models.DraftResponse{
		Draft:           draft,
		StyleSource:     styleSource,
		StyleEmailCount: styleCount,
		TokensUsed:      result.TotalTokens,
	}
}
