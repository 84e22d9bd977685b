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

// Package prompt builds all LLM instruction text for the triage service.
// This is the single place to edit when changing how the assistant
// summarizes emails or drafts responses.
//
// All construction is deterministic and side-effect-free: no network calls,
// no clock reads. Actual email content only enters through the parameters.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jearle/inboxtriage/internal/models"
)

// DefaultStyleContextChars caps the total style context size to control
// token usage.
const DefaultStyleContextChars = 6000

// previewCap is the hard character limit for preview text embedded in the
// summary prompt.
const previewCap = 500

const summarizeSystem = "You are an email assistant that summarizes emails concisely. " +
	"Always respond in the exact format requested. " +
	"Be direct and factual — no filler phrases."

const summarizeUserFormat = `Summarize the following email in 2-3 sentences:

Email Subject: %s
Sender: %s
Importance (from Outlook): %s
Preview: %s

Respond in this exact format:
SUMMARY: [2-3 sentence summary]`

const draftSystemFormat = "You are %s's email assistant. " +
	"Your ONLY job is to draft email responses. " +
	"NEVER ask for clarification or say you need more information. " +
	"ALWAYS output a ready-to-send email draft based on whatever information is provided. " +
	"Be professional, concise, and helpful."

const draftUserFormat = `Draft an email response to the following email.

Original Email:
Subject: %s
From: %s
Body: %s

Additional guidance (if any):
- Key points: %s
- Context: %s
%s
IMPORTANT: You MUST draft the email response now. Do not ask for clarification or more information. Work with what you have. If the email body is truncated, respond to what's visible. If no key points are specified, draft a professional, helpful response based on the email content.

Output ONLY the email body text. No subject line, no "Dear X" greeting unless appropriate, no "Best regards" signature unless the style examples show %s uses them.`

const styleBlockSpecificFormat = `
--- %s'S PAST EMAILS TO THIS PERSON (use for style/tone guidance) ---
%s
--- END PAST EMAILS ---

Match %s's tone, style, and formatting from the examples above. This shows how %s typically communicates with THIS specific person. Do NOT add sign-offs like 'Best regards' unless %s typically uses them.`

const styleBlockGeneralFormat = `
--- %s'S RECENT SENT EMAILS (use for general style/tone guidance) ---
%s
--- END PAST EMAILS ---

These are %s's recent emails to various people. Use them to understand their general writing style, tone, and formatting preferences. Adapt the tone appropriately for the current recipient. Do NOT add sign-offs like 'Best regards' unless %s typically uses them.`

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// BuildSummaryPrompt renders the system and user prompts for summarizing an
// email. The preview text is capped at 500 characters before embedding.
func BuildSummaryPrompt(email *models.Email) (system, user string) {
	user = fmt.Sprintf(summarizeUserFormat,
		email.Subject,
		email.SenderName,
		email.Importance,
		truncateRunes(email.BodyPreview, previewCap),
	)
	return summarizeSystem, user
}

// BuildDraftPrompt renders the system and user prompts for drafting a reply.
// The full body is preferred; the preview is the fallback when it is empty.
// Empty guidance fields get explicit placeholders so the model never treats
// absence as an instruction to ask questions.
func BuildDraftPrompt(email *models.Email, styleBlock, userName, keyPoints, additionalContext string) (system, user string) {
	body := email.Body
	if body == "" {
		body = email.BodyPreview
	}
	if keyPoints == "" {
		keyPoints = "None specified - use your judgment"
	}
	if additionalContext == "" {
		additionalContext = "None specified"
	}

	system = fmt.Sprintf(draftSystemFormat, userName)
	user = fmt.Sprintf(draftUserFormat,
		email.Subject,
		email.SenderName,
		body,
		keyPoints,
		additionalContext,
		styleBlock,
		userName,
	)
	return system, user
}

// SelectStyle decides which style context to use for a draft. Emails sent
// to this specific recipient strictly take precedence over general sent mail.
func SelectStyle(sentToSender, allSent []models.SentEmail) (models.StyleSource, string, int) {
	if len(sentToSender) > 0 {
		return models.StyleSpecific, FormatStyleContext(sentToSender, DefaultStyleContextChars), len(sentToSender)
	}
	if len(allSent) > 0 {
		return models.StyleGeneral, FormatStyleContext(allSent, DefaultStyleContextChars), len(allSent)
	}
	return models.StyleNone, "", 0
}

// FormatStyleContext condenses sent emails into a text block for style
// guidance. HTML markup is stripped, empty bodies are skipped, and blocks
// accumulate in input order until the next block would exceed maxChars.
// Partial blocks are never emitted.
func FormatStyleContext(sentEmails []models.SentEmail, maxChars int) string {
	if len(sentEmails) == 0 {
		return ""
	}

	var parts []string
	total := 0

	for _, email := range sentEmails {
		body := email.Body
		if body == "" {
			body = email.BodyPreview
		}
		body = strings.TrimSpace(htmlTagRe.ReplaceAllString(body, ""))
		if body == "" {
			continue
		}

		subject := email.Subject
		if subject == "" {
			subject = "No Subject"
		}
		entry := fmt.Sprintf("---\nSubject: %s\n%s\n", subject, body)

		if total+len(entry) > maxChars {
			break
		}
		parts = append(parts, entry)
		total += len(entry)
	}

	return strings.Join(parts, "\n")
}

// BuildStyleBlock wraps formatted style context in a labeled block for the
// draft prompt. A non-"none" source with empty context still yields an
// empty block.
func BuildStyleBlock(source models.StyleSource, styleContext, userName string) string {
	if styleContext == "" {
		return ""
	}
	switch source {
	case models.StyleSpecific:
		return fmt.Sprintf(styleBlockSpecificFormat,
			strings.ToUpper(userName), styleContext, userName, userName, userName)
	case models.StyleGeneral:
		return fmt.Sprintf(styleBlockGeneralFormat,
			strings.ToUpper(userName), styleContext, userName, userName)
	default:
		return ""
	}
}

// ExtractSummary pulls the summary out of the model's response.
//
// Expected format: "SUMMARY: [text]". Takes the first paragraph after the
// marker; falls back to everything after the marker, then to the raw
// response, when the format doesn't match.
func ExtractSummary(raw string) string {
	const marker = "SUMMARY:"
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return strings.TrimSpace(raw)
	}
	afterMarker := strings.TrimSpace(raw[idx+len(marker):])
	firstParagraph, _, _ := strings.Cut(afterMarker, "\n\n")
	firstParagraph = strings.TrimSpace(firstParagraph)
	if firstParagraph == "" {
		return afterMarker
	}
	return firstParagraph
}

// Disclaimer returns the AI-generated disclaimer text for a user.
func Disclaimer(userName string) string {
	return fmt.Sprintf("Note: This response was AI-generated and reviewed by %s", userName)
}

// EnsureDisclaimer appends the disclaimer to a draft unless the draft
// already mentions "ai-generated". Idempotent.
func EnsureDisclaimer(draft, userName string) string {
	if strings.Contains(strings.ToLower(draft), "ai-generated") {
		return draft
	}
	return fmt.Sprintf("%s\n\n*%s*", draft, Disclaimer(userName))
}

// truncateRunes caps a string at max characters without splitting a rune.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
