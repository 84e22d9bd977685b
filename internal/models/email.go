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

// Package models defines the data structures shared across the triage service.
package models

// Tier is an email priority bucket. Lower value = higher priority.
//
// Tier 1 (VVIP): response expected within 30 minutes.
// Tier 2 (Important): response expected within the day.
// Tier 3 (Standard): response expected within the week.
// Tier 4 (Default): anyone not in tiers 1-3.
type Tier int

const (
	TierUnassigned Tier = 0
	TierVVIP       Tier = 1
	TierImportant  Tier = 2
	TierStandard   Tier = 3
	TierDefault    Tier = 4
)

// String returns the tier name used in logs and API responses.
func (t Tier) String() string {
	switch t {
	case TierVVIP:
		return "vvip"
	case TierImportant:
		return "important"
	case TierStandard:
		return "standard"
	case TierDefault:
		return "default"
	default:
		return "unassigned"
	}
}

// StyleSource identifies where draft style context came from.
type StyleSource string

const (
	// StyleSpecific means past emails sent to this exact recipient.
	StyleSpecific StyleSource = "specific"
	// StyleGeneral means recent sent emails to anyone.
	StyleGeneral StyleSource = "general"
	// StyleNone means no style context was available.
	StyleNone StyleSource = "none"
)

// FilterReason identifies why an email was hidden.
type FilterReason string

const (
	ReasonFilteredSender FilterReason = "filtered_sender"
	ReasonCalendarInvite FilterReason = "calendar_invite"
)

// FilterResult is the outcome of running one email through the filter stage.
// Detail is free-form metadata for audit/UI and never contains body content.
type FilterResult struct {
	Filtered bool         `json:"filtered"`
	Reason   FilterReason `json:"reason,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

// Email represents a message from the Graph API, enriched by the pipeline.
// The enrichment fields (Tier, Summary, Draft, Style*) are owned exclusively
// by the orchestrator and mutated in place as stages run.
type Email struct {
	ID                 string `json:"id"`
	Subject            string `json:"subject"`
	SenderName         string `json:"sender_name"`
	SenderEmail        string `json:"sender_email"`
	BodyPreview        string `json:"body_preview"`
	Body               string `json:"body"`
	BodyHTML           string `json:"body_html,omitempty"`
	ReceivedDateTime   string `json:"received_datetime"`
	Importance         string `json:"importance"`
	HasAttachments     bool   `json:"has_attachments"`
	WebLink            string `json:"web_link,omitempty"`
	ConversationID     string `json:"conversation_id,omitempty"`
	IsRead             bool   `json:"is_read"`
	MeetingMessageType string `json:"meeting_message_type,omitempty"`

	Tier            Tier        `json:"tier,omitempty"`
	Summary         string      `json:"summary,omitempty"`
	Draft           string      `json:"draft,omitempty"`
	StyleSource     StyleSource `json:"style_source,omitempty"`
	StyleEmailCount int         `json:"style_email_count,omitempty"`
}

// ProcessedEmail pairs a filtered-out email with the filter verdict.
type ProcessedEmail struct {
	Email        *Email       `json:"email"`
	FilterResult FilterResult `json:"filter_result"`
}

// SentEmail is a previously sent message fetched for style context.
type SentEmail struct {
	ID           string `json:"id,omitempty"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	BodyPreview  string `json:"body_preview"`
	SentDateTime string `json:"sent_datetime,omitempty"`
}

// DraftRequest is the user-supplied guidance for draft generation.
type DraftRequest struct {
	KeyPoints         string `json:"key_points"`
	AdditionalContext string `json:"additional_context"`
}

// DraftResponse is the result of draft generation.
type DraftResponse struct {
	Draft           string      `json:"draft"`
	StyleSource     StyleSource `json:"style_source"`
	StyleEmailCount int         `json:"style_email_count"`
	TokensUsed      int         `json:"tokens_used"`
}
