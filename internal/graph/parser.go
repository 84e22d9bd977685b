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

package graph

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jearle/inboxtriage/internal/models"
)

// graphMessage represents the relevant fields from a Graph API message response.
type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Sender  struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"sender"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview        string `json:"bodyPreview"`
	ReceivedDateTime   string `json:"receivedDateTime"`
	SentDateTime       string `json:"sentDateTime"`
	Importance         string `json:"importance"`
	HasAttachments     bool   `json:"hasAttachments"`
	WebLink            string `json:"webLink"`
	ConversationID     string `json:"conversationId"`
	IsRead             bool   `json:"isRead"`
	MeetingMessageType string `json:"meetingMessageType"`
	ToRecipients       []struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
}

// toEmail converts a Graph message into the pipeline's Email model with
// per-field defaults. A message with no usable ID yields nil and is dropped
// by the caller — one malformed message never aborts a page.
func (m *graphMessage) toEmail() *models.Email {
	if m.ID == "" {
		return nil
	}

	subject := m.Subject
	if subject == "" {
		subject = "No Subject"
	}
	senderName := m.Sender.EmailAddress.Name
	if senderName == "" {
		senderName = "Unknown"
	}
	importance := m.Importance
	if importance == "" {
		importance = "normal"
	}

	// Graph returns either a text or an HTML body depending on the Prefer
	// header; keep both shapes distinct for the filter stage.
	var body, bodyHTML string
	switch strings.ToLower(m.Body.ContentType) {
	case "html":
		bodyHTML = m.Body.Content
		body = m.BodyPreview
	case "text":
		body = m.Body.Content
	default:
		body = m.BodyPreview
	}

	return &models.Email{
		ID:                 m.ID,
		Subject:            subject,
		SenderName:         senderName,
		SenderEmail:        m.Sender.EmailAddress.Address,
		BodyPreview:        m.BodyPreview,
		Body:               body,
		BodyHTML:           bodyHTML,
		ReceivedDateTime:   m.ReceivedDateTime,
		Importance:         importance,
		HasAttachments:     m.HasAttachments,
		WebLink:            m.WebLink,
		ConversationID:     m.ConversationID,
		IsRead:             m.IsRead,
		MeetingMessageType: m.MeetingMessageType,
	}
}

// toSentEmail converts a sent-items Graph message for style context use.
func (m *graphMessage) toSentEmail() models.SentEmail {
	return models.SentEmail{
		ID:           m.ID,
		Subject:      m.Subject,
		Body:         m.Body.Content,
		BodyPreview:  m.BodyPreview,
		SentDateTime: m.SentDateTime,
	}
}

// listResponse is the paged envelope Graph wraps message lists in.
type listResponse struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// decodeMessages parses each message in a page individually, skipping
// entries that fail to decode rather than failing the page.
func decodeMessages(raw []json.RawMessage) []*graphMessage {
	out := make([]*graphMessage, 0, len(raw))
	for _, entry := range raw {
		var msg graphMessage
		if err := json.Unmarshal(entry, &msg); err != nil {
			slog.Warn("skipping undecodable graph message", "error", err)
			continue
		}
		out = append(out, &msg)
	}
	return out
}
