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

// Package graph is the Microsoft Graph mail client: inbox and sent-items
// fetching with pagination, mark-as-read, and send. Token acquisition is
// the auth layer's job — the client receives an already-authorised
// http.Client and stays simple and testable.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jearle/inboxtriage/internal/models"
)

// Fields requested for inbox emails. Requesting only what we need reduces
// response size and latency.
const inboxSelectFields = "id,subject,sender,from,body,bodyPreview,receivedDateTime," +
	"importance,hasAttachments,webLink,conversationId,isRead,meetingMessageType"

// Fields for sent emails (lighter — only what style context needs).
const sentSelectFields = "id,subject,body,bodyPreview,sentDateTime,toRecipients"

const pageSize = 50

// Client performs mail operations against the Graph API for one user.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Graph mail client. httpClient must already inject the
// user's bearer credential (an oauth2 transport).
func NewClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// User is the authenticated user's profile.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GetCurrentUser fetches the authenticated user's display name and address.
// Returns nil without error when the profile is not readable.
func (c *Client) GetCurrentUser(ctx context.Context) (*User, error) {
	var profile struct {
		DisplayName       string `json:"displayName"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	err := c.getJSON(ctx, c.baseURL+"/me?$select=displayName,mail,userPrincipalName", &profile)
	if err != nil {
		slog.Warn("graph user profile not readable", "error", err)
		return nil, nil
	}

	u := &User{Name: profile.DisplayName, Email: profile.Mail}
	if u.Name == "" {
		u.Name = "Unknown"
	}
	if u.Email == "" {
		u.Email = profile.UserPrincipalName
	}
	return u, nil
}

// FetchInbox retrieves inbox emails within a time window, paginating until
// maxEmails is reached or pages run out. A page failure stops pagination
// and returns what was fetched so far.
//
// timeWindow accepts strings like "6 hours", "24 hours", "7 days", or "All".
func (c *Client) FetchInbox(ctx context.Context, timeWindow string, unreadOnly bool, maxEmails int) ([]*models.Email, error) {
	start := time.Now()

	var filters []string
	if unreadOnly {
		filters = append(filters, "isRead eq false")
	}
	if cutoff, ok := parseTimeWindow(timeWindow, time.Now().UTC()); ok {
		filters = append(filters, "receivedDateTime ge "+cutoff.Format("2006-01-02T15:04:05Z"))
	}

	params := url.Values{}
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", fmt.Sprintf("%d", min(pageSize, maxEmails)))
	params.Set("$select", inboxSelectFields)
	if len(filters) > 0 {
		params.Set("$filter", strings.Join(filters, " and "))
	}

	var emails []*models.Email
	next := c.baseURL + "/me/messages?" + params.Encode()
	pages := 0

	for next != "" && len(emails) < maxEmails {
		var page listResponse
		if err := c.getJSON(ctx, next, &page); err != nil {
			slog.Error("inbox fetch page failed",
				"page", pages,
				"emails_so_far", len(emails),
				"error", err,
			)
			break
		}
		pages++

		for _, msg := range decodeMessages(page.Value) {
			if len(emails) >= maxEmails {
				break
			}
			if email := msg.toEmail(); email != nil {
				emails = append(emails, email)
			}
		}
		next = page.NextLink
	}

	slog.Info("inbox fetched",
		"time_window", timeWindow,
		"unread_only", unreadOnly,
		"emails_fetched", len(emails),
		"pages", pages,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return emails, nil
}

// FetchMessage retrieves a single message by ID.
func (c *Client) FetchMessage(ctx context.Context, messageID string) (*models.Email, error) {
	var msg graphMessage
	u := c.baseURL + "/me/messages/" + url.PathEscape(messageID) + "?$select=" + inboxSelectFields
	if err := c.getJSON(ctx, u, &msg); err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	email := msg.toEmail()
	if email == nil {
		return nil, fmt.Errorf("message %s has no usable content", messageID)
	}
	return email, nil
}

// FetchSentTo retrieves sent emails addressed to a specific recipient.
// Graph cannot filter on toRecipients server-side, so pages of sent items
// are scanned client-side, capped at 5 pages.
func (c *Client) FetchSentTo(ctx context.Context, recipient string, maxEmails int) ([]models.SentEmail, error) {
	recipientLower := strings.ToLower(strings.TrimSpace(recipient))
	matched := make([]models.SentEmail, 0, maxEmails)

	err := c.walkSentItems(ctx, 5, func(msg *graphMessage) bool {
		for _, r := range msg.ToRecipients {
			if strings.ToLower(r.EmailAddress.Address) == recipientLower {
				matched = append(matched, msg.toSentEmail())
				break
			}
		}
		return len(matched) < maxEmails
	})
	if err != nil {
		return matched, err
	}

	slog.Info("sent emails to recipient fetched",
		"recipient_domain", addressDomain(recipientLower),
		"matched", len(matched),
	)
	return matched, nil
}

// FetchRecentSent retrieves recent sent emails to anyone, capped at 2 pages.
// Used as the general style fallback.
func (c *Client) FetchRecentSent(ctx context.Context, maxEmails int) ([]models.SentEmail, error) {
	emails := make([]models.SentEmail, 0, maxEmails)

	err := c.walkSentItems(ctx, 2, func(msg *graphMessage) bool {
		emails = append(emails, msg.toSentEmail())
		return len(emails) < maxEmails
	})
	if err != nil {
		return emails, err
	}

	slog.Info("recent sent emails fetched", "count", len(emails))
	return emails, nil
}

// walkSentItems pages through the sent items folder, invoking visit per
// message until visit returns false or maxPages is hit.
func (c *Client) walkSentItems(ctx context.Context, maxPages int, visit func(*graphMessage) bool) error {
	params := url.Values{}
	params.Set("$orderby", "sentDateTime desc")
	params.Set("$top", fmt.Sprintf("%d", pageSize))
	params.Set("$select", sentSelectFields)

	next := c.baseURL + "/me/mailFolders/sentItems/messages?" + params.Encode()
	pages := 0

	for next != "" && pages < maxPages {
		var page listResponse
		if err := c.getJSON(ctx, next, &page); err != nil {
			return fmt.Errorf("sent items page %d: %w", pages, err)
		}
		pages++

		for _, msg := range decodeMessages(page.Value) {
			if !visit(msg) {
				return nil
			}
		}
		next = page.NextLink
	}
	return nil
}

// CheckConversationsResponded reports, per conversation ID, whether any
// sent item exists in the thread. On error a conversation defaults to
// "not responded" — safer to show the email.
func (c *Client) CheckConversationsResponded(ctx context.Context, conversationIDs []string) map[string]bool {
	responded := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		if id == "" {
			continue
		}
		responded[id] = false
	}

	for convID := range responded {
		params := url.Values{}
		params.Set("$filter", fmt.Sprintf("conversationId eq '%s'", convID))
		params.Set("$top", "1")
		params.Set("$select", "id")

		var page listResponse
		err := c.getJSON(ctx, c.baseURL+"/me/mailFolders/sentItems/messages?"+params.Encode(), &page)
		if err == nil && len(page.Value) > 0 {
			responded[convID] = true
		}
	}

	return responded
}

// MarkRead marks a message as read. Best effort: failures are logged and
// reported as false.
func (c *Client) MarkRead(ctx context.Context, messageID string) bool {
	body := []byte(`{"isRead": true}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+"/me/messages/"+url.PathEscape(messageID), bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.doExpectSuccess(req); err != nil {
		slog.Error("mark read failed", "email_id", messageID, "error", err)
		return false
	}
	slog.Info("email marked read", "email_id", messageID)
	return true
}

// Send sends an email through Graph. Best effort, boolean result.
func (c *Client) Send(ctx context.Context, to, subject, bodyHTML string) bool {
	payload := map[string]any{
		"message": map[string]any{
			"subject": subject,
			"body": map[string]any{
				"contentType": "html",
				"content":     bodyHTML,
			},
			"toRecipients": []map[string]any{
				{"emailAddress": map[string]string{"address": to}},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/me/sendMail", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.doExpectSuccess(req); err != nil {
		slog.Error("send failed", "recipient_domain", addressDomain(to), "error", err)
		return false
	}
	slog.Info("email sent", "recipient_domain", addressDomain(to))
	return true
}

// getJSON performs a GET and decodes a JSON response body.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

// doExpectSuccess runs a mutating request and fails on non-2xx.
func (c *Client) doExpectSuccess(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// parseTimeWindow converts "24 hours" / "7 days" style strings into a UTC
// cutoff. "All" or anything unparseable means no cutoff.
func parseTimeWindow(window string, now time.Time) (time.Time, bool) {
	window = strings.TrimSpace(window)
	if window == "" || strings.EqualFold(window, "all") {
		return time.Time{}, false
	}

	parts := strings.Fields(window)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	var value int
	if _, err := fmt.Sscanf(parts[0], "%d", &value); err != nil {
		return time.Time{}, false
	}

	unit := strings.ToLower(parts[1])
	switch {
	case strings.Contains(unit, "hour"):
		return now.Add(-time.Duration(value) * time.Hour), true
	case strings.Contains(unit, "day"):
		return now.AddDate(0, 0, -value), true
	}
	return time.Time{}, false
}

func addressDomain(addr string) string {
	if _, domain, ok := strings.Cut(addr, "@"); ok {
		return domain
	}
	return "unknown"
}
