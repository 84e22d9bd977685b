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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func inboxMessage(id, sender string) map[string]any {
	return map[string]any{
		"id":      id,
		"subject": "Subject " + id,
		"sender": map[string]any{
			"emailAddress": map[string]any{
				"name":    "Sender " + id,
				"address": sender,
			},
		},
		"body": map[string]any{
			"contentType": "text",
			"content":     "Body for " + id,
		},
		"bodyPreview":      "Preview " + id,
		"receivedDateTime": "2026-08-29T10:00:00Z",
		"importance":       "normal",
		"isRead":           false,
	}
}

func TestFetchInbox_Pagination(t *testing.T) {
	var secondPageURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		page := map[string]any{
			"value":           []map[string]any{inboxMessage("m1", "a@x.com"), inboxMessage("m2", "b@x.com")},
			"@odata.nextLink": secondPageURL,
		}
		json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		page := map[string]any{
			"value": []map[string]any{inboxMessage("m3", "c@x.com")},
		}
		json.NewEncoder(w).Encode(page)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	secondPageURL = ts.URL + "/page2"

	c := NewClient(ts.Client(), ts.URL)
	emails, err := c.FetchInbox(context.Background(), "24 hours", false, 10)
	if err != nil {
		t.Fatalf("FetchInbox: %v", err)
	}
	if len(emails) != 3 {
		t.Fatalf("emails = %d, want 3 across two pages", len(emails))
	}
	if emails[2].ID != "m3" {
		t.Errorf("last email = %q, want m3", emails[2].ID)
	}
}

func TestFetchInbox_MaxEmailsCap(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msgs []map[string]any
		for i := 0; i < 50; i++ {
			msgs = append(msgs, inboxMessage(fmt.Sprintf("m%d", i), "a@x.com"))
		}
		json.NewEncoder(w).Encode(map[string]any{"value": msgs})
	}))
	t.Cleanup(ts.Close)

	c := NewClient(ts.Client(), ts.URL)
	emails, err := c.FetchInbox(context.Background(), "All", false, 5)
	if err != nil {
		t.Fatalf("FetchInbox: %v", err)
	}
	if len(emails) != 5 {
		t.Errorf("emails = %d, want capped at 5", len(emails))
	}
}

func TestFetchInbox_BuildsFilter(t *testing.T) {
	var gotFilter string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("$filter")
		json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{}})
	}))
	t.Cleanup(ts.Close)

	c := NewClient(ts.Client(), ts.URL)
	if _, err := c.FetchInbox(context.Background(), "24 hours", true, 10); err != nil {
		t.Fatalf("FetchInbox: %v", err)
	}
	if !strings.Contains(gotFilter, "isRead eq false") {
		t.Errorf("filter %q missing unread clause", gotFilter)
	}
	if !strings.Contains(gotFilter, "receivedDateTime ge ") {
		t.Errorf("filter %q missing time cutoff", gotFilter)
	}
}

func TestFetchInbox_PageErrorReturnsPartial(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"value":           []map[string]any{inboxMessage("m1", "a@x.com")},
			"@odata.nextLink": "http://127.0.0.1:1/unreachable",
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	c := NewClient(&http.Client{Timeout: time.Second}, ts.URL)
	emails, err := c.FetchInbox(context.Background(), "All", false, 10)
	if err != nil {
		t.Fatalf("FetchInbox should not fail on a later page: %v", err)
	}
	if len(emails) != 1 {
		t.Errorf("emails = %d, want the 1 fetched before the failure", len(emails))
	}
}

func TestFetchSentTo_FiltersRecipients(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msgs := []map[string]any{
			{
				"id":      "s1",
				"subject": "To the target",
				"body":    map[string]any{"contentType": "text", "content": "hi"},
				"toRecipients": []map[string]any{
					{"emailAddress": map[string]any{"address": "Target@Example.com"}},
				},
			},
			{
				"id":      "s2",
				"subject": "To someone else",
				"body":    map[string]any{"contentType": "text", "content": "hi"},
				"toRecipients": []map[string]any{
					{"emailAddress": map[string]any{"address": "other@example.com"}},
				},
			},
		}
		json.NewEncoder(w).Encode(map[string]any{"value": msgs})
	}))
	t.Cleanup(ts.Close)

	c := NewClient(ts.Client(), ts.URL)
	sent, err := c.FetchSentTo(context.Background(), "target@example.com", 10)
	if err != nil {
		t.Fatalf("FetchSentTo: %v", err)
	}
	if len(sent) != 1 || sent[0].Subject != "To the target" {
		t.Errorf("sent = %+v, want only the matching recipient", sent)
	}
}

func TestFetchSentTo_PageErrorPropagates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"InternalServerError"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	c := NewClient(ts.Client(), ts.URL)
	if _, err := c.FetchSentTo(context.Background(), "target@example.com", 10); err == nil {
		t.Fatal("expected error when a sent items page fails")
	}
	if _, err := c.FetchRecentSent(context.Background(), 10); err == nil {
		t.Fatal("expected error when a sent items page fails")
	}
}

func TestParser_Defaults(t *testing.T) {
	msg := &graphMessage{ID: "m1"}
	email := msg.toEmail()
	if email == nil {
		t.Fatal("message with an ID should parse")
	}
	if email.Subject != "No Subject" || email.SenderName != "Unknown" || email.Importance != "normal" {
		t.Errorf("defaults not applied: %+v", email)
	}
}

func TestParser_DropsMessageWithoutID(t *testing.T) {
	msg := &graphMessage{Subject: "has subject but no id"}
	if msg.toEmail() != nil {
		t.Error("message without ID should be dropped")
	}
}

func TestParser_BodyContentTypes(t *testing.T) {
	html := &graphMessage{ID: "1", BodyPreview: "preview"}
	html.Body.ContentType = "HTML"
	html.Body.Content = "<p>hello</p>"
	e := html.toEmail()
	if e.BodyHTML != "<p>hello</p>" || e.Body != "preview" {
		t.Errorf("html body parse: %+v", e)
	}

	text := &graphMessage{ID: "2"}
	text.Body.ContentType = "text"
	text.Body.Content = "plain"
	e = text.toEmail()
	if e.Body != "plain" || e.BodyHTML != "" {
		t.Errorf("text body parse: %+v", e)
	}
}

func TestDecodeMessages_SkipsBadEntries(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"id": "ok"}`),
		json.RawMessage(`"not an object"`),
		json.RawMessage(`{"id": "ok2"}`),
	}
	msgs := decodeMessages(raw)
	if len(msgs) != 2 {
		t.Errorf("decoded = %d, want 2 (bad entry skipped)", len(msgs))
	}
}

func TestParseTimeWindow(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	cutoff, ok := parseTimeWindow("24 hours", now)
	if !ok || !cutoff.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("24 hours: got %v ok=%v", cutoff, ok)
	}

	cutoff, ok = parseTimeWindow("7 days", now)
	if !ok || !cutoff.Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("7 days: got %v ok=%v", cutoff, ok)
	}

	if _, ok := parseTimeWindow("All", now); ok {
		t.Error("All should mean no cutoff")
	}
	if _, ok := parseTimeWindow("garbage", now); ok {
		t.Error("unparseable window should mean no cutoff")
	}
}
