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

package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jearle/inboxtriage/internal/models"
	"github.com/jearle/inboxtriage/internal/tiers"
)

func testDirectory(t *testing.T) *tiers.Directory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := `
tier_1:
  emails: ["vip@example.com"]
filtered_senders:
  - "blocked@example.com"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write tiers: %v", err)
	}
	d, err := tiers.Load(path)
	if err != nil {
		t.Fatalf("load tiers: %v", err)
	}
	return d
}

func TestIsCalendarInvite_MeetingMessageType(t *testing.T) {
	email := &models.Email{
		Subject:            "Project kickoff",
		MeetingMessageType: "meetingRequest",
	}
	if !IsCalendarInvite(email) {
		t.Error("meetingMessageType should mark the email as an invite")
	}
}

func TestIsCalendarInvite_SubjectPrefixes(t *testing.T) {
	cases := []struct {
		subject string
		want    bool
	}{
		{"Accepted: Weekly Sync", true},
		{"DECLINED: budget review", true},
		{"Tentative: 1:1", true},
		{"Meeting Request: roadmap", true},
		{"Updated Invitation: offsite", true},
		{"Notes from today's meeting", false},
		{"Re: Accepted: not a prefix match", false},
	}
	for _, tc := range cases {
		email := &models.Email{Subject: tc.subject, Body: "plain text body"}
		if got := IsCalendarInvite(email); got != tc.want {
			t.Errorf("IsCalendarInvite(subject=%q) = %v, want %v", tc.subject, got, tc.want)
		}
	}
}

func TestIsCalendarInvite_BodyPatterns(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"ics payload", "BEGIN:VCALENDAR\nVERSION:2.0", true},
		{"teams link", "Join here: https://teams.microsoft.com/l/meetup-join/xyz", true},
		{"zoom link", "https://us02web.zoom.us/j/123456", true},
		{"google meet", "https://meet.google.com/abc-defg-hij", true},
		{"ordinary prose", "Let's find time to meet next week and discuss scheduling.", false},
	}
	for _, tc := range cases {
		email := &models.Email{Subject: "FYI", Body: tc.body}
		if got := IsCalendarInvite(email); got != tc.want {
			t.Errorf("%s: IsCalendarInvite = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsCalendarInvite_ChecksPreviewAndHTML(t *testing.T) {
	email := &models.Email{
		Subject:     "FYI",
		BodyPreview: "Click here to join the meeting",
	}
	if !IsCalendarInvite(email) {
		t.Error("pattern in body preview should match")
	}

	email = &models.Email{
		Subject:  "FYI",
		BodyHTML: `<a href="https://calendly.com/someone/30min">book</a>`,
	}
	if !IsCalendarInvite(email) {
		t.Error("pattern in HTML body should match")
	}
}

func TestEvaluate_SenderFilterWinsOverInvite(t *testing.T) {
	dir := testDirectory(t)
	email := &models.Email{
		Subject:     "Accepted: Weekly Sync",
		SenderName:  "Blocked Person",
		SenderEmail: "blocked@example.com",
	}
	result := Evaluate(email, dir)
	if !result.Filtered {
		t.Fatal("expected email to be filtered")
	}
	if result.Reason != models.ReasonFilteredSender {
		t.Errorf("reason = %q, want filtered_sender (sender check runs first)", result.Reason)
	}
}

func TestEvaluate_CalendarInvite(t *testing.T) {
	dir := testDirectory(t)
	email := &models.Email{
		Subject:     "Accepted: Standup",
		SenderName:  "Colleague",
		SenderEmail: "colleague@example.com",
	}
	result := Evaluate(email, dir)
	if !result.Filtered || result.Reason != models.ReasonCalendarInvite {
		t.Errorf("got %+v, want calendar_invite filter", result)
	}
}

func TestEvaluate_PassThrough(t *testing.T) {
	dir := testDirectory(t)
	email := &models.Email{
		Subject:     "Notes from today's meeting",
		SenderEmail: "colleague@example.com",
		Body:        "Here are the notes we discussed. Let's sync on scheduling later.",
	}
	result := Evaluate(email, dir)
	if result.Filtered {
		t.Errorf("ordinary email should pass, got %+v", result)
	}
	if result.Reason != "" || result.Detail != "" {
		t.Errorf("unfiltered result should have empty reason/detail, got %+v", result)
	}
}
