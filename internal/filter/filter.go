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

// Package filter decides which emails should be hidden from the user because
// they are automated messages (calendar invites, blocked senders) that don't
// require a human response. Detection is pattern-based, not semantic: an
// email that merely discusses scheduling in prose is never filtered.
package filter

import (
	"fmt"
	"strings"

	"github.com/jearle/inboxtriage/internal/models"
	"github.com/jearle/inboxtriage/internal/tiers"
)

// Calendar-related subject prefixes (matched case-insensitively).
var calendarSubjectPrefixes = []string{
	"accepted:",
	"declined:",
	"tentative:",
	"canceled:",
	"cancelled:",
	"updated invitation:",
	"invitation:",
	"meeting request:",
	"meeting canceled:",
	"meeting cancelled:",
}

// Body content patterns indicating calendar invites (matched case-insensitively).
var calendarBodyPatterns = []string{
	"begin:vcalendar",
	"microsoft teams meeting",
	"join microsoft teams meeting",
	"teams.microsoft.com/l/meetup-join",
	"zoom.us/j/",
	"join zoom meeting",
	"webex.com/meet",
	"meet.google.com/",
	"calendly.com/",
	"when: ",
	"location: microsoft teams",
	"join the meeting",
	"click here to join the meeting",
}

// IsCalendarInvite determines whether an email is an automated calendar
// invite. Any one of three signals is sufficient: the Graph API
// meetingMessageType field, a calendar subject prefix, or meeting content
// in the body (ICS data, Teams/Zoom/Meet links).
func IsCalendarInvite(email *models.Email) bool {
	if email.MeetingMessageType != "" {
		return true
	}

	subject := strings.ToLower(email.Subject)
	for _, p := range calendarSubjectPrefixes {
		if strings.HasPrefix(subject, p) {
			return true
		}
	}

	combined := strings.ToLower(email.Body + " " + email.BodyPreview + " " + email.BodyHTML)
	for _, p := range calendarBodyPatterns {
		if strings.Contains(combined, p) {
			return true
		}
	}

	return false
}

// Evaluate runs all filters on an email. Filter order is fixed: sender
// block-list first, then calendar invite detection. First match wins.
// The Detail field carries metadata only, never body content.
func Evaluate(email *models.Email, dir *tiers.Directory) models.FilterResult {
	if dir.IsBlocked(email.SenderEmail) {
		return models.FilterResult{
			Filtered: true,
			Reason:   models.ReasonFilteredSender,
			Detail:   fmt.Sprintf("Blocked sender: %s (%s)", email.SenderName, email.SenderEmail),
		}
	}

	if IsCalendarInvite(email) {
		return models.FilterResult{
			Filtered: true,
			Reason:   models.ReasonCalendarInvite,
			Detail:   fmt.Sprintf("Calendar invite: %s - %s", email.SenderName, truncate(email.Subject, 50)),
		}
	}

	return models.FilterResult{Filtered: false}
}

// truncate caps a string at max characters without splitting a rune.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
