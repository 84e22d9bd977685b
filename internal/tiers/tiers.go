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

// Package tiers loads sender priority tiers and the block-list from a YAML
// file and answers tier and block-list queries. All addresses are lowercased
// and trimmed at load time, so queries are O(1) set lookups.
package tiers

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jearle/inboxtriage/internal/models"
)

// ErrConfigNotFound is returned when the tiers file does not exist.
var ErrConfigNotFound = errors.New("tier config not found")

// Directory answers priority and block-list queries for sender addresses.
type Directory struct {
	tier1           map[string]struct{}
	tier2           map[string]struct{}
	tier3           map[string]struct{}
	filteredSenders map[string]struct{}
}

// Load reads and parses the tiers YAML file.
//
// The file has three optional tier sections, each with an `emails` list, plus
// an optional `filtered_senders` list. A missing or malformed section yields
// an empty set, never an error — only a missing file or unparseable YAML is
// fatal.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read tier config %s: %w", path, err)
	}

	var root map[string]interface{}
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse tier config %s: %w", path, err)
	}

	d := &Directory{
		tier1:           loadEmails(root, "tier_1"),
		tier2:           loadEmails(root, "tier_2"),
		tier3:           loadEmails(root, "tier_3"),
		filteredSenders: loadList(root["filtered_senders"]),
	}

	slog.Info("tier config loaded",
		"tier_1_count", len(d.tier1),
		"tier_2_count", len(d.tier2),
		"tier_3_count", len(d.tier3),
		"filtered_count", len(d.filteredSenders),
		"total_contacts", len(d.tier1)+len(d.tier2)+len(d.tier3),
	)

	return d, nil
}

// loadEmails extracts and normalizes emails from a tier section. Sections
// that are not a mapping, or whose `emails` key is not a list, yield an
// empty set.
func loadEmails(root map[string]interface{}, tierKey string) map[string]struct{} {
	section, ok := root[tierKey].(map[string]interface{})
	if !ok {
		return map[string]struct{}{}
	}
	return loadList(section["emails"])
}

func loadList(v interface{}) map[string]struct{} {
	out := map[string]struct{}{}
	items, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			out[normalize(s)] = struct{}{}
		}
	}
	return out
}

// normalize lowercases and trims an address. Idempotent.
func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// GetTier returns the priority tier for a sender address. Lookup order
// enforces tier precedence (1 before 2 before 3) if an address appears in
// more than one set.
func (d *Directory) GetTier(senderEmail string) models.Tier {
	addr := normalize(senderEmail)
	if _, ok := d.tier1[addr]; ok {
		return models.TierVVIP
	}
	if _, ok := d.tier2[addr]; ok {
		return models.TierImportant
	}
	if _, ok := d.tier3[addr]; ok {
		return models.TierStandard
	}
	return models.TierDefault
}

// IsBlocked reports whether a sender should be filtered out entirely.
// Beyond the explicit block-list, a heuristic catches Teams/Microsoft
// system notification senders not enumerated individually.
func (d *Directory) IsBlocked(senderEmail string) bool {
	addr := normalize(senderEmail)
	if _, ok := d.filteredSenders[addr]; ok {
		return true
	}
	if (strings.Contains(addr, "no-reply@") || strings.Contains(addr, "noreply@")) &&
		(strings.Contains(addr, "teams") || strings.Contains(addr, "microsoft")) {
		return true
	}
	return false
}
