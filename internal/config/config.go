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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the triage service.
type Config struct {
	// Azure AD / Microsoft Graph
	AzureClientID     string
	AzureClientSecret string
	AzureTenantID     string
	RedirectURL       string
	GraphBaseURL      string

	// Anthropic
	AnthropicAPIKey  string
	AnthropicModel   string
	MaxTokensSummary int
	MaxTokensDraft   int

	// LLM gateway behaviour
	LLMMaxRetries  int
	LLMTimeout     time.Duration
	LLMCallsPerMin int // 0 = unlimited

	// Orchestrator
	TierConfigPath string
	SummaryWorkers int

	// Sessions
	RedisURL   string
	SessionTTL time.Duration

	// Audit sink (optional)
	DatabaseURL string

	// Server
	Port   int
	AppEnv string // "development" or "production"
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Azure struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		TenantID     string `yaml:"tenant_id"`
		RedirectURL  string `yaml:"redirect_url"`
	} `yaml:"azure"`
	Anthropic struct {
		APIKey           string `yaml:"api_key"`
		Model            string `yaml:"model"`
		MaxTokensSummary int    `yaml:"max_tokens_summary"`
		MaxTokensDraft   int    `yaml:"max_tokens_draft"`
	} `yaml:"anthropic"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Tiers struct {
		Path string `yaml:"path"`
	} `yaml:"tiers"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. Missing required secrets
// fail the load with a clear error rather than surfacing later at runtime.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config/config.yaml")

	var raw rawConfig
	if data, err := os.ReadFile(configPath); err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		AzureClientID:     firstNonEmpty(raw.Azure.ClientID, os.Getenv("AZURE_CLIENT_ID")),
		AzureClientSecret: firstNonEmpty(raw.Azure.ClientSecret, os.Getenv("AZURE_CLIENT_SECRET")),
		AzureTenantID:     firstNonEmpty(raw.Azure.TenantID, os.Getenv("AZURE_TENANT_ID")),
		RedirectURL:       firstNonEmpty(raw.Azure.RedirectURL, envOrDefault("AZURE_REDIRECT_URL", "http://localhost:8080/auth/callback")),
		GraphBaseURL:      envOrDefault("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),

		AnthropicAPIKey:  firstNonEmpty(raw.Anthropic.APIKey, os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicModel:   firstNonEmpty(raw.Anthropic.Model, envOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-20250514")),
		MaxTokensSummary: intOrDefault(raw.Anthropic.MaxTokensSummary, envOrDefaultInt("MAX_TOKENS_SUMMARY", 200)),
		MaxTokensDraft:   intOrDefault(raw.Anthropic.MaxTokensDraft, envOrDefaultInt("MAX_TOKENS_DRAFT", 500)),

		LLMMaxRetries:  envOrDefaultInt("LLM_MAX_RETRIES", 3),
		LLMTimeout:     envOrDefaultDuration("LLM_TIMEOUT", 60*time.Second),
		LLMCallsPerMin: envOrDefaultInt("LLM_CALLS_PER_MINUTE", 0),

		TierConfigPath: firstNonEmpty(raw.Tiers.Path, envOrDefault("TIER_CONFIG_PATH", "config/tiers.yaml")),
		SummaryWorkers: envOrDefaultInt("SUMMARY_WORKERS", 4),

		RedisURL:   firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		SessionTTL: envOrDefaultDuration("SESSION_TTL", time.Hour),

		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),

		Port:   envOrDefaultInt("PORT", 8080),
		AppEnv: envOrDefault("APP_ENV", "development"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that required secrets are present. No defaults for secrets.
func (c *Config) validate() error {
	var missing []string
	if c.AzureClientID == "" {
		missing = append(missing, "AZURE_CLIENT_ID")
	}
	if c.AzureClientSecret == "" {
		missing = append(missing, "AZURE_CLIENT_SECRET")
	}
	if c.AzureTenantID == "" {
		missing = append(missing, "AZURE_TENANT_ID")
	}
	if c.AnthropicAPIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intOrDefault(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
