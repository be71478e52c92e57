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

// MailboxConfig holds credentials for the monitored inbox.
type MailboxConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`

	// XOAUTH2 settings. When ClientID is set the source authenticates
	// with an OAuth2 access token instead of the app password.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// SMTPConfig holds credentials for the outbound mail submission server.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// ClassifierConfig holds the Ollama-compatible chat endpoint settings.
type ClassifierConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds all configuration for the routing service.
type Config struct {
	IMAP       MailboxConfig
	SMTP       SMTPConfig
	Classifier ClassifierConfig

	// Redis (record store)
	RedisURL string

	// Postgres (staff directory + feedback corpus)
	DatabaseURL string

	// Dispatch loop
	FloorDelay          time.Duration
	MaxClassifyAttempts int
	AttachmentDir       string

	// Server (health check only)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	IMAP  MailboxConfig `yaml:"imap"`
	SMTP  SMTPConfig    `yaml:"smtp"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Classifier struct {
		URL     string `yaml:"url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"classifier"`
	Router struct {
		FloorDelay          string `yaml:"floor_delay"`
		MaxClassifyAttempts int    `yaml:"max_classify_attempts"`
		AttachmentDir       string `yaml:"attachment_dir"`
	} `yaml:"router"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. Missing credentials are a
// startup error: the process must not run half-configured.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		IMAP: raw.IMAP,
		SMTP: raw.SMTP,
		Classifier: ClassifierConfig{
			URL:     firstNonEmpty(raw.Classifier.URL, envOrDefault("OLLAMA_URL", "http://localhost:11434")),
			Model:   firstNonEmpty(raw.Classifier.Model, envOrDefault("OLLAMA_MODEL", "llama3.2")),
			Timeout: parseDurationOrDefault(raw.Classifier.Timeout, 30*time.Second),
		},
		RedisURL:            firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		DatabaseURL:         firstNonEmpty(raw.Postgres.URL, os.Getenv("DATABASE_URL")),
		FloorDelay:          parseDurationOrDefault(raw.Router.FloorDelay, envOrDefaultDuration("FLOOR_DELAY", 5*time.Second)),
		MaxClassifyAttempts: intOrDefault(raw.Router.MaxClassifyAttempts, 5),
		AttachmentDir:       firstNonEmpty(raw.Router.AttachmentDir, envOrDefault("ATTACHMENT_DIR", "attachments")),
		Port:                envOrDefaultInt("PORT", 8080),
	}

	if cfg.IMAP.Host == "" {
		cfg.IMAP.Host = "imap.gmail.com"
	}
	if cfg.IMAP.Port == 0 {
		cfg.IMAP.Port = 993
	}
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}
	if cfg.SMTP.Host == "" {
		cfg.SMTP.Host = "smtp.gmail.com"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	if cfg.IMAP.Username == "" {
		return nil, fmt.Errorf("imap.username is required — check config.yaml and environment variables")
	}
	if cfg.IMAP.Password == "" && cfg.IMAP.ClientID == "" {
		return nil, fmt.Errorf("imap credentials missing: set imap.password or the XOAUTH2 client settings")
	}
	if cfg.SMTP.Username == "" || cfg.SMTP.Password == "" {
		return nil, fmt.Errorf("smtp.username and smtp.password are required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("postgres.url (or DATABASE_URL) is required")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseDurationOrDefault(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func intOrDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
