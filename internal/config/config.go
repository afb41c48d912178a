// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config describes a swarmd node's on-disk configuration: its
// identity, storage location, HTTP listen address, rate limits, wake
// trigger defaults, invocation method and wake-endpoint secret.
package config

import (
	"fmt"
	"time"

	"github.com/swarmproto/swarmd/invoker"
	"github.com/swarmproto/swarmd/session"
)

// Config is the root configuration for one swarmd node.
type Config struct {
	Environment string `yaml:"environment"`

	Identity  IdentityConfig  `yaml:"identity"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Wake      WakeConfig      `yaml:"wake"`
	Session   SessionConfig   `yaml:"session"`
	Invoker   InvokerConfig   `yaml:"invoker"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

// IdentityConfig locates this node's Ed25519 signing key.
type IdentityConfig struct {
	// KeyPath is a raw 32-byte Ed25519 seed on disk (0600 perms), or, when
	// VaultPassphraseEnv is set, a vault envelope produced by internal/vault.
	KeyPath string `yaml:"key_path"`
	// VaultPassphraseEnv names the environment variable holding the
	// passphrase that decrypts KeyPath. Empty means KeyPath is plaintext.
	VaultPassphraseEnv string `yaml:"vault_passphrase_env"`
	AgentID            string `yaml:"agent_id"`
	Endpoint           string `yaml:"endpoint"`
}

// StoreConfig locates the embedded SQLite database.
type StoreConfig struct {
	// Path is a filesystem path, or ":memory:" for an ephemeral store.
	Path string `yaml:"path"`
}

// ServerConfig controls the receiver's HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// RateLimitConfig overrides the receiver's default sliding-window limits.
type RateLimitConfig struct {
	MessagesPerMinute int `yaml:"messages_per_minute"`
	JoinsPerHour      int `yaml:"joins_per_hour"`
}

// WakeConfig is the default NotificationPreferences applied to every
// swarm a node has not explicitly overridden.
type WakeConfig struct {
	Enabled bool `yaml:"enabled"`
	// EndpointEnabled gates whether POST /api/wake is mounted at all,
	// independent of Enabled. It does not gate local wakes: the receiver
	// dispatches WAKE decisions to the in-process wake handler whether or
	// not the HTTP endpoint is mounted.
	EndpointEnabled bool     `yaml:"endpoint_enabled"`
	DefaultLevel    string   `yaml:"default_level"`
	AnyMessage      bool     `yaml:"any_message"`
	DirectMention   bool     `yaml:"direct_mention"`
	HighPriority    bool     `yaml:"high_priority"`
	SwarmSystemMsg  bool     `yaml:"swarm_system_msg"`
	WatchedAgents   []string `yaml:"watched_agents"`
	WatchedKeywords []string `yaml:"watched_keywords"`
	QuietHoursStart int      `yaml:"quiet_hours_start"`
	QuietHoursEnd   int      `yaml:"quiet_hours_end"`
	QuietHoursOn    bool     `yaml:"quiet_hours_enabled"`
}

// SessionConfig controls the idle/active/suspended lifecycle a wake
// invocation runs under.
type SessionConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// InvokerConfig selects and configures the node's activation method.
type InvokerConfig struct {
	Method       string                   `yaml:"method"`
	SharedSecret string                   `yaml:"shared_secret"`
	Tmux         invoker.TmuxConfig       `yaml:"tmux"`
	Subprocess   invoker.SubprocessConfig `yaml:"subprocess"`
	Webhook      WebhookConfig            `yaml:"webhook"`
	SDK          invoker.SDKConfig        `yaml:"sdk"`
}

// WebhookConfig mirrors invoker.WebhookConfig with a YAML-friendly
// duration field; InvokerConfig.ToInvokerConfig converts it.
type WebhookConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_seconds"`
}

// LoggingConfig controls internal/logger's output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig controls the Prometheus /metrics listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// HealthConfig controls the /swarm/health endpoint.
type HealthConfig struct {
	Path            string        `yaml:"path"`
	CheckTimeout    time.Duration `yaml:"check_timeout"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
}

// ToInvokerConfig builds the invoker package's Config from this node's
// settings, converting YAML-friendly durations to time.Duration.
func (c InvokerConfig) ToInvokerConfig() invoker.Config {
	return invoker.Config{
		Method:     invoker.Method(c.Method),
		Tmux:       c.Tmux,
		Subprocess: c.Subprocess,
		Webhook: invoker.WebhookConfig{
			URL:     c.Webhook.URL,
			Timeout: time.Duration(c.Webhook.TimeoutSec) * time.Second,
		},
		SDK: c.SDK,
	}
}

// setDefaults fills the zero-value fields a freshly-parsed Config is
// likely to have.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "swarmd.db"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8443"
	}
	if cfg.RateLimit.MessagesPerMinute == 0 {
		cfg.RateLimit.MessagesPerMinute = 60
	}
	if cfg.RateLimit.JoinsPerHour == 0 {
		cfg.RateLimit.JoinsPerHour = 10
	}
	if cfg.Wake.DefaultLevel == "" {
		cfg.Wake.DefaultLevel = "normal"
	}
	if cfg.Invoker.Method == "" {
		cfg.Invoker.Method = "noop"
	}
	if cfg.Session.TimeoutSeconds == 0 {
		cfg.Session.TimeoutSeconds = int(session.DefaultTimeout / time.Second)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/swarm/health"
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = 5 * time.Second
	}
	if cfg.Health.CacheTTLSeconds == 0 {
		cfg.Health.CacheTTLSeconds = 10
	}
}

// Validate rejects configurations that would fail at startup in a more
// confusing way later: an agent with no identity.agent_id or
// identity.key_path, an unrecognized invoker.method, or an unrecognized
// logging.level. It does not check the listen address or store path;
// setDefaults fills those when they are empty.
func Validate(cfg *Config) error {
	if cfg.Identity.AgentID == "" {
		return fmt.Errorf("config: identity.agent_id is required")
	}
	if cfg.Identity.KeyPath == "" {
		return fmt.Errorf("config: identity.key_path is required")
	}
	switch invoker.Method(cfg.Invoker.Method) {
	case invoker.MethodTmux, invoker.MethodSubprocess, invoker.MethodWebhook, invoker.MethodSDK, invoker.MethodNoop:
	default:
		return fmt.Errorf("config: invoker.method %q is not recognized", cfg.Invoker.Method)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("config: logging.level %q is not recognized", cfg.Logging.Level)
	}
	return nil
}
