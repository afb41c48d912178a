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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_FallsBackThroughCandidateFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", `
identity:
  agent_id: agent-default
  key_path: /tmp/key.seed
store:
  path: /tmp/swarmd.db
`)

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "production"})
	require.NoError(t, err)
	assert.Equal(t, "agent-default", cfg.Identity.AgentID)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoad_PrefersEnvironmentSpecificFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", `
identity:
  agent_id: agent-default
  key_path: /tmp/key.seed
`)
	writeConfigFile(t, dir, "staging.yaml", `
identity:
  agent_id: agent-staging
  key_path: /tmp/key.seed
`)

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "staging"})
	require.NoError(t, err)
	assert.Equal(t, "agent-staging", cfg.Identity.AgentID)
}

func TestLoad_NoFileStillAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "development", SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, "swarmd.db", cfg.Store.Path)
	assert.Equal(t, ":8443", cfg.Server.ListenAddr)
	assert.Equal(t, 60, cfg.RateLimit.MessagesPerMinute)
	assert.Equal(t, 10, cfg.RateLimit.JoinsPerHour)
	assert.Equal(t, "noop", cfg.Invoker.Method)
}

func TestLoad_ValidatesMissingIdentity(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(LoaderOptions{ConfigDir: dir, Environment: "development"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity.agent_id")
}

func TestLoad_EnvVarSubstitution(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("SWARMD_TEST_KEY_PATH", "/secure/key.seed")
	t.Cleanup(func() { os.Unsetenv("SWARMD_TEST_KEY_PATH") })

	writeConfigFile(t, dir, "default.yaml", `
identity:
  agent_id: agent-1
  key_path: "${SWARMD_TEST_KEY_PATH}"
`)

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "development"})
	require.NoError(t, err)
	assert.Equal(t, "/secure/key.seed", cfg.Identity.KeyPath)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.yaml", `
identity:
  agent_id: agent-1
  key_path: /tmp/key.seed
server:
  listen_addr: ":9999"
`)

	os.Setenv("SWARMD_LISTEN_ADDR", ":7000")
	os.Setenv("SWARMD_LOG_LEVEL", "debug")
	t.Cleanup(func() {
		os.Unsetenv("SWARMD_LISTEN_ADDR")
		os.Unsetenv("SWARMD_LOG_LEVEL")
	})

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "development"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_RejectsUnknownInvokerMethod(t *testing.T) {
	cfg := &Config{
		Identity: IdentityConfig{AgentID: "a", KeyPath: "/tmp/k"},
		Invoker:  InvokerConfig{Method: "carrier-pigeon"},
		Logging:  LoggingConfig{Level: "info"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invoker.method")
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := &Config{
		Identity: IdentityConfig{AgentID: "a", KeyPath: "/tmp/k"},
		Invoker:  InvokerConfig{Method: "noop"},
		Logging:  LoggingConfig{Level: "verbose"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestInvokerConfig_ToInvokerConfig(t *testing.T) {
	c := InvokerConfig{
		Method: "webhook",
		Webhook: WebhookConfig{
			URL:        "https://agent.example/wake",
			TimeoutSec: 5,
		},
	}
	ic := c.ToInvokerConfig()
	assert.Equal(t, "https://agent.example/wake", ic.Webhook.URL)
	assert.Equal(t, "5s", ic.Webhook.Timeout.String())
}

func TestGetEnvironment_DefaultsToDevelopment(t *testing.T) {
	os.Unsetenv("SWARMD_ENV")
	assert.Equal(t, "development", GetEnvironment())

	os.Setenv("SWARMD_ENV", "production")
	t.Cleanup(func() { os.Unsetenv("SWARMD_ENV") })
	assert.Equal(t, "production", GetEnvironment())
}
