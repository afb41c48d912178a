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
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// LoaderOptions controls where Load looks and whether it applies
// environment overrides and validation.
type LoaderOptions struct {
	ConfigDir           string
	Environment         string
	SkipEnvSubstitution bool
	SkipValidation      bool
}

// DefaultLoaderOptions mirrors what a bare `swarmd serve` invocation uses.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:   "config",
		Environment: GetEnvironment(),
	}
}

// Load reads a Config from the first of
// "<ConfigDir>/<Environment>.yaml", "<ConfigDir>/default.yaml", or
// "<ConfigDir>/config.yaml" that exists, applies environment variable
// overrides, fills defaults, and validates. With no options, it uses
// DefaultLoaderOptions().
func Load(opts ...LoaderOptions) (*Config, error) {
	o := DefaultLoaderOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.ConfigDir == "" {
		o.ConfigDir = "config"
	}
	if o.Environment == "" {
		o.Environment = GetEnvironment()
	}

	candidates := []string{
		filepath.Join(o.ConfigDir, o.Environment+".yaml"),
		filepath.Join(o.ConfigDir, "default.yaml"),
		filepath.Join(o.ConfigDir, "config.yaml"),
	}

	var cfg *Config
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		loaded, err := loadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
		cfg = loaded
		break
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Environment = o.Environment

	if !o.SkipEnvSubstitution {
		substituteEnvVars(cfg)
	}
	applyEnvironmentOverrides(cfg)
	setDefaults(cfg)

	if !o.SkipValidation {
		if err := Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadForEnvironment is a convenience wrapper around Load for callers
// that only need to pick the environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{ConfigDir: "config", Environment: environment})
}

// MustLoad calls Load and panics on error, for use in main() where a
// bad config should halt startup immediately.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(err)
	}
	return cfg
}

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// substituteEnvVar replaces ${VAR} or ${VAR:default} in a single string.
func substituteEnvVar(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return defaultValue
	})
}

// substituteEnvVars recursively resolves ${VAR} references across the
// string fields a node operator is likely to template from secrets.
func substituteEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Identity.KeyPath = substituteEnvVar(cfg.Identity.KeyPath)
	cfg.Identity.VaultPassphraseEnv = substituteEnvVar(cfg.Identity.VaultPassphraseEnv)
	cfg.Identity.Endpoint = substituteEnvVar(cfg.Identity.Endpoint)
	cfg.Store.Path = substituteEnvVar(cfg.Store.Path)
	cfg.Invoker.SharedSecret = substituteEnvVar(cfg.Invoker.SharedSecret)
	cfg.Invoker.Webhook.URL = substituteEnvVar(cfg.Invoker.Webhook.URL)
	cfg.Logging.Level = substituteEnvVar(cfg.Logging.Level)
	cfg.Logging.Format = substituteEnvVar(cfg.Logging.Format)
	cfg.Logging.Output = substituteEnvVar(cfg.Logging.Output)
}

// applyEnvironmentOverrides lets operators override a handful of
// hot-path settings without editing the YAML file.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("SWARMD_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("SWARMD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SWARMD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SWARMD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SWARMD_INVOKER_METHOD"); v != "" {
		cfg.Invoker.Method = v
	}
	if v := os.Getenv("SWARMD_WAKE_SECRET"); v != "" {
		cfg.Invoker.SharedSecret = v
	}
	if v := os.Getenv("SWARMD_METRICS_ENABLED"); v == "true" || v == "1" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("SWARMD_WAKE_ENDPOINT_ENABLED"); v == "true" || v == "1" {
		cfg.Wake.EndpointEnabled = true
	}
}

// GetEnvironment returns the deployment environment from SWARMD_ENV, or
// "development" if unset.
func GetEnvironment() string {
	if env := os.Getenv("SWARMD_ENV"); env != "" {
		return env
	}
	return "development"
}
