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

// Package invoker implements the polymorphic agent activation methods:
// tmux, subprocess, webhook, sdk, noop. Method selection is
// configuration; a node runs exactly one for its lifetime.
package invoker

import (
	"context"
	"fmt"
)

// Method names the configured invocation mechanism.
type Method string

const (
	MethodTmux       Method = "tmux"
	MethodSubprocess Method = "subprocess"
	MethodWebhook    Method = "webhook"
	MethodSDK        Method = "sdk"
	MethodNoop       Method = "noop"
)

// Payload is what gets carried to an invocation: the subprocess template
// placeholders and the webhook JSON body share these fields.
type Payload struct {
	MessageID         string `json:"message_id"`
	SwarmID           string `json:"swarm_id"`
	SenderID          string `json:"sender_id"`
	NotificationLevel string `json:"notification_level"`
}

// Result is the outcome of one invocation.
type Result struct {
	Invoked bool
	Detail  string
}

// Invoker activates the agent by some method-specific mechanism.
type Invoker interface {
	Invoke(ctx context.Context, payload Payload) (Result, error)
}

// Factory builds an Invoker for a given Method. Each factory validates
// the configuration its method requires, so a misconfigured invoker
// fails at startup rather than on the first wake.
type Factory func(cfg Config) (Invoker, error)

var registry = map[Method]Factory{
	MethodTmux: func(cfg Config) (Invoker, error) {
		if cfg.Tmux.Target == "" {
			return nil, fmt.Errorf("invoker: tmux target not configured")
		}
		return NewTmuxInvoker(cfg.Tmux), nil
	},
	MethodSubprocess: func(cfg Config) (Invoker, error) {
		if cfg.Subprocess.CommandTemplate == "" {
			return nil, fmt.Errorf("invoker: subprocess command_template not configured")
		}
		return NewSubprocessInvoker(cfg.Subprocess), nil
	},
	MethodWebhook: func(cfg Config) (Invoker, error) {
		if cfg.Webhook.URL == "" {
			return nil, fmt.Errorf("invoker: webhook url not configured")
		}
		return NewWebhookInvoker(cfg.Webhook), nil
	},
	MethodSDK: func(cfg Config) (Invoker, error) {
		if cfg.SDK.Command == "" {
			return nil, fmt.Errorf("invoker: sdk command not configured")
		}
		return NewSDKInvoker(cfg.SDK), nil
	},
	MethodNoop: func(cfg Config) (Invoker, error) { return NewNoopInvoker(), nil },
}

// Config aggregates every method's settings; only the section matching
// the selected Method is read.
type Config struct {
	Method     Method
	Tmux       TmuxConfig
	Subprocess SubprocessConfig
	Webhook    WebhookConfig
	SDK        SDKConfig
}

// New builds the Invoker configured by cfg.Method.
func New(cfg Config) (Invoker, error) {
	factory, ok := registry[cfg.Method]
	if !ok {
		return nil, fmt.Errorf("invoker: unknown method %q", cfg.Method)
	}
	return factory(cfg)
}
