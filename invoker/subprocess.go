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

package invoker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SubprocessConfig configures the subprocess invocation method.
type SubprocessConfig struct {
	// CommandTemplate is a shell command containing the placeholders
	// {message_id}, {swarm_id}, {sender_id}, {notification_level}.
	CommandTemplate string
	WorkDir         string
}

// SubprocessInvoker spawns a detached command built from CommandTemplate
// with the payload fields substituted in.
type SubprocessInvoker struct {
	cfg SubprocessConfig
}

// NewSubprocessInvoker builds a SubprocessInvoker.
func NewSubprocessInvoker(cfg SubprocessConfig) *SubprocessInvoker {
	return &SubprocessInvoker{cfg: cfg}
}

// Invoke implements Invoker: it renders the command template, spawns it
// detached via exec.CommandContext, and returns once the process starts
// (not once it exits).
func (s *SubprocessInvoker) Invoke(ctx context.Context, payload Payload) (Result, error) {
	if s.cfg.CommandTemplate == "" {
		return Result{}, fmt.Errorf("invoker: subprocess command_template not configured")
	}
	rendered := renderTemplate(s.cfg.CommandTemplate, payload)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", rendered)
	if s.cfg.WorkDir != "" {
		cmd.Dir = s.cfg.WorkDir
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("invoker: spawn subprocess: %w", err)
	}
	go cmd.Wait() // detach: reap without blocking the caller

	return Result{Invoked: true, Detail: fmt.Sprintf("pid %d", cmd.Process.Pid)}, nil
}

func renderTemplate(tmpl string, p Payload) string {
	r := strings.NewReplacer(
		"{message_id}", p.MessageID,
		"{swarm_id}", p.SwarmID,
		"{sender_id}", p.SenderID,
		"{notification_level}", p.NotificationLevel,
	)
	return r.Replace(tmpl)
}
