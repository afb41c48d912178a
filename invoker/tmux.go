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
)

// TmuxConfig configures the tmux invocation method.
type TmuxConfig struct {
	// Target is a tmux target in session:window.pane form.
	Target string
}

// TmuxInvoker injects a notification line into a named tmux pane via
// `tmux send-keys`.
type TmuxInvoker struct {
	cfg TmuxConfig
}

// NewTmuxInvoker builds a TmuxInvoker.
func NewTmuxInvoker(cfg TmuxConfig) *TmuxInvoker {
	return &TmuxInvoker{cfg: cfg}
}

// Invoke implements Invoker.
func (t *TmuxInvoker) Invoke(ctx context.Context, payload Payload) (Result, error) {
	if t.cfg.Target == "" {
		return Result{}, fmt.Errorf("invoker: tmux target not configured")
	}
	line := fmt.Sprintf("# swarm wake: message=%s swarm=%s sender=%s level=%s",
		payload.MessageID, payload.SwarmID, payload.SenderID, payload.NotificationLevel)

	cmd := exec.CommandContext(ctx, "tmux", "send-keys", "-t", t.cfg.Target, line, "Enter")
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("invoker: tmux send-keys: %w", err)
	}
	return Result{Invoked: true, Detail: "tmux:" + t.cfg.Target}, nil
}
