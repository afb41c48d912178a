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
	"strconv"
)

// SDKConfig configures the sdk invocation method: starting or resuming an
// external agent runtime session.
type SDKConfig struct {
	Command        string // binary that starts/resumes the agent runtime
	WorkDir        string
	PermissionMode string
	MaxTurns       int
	Model          string
}

// SDKInvoker starts (or resumes) an external agent runtime process
// configured with working directory, permission mode, max-turns, and
// model, mirroring the parameters a local agent-SDK CLI accepts.
type SDKInvoker struct {
	cfg SDKConfig
}

// NewSDKInvoker builds an SDKInvoker.
func NewSDKInvoker(cfg SDKConfig) *SDKInvoker {
	return &SDKInvoker{cfg: cfg}
}

// Invoke implements Invoker.
func (s *SDKInvoker) Invoke(ctx context.Context, payload Payload) (Result, error) {
	if s.cfg.Command == "" {
		return Result{}, fmt.Errorf("invoker: sdk command not configured")
	}

	args := []string{
		"--permission-mode", s.cfg.PermissionMode,
		"--message-id", payload.MessageID,
		"--swarm-id", payload.SwarmID,
		"--sender-id", payload.SenderID,
	}
	if s.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(s.cfg.MaxTurns))
	}
	if s.cfg.Model != "" {
		args = append(args, "--model", s.cfg.Model)
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, args...)
	if s.cfg.WorkDir != "" {
		cmd.Dir = s.cfg.WorkDir
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("invoker: start sdk runtime: %w", err)
	}
	go cmd.Wait()

	return Result{Invoked: true, Detail: fmt.Sprintf("pid %d", cmd.Process.Pid)}, nil
}
