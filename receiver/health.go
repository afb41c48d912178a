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

package receiver

import (
	"encoding/base64"
	"net/http"

	"github.com/swarmproto/swarmd/health"
)

// handleHealth serves GET /swarm/health: a liveness probe, degraded if
// any registered health.HealthChecker check is unhealthy or degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.health != nil {
		switch s.health.GetOverallStatus(r.Context()) {
		case health.StatusUnhealthy, health.StatusDegraded:
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"agent_id":         s.selfID,
		"protocol_version": ProtocolVersion,
		"timestamp":        s.now().UTC(),
	})
}

// handleInfo serves GET /swarm/info: this node's public identity, the
// source peers fetch from on key-cache miss or signature-failure retry.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"agent_id":         s.selfID,
		"endpoint":         s.selfEndpoint,
		"public_key":       base64.StdEncoding.EncodeToString(s.selfPublicKey),
		"protocol_version": ProtocolVersion,
		"capabilities":     s.capabilities,
	}
	writeJSON(w, http.StatusOK, resp)
}
