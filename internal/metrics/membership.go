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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MembershipOperations tracks membership.Service calls by operation
	// and outcome.
	MembershipOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "operations_total",
			Help:      "Total number of membership operations",
		},
		[]string{"operation", "status"}, // create/invite/join/leave/kick/transfer/transfer_accept/transfer_decline/mute/unmute, ok/error
	)

	// MembersGauge tracks current member count per swarm.
	MembersGauge = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "members",
			Help:      "Current member count for a swarm",
		},
		[]string{"swarm_id"},
	)
)
