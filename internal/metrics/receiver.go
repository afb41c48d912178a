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
	// HTTPRequestDuration tracks the receiver's per-route HTTP latency.
	HTTPRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to 4.1s
		},
		[]string{"path", "method", "status"},
	)

	// InboxInserts tracks first-seen inbox writes from /swarm/message.
	InboxInserts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "inserts_total",
			Help:      "Total number of inbox entries inserted",
		},
		[]string{"type"}, // message, system, notification
	)

	// InboxDuplicates tracks replayed message_ids that hit the idempotent
	// insert short-circuit instead of writing a new row.
	InboxDuplicates = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "duplicates_total",
			Help:      "Total number of duplicate message_ids seen on /swarm/message",
		},
	)

	// MutedMessages tracks messages suppressed by the mute filter before
	// reaching the inbox.
	MutedMessages = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "muted_total",
			Help:      "Total number of messages suppressed by the mute filter",
		},
	)
)
