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

// Package metrics exposes a node's Prometheus counters and histograms:
// HTTP request duration, membership operation counts, and wake-decision
// outcomes, one subsystem file per concern.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every metric name registered through this package.
const namespace = "swarmd"

// Registry is the node's Prometheus registry. A dedicated registry
// rather than prometheus.DefaultRegisterer keeps /metrics free of the Go
// runtime's default process/collector noise unless a caller opts in.
var Registry = prometheus.NewRegistry()
