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
	"sync"
	"time"
)

// window is a fixed-size sliding window counter keyed by an arbitrary
// string (sender agent_id or source IP).
type window struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	hits   map[string][]time.Time
}

func newWindow(limit int, period time.Duration) *window {
	return &window{limit: limit, period: period, hits: make(map[string][]time.Time)}
}

// allow records one hit for key at now and reports whether it is within
// limit, along with the remaining quota and the time the window resets.
func (w *window) allow(key string, now time.Time) (ok bool, remaining int, reset time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.period)
	times := w.hits[key]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= w.limit {
		w.hits[key] = kept
		return false, 0, kept[0].Add(w.period)
	}

	kept = append(kept, now)
	w.hits[key] = kept
	return true, w.limit - len(kept), now.Add(w.period)
}

// RateLimiter enforces the per-sender and per-IP sliding-window limits:
// 60 msg/min per sender, 10 join/hour per IP.
type RateLimiter struct {
	perSender *window
	perIPJoin *window
}

// NewRateLimiter builds a RateLimiter with the default limits.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithLimits(60, 10)
}

// NewRateLimiterWithLimits builds a RateLimiter with operator-configured
// limits. Non-positive values fall back to the defaults.
func NewRateLimiterWithLimits(messagesPerMinute, joinsPerHour int) *RateLimiter {
	if messagesPerMinute <= 0 {
		messagesPerMinute = 60
	}
	if joinsPerHour <= 0 {
		joinsPerHour = 10
	}
	return &RateLimiter{
		perSender: newWindow(messagesPerMinute, time.Minute),
		perIPJoin: newWindow(joinsPerHour, time.Hour),
	}
}

// AllowMessage checks the per-sender limit for ordinary messages.
func (r *RateLimiter) AllowMessage(senderID string, now time.Time) (ok bool, remaining int, reset time.Time) {
	return r.perSender.allow(senderID, now)
}

// AllowJoin checks the per-IP limit for join requests.
func (r *RateLimiter) AllowJoin(ip string, now time.Time) (ok bool, remaining int, reset time.Time) {
	return r.perIPJoin.allow(ip, now)
}
