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

// Package waketrigger decides whether an inbound message should wake the
// agent, be queued for later, or be skipped entirely. It is a
// pure function over a message and a preferences configuration: no I/O,
// no Store dependency.
package waketrigger

import (
	"strings"
	"time"

	"github.com/swarmproto/swarmd/envelope"
)

// Condition is one of the wake conditions a NotificationPreferences set
// can enable.
type Condition string

const (
	ConditionAnyMessage        Condition = "ANY_MESSAGE"
	ConditionDirectMention     Condition = "DIRECT_MENTION"
	ConditionHighPriority      Condition = "HIGH_PRIORITY"
	ConditionFromSpecificAgent Condition = "FROM_SPECIFIC_AGENT"
	ConditionKeywordMatch      Condition = "KEYWORD_MATCH"
	ConditionSwarmSystemMsg    Condition = "SWARM_SYSTEM_MESSAGE"
)

// NotificationLevel mirrors envelope.Priority for the wake payload, kept
// as its own type since it describes the trigger's own urgency framing
// rather than the message's.
type NotificationLevel string

const (
	LevelLow    NotificationLevel = "low"
	LevelNormal NotificationLevel = "normal"
	LevelHigh   NotificationLevel = "high"
)

// QuietHours is a UTC hour-of-day window, inclusive of Start, exclusive
// of End, wrapping past midnight when End < Start.
type QuietHours struct {
	Enabled bool
	Start   int // 0-23
	End     int // 0-23
}

func (q QuietHours) covers(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	h := t.UTC().Hour()
	if q.Start == q.End {
		return false
	}
	if q.Start < q.End {
		return h >= q.Start && h < q.End
	}
	return h >= q.Start || h < q.End
}

// Preferences is the notification-preferences configuration.
type Preferences struct {
	Enabled         bool
	DefaultLevel    NotificationLevel
	WakeConditions  map[Condition]bool
	WatchedAgents   map[string]bool
	WatchedKeywords []string
	MutedSwarms     map[string]bool
	QuietHours      QuietHours
}

// Decision is the outcome of evaluating one message.
type Decision string

const (
	DecisionWake  Decision = "WAKE"
	DecisionQueue Decision = "QUEUE"
	DecisionSkip  Decision = "SKIP"
)

// Result is Decision plus the notification level to carry on a WAKE.
type Result struct {
	Decision          Decision
	NotificationLevel NotificationLevel
	MatchedCondition  Condition
}

// Evaluate runs the decision rules in order, first match wins.
// selfAgentID is this node's own agent_id, used for the DIRECT_MENTION
// condition.
func Evaluate(prefs Preferences, e *envelope.Envelope, selfAgentID string, now time.Time) Result {
	// 1. Disabled.
	if !prefs.Enabled {
		return Result{Decision: DecisionSkip}
	}

	// 2. Muted swarm.
	if prefs.MutedSwarms[e.SwarmID] {
		return Result{Decision: DecisionSkip}
	}

	// 3. Quiet hours, unless the message itself is high priority.
	if prefs.QuietHours.covers(now) && e.Priority != envelope.PriorityHigh {
		return Result{Decision: DecisionQueue}
	}

	// 4. Any wake condition matches.
	if cond, ok := matchCondition(prefs, e, selfAgentID); ok {
		return Result{Decision: DecisionWake, NotificationLevel: levelFor(e, prefs), MatchedCondition: cond}
	}

	// 5. Default.
	return Result{Decision: DecisionQueue}
}

func matchCondition(prefs Preferences, e *envelope.Envelope, selfAgentID string) (Condition, bool) {
	if prefs.WakeConditions[ConditionAnyMessage] {
		return ConditionAnyMessage, true
	}
	if prefs.WakeConditions[ConditionDirectMention] && e.Recipient == selfAgentID {
		return ConditionDirectMention, true
	}
	if prefs.WakeConditions[ConditionHighPriority] && e.Priority == envelope.PriorityHigh {
		return ConditionHighPriority, true
	}
	if prefs.WakeConditions[ConditionFromSpecificAgent] && prefs.WatchedAgents[e.Sender.AgentID] {
		return ConditionFromSpecificAgent, true
	}
	if prefs.WakeConditions[ConditionKeywordMatch] && containsAnyKeyword(e.Content, prefs.WatchedKeywords) {
		return ConditionKeywordMatch, true
	}
	if prefs.WakeConditions[ConditionSwarmSystemMsg] && e.Type == envelope.TypeSystem {
		return ConditionSwarmSystemMsg, true
	}
	return "", false
}

func containsAnyKeyword(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func levelFor(e *envelope.Envelope, prefs Preferences) NotificationLevel {
	switch e.Priority {
	case envelope.PriorityHigh:
		return LevelHigh
	case envelope.PriorityLow:
		return LevelLow
	case envelope.PriorityNormal:
		return LevelNormal
	default:
		if prefs.DefaultLevel != "" {
			return prefs.DefaultLevel
		}
		return LevelNormal
	}
}
