package waketrigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmproto/swarmd/envelope"
)

func baseEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		SwarmID:   "s1",
		Recipient: "agent-self",
		Sender:    envelope.Sender{AgentID: "agent-n"},
		Type:      envelope.TypeMessage,
		Content:   "hello there",
		Priority:  envelope.PriorityNormal,
	}
}

func allConditions() map[Condition]bool {
	return map[Condition]bool{
		ConditionAnyMessage:        false,
		ConditionDirectMention:     true,
		ConditionHighPriority:      true,
		ConditionFromSpecificAgent: true,
		ConditionKeywordMatch:      true,
		ConditionSwarmSystemMsg:    true,
	}
}

func TestEvaluate_Disabled(t *testing.T) {
	prefs := Preferences{Enabled: false}
	r := Evaluate(prefs, baseEnvelope(), "agent-self", time.Now())
	require.Equal(t, DecisionSkip, r.Decision)
}

func TestEvaluate_MutedSwarm(t *testing.T) {
	prefs := Preferences{Enabled: true, MutedSwarms: map[string]bool{"s1": true}}
	r := Evaluate(prefs, baseEnvelope(), "agent-self", time.Now())
	require.Equal(t, DecisionSkip, r.Decision)
}

func TestEvaluate_QuietHoursQueuesNonHighPriority(t *testing.T) {
	prefs := Preferences{
		Enabled:        true,
		WakeConditions: allConditions(),
		QuietHours:     QuietHours{Enabled: true, Start: 22, End: 7},
	}
	now := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
	r := Evaluate(prefs, baseEnvelope(), "agent-self", now)
	require.Equal(t, DecisionQueue, r.Decision)
}

func TestEvaluate_QuietHoursExceptionForHighPriority(t *testing.T) {
	prefs := Preferences{
		Enabled:        true,
		WakeConditions: allConditions(),
		QuietHours:     QuietHours{Enabled: true, Start: 22, End: 7},
	}
	e := baseEnvelope()
	e.Priority = envelope.PriorityHigh
	e.Recipient = envelope.RecipientBroadcast // not a direct mention, so HIGH_PRIORITY is the first match
	now := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
	r := Evaluate(prefs, e, "agent-self", now)
	require.Equal(t, DecisionWake, r.Decision)
	require.Equal(t, ConditionHighPriority, r.MatchedCondition)
}

func TestEvaluate_Conditions(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	t.Run("direct mention", func(t *testing.T) {
		prefs := Preferences{Enabled: true, WakeConditions: map[Condition]bool{ConditionDirectMention: true}}
		r := Evaluate(prefs, baseEnvelope(), "agent-self", now)
		require.Equal(t, DecisionWake, r.Decision)
		require.Equal(t, ConditionDirectMention, r.MatchedCondition)
	})

	t.Run("from specific agent", func(t *testing.T) {
		prefs := Preferences{
			Enabled:        true,
			WakeConditions: map[Condition]bool{ConditionFromSpecificAgent: true},
			WatchedAgents:  map[string]bool{"agent-n": true},
		}
		r := Evaluate(prefs, baseEnvelope(), "agent-self", now)
		require.Equal(t, DecisionWake, r.Decision)
	})

	t.Run("keyword match is case-insensitive", func(t *testing.T) {
		prefs := Preferences{
			Enabled:         true,
			WakeConditions:  map[Condition]bool{ConditionKeywordMatch: true},
			WatchedKeywords: []string{"URGENT"},
		}
		e := baseEnvelope()
		e.Content = "this is urgent, please look"
		r := Evaluate(prefs, e, "agent-self", now)
		require.Equal(t, DecisionWake, r.Decision)
	})

	t.Run("swarm system message", func(t *testing.T) {
		prefs := Preferences{Enabled: true, WakeConditions: map[Condition]bool{ConditionSwarmSystemMsg: true}}
		e := baseEnvelope()
		e.Type = envelope.TypeSystem
		r := Evaluate(prefs, e, "agent-self", now)
		require.Equal(t, DecisionWake, r.Decision)
	})

	t.Run("no condition matches defaults to queue", func(t *testing.T) {
		prefs := Preferences{Enabled: true, WakeConditions: map[Condition]bool{ConditionDirectMention: true}}
		e := baseEnvelope()
		e.Recipient = "someone-else"
		r := Evaluate(prefs, e, "agent-self", now)
		require.Equal(t, DecisionQueue, r.Decision)
	})
}

func TestEvaluate_AnyMessageShortCircuits(t *testing.T) {
	prefs := Preferences{Enabled: true, WakeConditions: map[Condition]bool{ConditionAnyMessage: true}}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	r := Evaluate(prefs, baseEnvelope(), "agent-self", now)
	require.Equal(t, DecisionWake, r.Decision)
	require.Equal(t, ConditionAnyMessage, r.MatchedCondition)
}
