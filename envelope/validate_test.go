package envelope

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/swarmproto/swarmd/internal/swarmerr"
)

func validEnvelope() *Envelope {
	now := time.Now().UTC()
	return &Envelope{
		ProtocolVersion: "1.0",
		MessageID:       uuid.NewString(),
		Timestamp:       now,
		Sender: Sender{
			AgentID:  "agent-a",
			Endpoint: "https://agent-a.example.com",
		},
		Recipient: RecipientBroadcast,
		SwarmID:   uuid.NewString(),
		Type:      TypeMessage,
		Content:   "hello",
		Signature: "sig",
	}
}

func TestValidate_AcceptsWellFormedEnvelope(t *testing.T) {
	e := validEnvelope()
	require.NoError(t, Validate(e, e.Timestamp))
}

func TestValidate_Rules(t *testing.T) {
	now := time.Now().UTC()

	t.Run("rejects unsupported protocol_version", func(t *testing.T) {
		e := validEnvelope()
		e.ProtocolVersion = "2.0"
		err := Validate(e, now)
		require.Error(t, err)
		kind, ok := swarmerr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, swarmerr.KindEnvelopeInvalid, kind)
	})

	t.Run("rejects missing required field", func(t *testing.T) {
		e := validEnvelope()
		e.Content = ""
		require.Error(t, Validate(e, now))
	})

	t.Run("rejects non-UUID message_id", func(t *testing.T) {
		e := validEnvelope()
		e.MessageID = "not-a-uuid"
		require.Error(t, Validate(e, now))
	})

	t.Run("rejects non-UUID swarm_id", func(t *testing.T) {
		e := validEnvelope()
		e.SwarmID = "not-a-uuid"
		require.Error(t, Validate(e, now))
	})

	t.Run("rejects zero timestamp", func(t *testing.T) {
		e := validEnvelope()
		e.Timestamp = time.Time{}
		require.Error(t, Validate(e, now))
	})

	t.Run("rejects timestamp outside skew tolerance", func(t *testing.T) {
		e := validEnvelope()
		e.Timestamp = now.Add(-10 * time.Minute)
		require.Error(t, Validate(e, now))
	})

	t.Run("accepts timestamp just inside skew tolerance", func(t *testing.T) {
		e := validEnvelope()
		e.Timestamp = now.Add(-4 * time.Minute)
		require.NoError(t, Validate(e, now))
	})

	t.Run("rejects unrecognized type", func(t *testing.T) {
		e := validEnvelope()
		e.Type = "bogus"
		require.Error(t, Validate(e, now))
	})

	t.Run("rejects system envelope with non-JSON content", func(t *testing.T) {
		e := validEnvelope()
		e.Type = TypeSystem
		e.Content = "not json"
		require.Error(t, Validate(e, now))
	})

	t.Run("rejects system envelope with unrecognized action", func(t *testing.T) {
		e := validEnvelope()
		e.Type = TypeSystem
		e.Content = `{"action":"bogus"}`
		require.Error(t, Validate(e, now))
	})

	t.Run("accepts system envelope with recognized action", func(t *testing.T) {
		e := validEnvelope()
		e.Type = TypeSystem
		e.Content = `{"action":"member_joined","swarm_id":"s1","agent_id":"agent-b"}`
		require.NoError(t, Validate(e, now))
	})

	t.Run("rejects non-HTTPS sender endpoint", func(t *testing.T) {
		e := validEnvelope()
		e.Sender.Endpoint = "http://agent-a.example.com"
		require.Error(t, Validate(e, now))
	})

	t.Run("rejects relative sender endpoint", func(t *testing.T) {
		e := validEnvelope()
		e.Sender.Endpoint = "/agent-a"
		require.Error(t, Validate(e, now))
	})

	t.Run("accepts well-formed non-broadcast recipient", func(t *testing.T) {
		e := validEnvelope()
		e.Recipient = "agent-b"
		require.NoError(t, Validate(e, now))
	})

	t.Run("rejects recipient with non-printable characters", func(t *testing.T) {
		e := validEnvelope()
		e.Recipient = "agent-b\x00"
		require.Error(t, Validate(e, now))
	})
}
