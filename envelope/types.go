// Package envelope defines the wire form of a swarm message and the
// validation rules every inbound envelope must pass before it can have
// any side effect.
package envelope

import "time"

// Priority is the optional urgency hint carried on a message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Type is the envelope's message kind.
type Type string

const (
	TypeMessage      Type = "message"
	TypeSystem       Type = "system"
	TypeNotification Type = "notification"
)

// Sender identifies the originating agent on the wire.
type Sender struct {
	AgentID  string `json:"agent_id"`
	Endpoint string `json:"endpoint"`
}

// Envelope is the signed wire form of one swarm message.
type Envelope struct {
	ProtocolVersion string    `json:"protocol_version"`
	MessageID       string    `json:"message_id"`
	Timestamp       time.Time `json:"timestamp"`
	Sender          Sender    `json:"sender"`
	Recipient       string    `json:"recipient"` // "broadcast" or an agent_id
	SwarmID         string    `json:"swarm_id"`
	Type            Type      `json:"type"`
	Content         string    `json:"content"`
	Signature       string    `json:"signature"` // base64 Ed25519

	InReplyTo   string            `json:"in_reply_to,omitempty"`
	ThreadID    string            `json:"thread_id,omitempty"`
	Priority    Priority          `json:"priority,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	References  []string          `json:"references,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Attachment is an opaque reference to out-of-band content.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// RecipientBroadcast is the sentinel recipient meaning "every member."
const RecipientBroadcast = "broadcast"

// TimestampWire formats t the way it appears on the wire and feeds the
// canonical signing payload: ISO-8601 UTC, millisecond precision.
func TimestampWire(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// SystemAction is the recognized `action` field of a system envelope's
// JSON content.
type SystemAction string

const (
	ActionMemberJoined   SystemAction = "member_joined"
	ActionMemberLeft     SystemAction = "member_left"
	ActionMemberKicked   SystemAction = "member_kicked"
	ActionKicked         SystemAction = "kicked"
	ActionMasterChanged  SystemAction = "master_changed"
	ActionMasterTransfer SystemAction = "master_transfer"
	ActionSwarmDissolved SystemAction = "swarm_dissolved"

	// ActionTransferAccepted/ActionTransferDeclined are the target's own
	// reply to an ActionMasterTransfer notice, carried back to the master
	// over the same /swarm/message system-envelope channel.
	ActionTransferAccepted SystemAction = "transfer_accepted"
	ActionTransferDeclined SystemAction = "transfer_declined"
)

// SystemContent is the parsed shape of a system envelope's content field.
type SystemContent struct {
	Action      SystemAction `json:"action"`
	SwarmID     string       `json:"swarm_id"`
	AgentID     string       `json:"agent_id"`
	InitiatedBy string       `json:"initiated_by,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}
