package envelope

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/swarmproto/swarmd/internal/swarmerr"
)

// SupportedProtocolMajor is the major protocol_version this node accepts.
const SupportedProtocolMajor = "1"

// SkewTolerance is how far an envelope's timestamp may drift from the
// receiver's clock in either direction.
const SkewTolerance = 5 * time.Minute

// Validate applies the envelope validation rules in order. It returns on
// the first failed rule, wrapped as a swarmerr.KindEnvelopeInvalid error,
// so no partial work happens downstream.
func Validate(e *Envelope, now time.Time) error {
	// 1. protocol_version matches supported major.
	major := e.ProtocolVersion
	if i := strings.IndexByte(major, '.'); i >= 0 {
		major = major[:i]
	}
	if major != SupportedProtocolMajor {
		return invalid("unsupported protocol_version %q", e.ProtocolVersion)
	}

	// 2. Required fields present and non-empty.
	if e.MessageID == "" || e.SwarmID == "" || e.Recipient == "" || e.Content == "" ||
		e.Sender.AgentID == "" || e.Sender.Endpoint == "" || e.Type == "" {
		return invalid("missing required field")
	}

	// 3. message_id, swarm_id parse as UUID.
	if _, err := uuid.Parse(e.MessageID); err != nil {
		return invalid("message_id is not a valid UUID")
	}
	if _, err := uuid.Parse(e.SwarmID); err != nil {
		return invalid("swarm_id is not a valid UUID")
	}

	// 4. timestamp parses, within skew tolerance. Envelope.Timestamp is
	// already a parsed time.Time; a zero value means it never parsed.
	if e.Timestamp.IsZero() {
		return invalid("timestamp missing or unparsable")
	}
	delta := now.Sub(e.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > SkewTolerance {
		return invalid("timestamp outside skew tolerance: %s", delta)
	}

	// 5. type in allowed set; if system, content must be JSON with a
	// recognized action.
	switch e.Type {
	case TypeMessage, TypeSystem, TypeNotification:
	default:
		return invalid("unrecognized type %q", e.Type)
	}
	if e.Type == TypeSystem {
		var sc SystemContent
		if err := json.Unmarshal([]byte(e.Content), &sc); err != nil {
			return invalid("system content is not valid JSON: %v", err)
		}
		switch sc.Action {
		case ActionMemberJoined, ActionMemberLeft, ActionMemberKicked, ActionKicked,
			ActionMasterChanged, ActionMasterTransfer, ActionSwarmDissolved,
			ActionTransferAccepted, ActionTransferDeclined:
		default:
			return invalid("unrecognized system action %q", sc.Action)
		}
	}

	// 6. sender.agent_id non-empty (checked above); sender.endpoint absolute HTTPS.
	u, err := url.Parse(e.Sender.Endpoint)
	if err != nil || !u.IsAbs() || u.Scheme != "https" {
		return invalid("sender.endpoint must be an absolute HTTPS URL")
	}

	// 7. recipient is "broadcast" or a well-formed agent_id.
	if e.Recipient != RecipientBroadcast && !isWellFormedAgentID(e.Recipient) {
		return invalid("recipient must be %q or a well-formed agent_id", RecipientBroadcast)
	}

	return nil
}

// isWellFormedAgentID enforces the agent_id shape: printable ASCII,
// non-empty, at most 128 characters.
func isWellFormedAgentID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

func invalid(format string, args ...any) error {
	return swarmerr.New(swarmerr.KindEnvelopeInvalid, fmt.Sprintf(format, args...))
}
