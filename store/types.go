package store

import "time"

// Swarm is the persisted form of a swarm's identity and settings.
type Swarm struct {
	SwarmID           string
	Name              string
	CreatedAt         time.Time
	Master            string
	AllowMemberInvite bool
	RequireApproval   bool
}

// Member is one row of a swarm's membership set.
type Member struct {
	SwarmID   string
	AgentID   string
	Endpoint  string
	PublicKey []byte // 32-byte Ed25519, stored base64
	JoinedAt  time.Time
}

// PendingTransfer is an outstanding master-authority transfer awaiting
// the target's accept/decline.
type PendingTransfer struct {
	SwarmID     string
	TargetID    string
	RequesterID string
	CreatedAt   time.Time
}

// InviteTokenRow is the per-swarm issued-tokens usage row.
type InviteTokenRow struct {
	TokenHash string
	SwarmID   string
	MaxUses   int
	Uses      int
	CreatedAt time.Time
	ExpiresAt *time.Time
	Revoked   bool
}

// InboxStatus is the lifecycle state of an inbox entry.
type InboxStatus string

const (
	InboxUnread   InboxStatus = "unread"
	InboxRead     InboxStatus = "read"
	InboxArchived InboxStatus = "archived"
	InboxDeleted  InboxStatus = "deleted"
)

// InboxEntry is a received envelope, stored as raw JSON content.
type InboxEntry struct {
	MessageID  string
	SwarmID    string
	SenderID   string
	Type       string
	Content    string // raw envelope JSON
	ReceivedAt time.Time
	Status     InboxStatus
	ReadAt     *time.Time
	ArchivedAt *time.Time
	DeletedAt  *time.Time
}

// OutboxStatus is the delivery state of one outbound recipient leg.
type OutboxStatus string

const (
	OutboxQueued    OutboxStatus = "queued"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEntry tracks delivery of one message to one recipient.
type OutboxEntry struct {
	MessageID   string
	SwarmID     string
	Recipient   string
	Status      OutboxStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// MuteScope is what a Mute applies to.
type MuteScope string

const (
	MuteScopeAgent MuteScope = "agent"
	MuteScopeSwarm MuteScope = "swarm"
)

// Mute is a silenced agent or swarm.
type Mute struct {
	Scope     MuteScope
	TargetID  string
	Reason    string
	CreatedAt time.Time
}

// PublicKeyCacheEntry is a cached peer public key, fetched over /swarm/info.
type PublicKeyCacheEntry struct {
	AgentID   string
	PublicKey []byte
	Endpoint  string
	FetchedAt time.Time
}

// SessionState is the lifecycle state of a node's agent session.
type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionActive    SessionState = "active"
	SessionSuspended SessionState = "suspended"
)

// SessionRecord is the persisted form of a node's at-most-one live session.
type SessionRecord struct {
	SessionID      string
	State          SessionState
	StartedAt      time.Time
	LastActivityAt time.Time
	ContextSummary string
}
