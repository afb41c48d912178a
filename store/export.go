package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

func base64EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// ImportMode controls how Import reconciles a document against existing
// state.
type ImportMode string

const (
	// ImportReplace deletes all existing rows of the Document's tables
	// before loading the document; pending_transfers is not cleared.
	ImportReplace ImportMode = "replace"
	// ImportMerge upserts the document's rows over existing state.
	ImportMerge ImportMode = "merge"
)

// Document is the JSON export/import shape: the swarms, members,
// invite_tokens, inbox, outbox, mutes, pubkey_cache and sessions tables,
// tagged with the schema version it was written under. The
// pending_transfers table is not part of it.
type Document struct {
	SchemaVersion string                `json:"schema_version"`
	Swarms        []Swarm               `json:"swarms"`
	Members       []Member              `json:"members"`
	InviteTokens  []InviteTokenRow      `json:"invite_tokens"`
	Inbox         []InboxEntry          `json:"inbox"`
	Outbox        []OutboxEntry         `json:"outbox"`
	Mutes         []Mute                `json:"mutes"`
	PubkeyCache   []PublicKeyCacheEntry `json:"pubkey_cache"`
	Sessions      []SessionRecord       `json:"sessions"`
}

// legacyQueueStatus maps a v1.0.0 document's queue statuses onto the
// current InboxStatus set.
var legacyQueueStatus = map[string]InboxStatus{
	"pending":    InboxUnread,
	"processing": InboxUnread,
	"completed":  InboxRead,
	"failed":     InboxRead,
}

// Export serializes the store to a Document at the current schema
// version. Member, invite-token, inbox and outbox rows are collected per
// swarm in the swarms table, so rows whose swarm no longer exists are not
// exported. Pending transfers are not exported.
func (s *Store) Export() (*Document, error) {
	doc := &Document{SchemaVersion: schemaVersion}

	rows, err := s.db.Query(`SELECT swarm_id FROM swarms`)
	if err != nil {
		return nil, fmt.Errorf("store: export swarms: %w", err)
	}
	var swarmIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan swarm id: %w", err)
		}
		swarmIDs = append(swarmIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range swarmIDs {
		sw, err := s.GetSwarm(id)
		if err != nil {
			return nil, err
		}
		doc.Swarms = append(doc.Swarms, *sw)

		members, err := s.ListMembers(id)
		if err != nil {
			return nil, err
		}
		doc.Members = append(doc.Members, members...)

		inbox, err := s.ListInbox(id, "", 0, 0)
		if err != nil {
			return nil, err
		}
		doc.Inbox = append(doc.Inbox, inbox...)

		outbox, err := s.ListOutboxBySwarm(id)
		if err != nil {
			return nil, err
		}
		doc.Outbox = append(doc.Outbox, outbox...)

		tokens, err := s.ListInviteTokensBySwarm(id)
		if err != nil {
			return nil, err
		}
		doc.InviteTokens = append(doc.InviteTokens, tokens...)
	}

	mutes, err := s.ListMutes()
	if err != nil {
		return nil, err
	}
	doc.Mutes = mutes

	cache, err := s.ListPublicKeyCache()
	if err != nil {
		return nil, err
	}
	doc.PubkeyCache = cache

	sessions, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	doc.Sessions = sessions

	return doc, nil
}

// ExportJSON marshals Export's result to JSON.
func (s *Store) ExportJSON() ([]byte, error) {
	doc, err := s.Export()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// Import loads a JSON document into the store. It validates the schema
// version, remapping a v1.0.0 document's legacy inbox queue statuses to
// the current status set before writing.
func (s *Store) Import(data []byte, mode ImportMode) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("store: import: invalid document: %w", err)
	}

	switch doc.SchemaVersion {
	case schemaVersion:
		// no remap needed
	case legacySchemaVersion:
		for i := range doc.Inbox {
			if mapped, ok := legacyQueueStatus[string(doc.Inbox[i].Status)]; ok {
				doc.Inbox[i].Status = mapped
			}
		}
	default:
		return fmt.Errorf("store: import: unsupported schema version %q", doc.SchemaVersion)
	}

	return s.withWrite(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: import: begin: %w", err)
		}
		defer tx.Rollback()

		if mode == ImportReplace {
			for _, table := range []string{"swarms", "members", "invite_tokens", "inbox", "outbox", "mutes", "pubkey_cache", "sessions"} {
				if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
					return fmt.Errorf("store: import: clear %s: %w", table, err)
				}
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: import: commit clear: %w", err)
		}
		return s.importRows(doc)
	})
}

// importRows upserts every row of doc. Import's caller already holds
// withWrite, so these statements run against the underlying *sql.DB
// directly rather than re-entering withWrite.
func (s *Store) importRows(doc Document) error {
	for _, sw := range doc.Swarms {
		if _, err := s.db.Exec(`
			INSERT INTO swarms (swarm_id, name, created_at, master, allow_member_invite, require_approval)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(swarm_id) DO UPDATE SET name = excluded.name, master = excluded.master,
				allow_member_invite = excluded.allow_member_invite, require_approval = excluded.require_approval
		`, sw.SwarmID, sw.Name, sw.CreatedAt.UTC().Format(timeLayout), sw.Master, boolToInt(sw.AllowMemberInvite), boolToInt(sw.RequireApproval)); err != nil {
			return fmt.Errorf("store: import swarm %s: %w", sw.SwarmID, err)
		}
	}
	for _, m := range doc.Members {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if err := insertMember(tx, m); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: import member %s/%s: %w", m.SwarmID, m.AgentID, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	for _, e := range doc.Inbox {
		if _, err := s.db.Exec(`
			INSERT INTO inbox (message_id, swarm_id, sender_id, type, content, received_at, status, read_at, archived_at, deleted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO NOTHING
		`, e.MessageID, e.SwarmID, e.SenderID, e.Type, e.Content, e.ReceivedAt.UTC().Format(timeLayout), string(e.Status),
			formatNullTime(e.ReadAt), formatNullTime(e.ArchivedAt), formatNullTime(e.DeletedAt)); err != nil {
			return fmt.Errorf("store: import inbox %s: %w", e.MessageID, err)
		}
	}
	for _, e := range doc.Outbox {
		if _, err := s.db.Exec(`
			INSERT INTO outbox (message_id, swarm_id, recipient, status, attempts, last_error, created_at, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id, recipient) DO NOTHING
		`, e.MessageID, e.SwarmID, e.Recipient, string(e.Status), e.Attempts, e.LastError,
			e.CreatedAt.UTC().Format(timeLayout), formatNullTime(e.DeliveredAt)); err != nil {
			return fmt.Errorf("store: import outbox %s/%s: %w", e.MessageID, e.Recipient, err)
		}
	}
	for _, t := range doc.InviteTokens {
		if _, err := s.db.Exec(`
			INSERT INTO invite_tokens (token_hash, swarm_id, max_uses, uses, created_at, expires_at, revoked)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(token_hash) DO UPDATE SET uses = excluded.uses, revoked = excluded.revoked
		`, t.TokenHash, t.SwarmID, t.MaxUses, t.Uses, t.CreatedAt.UTC().Format(timeLayout), formatNullTime(t.ExpiresAt), boolToInt(t.Revoked)); err != nil {
			return fmt.Errorf("store: import invite token %s: %w", t.TokenHash, err)
		}
	}
	for _, e := range doc.PubkeyCache {
		if _, err := s.db.Exec(`
			INSERT INTO pubkey_cache (agent_id, public_key, endpoint, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(agent_id) DO UPDATE SET public_key = excluded.public_key,
				endpoint = excluded.endpoint, fetched_at = excluded.fetched_at
		`, e.AgentID, base64EncodeKey(e.PublicKey), e.Endpoint, e.FetchedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("store: import pubkey cache %s: %w", e.AgentID, err)
		}
	}
	for _, m := range doc.Mutes {
		if err := s.addMuteTx(m); err != nil {
			return err
		}
	}
	for _, r := range doc.Sessions {
		if _, err := s.db.Exec(`
			INSERT INTO sessions (session_id, state, started_at, last_activity_at, context_summary)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET state = excluded.state,
				last_activity_at = excluded.last_activity_at, context_summary = excluded.context_summary
		`, r.SessionID, string(r.State), r.StartedAt.UTC().Format(timeLayout), r.LastActivityAt.UTC().Format(timeLayout), r.ContextSummary); err != nil {
			return fmt.Errorf("store: import session %s: %w", r.SessionID, err)
		}
	}
	return nil
}

func (s *Store) addMuteTx(m Mute) error {
	_, err := s.db.Exec(`
		INSERT INTO mutes (scope, target_id, reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, target_id) DO NOTHING
	`, string(m.Scope), m.TargetID, m.Reason, m.CreatedAt.UTC().Format(timeLayout))
	return err
}

func formatNullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
