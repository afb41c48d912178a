package store

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"
)

// CreateSwarm persists a new swarm and its master's membership row
// atomically: a swarm always has master ∈ members.
func (s *Store) CreateSwarm(sw Swarm, master Member) error {
	return s.withWrite(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: create swarm: begin: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO swarms (swarm_id, name, created_at, master, allow_member_invite, require_approval)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sw.SwarmID, sw.Name, sw.CreatedAt.UTC().Format(timeLayout), sw.Master, boolToInt(sw.AllowMemberInvite), boolToInt(sw.RequireApproval))
		if err != nil {
			return fmt.Errorf("store: create swarm: insert swarm: %w", err)
		}

		if err := insertMember(tx, master); err != nil {
			return fmt.Errorf("store: create swarm: insert master: %w", err)
		}
		return tx.Commit()
	})
}

// GetSwarm retrieves a swarm's settings row.
func (s *Store) GetSwarm(swarmID string) (*Swarm, error) {
	row := s.db.QueryRow(`
		SELECT swarm_id, name, created_at, master, allow_member_invite, require_approval
		FROM swarms WHERE swarm_id = ?
	`, swarmID)

	var sw Swarm
	var createdAt string
	var allowInvite, requireApproval int
	err := row.Scan(&sw.SwarmID, &sw.Name, &createdAt, &sw.Master, &allowInvite, &requireApproval)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get swarm: %w", err)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse swarm created_at: %w", err)
	}
	sw.CreatedAt = t
	sw.AllowMemberInvite = allowInvite != 0
	sw.RequireApproval = requireApproval != 0
	return &sw, nil
}

// SetMaster reassigns a swarm's master (for Transfer). It takes the write
// lock itself and runs as its own statement; it does not join a caller's
// transaction.
func (s *Store) SetMaster(swarmID, newMaster string) error {
	return s.withWrite(func() error {
		result, err := s.db.Exec(`UPDATE swarms SET master = ? WHERE swarm_id = ?`, newMaster, swarmID)
		if err != nil {
			return fmt.Errorf("store: set master: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("store: swarm %s not found", swarmID)
		}
		return nil
	})
}

// SetPendingTransfer records an outstanding master-authority transfer for
// swarmID, replacing any prior pending transfer (a swarm has at most one
// outstanding transfer at a time).
func (s *Store) SetPendingTransfer(t PendingTransfer) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`
			INSERT INTO pending_transfers (swarm_id, target_id, requester_id, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(swarm_id) DO UPDATE SET target_id = excluded.target_id, requester_id = excluded.requester_id, created_at = excluded.created_at
		`, t.SwarmID, t.TargetID, t.RequesterID, t.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("store: set pending transfer: %w", err)
		}
		return nil
	})
}

// GetPendingTransfer retrieves the outstanding transfer for swarmID, or
// nil if there is none.
func (s *Store) GetPendingTransfer(swarmID string) (*PendingTransfer, error) {
	row := s.db.QueryRow(`
		SELECT swarm_id, target_id, requester_id, created_at
		FROM pending_transfers WHERE swarm_id = ?
	`, swarmID)

	var t PendingTransfer
	var createdAt string
	err := row.Scan(&t.SwarmID, &t.TargetID, &t.RequesterID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pending transfer: %w", err)
	}
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse pending transfer created_at: %w", err)
	}
	t.CreatedAt = created
	return &t, nil
}

// ClearPendingTransfer removes swarmID's outstanding transfer, if any.
func (s *Store) ClearPendingTransfer(swarmID string) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`DELETE FROM pending_transfers WHERE swarm_id = ?`, swarmID)
		if err != nil {
			return fmt.Errorf("store: clear pending transfer: %w", err)
		}
		return nil
	})
}

// DissolveSwarm removes a swarm and everything scoped to it: members,
// invite tokens, and any pending transfer, in one transaction. Inbox and
// outbox rows are kept; the purge path removes only inbox rows marked
// deleted, and outbox rows are never purged.
func (s *Store) DissolveSwarm(swarmID string) error {
	return s.withWrite(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: dissolve swarm: begin: %w", err)
		}
		defer tx.Rollback()

		for _, stmt := range []string{
			`DELETE FROM members WHERE swarm_id = ?`,
			`DELETE FROM invite_tokens WHERE swarm_id = ?`,
			`DELETE FROM pending_transfers WHERE swarm_id = ?`,
			`DELETE FROM swarms WHERE swarm_id = ?`,
		} {
			if _, err := tx.Exec(stmt, swarmID); err != nil {
				return fmt.Errorf("store: dissolve swarm: %w", err)
			}
		}
		return tx.Commit()
	})
}

// AddMember adds a member to a swarm. (swarm_id, agent_id) is unique, so a
// repeat add of an existing member is a silent no-op, supporting the
// idempotent re-join path.
func (s *Store) AddMember(m Member) error {
	return s.withWrite(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("store: add member: begin: %w", err)
		}
		defer tx.Rollback()
		if err := insertMember(tx, m); err != nil {
			return fmt.Errorf("store: add member: %w", err)
		}
		return tx.Commit()
	})
}

func insertMember(tx *sql.Tx, m Member) error {
	_, err := tx.Exec(`
		INSERT INTO members (swarm_id, agent_id, endpoint, public_key, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(swarm_id, agent_id) DO NOTHING
	`, m.SwarmID, m.AgentID, m.Endpoint, base64.StdEncoding.EncodeToString(m.PublicKey), m.JoinedAt.UTC().Format(timeLayout))
	return err
}

// RemoveMember removes a member from a swarm (Leave/Kick).
func (s *Store) RemoveMember(swarmID, agentID string) error {
	return s.withWrite(func() error {
		result, err := s.db.Exec(`DELETE FROM members WHERE swarm_id = ? AND agent_id = ?`, swarmID, agentID)
		if err != nil {
			return fmt.Errorf("store: remove member: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("store: member %s/%s not found", swarmID, agentID)
		}
		return nil
	})
}

// GetMember retrieves one membership row, or nil if the agent is not a
// member of the swarm.
func (s *Store) GetMember(swarmID, agentID string) (*Member, error) {
	row := s.db.QueryRow(`
		SELECT swarm_id, agent_id, endpoint, public_key, joined_at
		FROM members WHERE swarm_id = ? AND agent_id = ?
	`, swarmID, agentID)
	return scanMember(row)
}

// ListMembers returns a swarm's members ordered by joined_at ascending.
func (s *Store) ListMembers(swarmID string) ([]Member, error) {
	rows, err := s.db.Query(`
		SELECT swarm_id, agent_id, endpoint, public_key, joined_at
		FROM members WHERE swarm_id = ? ORDER BY joined_at ASC
	`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("store: list members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		var joinedAt, pubKeyB64 string
		if err := rows.Scan(&m.SwarmID, &m.AgentID, &m.Endpoint, &pubKeyB64, &joinedAt); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		key, err := base64.StdEncoding.DecodeString(pubKeyB64)
		if err != nil {
			return nil, fmt.Errorf("store: decode member public_key: %w", err)
		}
		m.PublicKey = key
		t, err := time.Parse(timeLayout, joinedAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse joined_at: %w", err)
		}
		m.JoinedAt = t
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMember(row *sql.Row) (*Member, error) {
	var m Member
	var joinedAt, pubKeyB64 string
	err := row.Scan(&m.SwarmID, &m.AgentID, &m.Endpoint, &pubKeyB64, &joinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan member: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return nil, fmt.Errorf("store: decode member public_key: %w", err)
	}
	m.PublicKey = key
	t, err := time.Parse(timeLayout, joinedAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse joined_at: %w", err)
	}
	m.JoinedAt = t
	return &m, nil
}

// CreateInviteToken persists the issued-tokens row an invite Generate call
// produces.
func (s *Store) CreateInviteToken(t InviteTokenRow) error {
	return s.withWrite(func() error {
		var expiresAt interface{}
		if t.ExpiresAt != nil {
			expiresAt = t.ExpiresAt.UTC().Format(timeLayout)
		}
		_, err := s.db.Exec(`
			INSERT INTO invite_tokens (token_hash, swarm_id, max_uses, uses, created_at, expires_at, revoked)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, t.TokenHash, t.SwarmID, t.MaxUses, t.Uses, t.CreatedAt.UTC().Format(timeLayout), expiresAt, boolToInt(t.Revoked))
		if err != nil {
			return fmt.Errorf("store: create invite token: %w", err)
		}
		return nil
	})
}

// GetInviteToken retrieves an issued-tokens row by its hash.
func (s *Store) GetInviteToken(tokenHash string) (*InviteTokenRow, error) {
	row := s.db.QueryRow(`
		SELECT token_hash, swarm_id, max_uses, uses, created_at, expires_at, revoked
		FROM invite_tokens WHERE token_hash = ?
	`, tokenHash)

	var t InviteTokenRow
	var createdAt string
	var expiresAt sql.NullString
	var revoked int
	err := row.Scan(&t.TokenHash, &t.SwarmID, &t.MaxUses, &t.Uses, &createdAt, &expiresAt, &revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get invite token: %w", err)
	}
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse invite token created_at: %w", err)
	}
	t.CreatedAt = created
	t.ExpiresAt = parseNullTime(expiresAt)
	t.Revoked = revoked != 0
	return &t, nil
}

// IncrementInviteTokenUses atomically increments a token's use count.
func (s *Store) IncrementInviteTokenUses(tokenHash string) error {
	return s.withWrite(func() error {
		result, err := s.db.Exec(`UPDATE invite_tokens SET uses = uses + 1 WHERE token_hash = ?`, tokenHash)
		if err != nil {
			return fmt.Errorf("store: increment invite token uses: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("store: invite token %s not found", tokenHash)
		}
		return nil
	})
}

// JoinSwarm adds a member and consumes one use of an invite token inside
// a single transaction: the uses increment is conditioned on uses <
// max_uses (or unlimited), so two concurrent joins racing the same
// limited-use token cannot both slip past its cap the way a separate
// exhaustion-check-then-increment would. ok is false, and m
// is not added, if the token had already been exhausted by the time
// this transaction ran.
func (s *Store) JoinSwarm(m Member, tokenHash string) (ok bool, err error) {
	err = s.withWrite(func() error {
		tx, txErr := s.db.Begin()
		if txErr != nil {
			return fmt.Errorf("store: join swarm: begin: %w", txErr)
		}
		defer tx.Rollback()

		result, execErr := tx.Exec(`
			UPDATE invite_tokens SET uses = uses + 1
			WHERE token_hash = ? AND (max_uses = 0 OR uses < max_uses)
		`, tokenHash)
		if execErr != nil {
			return fmt.Errorf("store: join swarm: consume token: %w", execErr)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return nil
		}
		if err := insertMember(tx, m); err != nil {
			return fmt.Errorf("store: join swarm: insert member: %w", err)
		}
		ok = true
		return tx.Commit()
	})
	return ok, err
}

// RevokeInviteToken marks a token row revoked.
func (s *Store) RevokeInviteToken(tokenHash string) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`UPDATE invite_tokens SET revoked = 1 WHERE token_hash = ?`, tokenHash)
		if err != nil {
			return fmt.Errorf("store: revoke invite token: %w", err)
		}
		return nil
	})
}

// ListInviteTokensBySwarm returns every issued-token row for a swarm, used
// by Export to serialize the invite_tokens table.
func (s *Store) ListInviteTokensBySwarm(swarmID string) ([]InviteTokenRow, error) {
	rows, err := s.db.Query(`
		SELECT token_hash, swarm_id, max_uses, uses, created_at, expires_at, revoked
		FROM invite_tokens WHERE swarm_id = ?
	`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("store: list invite tokens: %w", err)
	}
	defer rows.Close()

	var out []InviteTokenRow
	for rows.Next() {
		var t InviteTokenRow
		var createdAt string
		var expiresAt sql.NullString
		var revoked int
		if err := rows.Scan(&t.TokenHash, &t.SwarmID, &t.MaxUses, &t.Uses, &createdAt, &expiresAt, &revoked); err != nil {
			return nil, fmt.Errorf("store: scan invite token: %w", err)
		}
		created, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse invite token created_at: %w", err)
		}
		t.CreatedAt = created
		t.ExpiresAt = parseNullTime(expiresAt)
		t.Revoked = revoked != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
