package store

import (
	"database/sql"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// InsertInbox inserts an inbox entry. Repeat inserts of the same message_id
// succeed silently with no state change.
func (s *Store) InsertInbox(e InboxEntry) error {
	return s.withWrite(func() error {
		if e.Status == "" {
			e.Status = InboxUnread
		}
		_, err := s.db.Exec(`
			INSERT INTO inbox (message_id, swarm_id, sender_id, type, content, received_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO NOTHING
		`, e.MessageID, e.SwarmID, e.SenderID, e.Type, e.Content, e.ReceivedAt.UTC().Format(timeLayout), string(e.Status))
		if err != nil {
			return fmt.Errorf("store: insert inbox %s: %w", e.MessageID, err)
		}
		return nil
	})
}

// GetInbox retrieves a single inbox entry by message_id.
func (s *Store) GetInbox(messageID string) (*InboxEntry, error) {
	row := s.db.QueryRow(`
		SELECT message_id, swarm_id, sender_id, type, content, received_at, status, read_at, archived_at, deleted_at
		FROM inbox WHERE message_id = ?
	`, messageID)
	return scanInboxRow(row)
}

// ListInbox returns inbox entries for a swarm, optionally filtered by
// status, newest first. A limit <= 0 returns every matching row.
func (s *Store) ListInbox(swarmID string, status InboxStatus, limit, offset int) ([]InboxEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 means unlimited
	}
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query(`
			SELECT message_id, swarm_id, sender_id, type, content, received_at, status, read_at, archived_at, deleted_at
			FROM inbox WHERE swarm_id = ? ORDER BY received_at DESC LIMIT ? OFFSET ?
		`, swarmID, limit, offset)
	} else {
		rows, err = s.db.Query(`
			SELECT message_id, swarm_id, sender_id, type, content, received_at, status, read_at, archived_at, deleted_at
			FROM inbox WHERE swarm_id = ? AND status = ? ORDER BY received_at DESC LIMIT ? OFFSET ?
		`, swarmID, string(status), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list inbox: %w", err)
	}
	defer rows.Close()

	var out []InboxEntry
	for rows.Next() {
		e, err := scanInboxRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// MarkInboxStatus transitions an inbox entry to a new status, stamping the
// matching *_at column.
func (s *Store) MarkInboxStatus(messageID string, status InboxStatus) error {
	return s.withWrite(func() error {
		now := time.Now().UTC().Format(timeLayout)
		var column string
		switch status {
		case InboxRead:
			column = "read_at"
		case InboxArchived:
			column = "archived_at"
		case InboxDeleted:
			column = "deleted_at"
		default:
			return fmt.Errorf("store: cannot transition inbox entry to status %q", status)
		}
		result, err := s.db.Exec(fmt.Sprintf(`UPDATE inbox SET status = ?, %s = ? WHERE message_id = ?`, column),
			string(status), now, messageID)
		if err != nil {
			return fmt.Errorf("store: mark inbox status: %w", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("store: inbox entry %s not found", messageID)
		}
		return nil
	})
}

// PurgeDeletedInbox removes inbox rows with status=deleted whose delete
// timestamp is older than the retention window (default 24h).
func (s *Store) PurgeDeletedInbox(retention time.Duration) (int64, error) {
	var affected int64
	err := s.withWrite(func() error {
		cutoff := time.Now().UTC().Add(-retention).Format(timeLayout)
		result, err := s.db.Exec(`DELETE FROM inbox WHERE status = ? AND deleted_at IS NOT NULL AND deleted_at < ?`,
			string(InboxDeleted), cutoff)
		if err != nil {
			return fmt.Errorf("store: purge inbox: %w", err)
		}
		affected, _ = result.RowsAffected()
		return nil
	})
	return affected, err
}

func scanInboxRow(row *sql.Row) (*InboxEntry, error) {
	var e InboxEntry
	var receivedAt string
	var status string
	var readAt, archivedAt, deletedAt sql.NullString
	err := row.Scan(&e.MessageID, &e.SwarmID, &e.SenderID, &e.Type, &e.Content, &receivedAt, &status, &readAt, &archivedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan inbox: %w", err)
	}
	return fillInboxEntry(&e, receivedAt, status, readAt, archivedAt, deletedAt)
}

func scanInboxRows(rows *sql.Rows) (*InboxEntry, error) {
	var e InboxEntry
	var receivedAt string
	var status string
	var readAt, archivedAt, deletedAt sql.NullString
	err := rows.Scan(&e.MessageID, &e.SwarmID, &e.SenderID, &e.Type, &e.Content, &receivedAt, &status, &readAt, &archivedAt, &deletedAt)
	if err != nil {
		return nil, fmt.Errorf("store: scan inbox: %w", err)
	}
	return fillInboxEntry(&e, receivedAt, status, readAt, archivedAt, deletedAt)
}

func fillInboxEntry(e *InboxEntry, receivedAt, status string, readAt, archivedAt, deletedAt sql.NullString) (*InboxEntry, error) {
	t, err := time.Parse(timeLayout, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse received_at: %w", err)
	}
	e.ReceivedAt = t
	e.Status = InboxStatus(status)
	e.ReadAt = parseNullTime(readAt)
	e.ArchivedAt = parseNullTime(archivedAt)
	e.DeletedAt = parseNullTime(deletedAt)
	return e, nil
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
