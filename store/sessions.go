package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PutSession upserts a session record. At most one non-idle session
// exists per node; enforcing that is the session manager's job, not the
// store's. This method persists whatever record it is given.
func (s *Store) PutSession(r SessionRecord) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`
			INSERT INTO sessions (session_id, state, started_at, last_activity_at, context_summary)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET state = excluded.state,
				last_activity_at = excluded.last_activity_at, context_summary = excluded.context_summary
		`, r.SessionID, string(r.State), r.StartedAt.UTC().Format(timeLayout), r.LastActivityAt.UTC().Format(timeLayout), r.ContextSummary)
		if err != nil {
			return fmt.Errorf("store: put session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session record by ID.
func (s *Store) GetSession(sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT session_id, state, started_at, last_activity_at, context_summary FROM sessions WHERE session_id = ?
	`, sessionID)
	return scanSession(row)
}

// ListSessions returns every persisted session record.
func (s *Store) ListSessions() ([]SessionRecord, error) {
	rows, err := s.db.Query(`SELECT session_id, state, started_at, last_activity_at, context_summary FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		r, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ExpireSessions marks sessions whose last_activity_at is older than
// threshold as idle, and returns how many changed. The daemon passes the
// configured session timeout (30 min by default).
func (s *Store) ExpireSessions(threshold time.Duration) (int64, error) {
	var affected int64
	err := s.withWrite(func() error {
		cutoff := time.Now().UTC().Add(-threshold).Format(timeLayout)
		result, err := s.db.Exec(`
			UPDATE sessions SET state = ? WHERE state != ? AND last_activity_at < ?
		`, string(SessionIdle), string(SessionIdle), cutoff)
		if err != nil {
			return fmt.Errorf("store: expire sessions: %w", err)
		}
		affected, _ = result.RowsAffected()
		return nil
	})
	return affected, err
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(sessionID string) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("store: delete session: %w", err)
		}
		return nil
	})
}

func scanSession(row *sql.Row) (*SessionRecord, error) {
	var r SessionRecord
	var state, startedAt, lastActivity string
	var summary sql.NullString
	err := row.Scan(&r.SessionID, &state, &startedAt, &lastActivity, &summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	return fillSession(&r, state, startedAt, lastActivity, summary)
}

func scanSessionRows(rows *sql.Rows) (*SessionRecord, error) {
	var r SessionRecord
	var state, startedAt, lastActivity string
	var summary sql.NullString
	if err := rows.Scan(&r.SessionID, &state, &startedAt, &lastActivity, &summary); err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	return fillSession(&r, state, startedAt, lastActivity, summary)
}

func fillSession(r *SessionRecord, state, startedAt, lastActivity string, summary sql.NullString) (*SessionRecord, error) {
	r.State = SessionState(state)
	t1, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse session started_at: %w", err)
	}
	r.StartedAt = t1
	t2, err := time.Parse(timeLayout, lastActivity)
	if err != nil {
		return nil, fmt.Errorf("store: parse session last_activity_at: %w", err)
	}
	r.LastActivityAt = t2
	if summary.Valid {
		r.ContextSummary = summary.String
	}
	return r, nil
}
