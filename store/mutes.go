package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AddMute mutes a scope/target pair. Mute is a set, so adding an existing
// mute is a no-op rather than an error.
func (s *Store) AddMute(m Mute) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`
			INSERT INTO mutes (scope, target_id, reason, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(scope, target_id) DO NOTHING
		`, string(m.Scope), m.TargetID, m.Reason, m.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("store: add mute: %w", err)
		}
		return nil
	})
}

// RemoveMute unmutes a scope/target pair.
func (s *Store) RemoveMute(scope MuteScope, targetID string) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`DELETE FROM mutes WHERE scope = ? AND target_id = ?`, string(scope), targetID)
		if err != nil {
			return fmt.Errorf("store: remove mute: %w", err)
		}
		return nil
	})
}

// IsMuted reports whether scope/targetID is currently muted. The
// (scope, target_id) primary key gives this an indexed point lookup, O(log
// n) against the table's B-tree.
func (s *Store) IsMuted(scope MuteScope, targetID string) (bool, error) {
	row := s.db.QueryRow(`SELECT 1 FROM mutes WHERE scope = ? AND target_id = ?`, string(scope), targetID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is muted: %w", err)
	}
	return true, nil
}

// ListMutes returns every active mute.
func (s *Store) ListMutes() ([]Mute, error) {
	rows, err := s.db.Query(`SELECT scope, target_id, reason, created_at FROM mutes`)
	if err != nil {
		return nil, fmt.Errorf("store: list mutes: %w", err)
	}
	defer rows.Close()

	var out []Mute
	for rows.Next() {
		var m Mute
		var scope, createdAt string
		var reason sql.NullString
		if err := rows.Scan(&scope, &m.TargetID, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan mute: %w", err)
		}
		m.Scope = MuteScope(scope)
		if reason.Valid {
			m.Reason = reason.String
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse mute created_at: %w", err)
		}
		m.CreatedAt = t
		out = append(out, m)
	}
	return out, rows.Err()
}
