package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertOutbox records a new queued delivery leg for messageID to recipient.
func (s *Store) InsertOutbox(e OutboxEntry) error {
	return s.withWrite(func() error {
		if e.Status == "" {
			e.Status = OutboxQueued
		}
		_, err := s.db.Exec(`
			INSERT INTO outbox (message_id, swarm_id, recipient, status, attempts, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id, recipient) DO NOTHING
		`, e.MessageID, e.SwarmID, e.Recipient, string(e.Status), e.Attempts, e.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("store: insert outbox %s/%s: %w", e.MessageID, e.Recipient, err)
		}
		return nil
	})
}

// MarkOutboxDelivered marks a delivery leg as delivered.
func (s *Store) MarkOutboxDelivered(messageID, recipient string) error {
	return s.withWrite(func() error {
		now := time.Now().UTC().Format(timeLayout)
		_, err := s.db.Exec(`
			UPDATE outbox SET status = ?, delivered_at = ? WHERE message_id = ? AND recipient = ?
		`, string(OutboxDelivered), now, messageID, recipient)
		if err != nil {
			return fmt.Errorf("store: mark outbox delivered: %w", err)
		}
		return nil
	})
}

// MarkOutboxFailed records a failed delivery attempt, incrementing attempts
// and storing the error.
func (s *Store) MarkOutboxFailed(messageID, recipient, lastErr string) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`
			UPDATE outbox SET status = ?, attempts = attempts + 1, last_error = ?
			WHERE message_id = ? AND recipient = ?
		`, string(OutboxFailed), lastErr, messageID, recipient)
		if err != nil {
			return fmt.Errorf("store: mark outbox failed: %w", err)
		}
		return nil
	})
}

// ListOutbox returns delivery legs for a message.
func (s *Store) ListOutbox(messageID string) ([]OutboxEntry, error) {
	rows, err := s.db.Query(`
		SELECT message_id, swarm_id, recipient, status, attempts, last_error, created_at, delivered_at
		FROM outbox WHERE message_id = ?
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: list outbox: %w", err)
	}
	return scanOutboxRows(rows)
}

// ListOutboxBySwarm returns every delivery leg recorded for a swarm, used
// by Export to serialize the outbox table.
func (s *Store) ListOutboxBySwarm(swarmID string) ([]OutboxEntry, error) {
	rows, err := s.db.Query(`
		SELECT message_id, swarm_id, recipient, status, attempts, last_error, created_at, delivered_at
		FROM outbox WHERE swarm_id = ?
	`, swarmID)
	if err != nil {
		return nil, fmt.Errorf("store: list outbox by swarm: %w", err)
	}
	return scanOutboxRows(rows)
}

func scanOutboxRows(rows *sql.Rows) ([]OutboxEntry, error) {
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var status, createdAt string
		var lastErr, deliveredAt sql.NullString
		if err := rows.Scan(&e.MessageID, &e.SwarmID, &e.Recipient, &status, &e.Attempts, &lastErr, &createdAt, &deliveredAt); err != nil {
			return nil, fmt.Errorf("store: scan outbox: %w", err)
		}
		e.Status = OutboxStatus(status)
		if lastErr.Valid {
			e.LastError = lastErr.String
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse outbox created_at: %w", err)
		}
		e.CreatedAt = t
		e.DeliveredAt = parseNullTime(deliveredAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
