package store

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"
)

// UpsertPublicKeyCache stores or refreshes a cached peer public key. This
// is the store-side half of the cache the transport package keeps
// in-memory with a TTL; the store row is the fallback when the in-memory
// cache is cold after restart.
func (s *Store) UpsertPublicKeyCache(e PublicKeyCacheEntry) error {
	return s.withWrite(func() error {
		_, err := s.db.Exec(`
			INSERT INTO pubkey_cache (agent_id, public_key, endpoint, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(agent_id) DO UPDATE SET public_key = excluded.public_key,
				endpoint = excluded.endpoint, fetched_at = excluded.fetched_at
		`, e.AgentID, base64.StdEncoding.EncodeToString(e.PublicKey), e.Endpoint, e.FetchedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("store: upsert pubkey cache: %w", err)
		}
		return nil
	})
}

// GetPublicKeyCache retrieves a cached peer public key, or nil if absent.
func (s *Store) GetPublicKeyCache(agentID string) (*PublicKeyCacheEntry, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, public_key, endpoint, fetched_at FROM pubkey_cache WHERE agent_id = ?
	`, agentID)

	var e PublicKeyCacheEntry
	var pubKeyB64, fetchedAt string
	err := row.Scan(&e.AgentID, &pubKeyB64, &e.Endpoint, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pubkey cache: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return nil, fmt.Errorf("store: decode cached public_key: %w", err)
	}
	e.PublicKey = key
	t, err := time.Parse(timeLayout, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse pubkey cache fetched_at: %w", err)
	}
	e.FetchedAt = t
	return &e, nil
}

// ListPublicKeyCache returns every cached peer public key, used by Export
// to serialize the pubkey_cache table.
func (s *Store) ListPublicKeyCache() ([]PublicKeyCacheEntry, error) {
	rows, err := s.db.Query(`SELECT agent_id, public_key, endpoint, fetched_at FROM pubkey_cache`)
	if err != nil {
		return nil, fmt.Errorf("store: list pubkey cache: %w", err)
	}
	defer rows.Close()

	var out []PublicKeyCacheEntry
	for rows.Next() {
		var e PublicKeyCacheEntry
		var pubKeyB64, fetchedAt string
		if err := rows.Scan(&e.AgentID, &pubKeyB64, &e.Endpoint, &fetchedAt); err != nil {
			return nil, fmt.Errorf("store: scan pubkey cache: %w", err)
		}
		key, err := base64.StdEncoding.DecodeString(pubKeyB64)
		if err != nil {
			return nil, fmt.Errorf("store: decode cached public_key: %w", err)
		}
		e.PublicKey = key
		t, err := time.Parse(timeLayout, fetchedAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse pubkey cache fetched_at: %w", err)
		}
		e.FetchedAt = t
		out = append(out, e)
	}
	return out, rows.Err()
}
