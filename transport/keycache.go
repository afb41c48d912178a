// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package transport

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/swarmproto/swarmd/store"
)

// cachedKey is a peer public key held in memory with a TTL (default 24h).
type cachedKey struct {
	pub     ed25519.PublicKey
	fetched time.Time
}

// KeyCache lazily resolves and caches peer public keys, fetched from a
// peer's /swarm/info endpoint on first contact or after a signature
// failure forces a refresh. Resolution is deduplicated with
// singleflight so concurrent sends to the same peer trigger one fetch.
type KeyCache struct {
	mu    sync.Mutex
	cache map[string]cachedKey
	ttl   time.Duration
	http  *http.Client
	sf    singleflight.Group
	store *store.Store // optional: persisted fallback across restarts
}

// NewKeyCache builds a KeyCache with the default 24h TTL. st may be nil,
// in which case the cache is purely in-memory.
func NewKeyCache(st *store.Store) *KeyCache {
	return &KeyCache{
		cache: make(map[string]cachedKey),
		ttl:   24 * time.Hour,
		http:  &http.Client{Timeout: 10 * time.Second},
		store: st,
	}
}

type swarmInfoResponse struct {
	PublicKey string `json:"public_key"` // base64
}

// Resolve returns agentID's public key, fetching from endpoint's
// /swarm/info if not cached or forceRefresh is set (the path a signature
// verification failure takes).
func (c *KeyCache) Resolve(ctx context.Context, agentID, endpoint string, forceRefresh bool) (ed25519.PublicKey, error) {
	if !forceRefresh {
		if pub, ok := c.get(agentID); ok {
			return pub, nil
		}
	}

	v, err, _ := c.sf.Do(agentID, func() (any, error) {
		if !forceRefresh {
			if pub, ok := c.get(agentID); ok {
				return pub, nil
			}
			if c.store != nil {
				if e, err := c.store.GetPublicKeyCache(agentID); err == nil && e != nil &&
					len(e.PublicKey) == ed25519.PublicKeySize && time.Since(e.FetchedAt) <= c.ttl {
					pub := ed25519.PublicKey(e.PublicKey)
					c.mu.Lock()
					c.cache[agentID] = cachedKey{pub: pub, fetched: e.FetchedAt}
					c.mu.Unlock()
					return pub, nil
				}
			}
		}
		pub, err := c.fetch(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		c.put(agentID, pub)
		if c.store != nil {
			_ = c.store.UpsertPublicKeyCache(store.PublicKeyCacheEntry{
				AgentID: agentID, PublicKey: pub, Endpoint: endpoint, FetchedAt: time.Now().UTC(),
			})
		}
		return pub, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ed25519.PublicKey), nil
}

// Seed preloads agentID's public key without a network fetch, for known
// keys obtained out-of-band (a freshly-joined member's key, handed to the
// receiver directly by Membership.Join instead of being refetched).
func (c *KeyCache) Seed(agentID string, pub ed25519.PublicKey) {
	c.put(agentID, pub)
}

func (c *KeyCache) get(agentID string) (ed25519.PublicKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[agentID]
	if !ok || time.Since(entry.fetched) > c.ttl {
		return nil, false
	}
	return entry.pub, true
}

func (c *KeyCache) put(agentID string, pub ed25519.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[agentID] = cachedKey{pub: pub, fetched: time.Now()}
}

func (c *KeyCache) fetch(ctx context.Context, endpoint string) (ed25519.PublicKey, error) {
	url := endpoint
	if len(url) == 0 || url[len(url)-1] != '/' {
		url += "/swarm/info"
	} else {
		url += "swarm/info"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: fetch swarm info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: swarm info returned %d", resp.StatusCode)
	}

	var info swarmInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("transport: decode swarm info: %w", err)
	}
	pub, err := decodeBase64PublicKey(info.PublicKey)
	if err != nil {
		return nil, err
	}
	return pub, nil
}
