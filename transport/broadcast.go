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
	"encoding/base64"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/swarmproto/swarmd/envelope"
)

// Recipient is one fan-out target of a broadcast: the agent and the
// endpoint the sender last knew for it.
type Recipient struct {
	AgentID  string
	Endpoint string
}

// BroadcastResult pairs each recipient with its delivery Result.
type BroadcastResult struct {
	Recipient Recipient
	Result    Result
}

// maxConcurrentSends bounds how many deliveries run at once, so a large
// swarm broadcast doesn't open hundreds of simultaneous connections.
const maxConcurrentSends = 8

// Broadcast fans env out to every recipient concurrently, bounded by
// maxConcurrentSends, and waits for all of them (a per-member delivery
// failure must never block or fail the others).
func (c *Client) Broadcast(ctx context.Context, env *envelope.Envelope, recipients []Recipient) []BroadcastResult {
	results := make([]BroadcastResult, len(recipients))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)

	for i, r := range recipients {
		i, r := i, r
		g.Go(func() error {
			// The envelope goes out unchanged: its recipient field is
			// covered by the signature, so it stays whatever the sender
			// signed ("broadcast" for fan-out events).
			results[i] = BroadcastResult{Recipient: r, Result: c.Send(ctx, env, r.Endpoint)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func decodeBase64PublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("transport: decode public_key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("transport: public_key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
