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

// Package notifications emits the membership lifecycle system-messages:
// member_joined, member_left, member_kicked, kicked,
// master_changed, master_transfer, swarm_dissolved. Emission signs a
// system envelope with this node's key and persists it like any other
// message, then (for broadcast-worthy events) fans it out to every other
// current member.
package notifications

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/envelope"
	"github.com/swarmproto/swarmd/internal/logger"
	"github.com/swarmproto/swarmd/store"
	"github.com/swarmproto/swarmd/transport"
)

// broadcastActions are the events that fan out to every other member, as
// opposed to the two 1:1 "kicked"/"master_transfer" notices aimed only at
// the affected agent.
var broadcastActions = map[string]bool{
	"member_joined":   true,
	"member_left":     true,
	"member_kicked":   true,
	"master_changed":  true,
	"swarm_dissolved": true,
}

// Emitter implements membership.Notifier, reusing the same crypto (sign)
// and transport (deliver) components user-message handling goes through.
type Emitter struct {
	store    *store.Store
	signer   swarmcrypto.KeyPair
	selfID   string
	selfHost string
	client   *transport.Client
	log      logger.Logger
}

// New builds an Emitter. selfEndpoint is this node's own advertised
// endpoint, stamped on the emitted envelope's Sender.
func New(st *store.Store, signer swarmcrypto.KeyPair, selfID, selfEndpoint string, client *transport.Client, log logger.Logger) *Emitter {
	if log == nil {
		log = logger.Noop()
	}
	return &Emitter{store: st, signer: signer, selfID: selfID, selfHost: selfEndpoint, client: client, log: log}
}

// Emit constructs, signs, and persists a system envelope for a lifecycle
// action, then delivers it: broadcast actions fan out to every member in
// recipients except this node and agentID; 1:1 actions ("kicked",
// "master_transfer") go directly to agentID's own endpoint, resolved from
// the store, and recipients is ignored.
func (e *Emitter) Emit(swarmID, action, agentID, initiatedBy, reason string, recipients []store.Member) error {
	content := envelope.SystemContent{
		Action:      envelope.SystemAction(action),
		SwarmID:     swarmID,
		AgentID:     agentID,
		InitiatedBy: initiatedBy,
		Reason:      reason,
	}
	body, err := json.Marshal(content)
	if err != nil {
		return err
	}

	// 1:1 actions are addressed to the affected agent; everything else
	// goes out as a broadcast. Recipient is covered by the signature, so
	// it must be final before signing.
	recipient := envelope.RecipientBroadcast
	if !broadcastActions[action] && agentID != "" {
		recipient = agentID
	}

	now := time.Now().UTC()
	env := &envelope.Envelope{
		ProtocolVersion: "1.0",
		MessageID:       uuid.NewString(),
		Timestamp:       now,
		Sender:          envelope.Sender{AgentID: e.selfID, Endpoint: e.selfHost},
		Recipient:       recipient,
		SwarmID:         swarmID,
		Type:            envelope.TypeSystem,
		Content:         string(body),
	}

	sig, err := swarmcrypto.Sign(swarmcrypto.CanonicalFields{
		MessageID: env.MessageID,
		Timestamp: envelope.TimestampWire(env.Timestamp),
		SwarmID:   env.SwarmID,
		Recipient: env.Recipient,
		Type:      string(env.Type),
		Content:   env.Content,
	}, e.signer)
	if err != nil {
		return err
	}
	env.Signature = base64.StdEncoding.EncodeToString(sig)

	if e.store != nil {
		if err := e.store.InsertInbox(store.InboxEntry{
			MessageID: env.MessageID, SwarmID: swarmID, SenderID: e.selfID,
			Type: string(env.Type), Content: env.Content, ReceivedAt: now,
		}); err != nil {
			return err
		}
	}

	if e.store == nil || e.client == nil {
		return nil
	}
	if broadcastActions[action] {
		return e.queueBroadcast(env, swarmID, agentID, recipients, now)
	}
	return e.queueToTarget(env, swarmID, agentID, now)
}

// queueBroadcast fans env out to every current member except this node
// and the agent the action is about (who either isn't a recipient of
// news about themselves, or already received a direct 1:1 notice via
// queueToTarget).
func (e *Emitter) queueBroadcast(env *envelope.Envelope, swarmID, agentID string, recipients []store.Member, now time.Time) error {
	recips := make([]transport.Recipient, 0, len(recipients))
	for _, m := range recipients {
		if m.AgentID == e.selfID || m.AgentID == agentID {
			continue
		}
		recips = append(recips, transport.Recipient{AgentID: m.AgentID, Endpoint: m.Endpoint})
		if err := e.store.InsertOutbox(store.OutboxEntry{
			MessageID: env.MessageID, SwarmID: swarmID, Recipient: m.AgentID, CreatedAt: now,
		}); err != nil {
			e.log.Warn("notifications: queue outbox entry failed", logger.String("recipient", m.AgentID), logger.Error(err))
		}
	}
	if len(recips) == 0 {
		return nil
	}

	go e.deliver(env, recips)
	return nil
}

// queueToTarget delivers a 1:1 action ("kicked", "master_transfer") to
// the affected agent directly instead of broadcasting it. The
// target's endpoint is resolved from the membership row the caller
// (membership.Service) is expected to still have in the store at the
// time of the call -- Kick and Transfer both emit before removing the
// target, so the lookup always succeeds for a live membership change.
func (e *Emitter) queueToTarget(env *envelope.Envelope, swarmID, agentID string, now time.Time) error {
	if agentID == "" || agentID == e.selfID {
		return nil
	}
	target, err := e.store.GetMember(swarmID, agentID)
	if err != nil {
		return err
	}
	if target == nil || target.Endpoint == "" {
		e.log.Warn("notifications: cannot resolve target for 1:1 delivery", logger.String("agent_id", agentID))
		return nil
	}

	if err := e.store.InsertOutbox(store.OutboxEntry{
		MessageID: env.MessageID, SwarmID: swarmID, Recipient: target.AgentID, CreatedAt: now,
	}); err != nil {
		e.log.Warn("notifications: queue outbox entry failed", logger.String("recipient", target.AgentID), logger.Error(err))
	}

	go e.deliver(env, []transport.Recipient{{AgentID: target.AgentID, Endpoint: target.Endpoint}})
	return nil
}

// deliver fans the envelope out in the background; per-member failures
// are logged and do not affect other recipients or the caller.
func (e *Emitter) deliver(env *envelope.Envelope, recips []transport.Recipient) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := e.client.Broadcast(ctx, env, recips)
	for _, r := range results {
		if r.Result.Delivered {
			if err := e.store.MarkOutboxDelivered(env.MessageID, r.Recipient.AgentID); err != nil {
				e.log.Warn("notifications: mark delivered failed", logger.Error(err))
			}
			continue
		}
		errMsg := ""
		if r.Result.Err != nil {
			errMsg = r.Result.Err.Error()
		}
		if err := e.store.MarkOutboxFailed(env.MessageID, r.Recipient.AgentID, errMsg); err != nil {
			e.log.Warn("notifications: mark failed failed", logger.Error(err))
		}
		e.log.Warn("notifications: delivery failed", logger.String("recipient", r.Recipient.AgentID), logger.Error(r.Result.Err))
	}
}
