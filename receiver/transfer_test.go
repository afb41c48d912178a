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

package receiver

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/envelope"
)

func transferSystemEnvelope(t *testing.T, h *testHarness, action envelope.SystemAction, reason string) envelope.Envelope {
	t.Helper()
	content, err := json.Marshal(envelope.SystemContent{Action: action, SwarmID: h.swarmID, AgentID: h.memberID, Reason: reason})
	require.NoError(t, err)

	e := envelope.Envelope{
		ProtocolVersion: "1.0",
		MessageID:       uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		Sender:          envelope.Sender{AgentID: h.memberID, Endpoint: "https://member.example/"},
		Recipient:       h.masterID,
		SwarmID:         h.swarmID,
		Type:            envelope.TypeSystem,
		Content:         string(content),
	}
	sig, err := swarmcrypto.Sign(swarmcrypto.CanonicalFields{
		MessageID: e.MessageID,
		Timestamp: envelope.TimestampWire(e.Timestamp),
		SwarmID:   e.SwarmID,
		Recipient: e.Recipient,
		Type:      string(e.Type),
		Content:   e.Content,
	}, h.memberKey)
	require.NoError(t, err)
	e.Signature = base64.StdEncoding.EncodeToString(sig)
	return e
}

func TestHandleMessage_TransferAcceptedSwapsMaster(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.server.membership.Transfer(h.swarmID, h.masterID, h.memberID))

	env := transferSystemEnvelope(t, h, envelope.ActionTransferAccepted, "")
	rec := postEnvelope(h, "/swarm/message", env)
	require.Equal(t, 200, rec.Code)

	sw, err := h.store.GetSwarm(h.swarmID)
	require.NoError(t, err)
	require.Equal(t, h.memberID, sw.Master)
}

func TestHandleMessage_TransferDeclinedLeavesMasterUnchanged(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.server.membership.Transfer(h.swarmID, h.masterID, h.memberID))

	env := transferSystemEnvelope(t, h, envelope.ActionTransferDeclined, "not now")
	rec := postEnvelope(h, "/swarm/message", env)
	require.Equal(t, 200, rec.Code, "the decline is applied after the envelope is queued, not reflected in its own response")

	sw, err := h.store.GetSwarm(h.swarmID)
	require.NoError(t, err)
	require.Equal(t, h.masterID, sw.Master)

	// The pending transfer is gone: a late accept has nothing left to act on.
	err = h.server.membership.AcceptTransfer(h.swarmID, h.memberID)
	require.Error(t, err)
}
