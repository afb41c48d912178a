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
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/crypto/keys"
	"github.com/swarmproto/swarmd/envelope"
)

func postJoin(h *testHarness, senderID string, env envelope.Envelope) *httptest.ResponseRecorder {
	body, _ := json.Marshal(env)
	req := httptest.NewRequest(http.MethodPost, "/swarm/join", strings.NewReader(string(body)))
	req.Header.Set("X-Agent-ID", senderID)
	req.Header.Set("X-Swarm-Protocol", "1.0")
	rec := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rec, req)
	return rec
}

func joinEnvelope(t *testing.T, swarmID, sender, token, inviteURL string, kp swarmcrypto.KeyPair) envelope.Envelope {
	t.Helper()
	content, err := json.Marshal(map[string]string{"invite_token": token, "invite_url": inviteURL})
	require.NoError(t, err)
	now := time.Now().UTC()
	e := envelope.Envelope{
		ProtocolVersion: "1.0",
		MessageID:       uuid.NewString(),
		Timestamp:       now,
		Sender:          envelope.Sender{AgentID: sender, Endpoint: "https://joiner.example/"},
		Recipient:       swarmID,
		SwarmID:         swarmID,
		Type:            envelope.TypeMessage,
		Content:         string(content),
	}
	sig, err := swarmcrypto.Sign(swarmcrypto.CanonicalFields{
		MessageID: e.MessageID,
		Timestamp: envelope.TimestampWire(e.Timestamp),
		SwarmID:   e.SwarmID,
		Recipient: e.Recipient,
		Type:      string(e.Type),
		Content:   e.Content,
	}, kp)
	require.NoError(t, err)
	e.Signature = base64.StdEncoding.EncodeToString(sig)
	return e
}

func TestHandleJoin_Succeeds(t *testing.T) {
	h := newHarness(t)
	token, inviteURL, err := h.server.membership.Invite(h.swarmID, h.masterID, time.Hour, 5)
	require.NoError(t, err)

	joinerKP, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	joinerID := "agent-joiner"
	h.server.keys.Seed(joinerID, joinerKP.PublicKey().(ed25519.PublicKey))

	env := joinEnvelope(t, h.swarmID, joinerID, token, inviteURL, joinerKP)
	rec := postJoin(h, joinerID, env)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "joined", resp["status"])

	members, ok := resp["members"].([]any)
	require.True(t, ok)
	require.Len(t, members, 2)
	first, ok := members[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, h.masterID, first["agent_id"])

	member, err := h.store.GetMember(h.swarmID, joinerID)
	require.NoError(t, err)
	require.NotNil(t, member)
}

func TestHandleJoin_IsIdempotentOnReJoin(t *testing.T) {
	h := newHarness(t)
	token, inviteURL, err := h.server.membership.Invite(h.swarmID, h.masterID, time.Hour, 5)
	require.NoError(t, err)

	joinerKP, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	joinerID := "agent-joiner"
	h.server.keys.Seed(joinerID, joinerKP.PublicKey().(ed25519.PublicKey))

	env1 := joinEnvelope(t, h.swarmID, joinerID, token, inviteURL, joinerKP)
	rec1 := postJoin(h, joinerID, env1)
	require.Equal(t, http.StatusOK, rec1.Code)

	env2 := joinEnvelope(t, h.swarmID, joinerID, token, inviteURL, joinerKP)
	rec2 := postJoin(h, joinerID, env2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestHandleJoin_RejectsExhaustedToken(t *testing.T) {
	h := newHarness(t)
	token, inviteURL, err := h.server.membership.Invite(h.swarmID, h.masterID, time.Hour, 1)
	require.NoError(t, err)

	firstKP, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	h.server.keys.Seed("agent-first", firstKP.PublicKey().(ed25519.PublicKey))
	env1 := joinEnvelope(t, h.swarmID, "agent-first", token, inviteURL, firstKP)
	rec1 := postJoin(h, "agent-first", env1)
	require.Equal(t, http.StatusOK, rec1.Code)

	secondKP, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	h.server.keys.Seed("agent-second", secondKP.PublicKey().(ed25519.PublicKey))
	env2 := joinEnvelope(t, h.swarmID, "agent-second", token, inviteURL, secondKP)
	rec2 := postJoin(h, "agent-second", env2)
	require.Equal(t, http.StatusForbidden, rec2.Code)
}
