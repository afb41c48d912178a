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
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/crypto/keys"
	"github.com/swarmproto/swarmd/envelope"
	"github.com/swarmproto/swarmd/internal/logger"
	"github.com/swarmproto/swarmd/internal/metrics"
	"github.com/swarmproto/swarmd/internal/swarmerr"
	"github.com/swarmproto/swarmd/membership"
	"github.com/swarmproto/swarmd/store"
	"github.com/swarmproto/swarmd/waketrigger"
)

// handleMessage runs the full ten-step receive pipeline for ordinary and
// system envelopes posted to /swarm/message.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	env, ok := s.gateAndParse(w, r, true)
	if !ok {
		return
	}

	// Step 7: mute filter. Checked before inbox insert/wake evaluation so
	// a muted sender or swarm never reaches either.
	muted, err := s.isMuted(env)
	if err != nil {
		s.writeError(w, swarmerr.Wrap(swarmerr.KindInternal, "mute check failed", err))
		return
	}
	if muted {
		metrics.MutedMessages.Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "message_id": env.MessageID})
		return
	}

	// Step 8: inbox insert, idempotent on message_id.
	existing, err := s.store.GetInbox(env.MessageID)
	if err != nil {
		s.writeError(w, swarmerr.Wrap(swarmerr.KindInternal, "inbox lookup failed", err))
		return
	}
	firstSeen := existing == nil
	if firstSeen {
		if err := s.store.InsertInbox(store.InboxEntry{
			MessageID:  env.MessageID,
			SwarmID:    env.SwarmID,
			SenderID:   env.Sender.AgentID,
			Type:       string(env.Type),
			Content:    env.Content,
			ReceivedAt: s.now().UTC(),
		}); err != nil {
			s.writeError(w, swarmerr.Wrap(swarmerr.KindInternal, "inbox insert failed", err))
			return
		}
		metrics.InboxInserts.WithLabelValues(string(env.Type)).Inc()
	} else {
		metrics.InboxDuplicates.Inc()
	}

	// Step 9: wake evaluate. Only for newly-seen messages; a replayed
	// duplicate must not re-trigger a wake. Failures are logged, never
	// surfaced to the caller.
	if firstSeen {
		s.evaluateWake(env)
		s.applyTransferDecision(env)
	}

	// Step 10.
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "message_id": env.MessageID})
}

// handleJoin runs steps 1-5 of the pipeline (verifying the join envelope's
// own signature) then defers to Membership.Join. Step 6
// (membership authorization) does not apply here: joining is how
// authorization is granted in the first place.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if ok, remaining, reset := s.limiter.AllowJoin(clientIP(r), s.now()); !ok {
		writeRateLimitHeaders(w, s.limiter.perIPJoin.limit, remaining, reset)
		s.writeError(w, swarmerr.New(swarmerr.KindRateLimited, "too many join attempts from this address"))
		return
	}

	env, ok := s.gateAndParse(w, r, false)
	if !ok {
		return
	}

	var body struct {
		Token     string `json:"invite_token"`
		InviteURL string `json:"invite_url"`
	}
	if err := json.Unmarshal([]byte(env.Content), &body); err != nil || body.Token == "" || body.InviteURL == "" {
		s.writeError(w, swarmerr.New(swarmerr.KindEnvelopeInvalid, "join envelope content must carry invite_token and invite_url"))
		return
	}

	pub, err := s.resolveSenderKey(r.Context(), env, true)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.membership.Join(env.Sender.AgentID, env.Sender.Endpoint, []byte(pub), body.Token, body.InviteURL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	resp := map[string]any{"status": "joined", "state": string(result.State), "swarm_id": result.Swarm.SwarmID}
	if result.State == membership.JoinPendingApproval {
		status = http.StatusAccepted
		resp["status"] = "pending_approval"
	} else {
		members := make([]map[string]any, 0, len(result.Members))
		for _, m := range result.Members {
			members = append(members, map[string]any{
				"agent_id":  m.AgentID,
				"endpoint":  m.Endpoint,
				"joined_at": m.JoinedAt,
			})
		}
		resp["members"] = members
	}
	writeJSON(w, status, resp)
}

// gateAndParse runs steps 1-5 shared by both handlers: header gate, rate
// limit, envelope decode+validate, key resolve, signature verify.
// requireMembership additionally runs step 6 when true.
func (s *Server) gateAndParse(w http.ResponseWriter, r *http.Request, requireMembership bool) (*envelope.Envelope, bool) {
	// Step 1: header gate.
	agentID := r.Header.Get("X-Agent-ID")
	protocol := r.Header.Get("X-Swarm-Protocol")
	if agentID == "" || protocol == "" {
		s.writeError(w, swarmerr.New(swarmerr.KindEnvelopeInvalid, "missing X-Agent-ID or X-Swarm-Protocol header"))
		return nil, false
	}

	// Step 2: rate limit (per-sender).
	if ok, remaining, reset := s.limiter.AllowMessage(agentID, s.now()); !ok {
		writeRateLimitHeaders(w, s.limiter.perSender.limit, remaining, reset)
		s.writeError(w, swarmerr.New(swarmerr.KindRateLimited, "sender exceeded message rate limit"))
		return nil, false
	}

	// Step 3: envelope validate.
	var env envelope.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeError(w, swarmerr.New(swarmerr.KindEnvelopeInvalid, "malformed envelope body"))
		return nil, false
	}
	if err := envelope.Validate(&env, s.now()); err != nil {
		s.writeError(w, err)
		return nil, false
	}

	// Steps 4-5: key resolve + signature verify.
	if _, err := s.resolveSenderKey(r.Context(), &env, false); err != nil {
		s.writeError(w, err)
		return nil, false
	}

	// Step 6: authorization.
	if requireMembership {
		authorized, err := s.membership.IsAuthorized(env.SwarmID, env.Sender.AgentID)
		if err != nil {
			s.writeError(w, err)
			return nil, false
		}
		if !authorized {
			s.writeError(w, swarmerr.New(swarmerr.KindNotAuthorized, "sender is not a member of this swarm"))
			return nil, false
		}
	}

	return &env, true
}

// resolveSenderKey performs step 4 (cache lookup, refreshing via
// Transport on miss) and step 5 (signature verification), retrying once
// with a forced key refresh if verification fails against a cached key --
// the cached key may be stale if the peer rotated.
func (s *Server) resolveSenderKey(ctx context.Context, env *envelope.Envelope, forceRefresh bool) (ed25519.PublicKey, error) {
	pub, err := s.keys.Resolve(ctx, env.Sender.AgentID, env.Sender.Endpoint, forceRefresh)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindSignatureInvalid, "could not resolve sender public key", err)
	}

	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, swarmerr.New(swarmerr.KindSignatureInvalid, "signature is not valid base64")
	}

	kp, err := keys.LoadEd25519PublicKey(pub)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "could not load sender public key", err)
	}

	verifyErr := swarmcrypto.Verify(swarmcrypto.CanonicalFields{
		MessageID: env.MessageID,
		Timestamp: envelope.TimestampWire(env.Timestamp),
		SwarmID:   env.SwarmID,
		Recipient: env.Recipient,
		Type:      string(env.Type),
		Content:   env.Content,
	}, sig, kp)
	if verifyErr == nil {
		return pub, nil
	}

	if forceRefresh {
		return nil, swarmerr.Wrap(swarmerr.KindSignatureInvalid, "signature verification failed", verifyErr)
	}

	// Retry once against a freshly-fetched key in case of rotation.
	return s.resolveSenderKey(ctx, env, true)
}

func (s *Server) isMuted(env *envelope.Envelope) (bool, error) {
	senderMuted, err := s.store.IsMuted(store.MuteScopeAgent, env.Sender.AgentID)
	if err != nil {
		return false, err
	}
	if senderMuted {
		return true, nil
	}
	return s.store.IsMuted(store.MuteScopeSwarm, env.SwarmID)
}

// evaluateWake runs step 9: WakeTrigger evaluation, with dispatch to the
// wake endpoint on a WAKE decision. Errors never propagate to the caller.
func (s *Server) evaluateWake(env *envelope.Envelope) {
	if s.wake == nil || s.prefs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("receiver: wake evaluation panicked", logger.Any("recover", r))
		}
	}()

	prefs := s.prefs.Preferences(env.SwarmID)
	result := waketrigger.Evaluate(prefs, env, s.selfID, s.now())
	metrics.WakeDecisions.WithLabelValues(string(result.Decision)).Inc()
	if result.Decision != waketrigger.DecisionWake {
		return
	}
	s.wake.NotifyWake(env.MessageID, env.SwarmID, env.Sender.AgentID, string(result.NotificationLevel))
}

// applyTransferDecision completes a pending master-authority transfer when
// the target's own "transfer_accepted"/"transfer_declined" system notice
// arrives back at the master. Like
// evaluateWake, this runs after the message is already durably queued --
// a decision that fails to apply (no matching pending transfer, this node
// isn't the master) is logged, not surfaced as a failed delivery.
func (s *Server) applyTransferDecision(env *envelope.Envelope) {
	if env.Type != envelope.TypeSystem {
		return
	}
	var content envelope.SystemContent
	if err := json.Unmarshal([]byte(env.Content), &content); err != nil {
		return
	}

	var err error
	switch content.Action {
	case envelope.ActionTransferAccepted:
		err = s.membership.AcceptTransfer(content.SwarmID, env.Sender.AgentID)
	case envelope.ActionTransferDeclined:
		err = s.membership.DeclineTransfer(content.SwarmID, env.Sender.AgentID, content.Reason)
	default:
		return
	}
	if err != nil && !errors.Is(err, swarmerr.New(swarmerr.KindTransferDeclined, "")) {
		s.log.Warn("receiver: apply transfer decision failed",
			logger.String("action", string(content.Action)),
			logger.String("swarm_id", content.SwarmID),
			logger.Error(err))
	}
}

// apiErrorBody is the wire error envelope: {"error": {"code",
// "message", "details"}}.
type apiErrorBody struct {
	Error apiErrorFields `json:"error"`
}

type apiErrorFields struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var apiErr *swarmerr.APIError
	if !errors.As(err, &apiErr) {
		apiErr = swarmerr.Wrap(swarmerr.KindInternal, err.Error(), err)
	}
	writeJSON(w, apiErr.HTTPStatus(), apiErrorBody{Error: apiErrorFields{
		Code:    string(apiErr.Kind),
		Message: apiErr.Message,
		Details: apiErr.Details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRateLimitHeaders(w http.ResponseWriter, limit, remaining int, reset time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
