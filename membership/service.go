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

// Package membership implements the swarm lifecycle operations (create,
// invite, join, leave, kick, transfer, mute) with the master as
// authority and lifecycle-event broadcasting.
package membership

import (
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"

	swarmcrypto "github.com/swarmproto/swarmd/crypto"
	"github.com/swarmproto/swarmd/crypto/keys"
	"github.com/swarmproto/swarmd/internal/metrics"
	"github.com/swarmproto/swarmd/internal/swarmerr"
	"github.com/swarmproto/swarmd/invite"
	"github.com/swarmproto/swarmd/store"
)

// Notifier emits lifecycle system-messages (member_joined and friends).
// membership depends on this narrow interface rather than the concrete
// notifications package to avoid an import cycle (notifications needs
// Transport, which needs a resolved member list membership itself owns).
type Notifier interface {
	Emit(swarmID string, action string, agentID string, initiatedBy, reason string, recipients []store.Member) error
}

// Service implements the swarm membership operations.
type Service struct {
	store    *store.Store
	signer   swarmcrypto.KeyPair
	selfID   string
	notifier Notifier
	now      func() time.Time
}

// New constructs a membership Service. selfID is this node's own agent_id,
// used to decide local authority (e.g. "am I the master of this swarm?").
func New(st *store.Store, signer swarmcrypto.KeyPair, selfID string, notifier Notifier) *Service {
	return &Service{store: st, signer: signer, selfID: selfID, notifier: notifier, now: time.Now}
}

// recordOp emits the membership.operations_total counter for one call.
func recordOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.MembershipOperations.WithLabelValues(op, status).Inc()
}

// trackMembers refreshes the per-swarm member-count gauge after a
// membership mutation. Gauge staleness on a read error is acceptable;
// the mutation itself already succeeded.
func (s *Service) trackMembers(swarmID string) {
	members, err := s.store.ListMembers(swarmID)
	if err != nil {
		return
	}
	metrics.MembersGauge.WithLabelValues(swarmID).Set(float64(len(members)))
}

// Create makes a new swarm with the caller as master and sole member.
func (s *Service) Create(name, endpoint string, allowMemberInvite, requireApproval bool) (_ *store.Swarm, err error) {
	defer func() { recordOp("create", err) }()
	now := s.now().UTC()
	sw := store.Swarm{
		SwarmID:           uuid.NewString(),
		Name:              name,
		CreatedAt:         now,
		Master:            s.selfID,
		AllowMemberInvite: allowMemberInvite,
		RequireApproval:   requireApproval,
	}
	master := store.Member{
		SwarmID:   sw.SwarmID,
		AgentID:   s.selfID,
		Endpoint:  endpoint,
		PublicKey: publicKeyBytes(s.signer),
		JoinedAt:  now,
	}
	if err := s.store.CreateSwarm(sw, master); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "create swarm", err)
	}
	s.trackMembers(sw.SwarmID)
	return &sw, nil
}

// Invite issues a new invite token for swarmID. Authority: the master,
// or any member when allow_member_invite is set.
func (s *Service) Invite(swarmID, requesterID string, expiresIn time.Duration, maxUses int) (token, url string, err error) {
	defer func() { recordOp("invite", err) }()
	sw, err := s.requireSwarm(swarmID)
	if err != nil {
		return "", "", err
	}
	member, err := s.store.GetMember(swarmID, requesterID)
	if err != nil {
		return "", "", swarmerr.Wrap(swarmerr.KindInternal, "lookup requester", err)
	}
	if member == nil {
		return "", "", swarmerr.New(swarmerr.KindNotMember, "requester is not a member of this swarm")
	}
	if requesterID != sw.Master && !sw.AllowMemberInvite {
		return "", "", swarmerr.New(swarmerr.KindInvitesDisabled, "only the master may invite members")
	}

	masterMember, err := s.store.GetMember(swarmID, sw.Master)
	if err != nil || masterMember == nil {
		return "", "", swarmerr.Wrap(swarmerr.KindInternal, "lookup master", err)
	}

	tok, hash, url, err := invite.Generate(swarmID, sw.Master, masterMember.Endpoint, s.signer, expiresIn, maxUses)
	if err != nil {
		return "", "", swarmerr.Wrap(swarmerr.KindInternal, "generate invite token", err)
	}
	var expiresAt *time.Time
	if expiresIn > 0 {
		t := s.now().UTC().Add(expiresIn)
		expiresAt = &t
	}
	if err := s.store.CreateInviteToken(store.InviteTokenRow{
		TokenHash: hash,
		SwarmID:   swarmID,
		MaxUses:   maxUses,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
	}); err != nil {
		return "", "", swarmerr.Wrap(swarmerr.KindInternal, "persist invite token", err)
	}
	return tok, url, nil
}

// JoinState is one state of the master-side join state machine.
type JoinState string

const (
	JoinIdle            JoinState = "IDLE"
	JoinTokenValidated  JoinState = "TokenValidated"
	JoinMemberAdded     JoinState = "MemberAdded"
	JoinBroadcasting    JoinState = "Broadcasting"
	JoinDone            JoinState = "Done"
	JoinPendingApproval JoinState = "PendingApproval"
)

// JoinResult is what Join returns: the final state, the membership as of
// that state, and whether this was an idempotent re-join (no notification
// emitted).
type JoinResult struct {
	State         JoinState
	Swarm         *store.Swarm
	Members       []store.Member
	AlreadyMember bool
}

// Join runs the master-side join state machine against a presented invite
// token and URL.
func (s *Service) Join(requesterID, requesterEndpoint string, requesterPublicKey []byte, token, inviteURL string) (result *JoinResult, err error) {
	defer func() { recordOp("join", err) }()
	swarmID, _, _, err := invite.ParseInviteURL(inviteURL)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInvalidToken, "malformed invite URL", err)
	}
	sw, err := s.requireSwarm(swarmID)
	if err != nil {
		return nil, err
	}

	// IDLE → already a member? short-circuit to Done, idempotent re-join.
	existing, err := s.store.GetMember(swarmID, requesterID)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "lookup requester", err)
	}
	if existing != nil {
		members, err := s.store.ListMembers(swarmID)
		if err != nil {
			return nil, swarmerr.Wrap(swarmerr.KindInternal, "list members", err)
		}
		return &JoinResult{State: JoinDone, Swarm: sw, Members: members, AlreadyMember: true}, nil
	}

	masterMember, err := s.store.GetMember(swarmID, sw.Master)
	if err != nil || masterMember == nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "lookup master", err)
	}
	masterKey, err := masterKeyPair(masterMember.PublicKey)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "load master key", err)
	}

	// IDLE → TokenValidated.
	_, tokenHash, err := invite.Validate(token, inviteURL, masterKey)
	if err != nil {
		return nil, err
	}
	row, err := s.store.GetInviteToken(tokenHash)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "lookup invite token", err)
	}
	if row == nil {
		return nil, swarmerr.New(swarmerr.KindInvalidToken, "invite token not recognized")
	}
	if row.Revoked {
		return nil, swarmerr.New(swarmerr.KindTokenRevoked, "invite token revoked")
	}
	if row.MaxUses > 0 && row.Uses >= row.MaxUses {
		return nil, swarmerr.New(swarmerr.KindTokenExhausted, "invite token exhausted")
	}
	if sw.RequireApproval {
		return &JoinResult{State: JoinPendingApproval, Swarm: sw}, nil
	}

	// TokenValidated → MemberAdded, atomic with the uses increment: the
	// row count re-checked above can be stale by the time this runs, so
	// the store re-validates uses < max_uses inside the same transaction
	// that adds the member, closing the race between this check and a
	// concurrent Join racing the same token.
	priorMembers, err := s.store.ListMembers(swarmID)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "list members", err)
	}
	added, err := s.store.JoinSwarm(store.Member{
		SwarmID:   swarmID,
		AgentID:   requesterID,
		Endpoint:  requesterEndpoint,
		PublicKey: requesterPublicKey,
		JoinedAt:  s.now().UTC(),
	}, tokenHash)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "join swarm", err)
	}
	if !added {
		return nil, swarmerr.New(swarmerr.KindTokenExhausted, "invite token exhausted")
	}

	// MemberAdded → Broadcasting → Done. Fire-and-forget: a notification
	// failure must not roll back the join.
	if s.notifier != nil {
		_ = s.notifier.Emit(swarmID, "member_joined", requesterID, "", "", priorMembers)
	}

	members, err := s.store.ListMembers(swarmID)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "list members", err)
	}
	metrics.MembersGauge.WithLabelValues(swarmID).Set(float64(len(members)))
	return &JoinResult{State: JoinDone, Swarm: sw, Members: members}, nil
}

// Leave removes the caller from a swarm. If the leaver is the master, the
// swarm is dissolved instead.
func (s *Service) Leave(swarmID, agentID string) (err error) {
	defer func() { recordOp("leave", err) }()
	sw, err := s.requireSwarm(swarmID)
	if err != nil {
		return err
	}
	if _, err := s.requireMember(swarmID, agentID); err != nil {
		return err
	}

	members, err := s.store.ListMembers(swarmID)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "list members", err)
	}

	if agentID == sw.Master {
		if s.notifier != nil {
			_ = s.notifier.Emit(swarmID, "swarm_dissolved", agentID, agentID, "", members)
		}
		if err := s.store.DissolveSwarm(swarmID); err != nil {
			return swarmerr.Wrap(swarmerr.KindInternal, "dissolve swarm", err)
		}
		metrics.MembersGauge.DeleteLabelValues(swarmID)
		return nil
	}

	if s.notifier != nil {
		_ = s.notifier.Emit(swarmID, "member_left", agentID, agentID, "", members)
	}
	if err := s.store.RemoveMember(swarmID, agentID); err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "remove member", err)
	}
	s.trackMembers(swarmID)
	return nil
}

// Kick removes targetID from swarmID at the master's direction.
func (s *Service) Kick(swarmID, requesterID, targetID, reason string) (err error) {
	defer func() { recordOp("kick", err) }()
	sw, err := s.requireSwarm(swarmID)
	if err != nil {
		return err
	}
	if requesterID != sw.Master {
		return swarmerr.New(swarmerr.KindNotMaster, "only the master may kick members")
	}
	if _, err := s.requireMember(swarmID, targetID); err != nil {
		return err
	}

	members, err := s.store.ListMembers(swarmID)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "list members", err)
	}
	if s.notifier != nil {
		_ = s.notifier.Emit(swarmID, "kicked", targetID, requesterID, reason, []store.Member{})
		_ = s.notifier.Emit(swarmID, "member_kicked", targetID, requesterID, reason, members)
	}
	if err := s.store.RemoveMember(swarmID, targetID); err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "remove member", err)
	}
	s.trackMembers(swarmID)
	return nil
}

// Transfer opens a master-authority transfer from requesterID to targetID:
// it records the pending transfer and delivers a "master_transfer" notice
// to targetID, but does not swap master yet. The swap only happens once
// targetID calls AcceptTransfer; targetID may instead call DeclineTransfer
// to refuse.
func (s *Service) Transfer(swarmID, requesterID, targetID string) (err error) {
	defer func() { recordOp("transfer", err) }()
	sw, err := s.requireSwarm(swarmID)
	if err != nil {
		return err
	}
	if requesterID != sw.Master {
		return swarmerr.New(swarmerr.KindNotMaster, "only the master may transfer authority")
	}
	if _, err := s.requireMember(swarmID, targetID); err != nil {
		return err
	}

	if err := s.store.SetPendingTransfer(store.PendingTransfer{
		SwarmID: swarmID, TargetID: targetID, RequesterID: requesterID, CreatedAt: s.now().UTC(),
	}); err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "set pending transfer", err)
	}
	if s.notifier != nil {
		_ = s.notifier.Emit(swarmID, "master_transfer", targetID, requesterID, "", nil)
	}
	return nil
}

// AcceptTransfer completes a pending transfer: targetID must match the
// transfer Transfer opened for swarmID. Acceptance swaps master and
// broadcasts "master_changed" to the swarm.
func (s *Service) AcceptTransfer(swarmID, targetID string) (err error) {
	defer func() { recordOp("transfer_accept", err) }()
	pending, err := s.requirePendingTransfer(swarmID, targetID)
	if err != nil {
		return err
	}

	if err := s.store.SetMaster(swarmID, targetID); err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "set master", err)
	}
	if err := s.store.ClearPendingTransfer(swarmID); err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "clear pending transfer", err)
	}
	members, err := s.store.ListMembers(swarmID)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "list members", err)
	}
	if s.notifier != nil {
		_ = s.notifier.Emit(swarmID, "master_changed", targetID, pending.RequesterID, "", members)
	}
	return nil
}

// DeclineTransfer refuses a pending transfer: master authority stays with
// the requester, and the declined outcome is returned to the caller as
// swarmerr.KindTransferDeclined.
func (s *Service) DeclineTransfer(swarmID, targetID, reason string) (err error) {
	defer func() { recordOp("transfer_decline", err) }()
	if _, err := s.requirePendingTransfer(swarmID, targetID); err != nil {
		return err
	}
	if err := s.store.ClearPendingTransfer(swarmID); err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "clear pending transfer", err)
	}
	return swarmerr.New(swarmerr.KindTransferDeclined, "transfer declined by target: "+reason)
}

func (s *Service) requirePendingTransfer(swarmID, targetID string) (*store.PendingTransfer, error) {
	pending, err := s.store.GetPendingTransfer(swarmID)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "lookup pending transfer", err)
	}
	if pending == nil || pending.TargetID != targetID {
		return nil, swarmerr.New(swarmerr.KindNoPendingTransfer, "no pending transfer for this agent")
	}
	return pending, nil
}

// Mute records a local-only mute set entry.
func (s *Service) Mute(scope store.MuteScope, targetID, reason string) (err error) {
	defer func() { recordOp("mute", err) }()
	if err := s.store.AddMute(store.Mute{Scope: scope, TargetID: targetID, Reason: reason, CreatedAt: s.now().UTC()}); err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "add mute", err)
	}
	return nil
}

// Unmute removes a mute set entry.
func (s *Service) Unmute(scope store.MuteScope, targetID string) (err error) {
	defer func() { recordOp("unmute", err) }()
	if err := s.store.RemoveMute(scope, targetID); err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "remove mute", err)
	}
	return nil
}

// IsAuthorized reports whether agentID is a current member of swarmID,
// the authorization check applied to every inbound message other than
// /swarm/join.
func (s *Service) IsAuthorized(swarmID, agentID string) (bool, error) {
	m, err := s.store.GetMember(swarmID, agentID)
	if err != nil {
		return false, swarmerr.Wrap(swarmerr.KindInternal, "lookup member", err)
	}
	return m != nil, nil
}

func (s *Service) requireSwarm(swarmID string) (*store.Swarm, error) {
	sw, err := s.store.GetSwarm(swarmID)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "lookup swarm", err)
	}
	if sw == nil {
		return nil, swarmerr.New(swarmerr.KindSwarmNotFound, "swarm not found")
	}
	return sw, nil
}

func (s *Service) requireMember(swarmID, agentID string) (*store.Member, error) {
	m, err := s.store.GetMember(swarmID, agentID)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "lookup member", err)
	}
	if m == nil {
		return nil, swarmerr.New(swarmerr.KindMemberNotFound, "member not found")
	}
	return m, nil
}

func publicKeyBytes(kp swarmcrypto.KeyPair) []byte {
	if pub, ok := kp.PublicKey().(ed25519.PublicKey); ok {
		return []byte(pub)
	}
	return nil
}

// masterKeyPair wraps a member's stored raw public key for invite token
// verification; Validate only ever needs PublicKey() from the result.
func masterKeyPair(rawPub []byte) (swarmcrypto.KeyPair, error) {
	return keys.LoadEd25519PublicKey(rawPub)
}
