package membership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmproto/swarmd/crypto/keys"
	"github.com/swarmproto/swarmd/internal/swarmerr"
	"github.com/swarmproto/swarmd/store"
)

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Emit(swarmID, action, agentID, initiatedBy, reason string, recipients []store.Member) error {
	n.events = append(n.events, action)
	return nil
}

func newTestService(t *testing.T, selfID string) (*Service, *store.Store, *recordingNotifier) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	signer, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	n := &recordingNotifier{}
	return New(st, signer, selfID, n), st, n
}

func TestService_CreateSwarm(t *testing.T) {
	svc, st, _ := newTestService(t, "agent-master")

	sw, err := svc.Create("test-swarm", "https://master.example.com", true, false)
	require.NoError(t, err)
	require.Equal(t, "agent-master", sw.Master)

	m, err := st.GetMember(sw.SwarmID, "agent-master")
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestService_InviteAndJoin(t *testing.T) {
	svc, _, notifier := newTestService(t, "agent-master")
	sw, err := svc.Create("test-swarm", "https://master.example.com", false, false)
	require.NoError(t, err)

	token, url, err := svc.Invite(sw.SwarmID, "agent-master", 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, url)

	result, err := svc.Join("agent-n", "https://n.example.com", []byte("pubkey-n-000000000000000000000000"), token, url)
	require.NoError(t, err)
	require.Equal(t, JoinDone, result.State)
	require.False(t, result.AlreadyMember)
	require.Contains(t, notifier.events, "member_joined")

	t.Run("re-join is idempotent", func(t *testing.T) {
		result, err := svc.Join("agent-n", "https://n.example.com", []byte("pubkey-n-000000000000000000000000"), token, url)
		require.NoError(t, err)
		require.Equal(t, JoinDone, result.State)
		require.True(t, result.AlreadyMember)
	})

	t.Run("non-master cannot invite when disabled", func(t *testing.T) {
		_, _, err := svc.Invite(sw.SwarmID, "agent-n", 0, 0)
		require.Error(t, err)
	})
}

func TestService_JoinRequiresApproval(t *testing.T) {
	svc, _, _ := newTestService(t, "agent-master")
	sw, err := svc.Create("test-swarm", "https://master.example.com", false, true)
	require.NoError(t, err)

	token, url, err := svc.Invite(sw.SwarmID, "agent-master", 0, 0)
	require.NoError(t, err)

	result, err := svc.Join("agent-n", "https://n.example.com", []byte("pubkey"), token, url)
	require.NoError(t, err)
	require.Equal(t, JoinPendingApproval, result.State)
}

func TestService_JoinRejectsExhaustedToken(t *testing.T) {
	svc, _, _ := newTestService(t, "agent-master")
	sw, err := svc.Create("test-swarm", "https://master.example.com", false, false)
	require.NoError(t, err)

	token, url, err := svc.Invite(sw.SwarmID, "agent-master", 0, 1)
	require.NoError(t, err)

	_, err = svc.Join("agent-n", "https://n.example.com", []byte("pubkey-n"), token, url)
	require.NoError(t, err)

	_, err = svc.Join("agent-o", "https://o.example.com", []byte("pubkey-o"), token, url)
	require.Error(t, err)
}

func TestService_KickAndTransfer(t *testing.T) {
	svc, _, notifier := newTestService(t, "agent-master")
	sw, err := svc.Create("test-swarm", "https://master.example.com", true, false)
	require.NoError(t, err)

	token, url, err := svc.Invite(sw.SwarmID, "agent-master", 0, 0)
	require.NoError(t, err)
	_, err = svc.Join("agent-n", "https://n.example.com", []byte("pubkey-n"), token, url)
	require.NoError(t, err)

	t.Run("non-master cannot kick", func(t *testing.T) {
		err := svc.Kick(sw.SwarmID, "agent-n", "agent-master", "")
		require.Error(t, err)
	})

	t.Run("transfer stays pending until the target accepts", func(t *testing.T) {
		err := svc.Transfer(sw.SwarmID, "agent-master", "agent-n")
		require.NoError(t, err)
		require.Contains(t, notifier.events, "master_transfer")
		require.NotContains(t, notifier.events, "master_changed")

		unchanged, err := svc.requireSwarm(sw.SwarmID)
		require.NoError(t, err)
		require.Equal(t, "agent-master", unchanged.Master)

		err = svc.AcceptTransfer(sw.SwarmID, "agent-n")
		require.NoError(t, err)
		require.Contains(t, notifier.events, "master_changed")

		updated, err := svc.requireSwarm(sw.SwarmID)
		require.NoError(t, err)
		require.Equal(t, "agent-n", updated.Master)
	})

	t.Run("new master kicks old master", func(t *testing.T) {
		err := svc.Kick(sw.SwarmID, "agent-n", "agent-master", "stepped down")
		require.NoError(t, err)

		authorized, err := svc.IsAuthorized(sw.SwarmID, "agent-master")
		require.NoError(t, err)
		require.False(t, authorized)
	})
}

func TestService_TransferDeclined(t *testing.T) {
	svc, _, _ := newTestService(t, "agent-master")
	sw, err := svc.Create("test-swarm", "https://master.example.com", true, false)
	require.NoError(t, err)

	token, url, err := svc.Invite(sw.SwarmID, "agent-master", 0, 0)
	require.NoError(t, err)
	_, err = svc.Join("agent-n", "https://n.example.com", []byte("pubkey-n"), token, url)
	require.NoError(t, err)

	require.NoError(t, svc.Transfer(sw.SwarmID, "agent-master", "agent-n"))

	err = svc.DeclineTransfer(sw.SwarmID, "agent-n", "too busy right now")
	require.Error(t, err)
	kind, ok := swarmerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, swarmerr.KindTransferDeclined, kind)

	unchanged, err := svc.requireSwarm(sw.SwarmID)
	require.NoError(t, err)
	require.Equal(t, "agent-master", unchanged.Master)

	// A decline clears the pending transfer, so a stale accept has
	// nothing left to act on.
	err = svc.AcceptTransfer(sw.SwarmID, "agent-n")
	require.Error(t, err)
	kind, ok = swarmerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, swarmerr.KindNoPendingTransfer, kind)
}

func TestService_AcceptTransferRejectsWrongTarget(t *testing.T) {
	svc, _, _ := newTestService(t, "agent-master")
	sw, err := svc.Create("test-swarm", "https://master.example.com", true, false)
	require.NoError(t, err)

	token, url, err := svc.Invite(sw.SwarmID, "agent-master", 0, 0)
	require.NoError(t, err)
	_, err = svc.Join("agent-n", "https://n.example.com", []byte("pubkey-n"), token, url)
	require.NoError(t, err)
	token2, url2, err := svc.Invite(sw.SwarmID, "agent-master", 0, 0)
	require.NoError(t, err)
	_, err = svc.Join("agent-o", "https://o.example.com", []byte("pubkey-o"), token2, url2)
	require.NoError(t, err)

	require.NoError(t, svc.Transfer(sw.SwarmID, "agent-master", "agent-n"))

	err = svc.AcceptTransfer(sw.SwarmID, "agent-o")
	require.Error(t, err)
	kind, ok := swarmerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, swarmerr.KindNoPendingTransfer, kind)

	unchanged, err := svc.requireSwarm(sw.SwarmID)
	require.NoError(t, err)
	require.Equal(t, "agent-master", unchanged.Master)
}

func TestService_Leave(t *testing.T) {
	svc, st, notifier := newTestService(t, "agent-master")
	sw, err := svc.Create("test-swarm", "https://master.example.com", true, false)
	require.NoError(t, err)

	token, url, err := svc.Invite(sw.SwarmID, "agent-master", 0, 0)
	require.NoError(t, err)
	_, err = svc.Join("agent-n", "https://n.example.com", []byte("pubkey-n"), token, url)
	require.NoError(t, err)

	t.Run("member leave removes only that member", func(t *testing.T) {
		require.NoError(t, svc.Leave(sw.SwarmID, "agent-n"))
		require.Contains(t, notifier.events, "member_left")

		authorized, err := svc.IsAuthorized(sw.SwarmID, "agent-n")
		require.NoError(t, err)
		require.False(t, authorized)

		remaining, err := st.ListMembers(sw.SwarmID)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
	})

	t.Run("master leave dissolves the swarm", func(t *testing.T) {
		require.NoError(t, svc.Leave(sw.SwarmID, "agent-master"))
		require.Contains(t, notifier.events, "swarm_dissolved")

		gone, err := st.GetSwarm(sw.SwarmID)
		require.NoError(t, err)
		require.Nil(t, gone)

		members, err := st.ListMembers(sw.SwarmID)
		require.NoError(t, err)
		require.Empty(t, members)
	})
}

func TestService_Mute(t *testing.T) {
	svc, _, _ := newTestService(t, "agent-master")
	require.NoError(t, svc.Mute(store.MuteScopeAgent, "agent-noisy", "too chatty"))
	require.NoError(t, svc.Unmute(store.MuteScopeAgent, "agent-noisy"))
}
