package store

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSwarm(t *testing.T, s *Store, swarmID, master string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreateSwarm(Swarm{
		SwarmID:   swarmID,
		Name:      "test-swarm",
		CreatedAt: now,
		Master:    master,
	}, Member{
		SwarmID:  swarmID,
		AgentID:  master,
		Endpoint: "https://m.example.com",
		PublicKey: []byte("01234567890123456789012345678901"),
		JoinedAt:  now,
	})
	require.NoError(t, err)
}

func TestStore_CreateSwarmAndMembers(t *testing.T) {
	s := setupTestStore(t)
	seedSwarm(t, s, "s1", "agent-m")

	t.Run("master is a member", func(t *testing.T) {
		m, err := s.GetMember("s1", "agent-m")
		require.NoError(t, err)
		require.NotNil(t, m)
	})

	t.Run("AddMember is idempotent", func(t *testing.T) {
		now := time.Now().UTC()
		member := Member{SwarmID: "s1", AgentID: "agent-n", Endpoint: "https://n.example.com", PublicKey: []byte("x"), JoinedAt: now}
		require.NoError(t, s.AddMember(member))
		require.NoError(t, s.AddMember(member))

		members, err := s.ListMembers("s1")
		require.NoError(t, err)
		require.Len(t, members, 2)
	})

	t.Run("members ordered by joined_at ascending", func(t *testing.T) {
		members, err := s.ListMembers("s1")
		require.NoError(t, err)
		require.Equal(t, "agent-m", members[0].AgentID)
	})
}

func TestStore_InboxIdempotentInsert(t *testing.T) {
	s := setupTestStore(t)
	seedSwarm(t, s, "s1", "agent-m")

	e := InboxEntry{
		MessageID:  "msg-1",
		SwarmID:    "s1",
		SenderID:   "agent-n",
		Type:       "message",
		Content:    `{"hello":"world"}`,
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertInbox(e))
	require.NoError(t, s.InsertInbox(e)) // repeat insert: no-op

	got, err := s.GetInbox("msg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, InboxUnread, got.Status)

	t.Run("mark read stamps read_at", func(t *testing.T) {
		require.NoError(t, s.MarkInboxStatus("msg-1", InboxRead))
		got, err := s.GetInbox("msg-1")
		require.NoError(t, err)
		require.Equal(t, InboxRead, got.Status)
		require.NotNil(t, got.ReadAt)
	})
}

func TestStore_PurgeDeletedInbox(t *testing.T) {
	s := setupTestStore(t)
	seedSwarm(t, s, "s1", "agent-m")

	// Purge compares deleted_at, so the row must have been deleted 48h ago,
	// not just received then; Import is the path that carries deleted_at.
	deletedAt := time.Now().UTC().Add(-48 * time.Hour)
	doc, err := json.Marshal(Document{SchemaVersion: schemaVersion, Inbox: []InboxEntry{{
		MessageID: "old-1", SwarmID: "s1", SenderID: "agent-n", Type: "message",
		Content: "x", ReceivedAt: deletedAt, Status: InboxDeleted, DeletedAt: &deletedAt,
	}}})
	require.NoError(t, err)
	require.NoError(t, s.Import(doc, ImportMerge))

	affected, err := s.PurgeDeletedInbox(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	got, err := s.GetInbox("old-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_InviteTokenLifecycle(t *testing.T) {
	s := setupTestStore(t)
	seedSwarm(t, s, "s1", "agent-m")

	require.NoError(t, s.CreateInviteToken(InviteTokenRow{
		TokenHash: "hash1", SwarmID: "s1", MaxUses: 1, CreatedAt: time.Now().UTC(),
	}))

	t.Run("increment uses", func(t *testing.T) {
		require.NoError(t, s.IncrementInviteTokenUses("hash1"))
		row, err := s.GetInviteToken("hash1")
		require.NoError(t, err)
		require.Equal(t, 1, row.Uses)
		require.True(t, row.Uses >= row.MaxUses)
	})

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, s.RevokeInviteToken("hash1"))
		row, err := s.GetInviteToken("hash1")
		require.NoError(t, err)
		require.True(t, row.Revoked)
	})
}

func TestStore_JoinSwarmEnforcesMaxUsesUnderConcurrency(t *testing.T) {
	s := setupTestStore(t)
	seedSwarm(t, s, "s1", "agent-m")

	require.NoError(t, s.CreateInviteToken(InviteTokenRow{
		TokenHash: "hash-race", SwarmID: "s1", MaxUses: 1, CreatedAt: time.Now().UTC(),
	}))

	const racers = 8
	results := make([]bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.JoinSwarm(Member{
				SwarmID: "s1", AgentID: "agent-racer-" + strconv.Itoa(i),
				Endpoint: "https://racer.example.com", PublicKey: []byte("01234567890123456789012345678901"),
				JoinedAt: time.Now().UTC(),
			}, "hash-race")
			require.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded, "max_uses=1 must admit exactly one racer")

	row, err := s.GetInviteToken("hash-race")
	require.NoError(t, err)
	require.Equal(t, 1, row.Uses)

	members, err := s.ListMembers("s1")
	require.NoError(t, err)
	require.Len(t, members, 2, "master plus exactly one admitted racer")
}

func TestStore_Mutes(t *testing.T) {
	s := setupTestStore(t)

	muted, err := s.IsMuted(MuteScopeAgent, "agent-x")
	require.NoError(t, err)
	require.False(t, muted)

	require.NoError(t, s.AddMute(Mute{Scope: MuteScopeAgent, TargetID: "agent-x", CreatedAt: time.Now().UTC()}))

	muted, err = s.IsMuted(MuteScopeAgent, "agent-x")
	require.NoError(t, err)
	require.True(t, muted)

	require.NoError(t, s.RemoveMute(MuteScopeAgent, "agent-x"))
	muted, err = s.IsMuted(MuteScopeAgent, "agent-x")
	require.NoError(t, err)
	require.False(t, muted)
}

func TestStore_SessionExpiration(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.PutSession(SessionRecord{
		SessionID: "sess-1", State: SessionActive,
		StartedAt: time.Now().UTC().Add(-2 * time.Hour), LastActivityAt: time.Now().UTC().Add(-90 * time.Minute),
	}))

	affected, err := s.ExpireSessions(60 * time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	got, err := s.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, SessionIdle, got.State)
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	seedSwarm(t, s, "s1", "agent-m")
	require.NoError(t, s.InsertInbox(InboxEntry{
		MessageID: "m1", SwarmID: "s1", SenderID: "agent-m", Type: "message",
		Content: "hi", ReceivedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.AddMute(Mute{Scope: MuteScopeAgent, TargetID: "agent-x", CreatedAt: time.Now().UTC()}))

	data, err := s.ExportJSON()
	require.NoError(t, err)

	s2 := setupTestStore(t)
	require.NoError(t, s2.Import(data, ImportMerge))

	sw, err := s2.GetSwarm("s1")
	require.NoError(t, err)
	require.NotNil(t, sw)

	got, err := s2.GetInbox("m1")
	require.NoError(t, err)
	require.NotNil(t, got)

	muted, err := s2.IsMuted(MuteScopeAgent, "agent-x")
	require.NoError(t, err)
	require.True(t, muted)
}

func TestStore_Import_LegacySchemaRemapsQueueStatus(t *testing.T) {
	s := setupTestStore(t)

	legacyDoc := `{
		"schema_version": "1.0.0",
		"inbox": [
			{"MessageID":"m1","SwarmID":"s1","SenderID":"a","Type":"message","Content":"x","ReceivedAt":"2026-01-01T00:00:00Z","Status":"pending"},
			{"MessageID":"m2","SwarmID":"s1","SenderID":"a","Type":"message","Content":"x","ReceivedAt":"2026-01-01T00:00:00Z","Status":"completed"}
		]
	}`
	require.NoError(t, s.Import([]byte(legacyDoc), ImportMerge))

	e1, err := s.GetInbox("m1")
	require.NoError(t, err)
	require.Equal(t, InboxUnread, e1.Status)

	e2, err := s.GetInbox("m2")
	require.NoError(t, err)
	require.Equal(t, InboxRead, e2.Status)
}
