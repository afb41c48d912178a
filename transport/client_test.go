package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmproto/swarmd/envelope"
)

func testEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		ProtocolVersion: "1.0",
		MessageID:       "11111111-1111-1111-1111-111111111111",
		Timestamp:       time.Now(),
		Sender:          envelope.Sender{AgentID: "agent-a", Endpoint: "https://a.example.com"},
		Recipient:       "agent-b",
		SwarmID:         "22222222-2222-2222-2222-222222222222",
		Type:            envelope.TypeMessage,
		Content:         "hello",
		Signature:       "c2ln",
	}
}

func TestClient_Send_SuccessOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/swarm/message", r.URL.Path)
		require.Equal(t, "agent-a", r.Header.Get("X-Agent-ID"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 3}))
	res := c.Send(context.Background(), testEnvelope(), srv.URL)
	require.True(t, res.Delivered)
	require.Equal(t, 1, res.Attempts)
}

func TestClient_SendJoin_PostsToSwarmJoinPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/swarm/join", r.URL.Path)
		require.Equal(t, "agent-a", r.Header.Get("X-Agent-ID"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 3}))
	res := c.SendJoin(context.Background(), testEnvelope(), srv.URL)
	require.True(t, res.Delivered)
	require.Equal(t, http.StatusAccepted, res.Status)
}

func TestClient_Send_RetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 5}))
	res := c.Send(context.Background(), testEnvelope(), srv.URL)
	require.True(t, res.Delivered)
	require.Equal(t, 3, res.Attempts)
}

func TestClient_Send_TerminalOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 5}))
	res := c.Send(context.Background(), testEnvelope(), srv.URL)
	require.False(t, res.Delivered)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, http.StatusForbidden, res.Status)
}

func TestClient_Send_HonorsRetryAfterOn429(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 5}))
	res := c.Send(context.Background(), testEnvelope(), srv.URL)
	require.True(t, res.Delivered)
	require.Equal(t, 2, res.Attempts)
}

func TestClient_Send_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(BackoffConfig{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 3}))
	res := c.Send(context.Background(), testEnvelope(), srv.URL)
	require.False(t, res.Delivered)
	require.Equal(t, 3, res.Attempts)
}

func TestClient_Broadcast_ReachesEveryRecipient(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	recipients := []Recipient{
		{AgentID: "b", Endpoint: srv.URL},
		{AgentID: "c", Endpoint: srv.URL},
		{AgentID: "d", Endpoint: srv.URL},
	}
	results := c.Broadcast(context.Background(), testEnvelope(), recipients)
	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.Result.Delivered)
	}
	require.EqualValues(t, 3, count)
}
