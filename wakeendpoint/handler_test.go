package wakeendpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmproto/swarmd/invoker"
	"github.com/swarmproto/swarmd/session"
	"github.com/swarmproto/swarmd/store"
)

type fakeInvoker struct {
	invoked bool
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, payload invoker.Payload) (invoker.Result, error) {
	f.invoked = true
	if f.err != nil {
		return invoker.Result{}, f.err
	}
	return invoker.Result{Invoked: true}, nil
}

// countingInvoker counts how many times Invoke actually runs, for the
// concurrent single-flight test where fakeInvoker's plain bool would race.
type countingInvoker struct {
	calls int32
}

func (c *countingInvoker) Invoke(ctx context.Context, payload invoker.Payload) (invoker.Result, error) {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(20 * time.Millisecond)
	return invoker.Result{Invoked: true}, nil
}

func newTestSessions(t *testing.T) *session.Manager {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	m, err := session.New(st, 0, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func doWakeRequest(h *Handler, secret string, body map[string]string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/wake", bytes.NewReader(b))
	if secret != "" {
		req.Header.Set("X-Wake-Secret", secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RequiresSharedSecretWhenConfigured(t *testing.T) {
	inv := &fakeInvoker{}
	h := New("s3cr3t", newTestSessions(t), inv, nil)

	rec := doWakeRequest(h, "", map[string]string{"message_id": "m1", "swarm_id": "s1", "sender_id": "a1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, inv.invoked)
}

func TestHandler_RejectsInvalidBody(t *testing.T) {
	h := New("", newTestSessions(t), &fakeInvoker{}, nil)
	rec := doWakeRequest(h, "", map[string]string{"swarm_id": "s1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandler_InvokesAndReportsStatus(t *testing.T) {
	inv := &fakeInvoker{}
	h := New("", newTestSessions(t), inv, nil)

	rec := doWakeRequest(h, "", map[string]string{"message_id": "m1", "swarm_id": "s1", "sender_id": "a1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "invoked", resp["status"])
	require.True(t, inv.invoked)
}

func TestHandler_AlreadyActiveSkipsInvocation(t *testing.T) {
	inv := &fakeInvoker{}
	sessions := newTestSessions(t)
	h := New("", sessions, inv, nil)

	rec1 := doWakeRequest(h, "", map[string]string{"message_id": "m1", "swarm_id": "s1", "sender_id": "a1"})
	require.Equal(t, http.StatusOK, rec1.Code)

	inv.invoked = false
	rec2 := doWakeRequest(h, "", map[string]string{"message_id": "m2", "swarm_id": "s1", "sender_id": "a2"})
	require.Equal(t, http.StatusOK, rec2.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	require.Equal(t, "already_active", resp["status"])
	require.False(t, inv.invoked)
}

func TestHandler_InvokerErrorRevertsSession(t *testing.T) {
	inv := &fakeInvoker{err: context.DeadlineExceeded}
	sessions := newTestSessions(t)
	h := New("", sessions, inv, nil)

	rec := doWakeRequest(h, "", map[string]string{"message_id": "m1", "swarm_id": "s1", "sender_id": "a1"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	_, active := sessions.ActiveSession(time.Now())
	require.False(t, active)
}

// TestHandler_ConcurrentWakesSingleFlight: of N wake POSTs arriving
// concurrently while the session is idle, exactly one dispatches to the
// invoker and every response is either "invoked" or "already_active" --
// never two invocations.
func TestHandler_ConcurrentWakesSingleFlight(t *testing.T) {
	inv := &countingInvoker{}
	sessions := newTestSessions(t)
	h := New("", sessions, inv, nil)

	const n = 8
	var wg sync.WaitGroup
	var invokedCount, alreadyActiveCount int32
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			rec := doWakeRequest(h, "", map[string]string{
				"message_id": "m", "swarm_id": "s1", "sender_id": "a1",
			})
			require.Equal(t, http.StatusOK, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			switch resp["status"] {
			case "invoked":
				atomic.AddInt32(&invokedCount, 1)
			case "already_active":
				atomic.AddInt32(&alreadyActiveCount, 1)
			default:
				t.Errorf("unexpected status %q", resp["status"])
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&invokedCount), "exactly one request must dispatch the invoker")
	require.EqualValues(t, n-1, atomic.LoadInt32(&alreadyActiveCount))
	require.EqualValues(t, 1, atomic.LoadInt32(&inv.calls), "invoker must actually run exactly once")
}
