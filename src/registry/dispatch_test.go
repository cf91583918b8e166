package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/realtime/config"
	"github.com/leadpulse/realtime/src/store"
	"github.com/leadpulse/realtime/src/types"
)

// mockRecorder implements store.HistoryRecorder, forwarding appends to a
// channel so tests can observe them.
type mockRecorder struct {
	appends chan types.Notification
	err     error
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{appends: make(chan types.Notification, 16)}
}

func (m *mockRecorder) Append(ctx context.Context, userID string, n types.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.appends <- n
	return nil
}

// newDispatchedRegistry wires a registry with a dispatcher attached, the
// way the service composes them.
func newDispatchedRegistry(t *testing.T, cfg *config.Config, recorder *mockRecorder) (*Registry, *Dispatcher) {
	t.Helper()
	reg := New(cfg, &mockLoader{}, zerolog.Nop())
	var rec store.HistoryRecorder
	if recorder != nil {
		rec = recorder
	}
	d := NewDispatcher(reg, rec, cfg, zerolog.Nop())
	reg.SetDispatcher(d)
	return reg, d
}

func TestFanoutDeliversToAllConnections(t *testing.T) {
	reg, _ := newDispatchedRegistry(t, testConfig(), nil)

	c1, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	c2, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	drainGreetings(t, c1)
	drainGreetings(t, c2)

	reg.AddUnread("LD-42", &types.EventPayload{Preview: "hello"}, []string{"alice@x.com"})

	for _, c := range []*Conn{c1, c2} {
		n := recv(t, c)
		assert.Equal(t, types.TypeNewEvent, n.Type)
		assert.Equal(t, "LD-42", n.EntityID)
		require.NotNil(t, n.Payload)
		assert.Equal(t, "hello", n.Payload.Preview)
		assert.Contains(t, n.UnreadSnapshot, "LD-42")
		assert.False(t, n.Timestamp.IsZero())
	}
}

func TestFanoutSnapshotIsCurrentAtDispatchTime(t *testing.T) {
	reg, _ := newDispatchedRegistry(t, testConfig(), nil)

	c, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	drainGreetings(t, c)

	reg.AddUnread("LD-1", nil, []string{"alice@x.com"})
	reg.AddUnread("LD-2", nil, []string{"alice@x.com"})
	recv(t, c)
	recv(t, c)

	reg.MarkRead("alice@x.com", "LD-1")

	n := recv(t, c)
	assert.Equal(t, types.TypeEntityRead, n.Type)
	assert.Equal(t, "LD-1", n.EntityID)
	assert.Equal(t, "alice@x.com", n.MarkedBy)
	assert.Equal(t, []string{"LD-2"}, n.UnreadSnapshot)
}

func TestMarkReadReachesEveryDevice(t *testing.T) {
	reg, _ := newDispatchedRegistry(t, testConfig(), nil)

	c1, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	c2, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	drainGreetings(t, c1)
	drainGreetings(t, c2)

	reg.AddUnread("LD-42", nil, []string{"alice@x.com"})
	recv(t, c1)
	recv(t, c2)

	// One device marks the entity read; both must hear about it.
	reg.MarkRead("alice@x.com", "LD-42")
	for _, c := range []*Conn{c1, c2} {
		n := recv(t, c)
		assert.Equal(t, types.TypeEntityRead, n.Type)
		assert.NotContains(t, n.UnreadSnapshot, "LD-42")
	}
}

func TestBackpressureIsolation(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	cfg.SendTimeout = 50 * time.Millisecond
	reg, _ := newDispatchedRegistry(t, cfg, nil)

	// c1 simulates a stuck client: its greetings are never drained, so the
	// two-slot queue is already saturated.
	c1, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	c2, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	drainGreetings(t, c2)

	start := time.Now()
	reg.AddUnread("LD-1", nil, []string{"alice@x.com"})
	elapsed := time.Since(start)

	n := recv(t, c2)
	assert.Equal(t, types.TypeNewEvent, n.Type)
	assert.Less(t, elapsed, time.Second, "stuck client must not stall fan-out beyond the send timeout")

	// The stuck connection is evicted through the normal disconnect path.
	assert.True(t, c1.Closed())
	info := reg.UserInfo("alice@x.com")
	require.Len(t, info.Connections, 1)
	assert.Equal(t, c2.ID, info.Connections[0].ID)
}

func TestSendOnClosedConnection(t *testing.T) {
	cfg := testConfig()
	reg, d := newDispatchedRegistry(t, cfg, nil)

	c, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	reg.Disconnect("alice@x.com", c.ID)

	ok := d.Send(c, types.Notification{Type: types.TypeSystem})
	assert.False(t, ok)
}

func TestSendUpdatesActivity(t *testing.T) {
	reg, d := newDispatchedRegistry(t, testConfig(), nil)

	c, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	drainGreetings(t, c)

	before := c.Info().LastActivityAt
	time.Sleep(5 * time.Millisecond)
	require.True(t, d.Send(c, types.Notification{Type: types.TypeSystem}))
	assert.True(t, c.Info().LastActivityAt.After(before))
}

func TestHistoryRecorderReceivesFanout(t *testing.T) {
	recorder := newMockRecorder()
	reg, _ := newDispatchedRegistry(t, testConfig(), recorder)

	c, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	drainGreetings(t, c)

	reg.AddUnread("LD-9", nil, []string{"alice@x.com"})

	select {
	case n := <-recorder.appends:
		assert.Equal(t, types.TypeNewEvent, n.Type)
		assert.Equal(t, "LD-9", n.EntityID)
	case <-time.After(time.Second):
		t.Fatal("expected a history append")
	}
}

func TestHistoryRecorderFailureDoesNotAffectDelivery(t *testing.T) {
	recorder := newMockRecorder()
	recorder.err = errors.New("history store down")
	reg, _ := newDispatchedRegistry(t, testConfig(), recorder)

	c, err := reg.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)
	drainGreetings(t, c)

	reg.AddUnread("LD-9", nil, []string{"alice@x.com"})

	n := recv(t, c)
	assert.Equal(t, types.TypeNewEvent, n.Type)
}

func TestFanoutUnknownUserIsNoop(t *testing.T) {
	_, d := newDispatchedRegistry(t, testConfig(), nil)
	d.Fanout("ghost@x.com", types.Notification{Type: types.TypeSystem})
}
