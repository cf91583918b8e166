package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/realtime/config"
	"github.com/leadpulse/realtime/src/registry"
	"github.com/leadpulse/realtime/src/service"
	"github.com/leadpulse/realtime/src/types"
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	cfg := &config.Config{
		QueueSize:         8,
		SendTimeout:       100 * time.Millisecond,
		ReaperInterval:    time.Minute,
		HeartbeatInterval: time.Minute,
	}
	return service.New(cfg, nil, nil, zerolog.Nop())
}

func recv(t *testing.T, c *registry.Conn) types.Notification {
	t.Helper()
	select {
	case n := <-c.Outbox():
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return types.Notification{}
}

func connect(t *testing.T, svc *service.Service, userID string) *registry.Conn {
	t.Helper()
	c, err := svc.Connect(context.Background(), userID, types.ClientMeta{})
	require.NoError(t, err)
	// Consume the greeting messages.
	recv(t, c)
	recv(t, c)
	return c
}

func TestConnectScenarioFreshUser(t *testing.T) {
	svc := newTestService(t)

	c, err := svc.Connect(context.Background(), "alice@x.com", types.ClientMeta{})
	require.NoError(t, err)

	sync := recv(t, c)
	assert.Equal(t, types.TypeUnreadSync, sync.Type)
	assert.Equal(t, []string{}, sync.UnreadSnapshot)

	established := recv(t, c)
	assert.Equal(t, types.TypeConnected, established.Type)
	assert.Equal(t, c.ID, established.ConnectionID)
}

func TestNotifyReachesEveryUserAndDevice(t *testing.T) {
	svc := newTestService(t)

	alice1 := connect(t, svc, "alice@x.com")
	alice2 := connect(t, svc, "alice@x.com")
	bob := connect(t, svc, "bob@x.com")

	svc.Notify("LD-42", &types.EventPayload{
		EntityName: "Jane Doe",
		Preview:    "hi there",
		Direction:  "incoming",
	}, []string{"alice@x.com", "bob@x.com"})

	for _, c := range []*registry.Conn{alice1, alice2, bob} {
		n := recv(t, c)
		assert.Equal(t, types.TypeNewEvent, n.Type)
		assert.Equal(t, "LD-42", n.EntityID)
		assert.Contains(t, n.UnreadSnapshot, "LD-42")
	}
}

func TestNotifyUnconnectedUserStillRecordsUnread(t *testing.T) {
	svc := newTestService(t)

	svc.Notify("LD-1", nil, []string{"offline@x.com"})

	// A later connect sees the unread entity in its sync message.
	c, err := svc.Connect(context.Background(), "offline@x.com", types.ClientMeta{})
	require.NoError(t, err)
	sync := recv(t, c)
	assert.Equal(t, []string{"LD-1"}, sync.UnreadSnapshot)
}

func TestMarkReadPropagatesToAllDevices(t *testing.T) {
	svc := newTestService(t)

	c1 := connect(t, svc, "alice@x.com")
	c2 := connect(t, svc, "alice@x.com")

	svc.Notify("LD-42", nil, []string{"alice@x.com"})
	recv(t, c1)
	recv(t, c2)

	svc.MarkRead("alice@x.com", "LD-42")
	for _, c := range []*registry.Conn{c1, c2} {
		n := recv(t, c)
		assert.Equal(t, types.TypeEntityRead, n.Type)
		assert.Equal(t, "LD-42", n.EntityID)
		assert.NotContains(t, n.UnreadSnapshot, "LD-42")
	}
}

func TestBroadcastToAllConnectedUsers(t *testing.T) {
	svc := newTestService(t)

	alice := connect(t, svc, "alice@x.com")
	bob := connect(t, svc, "bob@x.com")

	svc.Broadcast("maintenance at midnight", nil)

	for _, c := range []*registry.Conn{alice, bob} {
		n := recv(t, c)
		assert.Equal(t, types.TypeSystem, n.Type)
		assert.Equal(t, "maintenance at midnight", n.Message)
	}
}

func TestBroadcastTargeted(t *testing.T) {
	svc := newTestService(t)

	alice := connect(t, svc, "alice@x.com")
	bob := connect(t, svc, "bob@x.com")

	svc.Broadcast("just for alice", []string{"alice@x.com"})

	n := recv(t, alice)
	assert.Equal(t, types.TypeSystem, n.Type)

	select {
	case n := <-bob.Outbox():
		t.Fatalf("bob should not receive a targeted broadcast, got %v", n.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStats(t *testing.T) {
	svc := newTestService(t)

	connect(t, svc, "alice@x.com")
	connect(t, svc, "alice@x.com")
	svc.Notify("LD-1", nil, []string{"alice@x.com"})

	stats := svc.Stats()
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, 1, stats.TotalUsers)
	assert.Equal(t, 1, stats.TotalUnread)
}

func TestShutdownNotifiesAndCloses(t *testing.T) {
	svc := newTestService(t)

	c := connect(t, svc, "alice@x.com")
	svc.Shutdown(context.Background())

	n := recv(t, c)
	assert.Equal(t, types.TypeSystem, n.Type)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("expected connection to be closed on shutdown")
	}
	assert.Equal(t, 0, svc.Stats().TotalConnections)
}

func TestResetClearsUnread(t *testing.T) {
	svc := newTestService(t)

	connect(t, svc, "alice@x.com")
	svc.Notify("LD-1", nil, []string{"alice@x.com"})
	require.Equal(t, 1, svc.Stats().TotalUnread)

	svc.Reset("alice@x.com")
	assert.Equal(t, 0, svc.Stats().TotalUnread)
	assert.Empty(t, svc.UserInfo("alice@x.com").Unread)
}
