package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifailabs/verifai/models"
)

const testChannel = "verifai:ws:broadcast"

// testProcess is one simulated server process: its own registry, router
// and bridge, optionally attached to a shared broker.
type testProcess struct {
	registry *Registry
	router   *Router
	bridge   *Bridge
}

func newTestProcess(rdb *redis.Client) *testProcess {
	registry := NewRegistry(testLogger())
	router := NewRouter(registry, testLogger())
	return &testProcess{
		registry: registry,
		router:   router,
		bridge:   NewBridge(rdb, router, testChannel, testLogger()),
	}
}

func startListener(t *testing.T, rdb *redis.Client, proc *testProcess) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go proc.bridge.Listen(ctx)

	// Wait for the subscription to land before anything publishes.
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), testChannel).Result()
		return err == nil && n[testChannel] > 0
	}, 2*time.Second, 10*time.Millisecond)

	return cancel
}

func TestBridge_WithoutBrokerDeliversLocally(t *testing.T) {
	proc := newTestProcess(nil)

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	proc.registry.Register("alice", alice)
	proc.registry.Register("bob", bob)
	proc.registry.Subscribe("bob", "swarm:42")

	ctx := context.Background()
	proc.bridge.Publish(ctx, models.TargetUser("alice"), models.NewEvent(models.EventTypeAgentUpdate, nil))
	proc.bridge.Publish(ctx, models.TargetTopic("swarm:42"), models.NewEvent(models.EventTypeSwarmUpdate, nil))
	proc.bridge.Publish(ctx, models.TargetAll, models.NewEvent(models.EventTypeAnnouncement, nil))

	assert.Equal(t, 2, alice.messageCount(), "user target plus broadcast")
	assert.Equal(t, 2, bob.messageCount(), "topic target plus broadcast")
}

func TestBridge_CrossProcessDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbB.Close()

	procA := newTestProcess(rdbA)
	procB := newTestProcess(rdbB)

	// Alice is connected to process A, Bob to process B, and both are
	// subscribed to the same topic.
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	procA.registry.Register("alice", alice)
	procA.registry.Subscribe("alice", "swarm:42")
	procB.registry.Register("bob", bob)
	procB.registry.Subscribe("bob", "swarm:42")

	cancelA := startListener(t, rdbA, procA)
	defer cancelA()
	cancelB := startListener(t, rdbB, procB)
	defer cancelB()

	procA.bridge.Publish(context.Background(), models.TargetTopic("swarm:42"),
		models.NewEvent(models.EventTypeSwarmUpdate, map[string]any{"swarm_id": "42"}))

	require.Eventually(t, func() bool {
		return alice.messageCount() == 1 && bob.messageCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// With a healthy broker the publishing process delivers through its
	// own listener, never directly; exactly one copy per connection.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, alice.messageCount())
	assert.Equal(t, 1, bob.messageCount())

	events := bob.events(t)
	assert.Equal(t, models.EventTypeSwarmUpdate, events[0].Type)
	assert.Equal(t, "42", events[0].Data["swarm_id"])
}

func TestBridge_UserTargetAcrossProcesses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbB.Close()

	procA := newTestProcess(rdbA)
	procB := newTestProcess(rdbB)

	aliceOnB := newFakeConn("alice")
	procB.registry.Register("alice", aliceOnB)

	cancelB := startListener(t, rdbB, procB)
	defer cancelB()

	// Published from process A, where alice has no connection at all.
	procA.bridge.Publish(context.Background(), models.TargetUser("alice"),
		models.NewEvent(models.EventTypeRewardNotification, map[string]any{"amount": 10.0}))

	require.Eventually(t, func() bool {
		return aliceOnB.messageCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_MalformedEnvelopeIsDropped(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	proc := newTestProcess(rdb)
	alice := newFakeConn("alice")
	proc.registry.Register("alice", alice)

	cancel := startListener(t, rdb, proc)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, rdb.Publish(ctx, testChannel, "{not valid json").Err())
	require.NoError(t, rdb.Publish(ctx, testChannel, `{"target":"mars","payload":{"type":"x"}}`).Err())
	proc.bridge.Publish(ctx, models.TargetUser("alice"), models.NewEvent(models.EventTypePong, nil))

	require.Eventually(t, func() bool {
		return alice.messageCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := alice.events(t)
	assert.Equal(t, models.EventTypePong, events[0].Type)
}
