package workers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifailabs/verifai/config"
	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/internal/realtime"
	"github.com/verifailabs/verifai/internal/tkv"
	"github.com/verifailabs/verifai/models"
)

// capturingConn records every event routed to an identity.
type capturingConn struct {
	mu       sync.Mutex
	identity string
	events   []models.Event
}

func (c *capturingConn) Identity() string     { return c.identity }
func (c *capturingConn) CreatedAt() time.Time { return time.Time{} }

func (c *capturingConn) Queue(message []byte) error {
	var event models.Event
	if err := json.Unmarshal(message, &event); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingConn) eventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type workerHarness struct {
	manager *Manager
	kv      tkv.TKV
	conn    *capturingConn
}

func newWorkerHarness(t *testing.T, cfg config.WorkersConfig) *workerHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	kv, err := tkv.New(tkv.Config{
		Logger:         logger,
		BadgerLogLevel: slog.LevelError,
		Directory:      t.TempDir(),
		AppCtx:         ctx,
		CacheTTL:       time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	registry := realtime.NewRegistry(logger)
	router := realtime.NewRouter(registry, logger)
	bridge := realtime.NewBridge(nil, router, "test:channel", logger)
	producers := realtime.NewProducers(bridge)

	conn := &capturingConn{identity: "alice"}
	registry.Register("alice", conn)

	return &workerHarness{
		manager: NewManager(ctx, cfg, kv, producers, logger),
		kv:      kv,
		conn:    conn,
	}
}

func TestScheduleProof_RunsFullPipeline(t *testing.T) {
	h := newWorkerHarness(t, config.WorkersConfig{
		ProofStageDelay: time.Millisecond,
	})

	proof := models.Proof{
		ID:        uuid.NewString(),
		OwnerID:   "alice",
		ProofType: models.ProofTypeGroth16,
		Status:    models.ProofStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.kv.SetJSON(keys.WithProof(proof.OwnerID, proof.ID), proof))

	h.manager.ScheduleProof(proof)
	h.manager.Wait()

	var stored models.Proof
	require.NoError(t, h.kv.GetJSON(keys.WithProof(proof.OwnerID, proof.ID), &stored))
	assert.Equal(t, models.ProofStatusVerified, stored.Status)
	assert.Len(t, stored.ProofHash, 64, "proof hash must be a sha256 hex digest")
	assert.False(t, stored.VerifiedAt.IsZero())

	types := h.conn.eventTypes()
	assert.Equal(t, models.EventTypeProofUpdate, types[0], "generating status first")

	progress := 0
	for _, eventType := range types {
		if eventType == models.EventTypeProofProgress {
			progress++
		}
	}
	assert.Equal(t, len(proofStages), progress)
	assert.Contains(t, types, models.EventTypeProofComplete)
}

func TestAdvanceSettlements(t *testing.T) {
	h := newWorkerHarness(t, config.WorkersConfig{})

	settlement := models.Settlement{
		ID:        uuid.NewString(),
		OwnerID:   "alice",
		Title:     "compute rebate",
		Amount:    120,
		Currency:  "USDC",
		Status:    models.SettlementStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	key := keys.WithSettlement(settlement.OwnerID, settlement.ID)
	require.NoError(t, h.kv.SetJSON(key, settlement))

	h.manager.advanceSettlements()
	var stored models.Settlement
	require.NoError(t, h.kv.GetJSON(key, &stored))
	assert.Equal(t, models.SettlementStatusProcessing, stored.Status)
	assert.Empty(t, stored.TxHash)

	h.manager.advanceSettlements()
	require.NoError(t, h.kv.GetJSON(key, &stored))
	assert.Equal(t, models.SettlementStatusCompleted, stored.Status)
	assert.Contains(t, stored.TxHash, "0x")
	assert.False(t, stored.SettledAt.IsZero())

	// Completed settlements are left alone.
	h.manager.advanceSettlements()
	var again models.Settlement
	require.NoError(t, h.kv.GetJSON(key, &again))
	assert.Equal(t, stored.TxHash, again.TxHash)

	assert.Contains(t, h.conn.eventTypes(), models.EventTypeSettlementUpdate)
}

func TestSweepAgents(t *testing.T) {
	h := newWorkerHarness(t, config.WorkersConfig{
		HeartbeatWindow: time.Minute,
	})

	stale := models.Agent{
		ID:            uuid.NewString(),
		OwnerID:       "alice",
		Name:          "stale",
		Status:        models.AgentStatusActive,
		LastHeartbeat: time.Now().Add(-2 * time.Minute),
	}
	fresh := models.Agent{
		ID:            uuid.NewString(),
		OwnerID:       "alice",
		Name:          "fresh",
		Status:        models.AgentStatusActive,
		LastHeartbeat: time.Now(),
	}
	parked := models.Agent{
		ID:      uuid.NewString(),
		OwnerID: "alice",
		Name:    "parked",
		Status:  models.AgentStatusMaintenance,
	}
	for _, agent := range []models.Agent{stale, fresh, parked} {
		require.NoError(t, h.kv.SetJSON(keys.WithAgent(agent.OwnerID, agent.ID), agent))
	}

	h.manager.sweepAgents()

	var got models.Agent
	require.NoError(t, h.kv.GetJSON(keys.WithAgent("alice", stale.ID), &got))
	assert.Equal(t, models.AgentStatusOffline, got.Status)

	require.NoError(t, h.kv.GetJSON(keys.WithAgent("alice", fresh.ID), &got))
	assert.Equal(t, models.AgentStatusActive, got.Status)

	require.NoError(t, h.kv.GetJSON(keys.WithAgent("alice", parked.ID), &got))
	assert.Equal(t, models.AgentStatusMaintenance, got.Status, "maintenance agents are exempt")
}

func TestAccrueRewards(t *testing.T) {
	h := newWorkerHarness(t, config.WorkersConfig{
		RewardPerProof: 15,
	})

	verified := models.Proof{
		ID:      uuid.NewString(),
		OwnerID: "alice",
		Status:  models.ProofStatusVerified,
	}
	pending := models.Proof{
		ID:      uuid.NewString(),
		OwnerID: "alice",
		Status:  models.ProofStatusPending,
	}
	require.NoError(t, h.kv.SetJSON(keys.WithProof("alice", verified.ID), verified))
	require.NoError(t, h.kv.SetJSON(keys.WithProof("alice", pending.ID), pending))

	h.manager.accrueRewards()

	rewardKeys, err := h.kv.Iterate(keys.WithRewardPrefix("alice"), 0, 0)
	require.NoError(t, err)
	require.Len(t, rewardKeys, 1)

	var entry models.RewardEntry
	require.NoError(t, h.kv.GetJSON(rewardKeys[0], &entry))
	assert.Equal(t, float64(15), entry.Amount)
	assert.Equal(t, "proof_verified", entry.Reason)

	// A second pass must not pay the same proof twice.
	h.manager.accrueRewards()
	rewardKeys, err = h.kv.Iterate(keys.WithRewardPrefix("alice"), 0, 0)
	require.NoError(t, err)
	assert.Len(t, rewardKeys, 1)

	assert.Contains(t, h.conn.eventTypes(), models.EventTypeRewardNotification)
}
