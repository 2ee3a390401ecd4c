// Package workers runs the simulated platform pipelines: proof
// generation, settlement processing, agent liveness and reward accrual.
// Nothing here does real cryptography or on-chain work; stages are
// timers and hashes, and every state change is pushed to clients
// through the realtime producers.
package workers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/verifailabs/verifai/config"
	"github.com/verifailabs/verifai/internal/realtime"
	"github.com/verifailabs/verifai/internal/tkv"
	"github.com/verifailabs/verifai/models"
)

type Manager struct {
	appCtx    context.Context
	cfg       config.WorkersConfig
	kv        tkv.TKV
	producers *realtime.Producers
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewManager(
	appCtx context.Context,
	cfg config.WorkersConfig,
	kv tkv.TKV,
	producers *realtime.Producers,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		appCtx:    appCtx,
		cfg:       cfg,
		kv:        kv,
		producers: producers,
		logger:    logger.WithGroup("workers"),
	}
}

// Start launches the periodic loops. Called once at process startup;
// the loops run until the app context is cancelled.
func (m *Manager) Start() {
	m.wg.Add(3)
	go m.settlementLoop()
	go m.heartbeatLoop()
	go m.rewardLoop()
	m.logger.Info("background workers started",
		"settlement_interval", m.cfg.SettlementInterval,
		"heartbeat_interval", m.cfg.HeartbeatInterval,
		"reward_interval", m.cfg.RewardInterval)
}

// Wait blocks until every loop has observed cancellation and exited.
// In-flight proof generations are also waited on.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// ScheduleProof kicks off simulated generation for a freshly created
// proof. Fire-and-forget from the caller's perspective.
func (m *Manager) ScheduleProof(proof models.Proof) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.generateProof(proof)
	}()
}
