package workers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/internal/tkv"
	"github.com/verifailabs/verifai/models"
)

// settlementLoop advances pending settlements. Each tick moves pending
// records to processing, then the next tick completes them with a
// simulated transaction hash.
func (m *Manager) settlementLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SettlementInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.appCtx.Done():
			return
		case <-ticker.C:
			m.advanceSettlements()
		}
	}
}

func (m *Manager) advanceSettlements() {
	stored, err := m.kv.Iterate(keys.SettlementPrefix, 0, 0)
	if err != nil {
		m.logger.Error("Could not iterate settlements", "error", err)
		return
	}

	for _, key := range stored {
		var settlement models.Settlement
		if err := m.kv.GetJSON(key, &settlement); err != nil {
			m.logger.Error("Could not load settlement", "key", key, "error", err)
			continue
		}

		switch settlement.Status {
		case models.SettlementStatusPending:
			settlement.Status = models.SettlementStatusProcessing
		case models.SettlementStatusProcessing:
			sum := sha256.Sum256(fmt.Appendf(nil, "settlement:%s:%d", settlement.ID, time.Now().UnixNano()))
			settlement.TxHash = "0x" + hex.EncodeToString(sum[:])
			settlement.Status = models.SettlementStatusCompleted
			settlement.SettledAt = time.Now().UTC()
		default:
			continue
		}

		if err := m.kv.SetJSON(key, settlement); err != nil {
			m.logger.Error("Could not persist settlement", "key", key, "error", err)
			continue
		}
		extra := map[string]any{}
		if settlement.TxHash != "" {
			extra["tx_hash"] = settlement.TxHash
		}
		m.producers.SettlementUpdate(m.appCtx, settlement.OwnerID, settlement.ID, settlement.Status, extra)
	}
}

// heartbeatLoop marks agents offline once they miss the heartbeat window.
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.appCtx.Done():
			return
		case <-ticker.C:
			m.sweepAgents()
		}
	}
}

func (m *Manager) sweepAgents() {
	stored, err := m.kv.Iterate(keys.AgentPrefix, 0, 0)
	if err != nil {
		m.logger.Error("Could not iterate agents", "error", err)
		return
	}

	cutoff := time.Now().Add(-m.cfg.HeartbeatWindow)
	for _, key := range stored {
		var agent models.Agent
		if err := m.kv.GetJSON(key, &agent); err != nil {
			m.logger.Error("Could not load agent", "key", key, "error", err)
			continue
		}
		if agent.Status == models.AgentStatusOffline || agent.Status == models.AgentStatusMaintenance {
			continue
		}
		if !agent.LastHeartbeat.IsZero() && agent.LastHeartbeat.After(cutoff) {
			continue
		}

		agent.Status = models.AgentStatusOffline
		if err := m.kv.SetJSON(key, agent); err != nil {
			m.logger.Error("Could not persist offline agent", "key", key, "error", err)
			continue
		}
		m.logger.Info("Agent missed heartbeat window", "agent", agent.ID, "owner", agent.OwnerID)
		m.producers.AgentUpdate(m.appCtx, agent.OwnerID, agent.ID, agent.Status, map[string]any{
			"reason": "heartbeat_timeout",
		})
	}
}

// rewardLoop pays out for verified proofs that have not been rewarded
// yet, one ledger entry per proof.
func (m *Manager) rewardLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.RewardInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.appCtx.Done():
			return
		case <-ticker.C:
			m.accrueRewards()
		}
	}
}

func (m *Manager) accrueRewards() {
	stored, err := m.kv.Iterate(keys.ProofPrefix, 0, 0)
	if err != nil {
		m.logger.Error("Could not iterate proofs", "error", err)
		return
	}

	for _, key := range stored {
		var proof models.Proof
		if err := m.kv.GetJSON(key, &proof); err != nil {
			if tkv.IsErrKeyNotFound(err) {
				continue
			}
			m.logger.Error("Could not load proof", "key", key, "error", err)
			continue
		}
		if proof.Status != models.ProofStatusVerified || proof.Rewarded {
			continue
		}

		entry := models.RewardEntry{
			ID:        uuid.New().String(),
			UserID:    proof.OwnerID,
			Amount:    m.cfg.RewardPerProof,
			Reason:    "proof_verified",
			CreatedAt: time.Now().UTC(),
		}
		if err := m.kv.SetJSON(keys.WithReward(entry.UserID, entry.ID), entry); err != nil {
			m.logger.Error("Could not persist reward entry", "proof", proof.ID, "error", err)
			continue
		}

		proof.Rewarded = true
		if err := m.kv.SetJSON(key, proof); err != nil {
			m.logger.Error("Could not mark proof rewarded", "proof", proof.ID, "error", err)
			continue
		}
		m.producers.RewardNotification(m.appCtx, proof.OwnerID, entry.Amount, entry.Reason)
	}
}
