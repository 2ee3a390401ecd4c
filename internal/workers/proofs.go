package workers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/models"
)

// proofStage is one step of the simulated generation pipeline. Progress
// values match what the dashboard's progress bars expect.
type proofStage struct {
	name     string
	progress int
}

var proofStages = []proofStage{
	{"initializing", 20},
	{"compiling_circuit", 35},
	{"generating_witness", 50},
	{"computing_proof", 75},
	{"verifying_locally", 90},
	{"finalizing", 100},
}

// generateProof walks a pending proof through the staged pipeline,
// emitting progress after each stage and persisting the terminal state.
// Cancelling the app context mid-run marks the proof failed so it never
// sticks in "generating" across a restart.
func (m *Manager) generateProof(proof models.Proof) {
	logger := m.logger.With("proof", proof.ID, "owner", proof.OwnerID)

	proof.Status = models.ProofStatusGenerating
	if err := m.kv.SetJSON(keys.WithProof(proof.OwnerID, proof.ID), proof); err != nil {
		logger.Error("Could not persist generating status", "error", err)
	}
	m.producers.ProofUpdate(m.appCtx, proof.OwnerID, proof.ID, proof.Status, nil)

	for _, stage := range proofStages {
		select {
		case <-m.appCtx.Done():
			m.failProof(proof, "generation interrupted by shutdown")
			return
		case <-time.After(m.cfg.ProofStageDelay):
		}
		logger.Debug("Proof stage complete", "stage", stage.name, "progress", stage.progress)
		m.producers.ProofProgress(m.appCtx, proof.OwnerID, proof.ID, stage.name, stage.progress)
	}

	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", proof.ID, proof.ProofType, time.Now().UnixNano()))
	proof.ProofHash = hex.EncodeToString(sum[:])
	proof.Status = models.ProofStatusVerified
	proof.VerifiedAt = time.Now().UTC()

	if err := m.kv.SetJSON(keys.WithProof(proof.OwnerID, proof.ID), proof); err != nil {
		logger.Error("Could not persist verified proof", "error", err)
		m.producers.ProofError(m.appCtx, proof.OwnerID, proof.ID, "failed to persist proof")
		return
	}

	m.producers.ProofComplete(m.appCtx, proof.OwnerID, proof.ID, proof.Status)
	m.producers.ProofUpdate(m.appCtx, proof.OwnerID, proof.ID, proof.Status, map[string]any{
		"proof_hash": proof.ProofHash,
	})
	logger.Info("Proof verified", "hash", proof.ProofHash)
}

func (m *Manager) failProof(proof models.Proof, reason string) {
	proof.Status = models.ProofStatusFailed
	proof.ErrorMessage = reason
	if err := m.kv.SetJSON(keys.WithProof(proof.OwnerID, proof.ID), proof); err != nil {
		m.logger.Error("Could not persist failed proof", "proof", proof.ID, "error", err)
	}
	m.producers.ProofError(m.appCtx, proof.OwnerID, proof.ID, reason)
}
