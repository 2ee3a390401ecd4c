package service

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/models"
)

type proofCreateRequest struct {
	ProofType models.ProofType `json:"proof_type,omitempty"`
	AgentID   string           `json:"agent_id,omitempty"`
}

func (s *Service) proofsHandler(w http.ResponseWriter, r *http.Request) {
	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		proofs := []models.Proof{}
		stored, err := s.tkv.Iterate(keys.WithProofPrefix(td.Entity), 0, 0)
		if err != nil {
			s.logger.Error("Could not iterate proofs", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		for _, key := range stored {
			var proof models.Proof
			if err := s.tkv.GetJSON(key, &proof); err != nil {
				s.logger.Error("Could not load proof", "key", key, "error", err)
				continue
			}
			proofs = append(proofs, proof)
		}
		s.writeJSON(w, http.StatusOK, proofs)

	case http.MethodPost:
		var req proofCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}
		if req.ProofType == "" {
			req.ProofType = models.ProofTypeGroth16
		}

		proof := models.Proof{
			ID:        uuid.NewString(),
			OwnerID:   td.Entity,
			AgentID:   req.AgentID,
			ProofType: req.ProofType,
			Status:    models.ProofStatusPending,
			CreatedAt: time.Now().UTC(),
		}

		if err := s.tkv.SetJSON(keys.WithProof(td.Entity, proof.ID), proof); err != nil {
			s.logger.Error("Could not store proof", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		// Generation is simulated off-request; progress arrives over
		// the realtime channel.
		s.workers.ScheduleProof(proof)

		s.writeJSON(w, http.StatusAccepted, proof)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) proofHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var proof models.Proof
	if err := s.tkv.GetJSON(keys.WithProof(td.Entity, r.PathValue("id")), &proof); err != nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, proof)
}
