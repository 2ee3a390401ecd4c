package service

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/models"
)

type settlementCreateRequest struct {
	Title    string  `json:"title"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

func (s *Service) settlementsHandler(w http.ResponseWriter, r *http.Request) {
	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		settlements := []models.Settlement{}
		stored, err := s.tkv.Iterate(keys.WithSettlementPrefix(td.Entity), 0, 0)
		if err != nil {
			s.logger.Error("Could not iterate settlements", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		for _, key := range stored {
			var settlement models.Settlement
			if err := s.tkv.GetJSON(key, &settlement); err != nil {
				s.logger.Error("Could not load settlement", "key", key, "error", err)
				continue
			}
			settlements = append(settlements, settlement)
		}
		s.writeJSON(w, http.StatusOK, settlements)

	case http.MethodPost:
		var req settlementCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}
		if req.Title == "" || req.Amount <= 0 {
			http.Error(w, "Settlement requires a title and a positive amount", http.StatusBadRequest)
			return
		}
		if req.Currency == "" {
			req.Currency = "USDC"
		}

		settlement := models.Settlement{
			ID:        uuid.NewString(),
			OwnerID:   td.Entity,
			Title:     req.Title,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Status:    models.SettlementStatusPending,
			CreatedAt: time.Now().UTC(),
		}

		if err := s.tkv.SetJSON(keys.WithSettlement(td.Entity, settlement.ID), settlement); err != nil {
			s.logger.Error("Could not store settlement", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		s.producers.SettlementUpdate(r.Context(), td.Entity, settlement.ID, settlement.Status, nil)
		s.writeJSON(w, http.StatusCreated, settlement)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) settlementHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var settlement models.Settlement
	if err := s.tkv.GetJSON(keys.WithSettlement(td.Entity, r.PathValue("id")), &settlement); err != nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, settlement)
}
