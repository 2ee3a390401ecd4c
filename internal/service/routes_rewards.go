package service

import (
	"net/http"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/models"
)

type rewardBalanceResponse struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"balance"`
	Entries int     `json:"entries"`
}

func (s *Service) loadRewards(userID string) ([]models.RewardEntry, error) {
	entries := []models.RewardEntry{}
	stored, err := s.tkv.Iterate(keys.WithRewardPrefix(userID), 0, 0)
	if err != nil {
		return nil, err
	}
	for _, key := range stored {
		var entry models.RewardEntry
		if err := s.tkv.GetJSON(key, &entry); err != nil {
			s.logger.Error("Could not load reward entry", "key", key, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Service) rewardBalanceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entries, err := s.loadRewards(td.Entity)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	balance := 0.0
	for _, entry := range entries {
		balance += entry.Amount
	}

	s.writeJSON(w, http.StatusOK, rewardBalanceResponse{
		UserID:  td.Entity,
		Balance: balance,
		Entries: len(entries),
	})
}

func (s *Service) rewardHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entries, err := s.loadRewards(td.Entity)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}
