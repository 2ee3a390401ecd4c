package service

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/models"
)

// createUserHandler provisions a user and mints their API key. Root
// only; the plaintext key appears in this response and nowhere else.
func (s *Service) createUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := s.validateToken(r, true); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "Missing user name", http.StatusBadRequest)
		return
	}

	user, apiKey, err := s.CreateUser(req.Name)
	if err != nil {
		s.logger.Error("Could not create user", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusCreated, struct {
		User   models.User `json:"user"`
		ApiKey string      `json:"api_key"`
	}{User: user, ApiKey: apiKey})
}

// announceHandler pushes a platform-wide announcement through the
// bridge so every process delivers it. Root only.
func (s *Service) announceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := s.validateToken(r, true); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Title    string `json:"title"`
		Message  string `json:"message"`
		Priority string `json:"priority,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		http.Error(w, "Missing announcement title", http.StatusBadRequest)
		return
	}

	s.producers.Announcement(r.Context(), req.Title, req.Message, req.Priority)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	count := func(prefix string) int {
		stored, err := s.tkv.Iterate(prefix, 0, 0)
		if err != nil {
			s.logger.Error("Could not iterate for dashboard", "prefix", prefix, "error", err)
			return 0
		}
		return len(stored)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     td.Entity,
		"agents":      count(keys.WithAgentPrefix(td.Entity)),
		"proofs":      count(keys.WithProofPrefix(td.Entity)),
		"settlements": count(keys.WithSettlementPrefix(td.Entity)),
		"connections": s.registry.ConnectionCount(),
		"uptime":      time.Since(s.startedAt).String(),
	})
}

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.validateToken(r, false); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
