package service

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/models"
)

type agentCreateRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	IsPublic     bool     `json:"is_public,omitempty"`
}

func (s *Service) agentsHandler(w http.ResponseWriter, r *http.Request) {
	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		agents := []models.Agent{}
		stored, err := s.tkv.Iterate(keys.WithAgentPrefix(td.Entity), 0, 0)
		if err != nil {
			s.logger.Error("Could not iterate agents", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		for _, key := range stored {
			var agent models.Agent
			if err := s.tkv.GetJSON(key, &agent); err != nil {
				s.logger.Error("Could not load agent", "key", key, "error", err)
				continue
			}
			agents = append(agents, agent)
		}
		s.writeJSON(w, http.StatusOK, agents)

	case http.MethodPost:
		var req agentCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "Missing agent name", http.StatusBadRequest)
			return
		}

		agent := models.Agent{
			ID:            uuid.NewString(),
			OwnerID:       td.Entity,
			Name:          req.Name,
			Description:   req.Description,
			Status:        models.AgentStatusIdle,
			Capabilities:  req.Capabilities,
			IsPublic:      req.IsPublic,
			CreatedAt:     time.Now().UTC(),
			LastHeartbeat: time.Now().UTC(),
		}

		if err := s.tkv.SetJSON(keys.WithAgent(td.Entity, agent.ID), agent); err != nil {
			s.logger.Error("Could not store agent", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		s.producers.AgentUpdate(r.Context(), td.Entity, agent.ID, agent.Status, map[string]any{
			"event": "created",
			"name":  agent.Name,
		})
		s.writeJSON(w, http.StatusCreated, agent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) agentHandler(w http.ResponseWriter, r *http.Request) {
	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	agentID := r.PathValue("id")
	key := keys.WithAgent(td.Entity, agentID)

	var agent models.Agent
	if err := s.tkv.GetJSON(key, &agent); err != nil {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, agent)

	case http.MethodPatch:
		var req struct {
			Description *string             `json:"description,omitempty"`
			Status      *models.AgentStatus `json:"status,omitempty"`
			IsPublic    *bool               `json:"is_public,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}
		if req.Description != nil {
			agent.Description = *req.Description
		}
		if req.Status != nil {
			agent.Status = *req.Status
		}
		if req.IsPublic != nil {
			agent.IsPublic = *req.IsPublic
		}
		if err := s.tkv.SetJSON(key, agent); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		s.producers.AgentUpdate(r.Context(), td.Entity, agent.ID, agent.Status, nil)
		s.writeJSON(w, http.StatusOK, agent)

	case http.MethodDelete:
		if err := s.tkv.Delete(key); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// agentHeartbeatHandler refreshes the agent's liveness stamp. The
// heartbeat monitor worker flips silent agents to offline.
func (s *Service) agentHeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	key := keys.WithAgent(td.Entity, r.PathValue("id"))

	var agent models.Agent
	if err := s.tkv.GetJSON(key, &agent); err != nil {
		http.NotFound(w, r)
		return
	}

	wasOffline := agent.Status == models.AgentStatusOffline
	agent.LastHeartbeat = time.Now().UTC()
	if wasOffline {
		agent.Status = models.AgentStatusIdle
	}

	if err := s.tkv.SetJSON(key, agent); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if wasOffline {
		s.producers.AgentUpdate(r.Context(), td.Entity, agent.ID, agent.Status, map[string]any{
			"event": "back_online",
		})
	}
	s.writeJSON(w, http.StatusOK, agent)
}
