package service

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/verifailabs/verifai/internal/keys"
	"github.com/verifailabs/verifai/models"
)

func (s *Service) swarmsHandler(w http.ResponseWriter, r *http.Request) {
	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		swarms := []models.Swarm{}
		stored, err := s.tkv.Iterate(keys.SwarmPrefix, 0, 0)
		if err != nil {
			s.logger.Error("Could not iterate swarms", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		for _, key := range stored {
			var swarm models.Swarm
			if err := s.tkv.GetJSON(key, &swarm); err != nil {
				s.logger.Error("Could not load swarm", "key", key, "error", err)
				continue
			}
			swarms = append(swarms, swarm)
		}
		s.writeJSON(w, http.StatusOK, swarms)

	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "Missing swarm name", http.StatusBadRequest)
			return
		}

		swarm := models.Swarm{
			ID:        uuid.NewString(),
			OwnerID:   td.Entity,
			Name:      req.Name,
			CreatedAt: time.Now().UTC(),
		}

		if err := s.tkv.SetJSON(keys.WithSwarm(swarm.ID), swarm); err != nil {
			s.logger.Error("Could not store swarm", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		s.producers.SwarmUpdate(r.Context(), swarm.ID, "created", map[string]any{
			"name": swarm.Name,
		})
		s.writeJSON(w, http.StatusCreated, swarm)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) swarmJoinHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	td, ok := s.validateToken(r, false)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		http.Error(w, "Missing agent_id", http.StatusBadRequest)
		return
	}

	// The agent must belong to the caller.
	var agent models.Agent
	if err := s.tkv.GetJSON(keys.WithAgent(td.Entity, req.AgentID), &agent); err != nil {
		http.Error(w, "Unknown agent", http.StatusNotFound)
		return
	}

	swarmKey := keys.WithSwarm(r.PathValue("id"))
	var swarm models.Swarm
	if err := s.tkv.GetJSON(swarmKey, &swarm); err != nil {
		http.NotFound(w, r)
		return
	}

	if !slices.Contains(swarm.AgentIDs, agent.ID) {
		swarm.AgentIDs = append(swarm.AgentIDs, agent.ID)
		if err := s.tkv.SetJSON(swarmKey, swarm); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	s.producers.SwarmUpdate(r.Context(), swarm.ID, "agent_joined", map[string]any{
		"agent_id": agent.ID,
	})
	s.writeJSON(w, http.StatusOK, swarm)
}
