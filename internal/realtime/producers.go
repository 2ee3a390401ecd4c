package realtime

import (
	"context"

	"github.com/verifailabs/verifai/models"
)

// Producers are the typed emitters the rest of the platform uses to push
// events toward clients. Everything goes through the bridge so delivery
// is identical no matter which process the producer runs in.
type Producers struct {
	bridge *Bridge
}

func NewProducers(bridge *Bridge) *Producers {
	return &Producers{bridge: bridge}
}

func (p *Producers) ProofUpdate(ctx context.Context, userID, proofID string, status models.ProofStatus, extra map[string]any) {
	data := map[string]any{
		"proof_id": proofID,
		"status":   string(status),
	}
	for k, v := range extra {
		data[k] = v
	}
	p.bridge.Publish(ctx, models.TargetUser(userID), models.NewEvent(models.EventTypeProofUpdate, data))
}

func (p *Producers) ProofProgress(ctx context.Context, userID, proofID, stage string, progress int) {
	event := models.NewEvent(models.EventTypeProofProgress, map[string]any{
		"proof_id": proofID,
		"stage":    stage,
		"progress": progress,
	})
	p.bridge.Publish(ctx, models.TargetUser(userID), event)
	p.bridge.Publish(ctx, models.TargetTopic("proof:"+proofID), event)
}

func (p *Producers) ProofComplete(ctx context.Context, userID, proofID string, status models.ProofStatus) {
	event := models.NewEvent(models.EventTypeProofComplete, map[string]any{
		"proof_id": proofID,
		"status":   string(status),
	})
	p.bridge.Publish(ctx, models.TargetUser(userID), event)
	p.bridge.Publish(ctx, models.TargetTopic("proof:"+proofID), event)
}

func (p *Producers) ProofError(ctx context.Context, userID, proofID, errMsg string) {
	event := models.NewEvent(models.EventTypeProofError, map[string]any{
		"proof_id": proofID,
		"error":    errMsg,
	})
	p.bridge.Publish(ctx, models.TargetUser(userID), event)
	p.bridge.Publish(ctx, models.TargetTopic("proof:"+proofID), event)
}

func (p *Producers) AgentUpdate(ctx context.Context, userID, agentID string, status models.AgentStatus, extra map[string]any) {
	data := map[string]any{
		"agent_id": agentID,
		"status":   string(status),
	}
	for k, v := range extra {
		data[k] = v
	}
	p.bridge.Publish(ctx, models.TargetUser(userID), models.NewEvent(models.EventTypeAgentUpdate, data))
}

func (p *Producers) SettlementUpdate(ctx context.Context, userID, settlementID string, status models.SettlementStatus, extra map[string]any) {
	data := map[string]any{
		"settlement_id": settlementID,
		"status":        string(status),
	}
	for k, v := range extra {
		data[k] = v
	}
	p.bridge.Publish(ctx, models.TargetUser(userID), models.NewEvent(models.EventTypeSettlementUpdate, data))
}

func (p *Producers) RewardNotification(ctx context.Context, userID string, amount float64, reason string) {
	p.bridge.Publish(ctx, models.TargetUser(userID), models.NewEvent(models.EventTypeRewardNotification, map[string]any{
		"amount": amount,
		"reason": reason,
	}))
}

// SwarmUpdate fans out to everyone subscribed to the swarm's topic.
func (p *Producers) SwarmUpdate(ctx context.Context, swarmID, eventName string, extra map[string]any) {
	data := map[string]any{
		"swarm_id": swarmID,
		"event":    eventName,
	}
	for k, v := range extra {
		data[k] = v
	}
	p.bridge.Publish(ctx, models.TargetTopic("swarm:"+swarmID), models.NewEvent(models.EventTypeSwarmUpdate, data))
}

// Announcement reaches every connected client on every process.
func (p *Producers) Announcement(ctx context.Context, title, message, priority string) {
	if priority == "" {
		priority = "normal"
	}
	p.bridge.Publish(ctx, models.TargetAll, models.NewEvent(models.EventTypeAnnouncement, map[string]any{
		"title":    title,
		"message":  message,
		"priority": priority,
	}))
}
