package models

import (
	"encoding/json"
	"time"
)

/*
	Wire format for the realtime channel. Clients receive typed events;
	the only thing clients send back are small action frames (subscribe,
	unsubscribe, ping). Events are constructed once per emission and are
	never mutated after construction.
*/

const (
	EventTypeConnected          = "connected"
	EventTypePong               = "pong"
	EventTypeSubscribed         = "subscribed"
	EventTypeUnsubscribed       = "unsubscribed"
	EventTypeError              = "error"
	EventTypeTracking           = "tracking"
	EventTypeProofUpdate        = "proof_update"
	EventTypeProofProgress      = "proof_progress"
	EventTypeProofComplete      = "proof_complete"
	EventTypeProofError         = "proof_error"
	EventTypeAgentUpdate        = "agent_update"
	EventTypeSettlementUpdate   = "settlement_update"
	EventTypeRewardNotification = "reward_notification"
	EventTypeSwarmUpdate        = "swarm_update"
	EventTypeAnnouncement       = "announcement"
)

// Default topics granted to every identity at connect time, plus the
// shared platform topic. Per-entity topics ("swarm:<id>", "proof:<id>")
// are subscribed explicitly.
const (
	TopicProofs      = "proofs"
	TopicAgents      = "agents"
	TopicSettlements = "settlements"
	TopicPlatform    = "platform"
)

type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent stamps the event at construction time. Timestamps are always
// UTC so the wire format stays ISO-8601/Z regardless of server locale.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Envelope wraps an event with its routing target for the broker channel
// shared between server processes. Targets are "all", "user:<identity>",
// or "topic:<name>". Never persisted.
type Envelope struct {
	Target  string `json:"target"`
	Payload Event  `json:"payload"`
}

const (
	TargetAll         = "all"
	TargetUserPrefix  = "user:"
	TargetTopicPrefix = "topic:"
)

func TargetUser(identity string) string { return TargetUserPrefix + identity }
func TargetTopic(name string) string    { return TargetTopicPrefix + name }

// ClientMessage is the inbound action frame from a connected client.
type ClientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic,omitempty"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
