package realtime

import (
	"log/slog"

	"github.com/verifailabs/verifai/models"
)

// Router resolves fan-out sets from the registry and delivers one event
// to every matching live connection. Delivery is fire-and-forget: a
// failed connection is logged and skipped, it never aborts delivery to
// the rest and never surfaces to the caller.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger.WithGroup("router"),
	}
}

// SendToIdentity serializes the event once and attempts delivery to each
// of the identity's connections independently.
func (rt *Router) SendToIdentity(identity string, event models.Event) {
	conns := rt.registry.ConnectionsFor(identity)
	if len(conns) == 0 {
		return
	}

	message, err := event.Marshal()
	if err != nil {
		rt.logger.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	rt.deliver(conns, message, event.Type)
}

// SendToTopic delivers to every connection of every identity subscribed
// to the topic. A topic with zero subscribers is a silent no-op.
func (rt *Router) SendToTopic(topic string, event models.Event) {
	subscribers := rt.registry.SubscribersOf(topic)
	if len(subscribers) == 0 {
		return
	}

	message, err := event.Marshal()
	if err != nil {
		rt.logger.Error("failed to marshal event", "type", event.Type, "topic", topic, "error", err)
		return
	}

	for _, identity := range subscribers {
		rt.deliver(rt.registry.ConnectionsFor(identity), message, event.Type)
	}
}

// SendToAll delivers to every connection of every identity. Platform
// announcements only; O(total connections) per call.
func (rt *Router) SendToAll(event models.Event) {
	message, err := event.Marshal()
	if err != nil {
		rt.logger.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	for _, identity := range rt.registry.Identities() {
		rt.deliver(rt.registry.ConnectionsFor(identity), message, event.Type)
	}
}

func (rt *Router) deliver(conns []Conn, message []byte, eventType string) {
	for _, conn := range conns {
		if err := conn.Queue(message); err != nil {
			rt.logger.Warn("delivery failed, skipping connection",
				"identity", conn.Identity(), "type", eventType, "error", err)
		}
	}
}
