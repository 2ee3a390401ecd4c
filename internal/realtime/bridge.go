package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/verifailabs/verifai/models"
)

/*
	Bridge relays every cross-process-relevant send through one shared
	broker channel so that N stateless server processes act as a single
	delivery plane. When the broker is healthy the ONLY path to local
	sockets is the listener below; local and remote publishes then behave
	identically and nothing is double-delivered. Without a broker the
	bridge degrades to direct local dispatch.

	Broker failures never reach producers. Worst case is silent scope
	degradation to single-process delivery, never an error and never a
	crash.
*/
type Bridge struct {
	rdb     *redis.Client // nil runs the bridge in single-process mode
	router  *Router
	channel string
	logger  *slog.Logger
}

func NewBridge(rdb *redis.Client, router *Router, channel string, logger *slog.Logger) *Bridge {
	return &Bridge{
		rdb:     rdb,
		router:  router,
		channel: channel,
		logger:  logger.WithGroup("bridge"),
	}
}

// Publish routes an event toward a target: "all", "user:<identity>", or
// "topic:<name>".
func (b *Bridge) Publish(ctx context.Context, target string, event models.Event) {
	env := models.Envelope{Target: target, Payload: event}

	if b.rdb != nil {
		raw, err := json.Marshal(env)
		if err != nil {
			b.logger.Error("failed to marshal envelope", "target", target, "error", err)
			return
		}
		if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err == nil {
			return
		} else {
			b.logger.Warn("broker publish failed, falling back to local delivery",
				"target", target, "error", err)
		}
	}

	b.dispatchLocal(env)
}

// Listen subscribes to the broker channel and re-dispatches every
// received envelope to the local router. Runs once per process for the
// process lifetime; returns when the context is cancelled or the broker
// connection is lost. Malformed envelopes are logged and dropped. There
// is no reconnect: losing the broker degrades delivery to this process
// only, matching Publish's fallback behavior.
func (b *Bridge) Listen(ctx context.Context) {
	if b.rdb == nil {
		b.logger.Warn("no broker configured, cross-process delivery disabled")
		return
	}

	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	b.logger.Info("broker listener started", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("broker listener stopping", "reason", ctx.Err())
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Error("broker subscription closed, cross-process delivery degraded")
				return
			}

			var env models.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Error("dropping malformed envelope", "error", err)
				continue
			}
			b.dispatchLocal(env)
		}
	}
}

func (b *Bridge) dispatchLocal(env models.Envelope) {
	switch {
	case env.Target == models.TargetAll:
		b.router.SendToAll(env.Payload)
	case strings.HasPrefix(env.Target, models.TargetUserPrefix):
		b.router.SendToIdentity(strings.TrimPrefix(env.Target, models.TargetUserPrefix), env.Payload)
	case strings.HasPrefix(env.Target, models.TargetTopicPrefix):
		b.router.SendToTopic(strings.TrimPrefix(env.Target, models.TargetTopicPrefix), env.Payload)
	default:
		b.logger.Warn("dropping envelope with unknown target", "target", env.Target)
	}
}
