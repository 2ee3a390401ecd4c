package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// Conn is one live client channel. The websocket session type implements
// this, and so do the fakes in tests; the registry never touches the
// transport directly.
type Conn interface {
	Identity() string
	CreatedAt() time.Time
	// Queue hands a serialized event to the connection for delivery.
	// It must not block; a full or closed connection returns an error.
	Queue(message []byte) error
}

/*
	Registry owns the only shared mutable state of the realtime plane:
	which identities have which open connections, and which identities
	are subscribed to which topics. One lock covers both maps; mutation
	rates are low compared to delivery rates, so a single RWMutex is
	preferred over anything finer-grained.

	Invariants held at the mutation boundary:
	  - an identity key exists iff its connection list is non-empty
	  - a fully disconnected identity is pruned from every topic set
*/
type Registry struct {
	mu            sync.RWMutex
	connections   map[string][]Conn
	subscriptions map[string]map[string]struct{}
	logger        *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		connections:   make(map[string][]Conn),
		subscriptions: make(map[string]map[string]struct{}),
		logger:        logger.WithGroup("registry"),
	}
}

// Register appends the connection to the identity's list, creating the
// list if absent. Always succeeds; the identity becomes deliverable.
func (r *Registry) Register(identity string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[identity] = append(r.connections[identity], conn)
	r.logger.Info("connection registered", "identity", identity, "identities", len(r.connections))
}

// Unregister removes the connection from the identity's list. When the
// list empties, the identity key is removed and the identity is pruned
// from every topic's subscriber set. Calling it for a connection that is
// already gone is a no-op; disconnect paths race with error paths and
// both are allowed to land here.
func (r *Registry) Unregister(identity string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.connections[identity]
	if !ok {
		return
	}

	for i, c := range conns {
		if c == conn {
			r.connections[identity] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(r.connections[identity]) == 0 {
		delete(r.connections, identity)
		for topic, subs := range r.subscriptions {
			delete(subs, identity)
			if len(subs) == 0 {
				delete(r.subscriptions, topic)
			}
		}
	}

	r.logger.Info("connection unregistered", "identity", identity)
}

// Subscribe adds the identity to a topic's subscriber set. Idempotent,
// and legal for identities with no open connection; the subscription is
// simply inert until they connect, and pruned if they never do before a
// full disconnect.
func (r *Registry) Subscribe(identity, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscriptions[topic]; !ok {
		r.subscriptions[topic] = make(map[string]struct{})
	}
	r.subscriptions[topic][identity] = struct{}{}
	r.logger.Debug("identity subscribed", "identity", identity, "topic", topic)
}

// Unsubscribe removes the identity from a topic's subscriber set.
// Idempotent.
func (r *Registry) Unsubscribe(identity, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.subscriptions[topic]; ok {
		delete(subs, identity)
		if len(subs) == 0 {
			delete(r.subscriptions, topic)
		}
	}
}

// ConnectionsFor returns a snapshot of the identity's open connections.
func (r *Registry) ConnectionsFor(identity string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.connections[identity]
	out := make([]Conn, len(conns))
	copy(out, conns)
	return out
}

// SubscribersOf returns a snapshot of the identities subscribed to a
// topic. No ordering guarantee.
func (r *Registry) SubscribersOf(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.subscriptions[topic]
	out := make([]string, 0, len(subs))
	for identity := range subs {
		out = append(out, identity)
	}
	return out
}

// Identities returns a snapshot of every identity with at least one open
// connection. Used for platform-wide broadcasts.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.connections))
	for identity := range r.connections {
		out = append(out, identity)
	}
	return out
}

// ConnectionCount reports total open connections across all identities.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.connections {
		total += len(conns)
	}
	return total
}
