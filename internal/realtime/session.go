package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/verifailabs/verifai/config"
	"github.com/verifailabs/verifai/models"
)

// CloseInvalidToken is sent before any registration happens when the
// credential on a connection attempt does not verify.
const CloseInvalidToken = 4001

// DefaultSubscriptions are granted to every identity at connect time.
var DefaultSubscriptions = []string{
	models.TopicProofs,
	models.TopicAgents,
	models.TopicSettlements,
	models.TopicPlatform,
}

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Endpoint owns the websocket surface of the realtime plane: it gates,
// registers and pumps client connections. One instance per process.
type Endpoint struct {
	appCtx   context.Context
	cfg      config.SessionsConfig
	actions  config.RateLimiterConfig
	registry *Registry
	router   *Router
	bridge   *Bridge
	gate     *Gate
	upgrader websocket.Upgrader
	logger   *slog.Logger

	connLock    sync.Mutex
	activeConns int
}

func NewEndpoint(
	appCtx context.Context,
	cfg config.SessionsConfig,
	actions config.RateLimiterConfig,
	registry *Registry,
	router *Router,
	bridge *Bridge,
	gate *Gate,
	logger *slog.Logger,
) *Endpoint {
	return &Endpoint{
		appCtx:   appCtx,
		cfg:      cfg,
		actions:  actions,
		registry: registry,
		router:   router,
		bridge:   bridge,
		gate:     gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WebSocketReadBufferSize,
			WriteBufferSize: cfg.WebSocketWriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.WithGroup("realtime"),
	}
}

// session is one live client connection bound to exactly one identity.
// Lifecycle: Connecting -> Authenticating -> Registered -> Closed, with
// Rejected terminal before registration. Teardown runs exactly once no
// matter which pump, or which error path, gets there first.
type session struct {
	conn      *websocket.Conn
	identity  string
	send      chan []byte
	quit      chan struct{}
	createdAt time.Time
	limiter   *rate.Limiter
	ep        *Endpoint
	closeOnce sync.Once
}

func (s *session) Identity() string     { return s.identity }
func (s *session) CreatedAt() time.Time { return s.createdAt }

// Queue hands a serialized event to the write pump. Never blocks; a
// closed session or a full buffer reports an error so the router can
// skip this connection and carry on.
func (s *session) Queue(message []byte) error {
	select {
	case <-s.quit:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- message:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.ep.registry.Unregister(s.identity, s)
		close(s.quit)
		s.conn.Close()

		s.ep.connLock.Lock()
		s.ep.activeConns--
		s.ep.connLock.Unlock()
	})
}

// ServeConnect is the main realtime endpoint: upgrade, authenticate,
// register, grant default subscriptions, then pump.
func (ep *Endpoint) ServeConnect(w http.ResponseWriter, r *http.Request) {
	ep.connLock.Lock()
	if ep.activeConns >= ep.cfg.MaxConnections {
		ep.connLock.Unlock()
		ep.logger.Warn("max connections reached, rejecting connection", "max", ep.cfg.MaxConnections)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	ep.connLock.Unlock()

	conn, err := ep.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ep.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	identity, ok := ep.gate.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if !ok {
		ep.reject(conn)
		return
	}

	s := ep.startSession(conn, identity)

	for _, topic := range DefaultSubscriptions {
		ep.registry.Subscribe(identity, topic)
	}

	connected := models.NewEvent(models.EventTypeConnected, map[string]any{
		"user_id":       identity,
		"message":       "Connected to VerifAI real-time updates",
		"subscriptions": DefaultSubscriptions,
	})
	s.queueEvent(connected)

	go s.writePump()
	go s.readPump()
}

// ServeProofTracking subscribes the caller to a single proof's progress
// topic. Same gate, same pumps; only the granted subscription differs.
func (ep *Endpoint) ServeProofTracking(w http.ResponseWriter, r *http.Request) {
	proofID := r.PathValue("id")
	if proofID == "" {
		http.Error(w, "Missing proof id", http.StatusBadRequest)
		return
	}

	ep.connLock.Lock()
	if ep.activeConns >= ep.cfg.MaxConnections {
		ep.connLock.Unlock()
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	ep.connLock.Unlock()

	conn, err := ep.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ep.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	identity, ok := ep.gate.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if !ok {
		ep.reject(conn)
		return
	}

	s := ep.startSession(conn, identity)
	ep.registry.Subscribe(identity, "proof:"+proofID)

	tracking := models.NewEvent(models.EventTypeTracking, map[string]any{
		"proof_id": proofID,
		"message":  "Tracking proof generation progress",
	})
	s.queueEvent(tracking)

	go s.writePump()
	go s.readPump()
}

func (ep *Endpoint) reject(conn *websocket.Conn) {
	deadline := time.Now().Add(ep.cfg.WriteWait)
	msg := websocket.FormatCloseMessage(CloseInvalidToken, "Invalid authentication token")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		ep.logger.Debug("failed to write rejection close frame", "error", err)
	}
	conn.Close()
	ep.logger.Warn("connection rejected, credential did not verify")
}

func (ep *Endpoint) startSession(conn *websocket.Conn, identity string) *session {
	s := &session{
		conn:      conn,
		identity:  identity,
		send:      make(chan []byte, ep.cfg.SendBufferSize),
		quit:      make(chan struct{}),
		createdAt: time.Now().UTC(),
		limiter:   rate.NewLimiter(rate.Limit(ep.actions.Limit), ep.actions.Burst),
		ep:        ep,
	}

	ep.connLock.Lock()
	ep.activeConns++
	ep.connLock.Unlock()

	ep.registry.Register(identity, s)
	return s
}

// queueEvent serializes and queues a session-scoped event (connected,
// pong, subscribed, error, ...). These never ride the bridge; they are
// answers on the same socket the question came from.
func (s *session) queueEvent(event models.Event) {
	message, err := event.Marshal()
	if err != nil {
		s.ep.logger.Error("failed to marshal session event", "type", event.Type, "error", err)
		return
	}
	if err := s.Queue(message); err != nil {
		s.ep.logger.Warn("failed to queue session event",
			"identity", s.identity, "type", event.Type, "error", err)
	}
}

// readPump pumps inbound action frames. The application ensures there is
// at most one reader per connection by doing all reads here; a client's
// second message is not processed until the first one's handling
// completes.
func (s *session) readPump() {
	defer func() {
		s.close()
		s.ep.logger.Info("readPump finished, connection closed and unregistered",
			"identity", s.identity, "remote_addr", s.conn.RemoteAddr())
	}()

	s.conn.SetReadLimit(s.ep.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Time{})
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Time{})
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.ep.logger.Error("read error", "identity", s.identity, "error", err)
			} else {
				s.ep.logger.Info("connection closed", "identity", s.identity, "error", err)
			}
			return
		}

		if !s.limiter.Allow() {
			s.queueEvent(models.NewEvent(models.EventTypeError, map[string]any{
				"message": "rate limit exceeded",
			}))
			continue
		}

		s.handleMessage(raw)
	}
}

func (s *session) handleMessage(raw []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.queueEvent(models.NewEvent(models.EventTypeError, map[string]any{
			"message": "malformed message",
		}))
		return
	}

	switch msg.Action {
	case models.ActionPing:
		s.queueEvent(models.NewEvent(models.EventTypePong, nil))

	case models.ActionSubscribe:
		if msg.Topic == "" {
			s.queueEvent(models.NewEvent(models.EventTypeError, map[string]any{
				"message": "subscribe requires a topic",
			}))
			return
		}
		s.ep.registry.Subscribe(s.identity, msg.Topic)
		s.queueEvent(models.NewEvent(models.EventTypeSubscribed, map[string]any{
			"topic": msg.Topic,
		}))

	case models.ActionUnsubscribe:
		if msg.Topic == "" {
			s.queueEvent(models.NewEvent(models.EventTypeError, map[string]any{
				"message": "unsubscribe requires a topic",
			}))
			return
		}
		s.ep.registry.Unsubscribe(s.identity, msg.Topic)
		s.queueEvent(models.NewEvent(models.EventTypeUnsubscribed, map[string]any{
			"topic": msg.Topic,
		}))

	default:
		s.queueEvent(models.NewEvent(models.EventTypeError, map[string]any{
			"message": fmt.Sprintf("unknown action: %s", msg.Action),
		}))
	}
}

// writePump drains the send channel to the socket. At most one writer
// per connection; also owns the keepalive ping ticker.
func (s *session) writePump() {
	ticker := time.NewTicker(s.ep.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
		s.ep.logger.Info("writePump finished", "identity", s.identity)
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.ep.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.ep.logger.Error("write error", "identity", s.identity, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.ep.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.ep.logger.Error("ping write error", "identity", s.identity, "error", err)
				return
			}
		case <-s.quit:
			return
		case <-s.ep.appCtx.Done():
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
