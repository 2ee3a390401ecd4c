package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verifailabs/verifai/models"
)

const sessionPingPeriod = 30 * time.Second

// EventSession is a live connection to the realtime endpoint. Incoming
// events are handed to the callback passed to Connect; outbound actions
// go through Subscribe, Unsubscribe and Ping.
type EventSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *EventSession) writeMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// Connect dials the realtime endpoint and runs the read loop until the
// context is cancelled or the server closes the connection. The onEvent
// callback runs on the read loop goroutine, so it must not block.
// Connect itself blocks; run it in a goroutine when the caller needs to
// drive the session from elsewhere.
func (c *Client) Connect(ctx context.Context, onEvent func(models.Event)) error {
	return c.connect(ctx, "/ws/connect", onEvent, nil)
}

// TrackProof dials the single-proof tracking endpoint. The session is
// pre-subscribed to that proof's progress and nothing else beyond the
// defaults.
func (c *Client) TrackProof(ctx context.Context, proofID string, onEvent func(models.Event)) error {
	return c.connect(ctx, "/ws/proof/"+proofID, onEvent, nil)
}

// ConnectSession is like Connect but hands the caller the session before
// blocking on the read loop, so actions can be sent while it runs.
func (c *Client) ConnectSession(ctx context.Context, onEvent func(models.Event), onReady func(*EventSession)) error {
	return c.connect(ctx, "/ws/connect", onEvent, onReady)
}

func (c *Client) connect(ctx context.Context, path string, onEvent func(models.Event), onReady func(*EventSession)) error {
	wsScheme := "ws"
	if c.baseURL.Scheme == "https" {
		wsScheme = "wss"
	}

	wsURL := url.URL{
		Scheme: wsScheme,
		Host:   c.baseURL.Host,
		Path:   path,
	}
	query := wsURL.Query()
	query.Set("token", c.apiKey)
	wsURL.RawQuery = query.Encode()

	c.logger.Debug("Dialing realtime endpoint", "url", wsURL.String())

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.Dial(wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial %s (status: %s): %w", wsURL.String(), resp.Status, err)
		}
		return fmt.Errorf("failed to dial %s: %w", wsURL.String(), err)
	}
	defer conn.Close()

	session := &EventSession{conn: conn}
	if onReady != nil {
		onReady(session)
	}

	// The server pings us on its own schedule; we also ping it so
	// intermediaries never see an idle connection.
	go func() {
		ticker := time.NewTicker(sessionPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := session.writeMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				deadline := time.Now().Add(time.Second)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read from realtime endpoint failed: %w", err)
		}

		var event models.Event
		if err := json.Unmarshal(message, &event); err != nil {
			c.logger.Error("Failed to unmarshal event", "error", err, "message", string(message))
			continue
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
}

func (s *EventSession) send(action, topic string) error {
	raw, err := json.Marshal(models.ClientMessage{Action: action, Topic: topic})
	if err != nil {
		return err
	}
	return s.writeMessage(websocket.TextMessage, raw)
}

// Subscribe asks the server to add this session to a topic. The server
// answers with a "subscribed" event.
func (s *EventSession) Subscribe(topic string) error {
	return s.send(models.ActionSubscribe, topic)
}

func (s *EventSession) Unsubscribe(topic string) error {
	return s.send(models.ActionUnsubscribe, topic)
}

// Ping is the application-level ping; the server answers with a "pong"
// event rather than a control frame.
func (s *EventSession) Ping() error {
	return s.send(models.ActionPing, "")
}
