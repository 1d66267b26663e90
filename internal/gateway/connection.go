package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/orcad/internal/common/logger"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/wire"
)

// Connection bridges one client websocket to one (tenant, session) pair: it
// forwards every event published on that session's subject out over the
// socket, and decodes inbound frames into Orchestrator calls. Ping/pong
// follows the teacher's gateway/websocket client pump shape.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 512 * 1024
)

// SubmitFunc dispatches one decoded inbound envelope to the Orchestrator.
// Handler supplies the concrete implementation so this package doesn't
// depend on the orchestrator package directly, keeping the translation
// layer testable against a fake.
type SubmitFunc func(ctx context.Context, env wire.Envelope) error

type conn struct {
	tenant, sessionID string
	ws                *websocket.Conn
	send              chan []byte
	submit            SubmitFunc
	logger            *logger.Logger
}

func newConn(tenant, sessionID string, ws *websocket.Conn, submit SubmitFunc, log *logger.Logger) *conn {
	return &conn{
		tenant:    tenant,
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan []byte, 256),
		submit:    submit,
		logger:    log.WithFields(zap.String("tenant", tenant), zap.String("session_id", sessionID)),
	}
}

// subscribe wires the session's event subject to the connection's send
// buffer, returning the eventbus subscription so the caller can tear it
// down when the socket closes.
func (c *conn) subscribe(bus eventbus.Bus) (eventbus.Subscription, error) {
	subject := "session." + c.tenant + "." + c.sessionID
	return bus.Subscribe(subject, func(ctx context.Context, ev *eventbus.Event) error {
		env, err := eventToEnvelope(ev)
		if err != nil {
			c.logger.Warn("gateway: dropping untranslatable event", zap.Error(err))
			return nil
		}
		blob, err := json.Marshal(env)
		if err != nil {
			c.logger.Warn("gateway: marshal envelope failed", zap.Error(err))
			return nil
		}
		c.enqueue(blob)
		return nil
	})
}

func (c *conn) enqueue(blob []byte) {
	select {
	case c.send <- blob:
	default:
		c.logger.Warn("gateway: send buffer full, dropping frame")
	}
}

// readPump decodes inbound envelopes and dispatches them to the
// Orchestrator, one goroutine per message so a slow turn (an agent call, a
// tool invocation) never blocks the read loop from picking up the next
// frame — e.g. an interrupting control.cancel arriving mid-turn.
func (c *conn) readPump(ctx context.Context) {
	defer c.ws.Close()

	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("gateway: read error", zap.Error(err))
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("gateway: malformed inbound frame", zap.Error(err))
			continue
		}

		go func(env wire.Envelope) {
			if err := c.submit(ctx, env); err != nil {
				c.logger.Error("gateway: submit failed", zap.Error(err))
			}
		}(env)
	}
}

// writePump drains the send buffer to the socket, one websocket message per
// queued frame, and keeps the connection alive with periodic pings. Queued
// frames are not batched together.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
