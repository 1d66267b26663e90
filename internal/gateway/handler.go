package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/orcad/internal/common/logger"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/orchestrator"
	"github.com/kandev/orcad/internal/wire"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to configured origins once a deployment names them.
		return true
	},
}

// Handler serves one websocket connection per (tenant_id, session_id) pair
// at /ws/agent/:tenant_id/:session_id, the session transport's entire
// external surface.
type Handler struct {
	orch   *orchestrator.Orchestrator
	events eventbus.Bus
	logger *logger.Logger
}

// NewHandler wires a gateway Handler to the Orchestrator it fronts and the
// event bus it streams session output from.
func NewHandler(orch *orchestrator.Orchestrator, events eventbus.Bus, log *logger.Logger) *Handler {
	return &Handler{orch: orch, events: events, logger: log.WithFields(zap.String("component", "gateway"))}
}

// HandleConnection upgrades the request and runs the connection until the
// client disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	tenant := c.Param("tenant_id")
	sessionID := c.Param("session_id")
	if tenant == "" || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and session_id are required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("gateway: upgrade failed", zap.Error(err))
		return
	}

	cn := newConn(tenant, sessionID, ws, h.submit(tenant, sessionID), h.logger)

	sub, err := cn.subscribe(h.events)
	if err != nil {
		h.logger.Error("gateway: subscribe failed", zap.Error(err))
		ws.Close()
		return
	}
	defer sub.Unsubscribe()

	go cn.writePump()
	cn.readPump(c.Request.Context())
}

// submit closes over the path's (tenant, session) pair and dispatches a
// decoded inbound envelope to the matching Orchestrator entry point.
func (h *Handler) submit(tenant, sessionID string) SubmitFunc {
	return func(ctx context.Context, env wire.Envelope) error {
		switch env.Type {
		case wire.TypeUserMsg:
			var payload wire.UserMessagePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return fmt.Errorf("gateway: decode user_message: %w", err)
			}
			return h.orch.SubmitUserMessage(ctx, tenant, sessionID, payload.Text, payload.Attachments)

		case wire.TypeComponent:
			var interaction wire.UIInteractionData
			component, err := wire.DecodeComponent(&env, &interaction)
			if err != nil {
				return fmt.Errorf("gateway: decode component: %w", err)
			}
			if component != wire.ComponentUIInteraction {
				return fmt.Errorf("gateway: unexpected inbound component %q", component)
			}
			if interaction.Form == nil {
				return fmt.Errorf("gateway: ui_interaction reply missing form")
			}
			return h.orch.SubmitFormReply(ctx, tenant, sessionID, interaction.Form.ID, interaction.Form.Values)

		case wire.TypeControl:
			var payload wire.ControlPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return fmt.Errorf("gateway: decode control: %w", err)
			}
			if payload.Action == wire.ControlCancel {
				return h.orch.Cancel(ctx, tenant, sessionID)
			}
			return nil

		default:
			return fmt.Errorf("gateway: unknown inbound envelope type %q", env.Type)
		}
	}
}
