package wsstream

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/converse/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP connections to WebSocket streams backed by a Hub.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler builds a Handler fronting hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, logger: log.WithFields(zap.String("component", "wsstream_handler"))}
}

// StreamMember handles WS /members/:memberId/stream: one member's events.
func (h *Handler) StreamMember(c *gin.Context) {
	memberID := c.Param("memberId")
	if memberID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "memberId is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.String("member_id", memberID), zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), conn, h.hub, h.logger)
	h.hub.Register(client)
	client.Subscribe(memberID)

	go client.WritePump()
	go client.ReadPump()
}

// StreamAll handles WS /stream: every member's events, with
// SubscriptionMessage-driven opt-in/opt-out.
func (h *Handler) StreamAll(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), conn, h.hub, h.logger)
	h.hub.Register(client)
	client.Subscribe(WildcardSubscription)

	go client.WritePump()
	go client.ReadPump()
}
