package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/converse/internal/apperrors"
	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/coordinator"
	"github.com/kandev/converse/internal/model"
)

// Handler contains the HTTP handlers for the conversation status/control
// surface. Grounded on the teacher's agent/api.Handler: one small struct
// holding the collaborator it fronts, plus a logger tagged with its
// component name.
type Handler struct {
	coord  *coordinator.Coordinator
	logger *logger.Logger
}

// NewHandler builds a Handler fronting coord.
func NewHandler(coord *coordinator.Coordinator, log *logger.Logger) *Handler {
	return &Handler{coord: coord, logger: log.WithFields(zap.String("component", "httpapi"))}
}

// SendMessage handles POST /messages.
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	msg, err := h.coord.SendMessage(c.Request.Context(), req.Content, req.SenderID)
	if err != nil {
		if errors.Is(err, coordinator.ErrNotProcessed) {
			c.JSON(http.StatusOK, gin.H{"processed": false, "reason": err.Error()})
			return
		}
		if errors.Is(err, coordinator.ErrStopped) {
			appErr := apperrors.Conflict(err.Error())
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		h.logger.Error("failed to send message", zap.Error(err))
		appErr := apperrors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusCreated, messageToResponse(msg))
}

// Cancel handles POST /cancel: cancels the in-flight agent turn, if any.
func (h *Handler) Cancel(c *gin.Context) {
	if err := h.coord.HandleUserCancellation(c.Request.Context()); err != nil {
		h.logger.Error("failed to cancel turn", zap.Error(err))
		appErr := apperrors.InternalError("failed to cancel turn", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// Stop handles POST /stop: terminates the conversation for good.
func (h *Handler) Stop(c *gin.Context) {
	h.coord.Stop(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// GetStatus handles GET /status.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:             string(h.coord.GetStatus()),
		WaitingForMemberID: h.coord.GetWaitingForMemberID(),
	})
}

// GetQueue handles GET /queue.
func (h *Handler) GetQueue(c *gin.Context) {
	stats := h.coord.GetQueueStats()
	c.JSON(http.StatusOK, QueueResponse{
		Len:            stats.Len,
		ByTargetMember: stats.ByTargetMember,
	})
}

// GetHistory handles GET /history.
func (h *Handler) GetHistory(c *gin.Context) {
	session := h.coord.GetSession()

	messages := make([]MessageResponse, 0, len(session.History))
	for _, msg := range session.History {
		messages = append(messages, messageToResponse(msg))
	}

	c.JSON(http.StatusOK, HistoryResponse{Messages: messages, Total: len(messages)})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func messageToResponse(msg *model.ConversationMessage) MessageResponse {
	return MessageResponse{
		ID:              msg.ID,
		ParentMessageID: msg.ParentMessageID,
		SenderMemberID:  msg.SenderMemberID,
		SenderName:      msg.SenderName,
		Text:            msg.Text,
		CreatedAt:       msg.CreatedAt,
	}
}
