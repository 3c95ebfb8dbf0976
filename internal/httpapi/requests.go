// Package httpapi is the ambient HTTP status/control surface for the
// conversation engine: send a message, cancel or stop a conversation, and
// inspect its current status, queue, and history. It is a thin adapter over
// internal/coordinator, not a source of behavior in its own right.
package httpapi

import "time"

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	Content  string `json:"content" binding:"required"`
	SenderID string `json:"sender_id,omitempty"`
}

// MessageResponse renders one stored conversation message.
type MessageResponse struct {
	ID              string    `json:"id"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	SenderMemberID  string    `json:"sender_member_id"`
	SenderName      string    `json:"sender_name"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status             string `json:"status"`
	WaitingForMemberID string `json:"waiting_for_member_id,omitempty"`
}

// QueueResponse is the body of GET /queue.
type QueueResponse struct {
	Len            int            `json:"len"`
	ByTargetMember map[string]int `json:"by_target_member"`
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Messages []MessageResponse `json:"messages"`
	Total    int                `json:"total"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
