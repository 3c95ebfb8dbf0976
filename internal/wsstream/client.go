package wsstream

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// SubscriptionMessage is sent by a client to change its member subscriptions
// after the connection is established.
type SubscriptionMessage struct {
	Action    string   `json:"action"` // "subscribe" | "unsubscribe"
	MemberIDs []string `json:"member_ids"`
}

// ReadPump reads subscription-change messages from conn until it closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var subMsg SubscriptionMessage
		if err := json.Unmarshal(message, &subMsg); err != nil {
			c.logger.Warn("invalid subscription message", zap.Error(err))
			continue
		}

		switch subMsg.Action {
		case "subscribe":
			for _, memberID := range subMsg.MemberIDs {
				c.Subscribe(memberID)
			}
		case "unsubscribe":
			for _, memberID := range subMsg.MemberIDs {
				c.Unsubscribe(memberID)
			}
		default:
			c.logger.Warn("unknown subscription action", zap.String("action", subMsg.Action))
		}
	}
}

// WritePump relays queued events to conn and pings on an idle ticker.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribe adds memberID (or WildcardSubscription) to c's subscriptions.
func (c *Client) Subscribe(memberID string) {
	c.mu.Lock()
	c.memberIDs[memberID] = true
	c.mu.Unlock()
	c.hub.SubscribeClient(c, memberID)
}

// Unsubscribe removes memberID from c's subscriptions.
func (c *Client) Unsubscribe(memberID string) {
	c.mu.Lock()
	delete(c.memberIDs, memberID)
	c.mu.Unlock()
	c.hub.UnsubscribeClient(c, memberID)
}

// IsSubscribed reports whether c is currently subscribed to memberID.
func (c *Client) IsSubscribed(memberID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memberIDs[memberID]
}
