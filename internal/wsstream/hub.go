// Package wsstream re-publishes the event bus (C7) to WebSocket observers:
// a dashboard or CLI can watch one member's turn stream live, or every
// member's at once, without polling the status/control surface. Grounded on
// the teacher's internal/orchestrator/streaming package (Hub/Client,
// register/unregister/broadcast channel loop, ReadPump/WritePump), adapted
// from per-task subscriptions to per-member ones and fed by model.AgentEvent
// instead of an ACP protocol.Message.
package wsstream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/events/bus"
	"github.com/kandev/converse/internal/model"
)

// Client is one connected WebSocket observer.
type Client struct {
	ID        string
	conn      *websocket.Conn
	memberIDs map[string]bool
	send      chan []byte
	hub       *Hub
	mu        sync.RWMutex
	logger    *logger.Logger
}

// NewClient wraps conn as a hub-managed client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:        id,
		conn:      conn,
		memberIDs: make(map[string]bool),
		send:      make(chan []byte, 256),
		hub:       hub,
		logger:    log.WithFields(zap.String("client_id", id)),
	}
}

// BroadcastMessage is one event destined for every client subscribed to
// MemberID, or every client subscribed to the wildcard if MemberID is "".
type BroadcastMessage struct {
	MemberID string
	Event    model.AgentEvent
}

// Hub fans out bus events to WebSocket clients, each subscribed to one or
// more member IDs (or the wildcard "*" for every member).
type Hub struct {
	clients       map[*Client]bool
	memberClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu     sync.RWMutex
	logger *logger.Logger
}

// WildcardSubscription is the member-ID key a client subscribes under to
// observe every member's events.
const WildcardSubscription = "*"

// NewHub builds a Hub and subscribes it to every event on eventBus, so
// Run's broadcast loop sees every published AgentEvent without the caller
// wiring that subscription itself.
func NewHub(eventBus bus.EventBus, log *logger.Logger) (*Hub, error) {
	h := &Hub{
		clients:       make(map[*Client]bool),
		memberClients: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *BroadcastMessage, 256),
		logger:        log.WithFields(zap.String("component", "wsstream_hub")),
	}

	_, err := eventBus.Subscribe(bus.SubjectAll, func(ctx context.Context, event model.AgentEvent) error {
		h.broadcast <- &BroadcastMessage{MemberID: event.MemberID, Event: event}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return h, nil
}

// Run processes register/unregister/broadcast until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.memberClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for memberID := range client.memberIDs {
					h.removeSubscriberLocked(memberID, client)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	data, err := json.Marshal(msg.Event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make(map[*Client]bool)
	for c := range h.memberClients[msg.MemberID] {
		targets[c] = true
	}
	for c := range h.memberClients[WildcardSubscription] {
		targets[c] = true
	}
	h.mu.RUnlock()

	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for memberID := range client.memberIDs {
					h.removeSubscriberLocked(memberID, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeSubscriberLocked(memberID string, client *Client) {
	if subs, ok := h.memberClients[memberID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.memberClients, memberID)
		}
	}
}

// Register adds client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// SubscribeClient subscribes client to memberID's events.
func (h *Hub) SubscribeClient(client *Client, memberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.memberClients[memberID]; !ok {
		h.memberClients[memberID] = make(map[*Client]bool)
	}
	h.memberClients[memberID][client] = true
}

// UnsubscribeClient removes client's subscription to memberID.
func (h *Hub) UnsubscribeClient(client *Client, memberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSubscriberLocked(memberID, client)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
