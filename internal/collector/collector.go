// Package collector implements C8, the context event collector: a
// per-member rolling buffer of raw AgentEvents plus a derived buffer of
// per-turn summaries, with live per-member listener registration.
// Grounded on internal/orchestrator/acp.Handler's buffer-plus-
// listener shape, generalized from per-task ACP messages to per-member
// AgentEvents and given working unsubscribe semantics: the teacher's
// RemoveListener compares listener function values by address
// (`&l == &listener`), which always takes distinct addresses for two
// loop-local variables and so never actually removes anything. This
// collector keys each listener by an id and hands back an unsubscribe
// function bound to that id at registration time instead.
package collector

import (
	"sync"

	"github.com/kandev/converse/internal/model"
)

const (
	rawBufferCap     = 1000
	summaryBufferCap = 200
)

// TurnSummary is one agent turn's worth of activity, assembled from the
// raw event stream between a session.started/turn.completed pair (or
// between two consecutive turn.completed events for a long-lived session).
type TurnSummary struct {
	MemberID     string
	Text         string
	ToolCalls    int
	ErrorCount   int
	EventCount   int
}

// Listener receives every raw event ingested for a member, in order.
type Listener func(event model.AgentEvent)

type memberBuffers struct {
	raw      []model.AgentEvent
	summary  []TurnSummary
	inTurn   *TurnSummary
}

// Collector holds one rolling buffer pair per member.
type Collector struct {
	mu      sync.RWMutex
	members map[string]*memberBuffers

	listenerMu sync.RWMutex
	listeners  map[string]map[uint64]Listener
	nextID     uint64
}

// New builds an empty collector.
func New() *Collector {
	return &Collector{
		members:   make(map[string]*memberBuffers),
		listeners: make(map[string]map[uint64]Listener),
	}
}

// Ingest records one raw event, folds it into the in-progress turn summary,
// and notifies live listeners. Called by the agent manager (C3) as it reads
// normalized AgentEvents off a member's stream parser.
func (c *Collector) Ingest(event model.AgentEvent) {
	c.mu.Lock()
	buf, ok := c.members[event.MemberID]
	if !ok {
		buf = &memberBuffers{}
		c.members[event.MemberID] = buf
	}

	buf.raw = append(buf.raw, event)
	if len(buf.raw) > rawBufferCap {
		buf.raw = buf.raw[len(buf.raw)-rawBufferCap:]
	}

	c.foldIntoTurn(buf, event)
	c.mu.Unlock()

	c.notify(event)
}

// foldIntoTurn updates the in-progress TurnSummary, closing it out into the
// summary buffer when a turn.completed boundary is seen. Must be called
// with c.mu held.
func (c *Collector) foldIntoTurn(buf *memberBuffers, event model.AgentEvent) {
	switch event.Kind {
	case model.EventSessionStarted:
		buf.inTurn = &TurnSummary{MemberID: event.MemberID}
	case model.EventText:
		if buf.inTurn == nil {
			buf.inTurn = &TurnSummary{MemberID: event.MemberID}
		}
		if event.TextCategory == model.TextCategoryAssistantMessage || event.TextCategory == model.TextCategoryResult {
			buf.inTurn.Text += event.Text
		}
		buf.inTurn.EventCount++
	case model.EventToolStarted:
		if buf.inTurn == nil {
			buf.inTurn = &TurnSummary{MemberID: event.MemberID}
		}
		buf.inTurn.ToolCalls++
		buf.inTurn.EventCount++
	case model.EventToolCompleted:
		if buf.inTurn == nil {
			buf.inTurn = &TurnSummary{MemberID: event.MemberID}
		}
		if event.ToolStatus == "error" {
			buf.inTurn.ErrorCount++
		}
		buf.inTurn.EventCount++
	case model.EventError:
		if buf.inTurn == nil {
			buf.inTurn = &TurnSummary{MemberID: event.MemberID}
		}
		buf.inTurn.ErrorCount++
		buf.inTurn.EventCount++
	case model.EventTurnCompleted:
		if buf.inTurn == nil {
			buf.inTurn = &TurnSummary{MemberID: event.MemberID}
		}
		buf.inTurn.EventCount++
		buf.summary = append(buf.summary, *buf.inTurn)
		if len(buf.summary) > summaryBufferCap {
			buf.summary = buf.summary[len(buf.summary)-summaryBufferCap:]
		}
		buf.inTurn = nil
	default:
		if buf.inTurn != nil {
			buf.inTurn.EventCount++
		}
	}
}

// RecentRaw returns up to limit of the most recent raw events for memberID.
// limit <= 0 returns the whole buffer.
func (c *Collector) RecentRaw(memberID string, limit int) []model.AgentEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	buf, ok := c.members[memberID]
	if !ok {
		return nil
	}
	events := buf.raw
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]model.AgentEvent, len(events))
	copy(out, events)
	return out
}

// RecentSummaries returns up to limit of the most recent completed turn
// summaries for memberID.
func (c *Collector) RecentSummaries(memberID string, limit int) []TurnSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	buf, ok := c.members[memberID]
	if !ok {
		return nil
	}
	summaries := buf.summary
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[len(summaries)-limit:]
	}
	out := make([]TurnSummary, len(summaries))
	copy(out, summaries)
	return out
}

// AddListener registers a listener for memberID's raw event stream and
// returns an unsubscribe function.
func (c *Collector) AddListener(memberID string, listener Listener) (unsubscribe func()) {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	if c.listeners[memberID] == nil {
		c.listeners[memberID] = make(map[uint64]Listener)
	}
	c.listeners[memberID][id] = listener
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners[memberID], id)
		c.listenerMu.Unlock()
	}
}

func (c *Collector) notify(event model.AgentEvent) {
	c.listenerMu.RLock()
	listeners := make([]Listener, 0, len(c.listeners[event.MemberID]))
	for _, l := range c.listeners[event.MemberID] {
		listeners = append(listeners, l)
	}
	c.listenerMu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

// CleanupMember removes all buffered state and listeners for memberID, used
// when a member's container/process is torn down for good.
func (c *Collector) CleanupMember(memberID string) {
	c.mu.Lock()
	delete(c.members, memberID)
	c.mu.Unlock()

	c.listenerMu.Lock()
	delete(c.listeners, memberID)
	c.listenerMu.Unlock()
}
