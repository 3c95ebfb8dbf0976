// Package coordinator implements C6, the conversation coordinator: it owns
// the message history and the turn loop, resolving senders and addressees,
// driving enqueue -> dequeue -> dispatch -> receive -> re-enqueue through
// C3, C4 and C5, and reporting state transitions to its hooks. Grounded on
// internal/orchestrator/executor.Executor's concurrency bookkeeping and
// callback-reporting shape, generalized from one task at a time to one
// conversation at a time.
package coordinator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/converse/internal/agentmanager"
	"github.com/kandev/converse/internal/common/logger"
	ctxmgr "github.com/kandev/converse/internal/context"
	"github.com/kandev/converse/internal/events/bus"
	"github.com/kandev/converse/internal/marker"
	"github.com/kandev/converse/internal/model"
	"github.com/kandev/converse/internal/routing"
)

// Status is the coordinator's externally-observable lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// ErrNotProcessed is returned (never wrapped as a failure) when sendMessage
// rejects input that the caller should keep as a draft: currently only the
// malformed-TEAM_TASK case.
var ErrNotProcessed = fmt.Errorf("coordinator: message not processed")

// ErrStopped is returned by sendMessage once the conversation has been
// stopped.
var ErrStopped = fmt.Errorf("coordinator: conversation stopped")

// Snapshot is the persisted shape of one conversation, handed to the
// SessionStorage collaborator.
type Snapshot struct {
	SessionID          string
	History            []*model.ConversationMessage
	TeamTask           model.TeamTask
	Status             Status
	WaitingForMemberID string
}

// SessionStorage is the persistence collaborator. Save is fire-and-forget
// from the coordinator's perspective: failures are logged, never fatal.
type SessionStorage interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, error)
}

// Hooks are the coordinator's callback surface, all optional.
type Hooks struct {
	OnQueueUpdate           func(stats routing.Stats, executing string)
	OnUnresolvedAddressees  func(names []string, msg *model.ConversationMessage)
	OnPartialResolveFailure func(skipped []string, available []string)
	OnAgentCompleted        func(member *model.Member, result agentmanager.SendResult)
}

var teamTaskWord = regexp.MustCompile(`(?i)\bTEAM_TASK\b`)
var teamTaskBracket = regexp.MustCompile(`(?i)\[TEAM_TASK:[^\]]*\]`)

// Coordinator is C6.
type Coordinator struct {
	mu sync.Mutex

	sessionID          string
	team               *model.Team
	history            []*model.ConversationMessage
	status             Status
	waitingForMemberID string
	currentRoutingItem *model.RoutingItem
	inFlight           bool

	queue     *routing.Queue
	ctxMgr    *ctxmgr.Manager
	agents    *agentmanager.Manager
	bus       bus.EventBus
	storage   SessionStorage
	turnTimeout time.Duration
	hooks     Hooks
	logger    *logger.Logger
}

// New builds a coordinator wired to its collaborators. storage may be nil.
func New(queue *routing.Queue, ctxMgr *ctxmgr.Manager, agents *agentmanager.Manager, eventBus bus.EventBus, storage SessionStorage, turnTimeout time.Duration, log *logger.Logger) *Coordinator {
	return &Coordinator{
		status:      StatusCompleted,
		queue:       queue,
		ctxMgr:      ctxMgr,
		agents:      agents,
		bus:         eventBus,
		storage:     storage,
		turnTimeout: turnTimeout,
		logger:      log.WithFields(zap.String("component", "coordinator")),
	}
}

// SetHooks installs the callback surface. Not safe to call concurrently
// with sendMessage.
func (c *Coordinator) SetHooks(h Hooks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = h
}

// SetTeam resets conversation state around a new team, optionally resuming
// a prior session's history from the snapshot collaborator.
func (c *Coordinator) SetTeam(ctx context.Context, team *model.Team, resumeSessionID string) error {
	c.mu.Lock()
	c.team = team
	c.history = nil
	c.currentRoutingItem = nil
	c.waitingForMemberID = ""
	c.status = StatusActive
	c.queue.Clear()
	c.ctxMgr.Clear()
	sessionID := resumeSessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	c.sessionID = sessionID
	c.mu.Unlock()

	if resumeSessionID == "" || c.storage == nil {
		return nil
	}

	snap, err := c.storage.Load(ctx, resumeSessionID)
	if err != nil {
		return fmt.Errorf("coordinator: resume session %q: %w", resumeSessionID, err)
	}

	c.mu.Lock()
	c.history = snap.History
	c.waitingForMemberID = snap.WaitingForMemberID
	if snap.Status != "" {
		c.status = snap.Status
	}
	c.mu.Unlock()

	c.ctxMgr.ImportSnapshot(ctxmgr.Snapshot{Messages: snap.History, TeamTask: snap.TeamTask})
	return nil
}

// GetStatus returns the current lifecycle status.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// GetSession returns a copy of the current history and team task.
func (c *Coordinator) GetSession() Snapshot {
	c.mu.Lock()
	sessionID := c.sessionID
	history := append([]*model.ConversationMessage(nil), c.history...)
	status := c.status
	waiting := c.waitingForMemberID
	c.mu.Unlock()

	return Snapshot{
		SessionID:          sessionID,
		History:            history,
		Status:             status,
		WaitingForMemberID: waiting,
		TeamTask:           c.ctxMgr.ExportSnapshot().TeamTask,
	}
}

// GetWaitingForMemberID returns the member currently expected to speak next.
func (c *Coordinator) GetWaitingForMemberID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitingForMemberID
}

// SetWaitingForMemberID overrides the member currently expected to speak
// next, used by callers restoring UI-driven state.
func (c *Coordinator) SetWaitingForMemberID(memberID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitingForMemberID = memberID
}

// GetQueueStats reports the routing queue's current size and per-target
// breakdown, for the status/control surface's queue inspection endpoint.
func (c *Coordinator) GetQueueStats() routing.Stats {
	return c.queue.Stats()
}

// Pause suspends dispatch without touching history or the queue.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusActive {
		c.status = StatusPaused
	}
}

// Resume re-activates a paused conversation and drains any queued work.
func (c *Coordinator) Resume(ctx context.Context) {
	c.mu.Lock()
	if c.status == StatusPaused {
		c.status = StatusActive
	}
	c.mu.Unlock()
	c.processQueue(ctx)
}

// Stop terminates every agent, persists, and marks the conversation
// completed. Further SendMessage calls are rejected.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	c.status = StatusCompleted
	c.queue.Clear()
	c.mu.Unlock()

	c.agents.Cleanup(ctx)
	c.persist(ctx)
}

// HandleUserCancellation cancels the currently executing agent, rewinds
// waitingForMemberId to the first human by order, pauses, and persists.
func (c *Coordinator) HandleUserCancellation(ctx context.Context) error {
	c.mu.Lock()
	item := c.currentRoutingItem
	team := c.team
	c.mu.Unlock()

	if item != nil {
		if err := c.agents.Cancel(ctx, item.TargetMemberID); err != nil {
			c.logger.Warn("cancel failed", zap.String("member_id", item.TargetMemberID), zap.Error(err))
		}
	}

	first := firstHuman(team)
	c.mu.Lock()
	c.status = StatusPaused
	if first != nil {
		c.waitingForMemberID = first.ID
	}
	c.mu.Unlock()

	c.persist(ctx)
	return nil
}

// SendMessage records content as a history message from sender (explicit id
// takes priority; otherwise resolved via the [FROM:] chain) and triggers
// routing. Returns ErrNotProcessed if the raw text fails TEAM_TASK
// validation, leaving history untouched and the caller's draft intact.
func (c *Coordinator) SendMessage(ctx context.Context, content string, explicitSenderID string) (*model.ConversationMessage, error) {
	c.mu.Lock()
	status := c.status
	team := c.team
	historyEmpty := len(c.history) == 0
	waiting := c.waitingForMemberID
	c.mu.Unlock()

	if status == StatusCompleted {
		return nil, ErrStopped
	}

	if !validTeamTask(content) {
		return nil, ErrNotProcessed
	}

	sender, err := c.resolveSender(team, explicitSenderID, content, waiting, historyEmpty)
	if err != nil {
		return nil, err
	}

	parsed := marker.Parse(content)
	msg := c.appendHistory(sender, parsed, nil)

	c.mu.Lock()
	c.status = StatusActive
	c.mu.Unlock()

	if err := c.routeMessage(ctx, msg, parsed.Addressees, sender); err != nil {
		return msg, err
	}
	return msg, nil
}

// validTeamTask rejects raw text that mentions TEAM_TASK as a word but does
// not use the exact "[TEAM_TASK:...]" bracket form.
func validTeamTask(content string) bool {
	if !teamTaskWord.MatchString(content) {
		return true
	}
	return teamTaskBracket.MatchString(content)
}

// appendHistory stores msg in history (single-owner: only the coordinator
// mutates it), feeds it to the context manager, and marks it completed in
// the routing queue so the next selectNext observes the new local set.
func (c *Coordinator) appendHistory(sender *model.Member, parsed marker.ParseResult, parentID *string) *model.ConversationMessage {
	c.mu.Lock()
	var parent string
	if parentID != nil {
		parent = *parentID
	} else if len(c.history) > 0 {
		parent = c.history[len(c.history)-1].ID
	}
	msg := &model.ConversationMessage{
		ID:              uuid.New().String(),
		ParentMessageID: parent,
		SenderMemberID:  sender.ID,
		SenderName:      sender.Name,
		Text:            parsed.CleanedText,
		CreatedAt:       time.Now(),
	}
	c.history = append(c.history, msg)
	c.mu.Unlock()

	c.ctxMgr.AddMessage(msg)
	if parsed.HasTeamTask {
		c.ctxMgr.SetTeamTask(parsed.TeamTask, sender.ID)
	}
	c.queue.MarkCompleted(msg.ID)
	return msg
}

// resolveSender implements the five-step priority chain from explicit id
// down to a reject-and-list-humans fallback, plus the first-message rule.
func (c *Coordinator) resolveSender(team *model.Team, explicitSenderID, content, waitingForMemberID string, historyEmpty bool) (*model.Member, error) {
	var resolved *model.Member

	if explicitSenderID != "" {
		if m := findMember(team, explicitSenderID); m != nil {
			resolved = m
		}
	}

	if resolved == nil {
		if from := marker.Parse(content).From; from != "" {
			m := matchAddressee(team, from)
			if m == nil {
				return nil, fmt.Errorf("coordinator: [FROM:%s] does not match any member; available humans: %s", from, humanList(team))
			}
			if m.Role != model.RoleHuman {
				return nil, fmt.Errorf("coordinator: [FROM:%s] must refer to a human member", from)
			}
			resolved = m
		}
	}

	if resolved == nil && waitingForMemberID != "" {
		if m := findMember(team, waitingForMemberID); m != nil && m.Role == model.RoleHuman {
			resolved = m
		}
	}

	if resolved == nil {
		if humans := humans(team); len(humans) == 1 {
			resolved = humans[0]
		}
	}

	if resolved == nil {
		return nil, fmt.Errorf("coordinator: ambiguous sender; specify [FROM:name]; available humans: %s", humanList(team))
	}

	if historyEmpty && resolved.Role != model.RoleHuman {
		return nil, fmt.Errorf("coordinator: the first message of a conversation must come from a human member")
	}

	return resolved, nil
}

// routeMessage implements the eight-step routing algorithm for one new
// message.
func (c *Coordinator) routeMessage(ctx context.Context, msg *model.ConversationMessage, addressees []model.ParsedAddressee, sender *model.Member) error {
	c.mu.Lock()
	team := c.team
	queueNonEmpty := c.queue.Len() > 0
	c.mu.Unlock()

	if len(addressees) == 0 {
		if queueNonEmpty {
			c.processQueue(ctx)
			return nil
		}
		first := firstHuman(team)
		if first == nil {
			return fmt.Errorf("coordinator: no human member to fall back to")
		}
		addressees = []model.ParsedAddressee{{MemberName: first.Name, Priority: model.PriorityReply}}
	}

	resolved, unresolved := resolveAddressees(addressees, team)

	if len(resolved) == 0 {
		if c.hooks.OnUnresolvedAddressees != nil {
			c.hooks.OnUnresolvedAddressees(unresolved, msg)
		}
		c.mu.Lock()
		c.status = StatusPaused
		if sender.Role == model.RoleHuman {
			c.waitingForMemberID = sender.ID
		} else {
			if first := firstHuman(team); first != nil {
				c.waitingForMemberID = first.ID
			}
		}
		c.mu.Unlock()
		c.persist(ctx)
		return nil
	}

	if len(unresolved) > 0 && c.hooks.OnPartialResolveFailure != nil {
		available := make([]string, 0, len(team.Members))
		for _, m := range team.Members {
			available = append(available, m.Name)
		}
		c.hooks.OnPartialResolveFailure(unresolved, available)
	}

	resolved = dedupMembers(resolved)

	now := time.Now()
	for _, m := range resolved {
		priority := model.PriorityReply
		for _, a := range addressees {
			if matchesNormalized(a.MemberName, m) {
				priority = a.Priority
				break
			}
		}
		item := &model.RoutingItem{
			ID:              uuid.New().String(),
			ParentMessageID: msg.ID,
			TargetMemberID:  m.ID,
			Intent:          "route",
			Priority:        priority,
			QueuedAt:        now,
		}
		if err := c.queue.Enqueue(item); err != nil {
			c.logger.Warn("enqueue failed", zap.String("target_member_id", m.ID), zap.Error(err))
		}
	}

	c.emitQueueUpdate("")
	c.processQueue(ctx)
	return nil
}

// processQueue is single-entrant: a re-entrancy flag rejects nested calls,
// since routeMessage always calls processQueue at its tail even when it is
// itself running inside an outer processQueue's dispatch (re-entering the
// pipeline with an agent's accumulated text). The outer loop observes the
// newly queued item on its next iteration instead.
func (c *Coordinator) processQueue(ctx context.Context) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.status != StatusActive {
			c.mu.Unlock()
			return
		}
		item := c.queue.SelectNext()
		if item == nil {
			c.mu.Unlock()
			return
		}
		team := c.team
		c.mu.Unlock()

		member := findMember(team, item.TargetMemberID)
		if member == nil {
			c.logger.Info("dropping routing item for removed member", zap.String("target_member_id", item.TargetMemberID))
			continue
		}

		c.mu.Lock()
		c.currentRoutingItem = item
		c.mu.Unlock()
		c.emitQueueUpdate(member.ID)

		if member.Role == model.RoleHuman {
			c.mu.Lock()
			c.waitingForMemberID = member.ID
			c.status = StatusPaused
			c.currentRoutingItem = nil
			c.mu.Unlock()
			c.emitQueueUpdate("")
			c.persist(ctx)
			return
		}

		if !c.dispatchAI(ctx, member, item) {
			return
		}
	}
}

// dispatchAI drives one AI member's turn. Returns false if processQueue
// should stop entirely (cancellation).
func (c *Coordinator) dispatchAI(ctx context.Context, member *model.Member, item *model.RoutingItem) bool {
	if err := c.agents.EnsureStarted(member); err != nil {
		c.logger.Error("ensureStarted failed", zap.String("member_id", member.ID), zap.Error(err))
		return true
	}

	parentMsg := c.findMessage(item.ParentMessageID)
	agentCtx := c.ctxMgr.GetContextForRoute(member, nil, parentMsg)
	prompt := c.ctxMgr.AssemblePrompt(member.AgentType, agentCtx)

	result, err := c.agents.Send(ctx, member.ID, agentmanager.SendOptions{
		Prompt:     prompt.Prompt,
		SystemFlag: prompt.SystemFlag,
		Timeout:    c.turnTimeout,
	})
	if err != nil {
		c.logger.Error("send failed", zap.String("member_id", member.ID), zap.Error(err))
		return true
	}

	_ = c.agents.Stop(ctx, member.ID)

	if c.hooks.OnAgentCompleted != nil {
		c.hooks.OnAgentCompleted(member, result)
	}

	if result.FinishReason == "cancelled" {
		return false
	}

	if strings.TrimSpace(result.AccumulatedText) == "" {
		return true
	}

	parsed := marker.Parse(result.AccumulatedText)
	reply := c.appendHistory(member, parsed, &item.ParentMessageID)
	if err := c.routeMessage(ctx, reply, parsed.Addressees, member); err != nil {
		c.logger.Warn("re-entrant routing failed", zap.String("member_id", member.ID), zap.Error(err))
	}
	return true
}

func (c *Coordinator) findMessage(id string) *model.ConversationMessage {
	if id == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.history {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (c *Coordinator) emitQueueUpdate(executing string) {
	stats := c.queue.Stats()
	if c.hooks.OnQueueUpdate != nil {
		c.hooks.OnQueueUpdate(stats, executing)
	}
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.storage == nil {
		return
	}
	snap := c.GetSession()
	if err := c.storage.Save(ctx, snap); err != nil {
		c.logger.Warn("snapshot save failed", zap.String("session_id", snap.SessionID), zap.Error(err))
	}
}

func findMember(team *model.Team, id string) *model.Member {
	if team == nil {
		return nil
	}
	for _, m := range team.Members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func humans(team *model.Team) []*model.Member {
	if team == nil {
		return nil
	}
	var out []*model.Member
	for _, m := range team.Members {
		if m.Role == model.RoleHuman {
			out = append(out, m)
		}
	}
	return out
}

func humanList(team *model.Team) string {
	names := make([]string, 0)
	for _, m := range humans(team) {
		names = append(names, m.Name)
	}
	return strings.Join(names, ", ")
}

func firstHuman(team *model.Team) *model.Member {
	var best *model.Member
	for _, m := range humans(team) {
		if best == nil || m.Order < best.Order {
			best = m
		}
	}
	return best
}

// normalize lowercases and strips whitespace/-/_ from an identifier.
func normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// matchAddressee matches a raw [NEXT:]/[FROM:] token against a member's id,
// name, displayName in that order, exact on the normalized form.
func matchAddressee(team *model.Team, raw string) *model.Member {
	if team == nil {
		return nil
	}
	norm := normalize(raw)
	for _, m := range team.Members {
		if normalize(m.ID) == norm {
			return m
		}
	}
	for _, m := range team.Members {
		if normalize(m.Name) == norm {
			return m
		}
	}
	for _, m := range team.Members {
		if normalize(m.DisplayName) == norm {
			return m
		}
	}
	return nil
}

func matchesNormalized(raw string, m *model.Member) bool {
	norm := normalize(raw)
	return normalize(m.ID) == norm || normalize(m.Name) == norm || normalize(m.DisplayName) == norm
}

func resolveAddressees(addressees []model.ParsedAddressee, team *model.Team) (resolved []*model.Member, unresolved []string) {
	for _, a := range addressees {
		if m := matchAddressee(team, a.MemberName); m != nil {
			resolved = append(resolved, m)
		} else {
			unresolved = append(unresolved, a.MemberName)
		}
	}
	return resolved, unresolved
}

func dedupMembers(members []*model.Member) []*model.Member {
	seen := make(map[string]bool, len(members))
	out := make([]*model.Member, 0, len(members))
	for _, m := range members {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}
