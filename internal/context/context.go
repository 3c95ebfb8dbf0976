// Package context implements C5, the context manager: a bounded sliding
// window of recent conversation messages plus the current team task,
// assembled into a per-agent-family prompt. New component; its rolling-
// window bookkeeping follows the same per-key buffer-plus-mutex shape as
// internal/orchestrator/acp.Handler's messageBuffer.
package context

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/kandev/converse/internal/model"
)

// AgentContext is everything assemblePrompt needs to render one agent's
// turn: the rolling window, the team task, this member's own
// instructions, and (for a routed dispatch) the causally-linking parent
// message.
type AgentContext struct {
	RecentMessages    []*model.ConversationMessage
	TeamTask          model.TeamTask
	SystemInstruction string
	InstructionFile   string
	CurrentMessage    *model.ConversationMessage
	ParentMessage     *model.ConversationMessage
}

// PromptResult is assemblePrompt's output: the rendered prompt body and,
// for families that take the system prompt out-of-band (Claude), the flag
// value C3 should pass as a separate CLI argument instead of embedding it.
type PromptResult struct {
	Prompt     string
	SystemFlag string
}

// Snapshot is the (de)serializable state exportSnapshot/importSnapshot
// exchange with the session storage collaborator.
type Snapshot struct {
	Messages []*model.ConversationMessage
	TeamTask model.TeamTask
}

// Manager maintains the sliding window and team task for one conversation.
type Manager struct {
	mu sync.Mutex

	windowSize      int
	teamTaskMaxRune int

	messages []*model.ConversationMessage
	teamTask model.TeamTask
}

// NewManager builds a context manager with the given window size (spec
// default 5) and team task soft cap (spec default 4000 runes).
func NewManager(windowSize, teamTaskMaxRune int) *Manager {
	if windowSize <= 0 {
		windowSize = 5
	}
	if teamTaskMaxRune <= 0 {
		teamTaskMaxRune = 4000
	}
	return &Manager{windowSize: windowSize, teamTaskMaxRune: teamTaskMaxRune}
}

// AddMessage appends m to history, retaining only the most recent
// windowSize messages.
func (m *Manager) AddMessage(msg *model.ConversationMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
	if len(m.messages) > m.windowSize {
		m.messages = m.messages[len(m.messages)-m.windowSize:]
	}
}

// SetTeamTask overwrites the team task, truncating to the soft cap with
// graceful rune-boundary handling.
func (m *Manager) SetTeamTask(description, setByMember string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if utf8.RuneCountInString(description) > m.teamTaskMaxRune {
		runes := []rune(description)
		description = string(runes[:m.teamTaskMaxRune])
	}
	m.teamTask = model.TeamTask{Description: description, SetByMember: setByMember}
}

// Clear drops all history and the team task, e.g. on setTeam.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.teamTask = model.TeamTask{}
}

// ExportSnapshot returns a copy of the current state for persistence.
func (m *Manager) ExportSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]*model.ConversationMessage, len(m.messages))
	copy(msgs, m.messages)
	return Snapshot{Messages: msgs, TeamTask: m.teamTask}
}

// ImportSnapshot restores state from a prior exportSnapshot, used when
// resuming a conversation.
func (m *Manager) ImportSnapshot(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := s.Messages
	if len(msgs) > m.windowSize {
		msgs = msgs[len(msgs)-m.windowSize:]
	}
	m.messages = append([]*model.ConversationMessage(nil), msgs...)
	m.teamTask = s.TeamTask
}

// GetContextForAgent builds the context for dispatching to member, acting
// on currentMessage.
func (m *Manager) GetContextForAgent(member *model.Member, currentMessage *model.ConversationMessage) AgentContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent := make([]*model.ConversationMessage, len(m.messages))
	copy(recent, m.messages)

	return AgentContext{
		RecentMessages:    recent,
		TeamTask:          m.teamTask,
		SystemInstruction: member.SystemInstruction,
		InstructionFile:   member.InstructionFile,
		CurrentMessage:    currentMessage,
	}
}

// GetContextForRoute is GetContextForAgent plus the parent message whose
// [NEXT] marker produced this route, so the prompt can explain why the
// member was addressed.
func (m *Manager) GetContextForRoute(member *model.Member, currentMessage, parentMessage *model.ConversationMessage) AgentContext {
	ctx := m.GetContextForAgent(member, currentMessage)
	ctx.ParentMessage = parentMessage
	return ctx
}

// familyEmbedsSystem records system-text embedding by family: Claude takes its system
// text out-of-band via --append-system-prompt; Codex and Gemini have no
// equivalent flag and get it embedded in [SYSTEM].
var familyEmbedsSystem = map[string]bool{
	"claude": false,
	"codex":  true,
	"gemini": true,
}

// AssemblePrompt renders ctx into the family-specific prompt shape.
func (m *Manager) AssemblePrompt(agentType string, ctx AgentContext) PromptResult {
	embed := familyEmbedsSystem[agentType]

	var b strings.Builder
	var systemFlag string

	if ctx.SystemInstruction != "" {
		if embed {
			fmt.Fprintf(&b, "[SYSTEM]\n%s\n\n", ctx.SystemInstruction)
		} else {
			systemFlag = ctx.SystemInstruction
		}
	}

	if ctx.InstructionFile != "" {
		fmt.Fprintf(&b, "[INSTRUCTION_FILE]\n%s\n\n", ctx.InstructionFile)
	}

	if ctx.TeamTask.Description != "" {
		fmt.Fprintf(&b, "[TEAM_TASK]\n%s\n\n", ctx.TeamTask.Description)
	}

	if len(ctx.RecentMessages) > 0 {
		b.WriteString("[CONTEXT]\n")
		for _, msg := range ctx.RecentMessages {
			fmt.Fprintf(&b, "%s: %s\n", msg.SenderName, msg.Text)
		}
		b.WriteString("\n")
	}

	if ctx.ParentMessage != nil {
		fmt.Fprintf(&b, "[ADDRESSED_BY]\n%s: %s\n\n", ctx.ParentMessage.SenderName, ctx.ParentMessage.Text)
	}

	if ctx.CurrentMessage != nil {
		fmt.Fprintf(&b, "[MESSAGE]\n%s\n", ctx.CurrentMessage.Text)
	}

	return PromptResult{Prompt: b.String(), SystemFlag: systemFlag}
}
