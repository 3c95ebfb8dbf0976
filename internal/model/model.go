// Package model holds the shared data types passed between the core
// components of the conversation engine.
package model

import "time"

// Role distinguishes an AI-driven participant from a human one.
type Role string

const (
	RoleAI    Role = "ai"
	RoleHuman Role = "human"
)

// Member is a participant in a conversation: either a CLI-backed agent or a
// human. AgentType/SystemInstruction/ExtraArgs only apply to AI members.
type Member struct {
	ID                 string
	Name               string
	DisplayName        string
	Role               Role
	Order              int
	AgentType          string
	SystemInstruction  string
	EnvOverrides       map[string]string
	ExtraArgs          []string
	ThemeColor         string
	InstructionFile    string
	Sandboxed          bool
}

// Team groups members under a shared task.
type Team struct {
	ID      string
	Name    string
	Members []*Member
}

// ConversationMessage is one turn of conversation, either raw human/system
// input or the rendered text an agent produced.
type ConversationMessage struct {
	ID              string
	ParentMessageID string
	SenderMemberID  string
	SenderName      string
	Text            string
	CreatedAt       time.Time
}

// ParsedAddressee is one [NEXT:name!P1,...] target extracted by the marker
// parser, carrying its routing priority and any inline flags.
type ParsedAddressee struct {
	MemberName string
	Priority   Priority
	Interrupt  bool
}

// Priority is the three-level routing priority from spec.md §4.4.
type Priority int

const (
	PriorityInterrupt Priority = iota // P1_INTERRUPT
	PriorityReply                     // P2_REPLY
	PriorityExtend                    // P3_EXTEND
)

func (p Priority) String() string {
	switch p {
	case PriorityInterrupt:
		return "P1_INTERRUPT"
	case PriorityReply:
		return "P2_REPLY"
	case PriorityExtend:
		return "P3_EXTEND"
	default:
		return "UNKNOWN"
	}
}

// RoutingItem is one pending dispatch the routing queue is holding: "send
// the conversation up to parentMessageId to targetMemberId at this priority".
type RoutingItem struct {
	ID              string
	ParentMessageID string
	TargetMemberID  string
	Intent          string // free-form reason string, part of the dedup key
	Priority        Priority
	QueuedAt        time.Time
}

// DedupKey is the composite key two RoutingItems collide on.
func (r *RoutingItem) DedupKey() string {
	return r.ParentMessageID + ":" + r.TargetMemberID + ":" + r.Intent
}

// TeamTask is the single shared task description visible to every member,
// overwritten last-write-wins by [TEAM_TASK:...] markers.
type TeamTask struct {
	Description string
	SetByMember string
	SetAt       time.Time
}

// EventKind enumerates the normalized shapes every agent family's stream
// parser reduces its vendor JSON down to.
type EventKind string

const (
	EventSessionStarted  EventKind = "session.started"
	EventText             EventKind = "text"
	EventToolStarted      EventKind = "tool.started"
	EventToolCompleted    EventKind = "tool.completed"
	EventTodoList         EventKind = "todo_list"
	EventTurnCompleted    EventKind = "turn.completed"
	EventError            EventKind = "error"
)

// TextCategory distinguishes why a text event was produced.
type TextCategory string

const (
	TextCategoryAssistantMessage TextCategory = "assistant-message"
	TextCategoryReasoning        TextCategory = "reasoning"
	TextCategoryMessage          TextCategory = "message"
	TextCategoryResult           TextCategory = "result"
)

// AgentEvent is the single normalized event type every C2 stream parser
// emits, regardless of source agent family. Only the fields relevant to
// Kind are populated; the rest stay zero.
type AgentEvent struct {
	ID         string
	Kind       EventKind
	MemberID   string
	SessionID  string
	Timestamp  time.Time

	// EventText
	Text         string
	TextCategory TextCategory

	// EventToolStarted / EventToolCompleted
	ToolCallID string
	ToolName   string
	ToolInput  string
	ToolStatus string // "running" | "complete" | "error"
	ToolOutput string

	// EventTodoList
	Todos []TodoItem

	// EventTurnCompleted
	Done         bool
	FinishReason string // "done" | "error" | "timeout" | "cancelled"

	// EventError
	ErrorCode    string
	ErrorMessage string
}

// TodoItem mirrors one entry of a TodoWrite tool call.
type TodoItem struct {
	Content string
	Status  string
}
