package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/converse/internal/model"
)

// claudeMessage mirrors the shape of Claude Code's --output-format
// stream-json lines, trimmed to the fields this parser consumes. Grounded
// on the teacher's pkg/claudecode/types.go CLIMessage/AssistantMessage.
type claudeMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`

	Result *string `json:"result"`
}

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// ClaudeParser parses Claude Code's stream-json output.
type ClaudeParser struct {
	buf lineBuffer

	mu             sync.Mutex
	sessionID      string
	pendingToolUse map[string]string // tool_use_id -> tool name
}

// NewClaudeParser constructs a ClaudeParser.
func NewClaudeParser() *ClaudeParser {
	return &ClaudeParser{pendingToolUse: make(map[string]string)}
}

func (p *ClaudeParser) ParseChunk(data []byte) ([]model.AgentEvent, error) {
	var events []model.AgentEvent
	for _, line := range p.buf.feed(data) {
		ev, err := p.parseLine(line)
		if err != nil {
			events = append(events, jsonlParseErrorEvents(line, time.Now())...)
			continue
		}
		events = append(events, ev...)
	}
	return events, nil
}

func (p *ClaudeParser) Flush() []model.AgentEvent {
	remainder := p.buf.flush()
	if remainder == nil {
		return nil
	}
	events, err := p.parseLine(remainder)
	if err != nil {
		return jsonlParseErrorEvents(remainder, time.Now())
	}
	return events
}

func (p *ClaudeParser) Reset() {
	p.buf.reset()
	p.mu.Lock()
	p.sessionID = ""
	p.pendingToolUse = make(map[string]string)
	p.mu.Unlock()
}

func (p *ClaudeParser) parseLine(line []byte) ([]model.AgentEvent, error) {
	var msg claudeMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}

	now := time.Now()

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" {
			return []model.AgentEvent{{
				ID:        uuid.New().String(),
				Kind:      model.EventSessionStarted,
				Timestamp: now,
			}}, nil
		}
		return nil, nil

	case "assistant":
		if msg.Message == nil {
			return nil, nil
		}
		return p.handleAssistantContent(msg.Message.Content, now)

	case "result":
		var events []model.AgentEvent
		if msg.Result != nil {
			events = append(events, model.AgentEvent{
				ID:           uuid.New().String(),
				Kind:         model.EventText,
				TextCategory: model.TextCategoryResult,
				Text:         *msg.Result,
				Timestamp:    now,
			})
		}
		events = append(events, model.AgentEvent{
			ID:           uuid.New().String(),
			Kind:         model.EventTurnCompleted,
			Done:         true,
			FinishReason: "done",
			Timestamp:    now,
		})
		return events, nil

	default:
		return nil, nil
	}
}

func (p *ClaudeParser) handleAssistantContent(raw json.RawMessage, now time.Time) ([]model.AgentEvent, error) {
	var blocks []claudeContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		// Some payloads send a bare string content; nothing to extract.
		return nil, nil
	}

	var events []model.AgentEvent
	for _, block := range blocks {
		switch block.Type {
		case "text":
			events = append(events, model.AgentEvent{
				ID:           uuid.New().String(),
				Kind:         model.EventText,
				TextCategory: model.TextCategoryAssistantMessage,
				Text:         block.Text,
				Timestamp:    now,
			})

		case "thinking":
			events = append(events, model.AgentEvent{
				ID:           uuid.New().String(),
				Kind:         model.EventText,
				TextCategory: model.TextCategoryReasoning,
				Text:         block.Thinking,
				Timestamp:    now,
			})

		case "tool_use":
			if block.Name == "TodoWrite" {
				events = append(events, model.AgentEvent{
					ID:        uuid.New().String(),
					Kind:      model.EventTodoList,
					Todos:     parseTodos(block.Input),
					Timestamp: now,
				})
				continue
			}

			p.mu.Lock()
			p.pendingToolUse[block.ID] = block.Name
			p.mu.Unlock()

			events = append(events, model.AgentEvent{
				ID:         uuid.New().String(),
				Kind:       model.EventToolStarted,
				ToolCallID: block.ID,
				ToolName:   block.Name,
				ToolInput:  string(block.Input),
				ToolStatus: "running",
				Timestamp:  now,
			})

		case "tool_result":
			// An orphaned tool_result (no matching tool_use seen) resolves
			// toolName to "unknown" rather than erroring. Preserved
			// intentionally — see DESIGN.md Open Question 2.
			p.mu.Lock()
			name, ok := p.pendingToolUse[block.ToolUseID]
			if ok {
				delete(p.pendingToolUse, block.ToolUseID)
			}
			p.mu.Unlock()
			if !ok {
				name = "unknown"
			}

			status := "complete"
			if block.IsError {
				status = "error"
			}

			events = append(events, model.AgentEvent{
				ID:         uuid.New().String(),
				Kind:       model.EventToolCompleted,
				ToolCallID: block.ToolUseID,
				ToolName:   name,
				ToolOutput: string(block.Content),
				ToolStatus: status,
				Timestamp:  now,
			})
		}
	}
	return events, nil
}

func parseTodos(raw json.RawMessage) []model.TodoItem {
	var payload struct {
		Todos []struct {
			Content string `json:"content"`
			Status  string `json:"status"`
		} `json:"todos"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	todos := make([]model.TodoItem, 0, len(payload.Todos))
	for _, t := range payload.Todos {
		todos = append(todos, model.TodoItem{Content: t.Content, Status: t.Status})
	}
	return todos
}
