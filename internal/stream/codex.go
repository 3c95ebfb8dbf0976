package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/converse/internal/model"
)

// codexNotification mirrors Codex's JSON-RPC-over-stdio notification
// envelope (method + params), grounded on the teacher's pkg/codex/types.go.
type codexNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type codexItem struct {
	ID               string `json:"id"`
	Type             string `json:"type"` // command_execution | file_change | file_read | web_search | reasoning | agent_message
	Command          string `json:"command"`
	AggregatedOutput string `json:"aggregated_output"`
	ExitCode         *int   `json:"exit_code"`
	Summary          []struct {
		Text string `json:"text"`
	} `json:"summary"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type codexItemParams struct {
	Item codexItem `json:"item"`
}

type codexTurnCompletedParams struct {
	Success bool `json:"success"`
}

// codexToolName maps a Codex item type to the human-readable tool name the
// rest of the system uses to display it.
var codexToolName = map[string]string{
	"command_execution": "Bash",
	"file_change":       "Write",
	"file_read":         "Read",
	"web_search":        "WebSearch",
}

// CodexParser parses Codex's JSON-RPC-over-stdio notification stream.
type CodexParser struct {
	buf lineBuffer
}

// NewCodexParser constructs a CodexParser.
func NewCodexParser() *CodexParser {
	return &CodexParser{}
}

func (p *CodexParser) ParseChunk(data []byte) ([]model.AgentEvent, error) {
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

func (p *CodexParser) Flush() []model.AgentEvent {
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

func (p *CodexParser) Reset() {
	p.buf.reset()
}

func (p *CodexParser) parseLine(line []byte) ([]model.AgentEvent, error) {
	var note codexNotification
	if err := json.Unmarshal(line, &note); err != nil {
		return nil, err
	}

	now := time.Now()

	switch note.Method {
	case "thread/started":
		return []model.AgentEvent{{
			ID:        uuid.New().String(),
			Kind:      model.EventSessionStarted,
			Timestamp: now,
		}}, nil

	case "item/started":
		var params codexItemParams
		if err := json.Unmarshal(note.Params, &params); err != nil {
			return nil, err
		}
		name, known := codexToolName[params.Item.Type]
		if !known {
			return nil, nil
		}
		return []model.AgentEvent{{
			ID:         uuid.New().String(),
			Kind:       model.EventToolStarted,
			ToolCallID: params.Item.ID,
			ToolName:   name,
			ToolInput:  params.Item.Command,
			ToolStatus: "running",
			Timestamp:  now,
		}}, nil

	case "item/completed":
		var params codexItemParams
		if err := json.Unmarshal(note.Params, &params); err != nil {
			return nil, err
		}
		return p.handleItemCompleted(params.Item, now), nil

	case "turn/completed":
		var params codexTurnCompletedParams
		_ = json.Unmarshal(note.Params, &params)
		return []model.AgentEvent{{
			ID:           uuid.New().String(),
			Kind:         model.EventTurnCompleted,
			Done:         true,
			FinishReason: "done",
			Timestamp:    now,
		}}, nil

	default:
		return nil, nil
	}
}

func (p *CodexParser) handleItemCompleted(item codexItem, now time.Time) []model.AgentEvent {
	switch item.Type {
	case "reasoning":
		return []model.AgentEvent{{
			ID:           uuid.New().String(),
			Kind:         model.EventText,
			TextCategory: model.TextCategoryReasoning,
			Text:         joinTexts(item.Summary),
			Timestamp:    now,
		}}

	case "agent_message":
		return []model.AgentEvent{{
			ID:           uuid.New().String(),
			Kind:         model.EventText,
			TextCategory: model.TextCategoryMessage,
			Text:         joinTexts(item.Content),
			Timestamp:    now,
		}}

	default:
		name, known := codexToolName[item.Type]
		if !known {
			return nil
		}
		status := "complete"
		if item.ExitCode != nil && *item.ExitCode != 0 {
			status = "error"
		}
		return []model.AgentEvent{{
			ID:         uuid.New().String(),
			Kind:       model.EventToolCompleted,
			ToolCallID: item.ID,
			ToolName:   name,
			ToolOutput: item.AggregatedOutput,
			ToolStatus: status,
			Timestamp:  now,
		}}
	}
}

func joinTexts(parts []struct {
	Text string `json:"text"`
}) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p.Text
	}
	return out
}
