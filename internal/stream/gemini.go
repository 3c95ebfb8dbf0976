package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/converse/internal/model"
)

// geminiEvent mirrors the Gemini CLI's --output-format=json event stream:
// a flat envelope tagged by "type" with inline content/function-call
// payloads, the same general shape as the other two families' protocols
// but without a dedicated teacher reference file.
type geminiEvent struct {
	Type string `json:"type"` // session_start | content | function_call | function_response | turn_complete

	Content *struct {
		Text    string `json:"text"`
		Thought bool   `json:"thought"`
	} `json:"content"`

	FunctionCall *struct {
		ID   string          `json:"id"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	} `json:"function_call"`

	FunctionResponse *struct {
		ID       string `json:"id"`
		Response string `json:"response"`
		IsError  bool   `json:"is_error"`
	} `json:"function_response"`
}

// GeminiParser parses the Gemini CLI's JSON event stream.
type GeminiParser struct {
	buf lineBuffer
}

// NewGeminiParser constructs a GeminiParser.
func NewGeminiParser() *GeminiParser {
	return &GeminiParser{}
}

func (p *GeminiParser) ParseChunk(data []byte) ([]model.AgentEvent, error) {
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

func (p *GeminiParser) Flush() []model.AgentEvent {
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

func (p *GeminiParser) Reset() {
	p.buf.reset()
}

func (p *GeminiParser) parseLine(line []byte) ([]model.AgentEvent, error) {
	var ev geminiEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, err
	}

	now := time.Now()

	switch ev.Type {
	case "session_start":
		return []model.AgentEvent{{ID: uuid.New().String(), Kind: model.EventSessionStarted, Timestamp: now}}, nil

	case "content":
		if ev.Content == nil {
			return nil, nil
		}
		category := model.TextCategoryMessage
		if ev.Content.Thought {
			category = model.TextCategoryReasoning
		}
		return []model.AgentEvent{{
			ID:           uuid.New().String(),
			Kind:         model.EventText,
			TextCategory: category,
			Text:         ev.Content.Text,
			Timestamp:    now,
		}}, nil

	case "function_call":
		if ev.FunctionCall == nil {
			return nil, nil
		}
		return []model.AgentEvent{{
			ID:         uuid.New().String(),
			Kind:       model.EventToolStarted,
			ToolCallID: ev.FunctionCall.ID,
			ToolName:   ev.FunctionCall.Name,
			ToolInput:  string(ev.FunctionCall.Args),
			ToolStatus: "running",
			Timestamp:  now,
		}}, nil

	case "function_response":
		if ev.FunctionResponse == nil {
			return nil, nil
		}
		status := "complete"
		if ev.FunctionResponse.IsError {
			status = "error"
		}
		return []model.AgentEvent{{
			ID:         uuid.New().String(),
			Kind:       model.EventToolCompleted,
			ToolCallID: ev.FunctionResponse.ID,
			ToolOutput: ev.FunctionResponse.Response,
			ToolStatus: status,
			Timestamp:  now,
		}}, nil

	case "turn_complete":
		return []model.AgentEvent{{ID: uuid.New().String(), Kind: model.EventTurnCompleted, Done: true, FinishReason: "done", Timestamp: now}}, nil

	default:
		return nil, nil
	}
}
