package stream

import (
	"testing"

	"github.com/kandev/converse/internal/model"
)

func TestClaudeParserSessionStarted(t *testing.T) {
	p := NewClaudeParser()
	events, err := p.ParseChunk([]byte(`{"type":"system","subtype":"init"}` + "\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.EventSessionStarted {
		t.Fatalf("expected one session.started event, got %+v", events)
	}
}

func TestClaudeParserTodoWriteSuppressesToolStarted(t *testing.T) {
	p := NewClaudeParser()
	line := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"tool_use","id":"t1","name":"TodoWrite","input":{"todos":[{"content":"write tests","status":"pending"}]}}` +
		`]}}` + "\n"

	events, err := p.ParseChunk([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.EventTodoList {
		t.Fatalf("expected a single todo_list event (no tool.started), got %+v", events)
	}
	if len(events[0].Todos) != 1 || events[0].Todos[0].Content != "write tests" {
		t.Fatalf("expected todo content parsed, got %+v", events[0].Todos)
	}
}

func TestClaudeParserOrphanedToolResultResolvesUnknown(t *testing.T) {
	p := NewClaudeParser()
	line := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"tool_result","tool_use_id":"never-seen","content":"done"}` +
		`]}}` + "\n"

	events, err := p.ParseChunk([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].ToolName != "unknown" {
		t.Fatalf("expected orphaned tool_result to resolve toolName=unknown, got %+v", events)
	}
}

func TestClaudeParserToolUseThenResultResolvesName(t *testing.T) {
	p := NewClaudeParser()
	start := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"tool_use","id":"t2","name":"Bash","input":{"command":"ls"}}` +
		`]}}` + "\n"
	end := `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"tool_result","tool_use_id":"t2","content":"file.txt"}` +
		`]}}` + "\n"

	if _, err := p.ParseChunk([]byte(start)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events, err := p.ParseChunk([]byte(end))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].ToolName != "Bash" || events[0].ToolStatus != "complete" {
		t.Fatalf("expected matched tool_result to resolve toolName=Bash, got %+v", events)
	}
}

func TestClaudeParserMalformedLineEmitsErrorThenText(t *testing.T) {
	p := NewClaudeParser()
	line := `not json` + "\n"

	events, err := p.ParseChunk([]byte(line))
	if err != nil {
		t.Fatalf("a malformed line must not abort the stream: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected an error event followed by a text event, got %+v", events)
	}
	if events[0].Kind != model.EventError || events[0].ErrorCode != "JSONL_PARSE_ERROR" {
		t.Fatalf("expected a JSONL_PARSE_ERROR event first, got %+v", events[0])
	}
	if events[1].Kind != model.EventText || events[1].Text != "not json" {
		t.Fatalf("expected the raw line verbatim as a text event, got %+v", events[1])
	}

	followUp, err := p.ParseChunk([]byte(`{"type":"system","subtype":"init"}` + "\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(followUp) != 1 || followUp[0].Kind != model.EventSessionStarted {
		t.Fatalf("expected parsing to continue past the malformed line, got %+v", followUp)
	}
}

func TestClaudeParserFlushHandlesPartialLine(t *testing.T) {
	p := NewClaudeParser()
	if _, err := p.ParseChunk([]byte(`{"type":"system","subtype":"init"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := p.Flush()
	if len(events) != 1 || events[0].Kind != model.EventSessionStarted {
		t.Fatalf("expected flush to parse the trailing unterminated line, got %+v", events)
	}
}
