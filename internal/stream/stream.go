// Package stream implements C2: one incremental parser per agent family,
// reducing that family's vendor stream-JSON into the shared model.AgentEvent
// shape. Parsers are pull-based (ParseChunk/Flush/Reset) rather than
// read-loop based, since the agent manager owns the actual stdout pipe.
package stream

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/converse/internal/model"
)

// Parser is implemented by each agent family's stream parser.
type Parser interface {
	// ParseChunk appends raw bytes read from the agent's stdout and
	// returns any AgentEvents completed line(s) produced. Partial lines
	// are buffered internally until the next chunk or Flush.
	ParseChunk(data []byte) ([]model.AgentEvent, error)

	// Flush forces any buffered partial line to be parsed as-is (used at
	// process exit) and returns whatever events that yields.
	Flush() []model.AgentEvent

	// Reset clears all parser state, including buffered partial lines and
	// any in-flight tool-call tracking, for reuse across a new session.
	Reset()
}

// lineBuffer accumulates bytes and yields complete newline-terminated lines,
// the pull-based analog of the teacher's bufio.Scanner-over-stdout idiom in
// pkg/claudecode/client.go.
type lineBuffer struct {
	buf []byte
}

func (lb *lineBuffer) feed(data []byte) [][]byte {
	lb.buf = append(lb.buf, data...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(lb.buf, '\n')
		if idx < 0 {
			break
		}
		line := lb.buf[:idx]
		lb.buf = lb.buf[idx+1:]
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
	}
	return lines
}

func (lb *lineBuffer) flush() []byte {
	remainder := bytes.TrimSpace(lb.buf)
	lb.buf = nil
	if len(remainder) == 0 {
		return nil
	}
	return remainder
}

func (lb *lineBuffer) reset() {
	lb.buf = nil
}

// jsonlParseErrorEvents builds the {error, text} pair every parser emits in
// place of aborting when a stream line fails to parse: an error event
// carrying JSONL_PARSE_ERROR, followed by a text event carrying the raw
// line verbatim so nothing the agent printed is silently lost.
func jsonlParseErrorEvents(line []byte, now time.Time) []model.AgentEvent {
	return []model.AgentEvent{
		{
			ID:           uuid.New().String(),
			Kind:         model.EventError,
			ErrorCode:    "JSONL_PARSE_ERROR",
			ErrorMessage: "failed to parse stream line as JSON",
			Timestamp:    now,
		},
		{
			ID:           uuid.New().String(),
			Kind:         model.EventText,
			TextCategory: model.TextCategoryMessage,
			Text:         string(line),
			Timestamp:    now,
		},
	}
}
