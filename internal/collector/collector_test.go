package collector

import (
	"testing"

	"github.com/kandev/converse/internal/model"
)

func TestCollectorIngestBuildsTurnSummary(t *testing.T) {
	c := New()

	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventSessionStarted})
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventText, TextCategory: model.TextCategoryAssistantMessage, Text: "hello "})
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventToolStarted, ToolName: "Bash"})
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventToolCompleted, ToolName: "Bash", ToolStatus: "complete"})
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventText, TextCategory: model.TextCategoryAssistantMessage, Text: "world"})
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventTurnCompleted, Done: true})

	summaries := c.RecentSummaries("m1", 0)
	if len(summaries) != 1 {
		t.Fatalf("expected one completed turn summary, got %d", len(summaries))
	}
	if summaries[0].Text != "hello world" {
		t.Fatalf("expected concatenated assistant text, got %q", summaries[0].Text)
	}
	if summaries[0].ToolCalls != 1 {
		t.Fatalf("expected one tool call counted, got %d", summaries[0].ToolCalls)
	}

	raw := c.RecentRaw("m1", 0)
	if len(raw) != 6 {
		t.Fatalf("expected all 6 raw events retained, got %d", len(raw))
	}
}

func TestCollectorRawBufferCapsAt1000(t *testing.T) {
	c := New()
	for i := 0; i < 1500; i++ {
		c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventText, Text: "x"})
	}
	raw := c.RecentRaw("m1", 0)
	if len(raw) != rawBufferCap {
		t.Fatalf("expected raw buffer capped at %d, got %d", rawBufferCap, len(raw))
	}
}

func TestCollectorSummaryBufferCapsAt200(t *testing.T) {
	c := New()
	for i := 0; i < 250; i++ {
		c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventSessionStarted})
		c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventTurnCompleted, Done: true})
	}
	summaries := c.RecentSummaries("m1", 0)
	if len(summaries) != summaryBufferCap {
		t.Fatalf("expected summary buffer capped at %d, got %d", summaryBufferCap, len(summaries))
	}
}

func TestCollectorListenerReceivesEvents(t *testing.T) {
	c := New()
	var got []model.AgentEvent
	unsubscribe := c.AddListener("m1", func(event model.AgentEvent) {
		got = append(got, event)
	})

	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventSessionStarted})
	if len(got) != 1 {
		t.Fatalf("expected listener to receive 1 event, got %d", len(got))
	}

	unsubscribe()
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventTurnCompleted})
	if len(got) != 1 {
		t.Fatalf("expected no further delivery after unsubscribe, got %d events", len(got))
	}
}

func TestCollectorMultipleListenersAllRemovable(t *testing.T) {
	c := New()
	var countA, countB int
	unsubA := c.AddListener("m1", func(event model.AgentEvent) { countA++ })
	unsubB := c.AddListener("m1", func(event model.AgentEvent) { countB++ })

	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventSessionStarted})
	unsubA()
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventSessionStarted})
	unsubB()
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventSessionStarted})

	if countA != 1 {
		t.Fatalf("expected listener A to stop after its own unsubscribe, got %d", countA)
	}
	if countB != 2 {
		t.Fatalf("expected listener B to keep receiving until its own unsubscribe, got %d", countB)
	}
}

func TestCollectorCleanupMemberClearsState(t *testing.T) {
	c := New()
	c.Ingest(model.AgentEvent{MemberID: "m1", Kind: model.EventSessionStarted})
	c.CleanupMember("m1")

	if raw := c.RecentRaw("m1", 0); len(raw) != 0 {
		t.Fatalf("expected cleared buffer, got %d events", len(raw))
	}
}
