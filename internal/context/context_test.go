package context

import (
	"strings"
	"testing"

	"github.com/kandev/converse/internal/model"
)

func TestManagerWindowKeepsOnlyMostRecent(t *testing.T) {
	m := NewManager(2, 4000)
	m.AddMessage(&model.ConversationMessage{ID: "1", SenderName: "alice", Text: "one"})
	m.AddMessage(&model.ConversationMessage{ID: "2", SenderName: "alice", Text: "two"})
	m.AddMessage(&model.ConversationMessage{ID: "3", SenderName: "alice", Text: "three"})

	snap := m.ExportSnapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected window of 2, got %d", len(snap.Messages))
	}
	if snap.Messages[0].ID != "2" || snap.Messages[1].ID != "3" {
		t.Fatalf("expected the two most recent messages, got %+v", snap.Messages)
	}
}

func TestManagerTeamTaskTruncatesToSoftCap(t *testing.T) {
	m := NewManager(5, 10)
	m.SetTeamTask(strings.Repeat("a", 20), "bob")

	snap := m.ExportSnapshot()
	if len(snap.TeamTask.Description) != 10 {
		t.Fatalf("expected truncation to 10 runes, got %d", len(snap.TeamTask.Description))
	}
}

func TestManagerClearResetsState(t *testing.T) {
	m := NewManager(5, 4000)
	m.AddMessage(&model.ConversationMessage{ID: "1", SenderName: "alice", Text: "hi"})
	m.SetTeamTask("ship it", "alice")

	m.Clear()

	snap := m.ExportSnapshot()
	if len(snap.Messages) != 0 || snap.TeamTask.Description != "" {
		t.Fatalf("expected cleared state, got %+v", snap)
	}
}

func TestManagerImportSnapshotRestoresState(t *testing.T) {
	m := NewManager(5, 4000)
	snap := Snapshot{
		Messages: []*model.ConversationMessage{{ID: "1", SenderName: "alice", Text: "hi"}},
		TeamTask: model.TeamTask{Description: "ship it", SetByMember: "alice"},
	}
	m.ImportSnapshot(snap)

	got := m.ExportSnapshot()
	if len(got.Messages) != 1 || got.Messages[0].ID != "1" {
		t.Fatalf("expected imported message, got %+v", got.Messages)
	}
	if got.TeamTask.Description != "ship it" {
		t.Fatalf("expected imported team task, got %+v", got.TeamTask)
	}
}

func TestAssemblePromptClaudeKeepsSystemOutOfBand(t *testing.T) {
	m := NewManager(5, 4000)
	member := &model.Member{SystemInstruction: "be terse"}
	ctx := m.GetContextForAgent(member, &model.ConversationMessage{Text: "go"})

	result := m.AssemblePrompt("claude", ctx)
	if result.SystemFlag != "be terse" {
		t.Fatalf("expected system instruction surfaced via SystemFlag, got %q", result.SystemFlag)
	}
	if strings.Contains(result.Prompt, "[SYSTEM]") {
		t.Fatalf("expected claude prompt to omit an embedded [SYSTEM] section, got %q", result.Prompt)
	}
}

func TestAssemblePromptCodexEmbedsSystem(t *testing.T) {
	m := NewManager(5, 4000)
	member := &model.Member{SystemInstruction: "be terse"}
	ctx := m.GetContextForAgent(member, &model.ConversationMessage{Text: "go"})

	result := m.AssemblePrompt("codex", ctx)
	if result.SystemFlag != "" {
		t.Fatalf("expected codex to embed system text rather than surface a flag, got %q", result.SystemFlag)
	}
	if !strings.Contains(result.Prompt, "[SYSTEM]\nbe terse") {
		t.Fatalf("expected embedded [SYSTEM] section, got %q", result.Prompt)
	}
}

func TestAssemblePromptIncludesParentMessageForRoute(t *testing.T) {
	m := NewManager(5, 4000)
	member := &model.Member{}
	parent := &model.ConversationMessage{SenderName: "alice", Text: "please help bob"}
	ctx := m.GetContextForRoute(member, &model.ConversationMessage{Text: "ok"}, parent)

	result := m.AssemblePrompt("gemini", ctx)
	if !strings.Contains(result.Prompt, "[ADDRESSED_BY]\nalice: please help bob") {
		t.Fatalf("expected addressed-by section naming the parent sender, got %q", result.Prompt)
	}
}
