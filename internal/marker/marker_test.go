package marker

import (
	"testing"

	"github.com/kandev/converse/internal/model"
)

func TestParseFrom(t *testing.T) {
	r := Parse("[FROM:alice] hello there")
	if r.From != "alice" {
		t.Fatalf("expected From=alice, got %q", r.From)
	}
	if r.CleanedText != "[FROM:alice] hello there" {
		t.Fatalf("expected FROM marker preserved in cleaned text, got %q", r.CleanedText)
	}
}

func TestParseTeamTaskLastWriteWinsWithinSameMessage(t *testing.T) {
	r := Parse("[TEAM_TASK:first draft] some text [TEAM_TASK:final draft]")
	if !r.HasTeamTask {
		t.Fatal("expected HasTeamTask to be true")
	}
	if r.TeamTask != "final draft" {
		t.Fatalf("expected last TEAM_TASK to win, got %q", r.TeamTask)
	}
	if r.CleanedText != "[TEAM_TASK:first draft] some text [TEAM_TASK:final draft]" {
		t.Fatalf("expected TEAM_TASK markers preserved in cleaned text, got %q", r.CleanedText)
	}
}

func TestParseNextWithPriorities(t *testing.T) {
	r := Parse("[NEXT:bob!P1,carol!P3,dave]")
	if len(r.Addressees) != 3 {
		t.Fatalf("expected 3 addressees, got %d", len(r.Addressees))
	}

	want := []model.ParsedAddressee{
		{MemberName: "bob", Priority: model.PriorityInterrupt, Interrupt: true},
		{MemberName: "carol", Priority: model.PriorityExtend},
		{MemberName: "dave", Priority: model.PriorityReply},
	}
	for i, w := range want {
		got := r.Addressees[i]
		if got.MemberName != w.MemberName || got.Priority != w.Priority || got.Interrupt != w.Interrupt {
			t.Fatalf("addressee %d: got %+v, want %+v", i, got, w)
		}
	}
	if r.CleanedText != "" {
		t.Fatalf("expected NEXT marker stripped leaving empty text, got %q", r.CleanedText)
	}
}

func TestParseNextCollectsAllMarkers(t *testing.T) {
	r := Parse("[NEXT:bob!P1] some text [NEXT:carol,dave!P3]")
	if len(r.Addressees) != 3 {
		t.Fatalf("expected addressees from both NEXT blocks, got %d: %+v", len(r.Addressees), r.Addressees)
	}

	want := []model.ParsedAddressee{
		{MemberName: "bob", Priority: model.PriorityInterrupt, Interrupt: true},
		{MemberName: "carol", Priority: model.PriorityReply},
		{MemberName: "dave", Priority: model.PriorityExtend},
	}
	for i, w := range want {
		got := r.Addressees[i]
		if got.MemberName != w.MemberName || got.Priority != w.Priority || got.Interrupt != w.Interrupt {
			t.Fatalf("addressee %d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestParseNoMarkers(t *testing.T) {
	r := Parse("just plain text")
	if r.From != "" || r.HasTeamTask || len(r.Addressees) != 0 {
		t.Fatalf("expected no markers parsed, got %+v", r)
	}
	if r.CleanedText != "just plain text" {
		t.Fatalf("expected text unchanged, got %q", r.CleanedText)
	}
}

func TestStripNextOnlyPreservesFromAndTeamTask(t *testing.T) {
	in := "[FROM:alice] [TEAM_TASK:ship it] [NEXT:bob!P1] go"
	got := StripNextOnly(in)
	want := "[FROM:alice] [TEAM_TASK:ship it]  go"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestStripNextOnlyAddresseesAlwaysEmpty(t *testing.T) {
	in := "[FROM:alice] [NEXT:bob!P1,carol!P2] hello"
	out := StripNextOnly(in)
	if got := Parse(out).Addressees; len(got) != 0 {
		t.Fatalf("expected no addressees after stripping NEXT, got %+v", got)
	}
}

func TestStripAllMarkersRemovesEverything(t *testing.T) {
	in := "[FROM:alice] [TEAM_TASK:ship it] [NEXT:bob!P1] go"
	got := StripAllMarkers(in)
	if got != "go" {
		t.Fatalf("expected all markers stripped, got %q", got)
	}
}
