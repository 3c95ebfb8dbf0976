package snapshot

import (
	"context"
	"testing"

	"github.com/kandev/converse/internal/coordinator"
	"github.com/kandev/converse/internal/model"
)

func TestMemoryStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := coordinator.Snapshot{
		SessionID: "sess-1",
		History: []*model.ConversationMessage{
			{ID: "m1", SenderMemberID: "alice", Text: "hello"},
		},
		TeamTask:           model.TeamTask{Description: "ship it", SetByMember: "alice"},
		Status:             coordinator.StatusPaused,
		WaitingForMemberID: "bob",
	}

	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != coordinator.StatusPaused {
		t.Fatalf("expected status paused, got %q", got.Status)
	}
	if got.WaitingForMemberID != "bob" {
		t.Fatalf("expected waiting on bob, got %q", got.WaitingForMemberID)
	}
	if len(got.History) != 1 || got.History[0].Text != "hello" {
		t.Fatalf("expected history round-trip, got %+v", got.History)
	}
	if got.TeamTask.Description != "ship it" {
		t.Fatalf("expected team task round-trip, got %+v", got.TeamTask)
	}
}

func TestMemoryStoreLoadUnknownSessionErrors(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Load(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error loading an unknown session")
	}
}

func TestMemoryStoreSaveCopiesHistorySlice(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	history := []*model.ConversationMessage{{ID: "m1", Text: "one"}}
	snap := coordinator.Snapshot{SessionID: "sess-2", History: history}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the caller's slice after Save must not affect what's stored.
	history[0] = &model.ConversationMessage{ID: "m2", Text: "mutated"}

	got, err := store.Load(ctx, "sess-2")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.History[0].Text != "one" {
		t.Fatalf("expected stored snapshot unaffected by caller mutation, got %q", got.History[0].Text)
	}
}
