package routing

import (
	"testing"
	"time"

	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/model"
)

func newTestQueue(cfg Config) *Queue {
	return New(cfg, logger.Default())
}

func item(id, parent, target, intent string, pr model.Priority) *model.RoutingItem {
	return &model.RoutingItem{
		ID:              id,
		ParentMessageID: parent,
		TargetMemberID:  target,
		Intent:          intent,
		Priority:        pr,
		QueuedAt:        time.Now(),
	}
}

func TestEnqueueDuplicateDropped(t *testing.T) {
	q := newTestQueue(Config{MaxQueueSize: 10, MaxBranchSize: 10, MaxLocalSeq: 3})

	if err := q.Enqueue(item("1", "m1", "bob", "reply", model.PriorityReply)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue(item("2", "m1", "bob", "reply", model.PriorityReply))
	if err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected queue len 1, got %d", q.Len())
	}
}

func TestEnqueueQueueOverflowDrops(t *testing.T) {
	q := newTestQueue(Config{MaxQueueSize: 1, MaxBranchSize: 10, MaxLocalSeq: 3})

	if err := q.Enqueue(item("1", "m1", "bob", "reply", model.PriorityReply)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue(item("2", "m2", "carol", "reply", model.PriorityReply))
	if err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestEnqueueBranchOverflowDemotesNotDrops(t *testing.T) {
	// Scenario S3 from spec.md: four items under one parent, routed to four
	// different members. Branch size is counted by shared ParentMessageID,
	// not by shared target, so the 4th item is demoted even though every
	// target is distinct.
	q := newTestQueue(Config{MaxQueueSize: 100, MaxBranchSize: 3, MaxLocalSeq: 3})

	if err := q.Enqueue(item("1", "m1", "bob", "a", model.PriorityInterrupt)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(item("2", "m1", "carol", "b", model.PriorityInterrupt)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(item("3", "m1", "dave", "c", model.PriorityInterrupt)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(item("4", "m1", "erin", "d", model.PriorityInterrupt)); err != nil {
		t.Fatalf("expected demotion, not drop: %v", err)
	}
	if q.Len() != 4 {
		t.Fatalf("expected all four items retained, got len %d", q.Len())
	}

	for _, id := range []string{"1", "2", "3"} {
		next := q.SelectNext()
		if next == nil || next.ID != id || next.Priority != model.PriorityInterrupt {
			t.Fatalf("expected item %s still P1, got %+v", id, next)
		}
	}
	last := q.SelectNext()
	if last == nil || last.ID != "4" || last.Priority != model.PriorityExtend {
		t.Fatalf("expected item 4 demoted to P3_EXTEND, got %+v", last)
	}
}

func TestEnqueueAdjacentDuplicateSkipped(t *testing.T) {
	q := newTestQueue(Config{MaxQueueSize: 100, MaxBranchSize: 100, MaxLocalSeq: 3})

	if err := q.Enqueue(item("1", "m1", "bob", "a", model.PriorityReply)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Same target as the last currently-queued item, different parent so it
	// wouldn't collide on the global dedup key.
	err := q.Enqueue(item("2", "m2", "bob", "b", model.PriorityReply))
	if err != ErrAdjacentDuplicate {
		t.Fatalf("expected ErrAdjacentDuplicate, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected adjacent duplicate to be skipped, got len %d", q.Len())
	}

	next := q.SelectNext()
	if next == nil || next.ID != "1" {
		t.Fatalf("expected original item 1 untouched, got %+v", next)
	}
}

func TestSelectNextP1AlwaysPreempts(t *testing.T) {
	q := newTestQueue(Config{MaxQueueSize: 100, MaxBranchSize: 100, MaxLocalSeq: 1})

	_ = q.Enqueue(item("1", "m1", "bob", "a", model.PriorityReply))
	_ = q.Enqueue(item("2", "m1", "carol", "b", model.PriorityInterrupt))

	next := q.SelectNext()
	if next == nil || next.ID != "2" {
		t.Fatalf("expected P1 item to preempt, got %+v", next)
	}
}

func TestSelectNextFIFOWhenNoLocalSet(t *testing.T) {
	// With lastCompletedMessageID unset, S1 is empty, so selection falls
	// straight to the global set and same-priority items come out in plain
	// enqueue order.
	q := newTestQueue(Config{MaxQueueSize: 100, MaxBranchSize: 100, MaxLocalSeq: 1})

	_ = q.Enqueue(item("1", "m1", "bob", "a", model.PriorityReply))
	first := q.SelectNext()
	if first == nil || first.TargetMemberID != "bob" {
		t.Fatalf("expected first selection to be bob, got %+v", first)
	}

	_ = q.Enqueue(item("2", "m1", "bob", "b", model.PriorityReply))
	_ = q.Enqueue(item("3", "m1", "carol", "c", model.PriorityReply))

	second := q.SelectNext()
	if second == nil || second.ID != "2" {
		t.Fatalf("expected FIFO order to pick item 2 (bob, enqueued first), got %+v", second)
	}
}

func TestSelectNextAntiStarvation(t *testing.T) {
	// Once lastCompletedMessageID names a parent, S1 (items that share it)
	// is preferred up to maxLocalSeq consecutive selections; after that the
	// next pick must come from outside S1 even though an S1 item remains
	// queued.
	q := newTestQueue(Config{MaxQueueSize: 100, MaxBranchSize: 100, MaxLocalSeq: 1})
	q.MarkCompleted("m1")

	_ = q.Enqueue(item("1", "m1", "bob", "a", model.PriorityReply))
	_ = q.Enqueue(item("3", "m2", "carol", "c", model.PriorityReply))
	_ = q.Enqueue(item("2", "m1", "bob", "b", model.PriorityReply))

	first := q.SelectNext()
	if first == nil || first.ID != "1" {
		t.Fatalf("expected local set S1 (parent m1) to win first, got %+v", first)
	}

	second := q.SelectNext()
	if second == nil || second.ID != "3" {
		t.Fatalf("expected anti-starvation to force selection outside S1 (item 3), got %+v", second)
	}
}

func TestMarkCompletedSurvivesClearAndRemoveByTarget(t *testing.T) {
	q := newTestQueue(Config{MaxQueueSize: 100, MaxBranchSize: 100, MaxLocalSeq: 3})

	q.MarkCompleted("msg-42")
	_ = q.Enqueue(item("1", "m1", "bob", "a", model.PriorityReply))

	q.RemoveByTarget("bob")
	if q.LastCompletedMessageID() != "msg-42" {
		t.Fatalf("expected lastCompletedMessageID to survive RemoveByTarget, got %q", q.LastCompletedMessageID())
	}

	q.Clear()
	if q.LastCompletedMessageID() != "msg-42" {
		t.Fatalf("expected lastCompletedMessageID to survive Clear, got %q", q.LastCompletedMessageID())
	}
}
