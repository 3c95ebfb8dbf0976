// Package routing implements the priority routing queue (C4): a
// three-phase scheduler over pending dispatches (RoutingItems), with
// dedup, branch/queue overflow protection, and anti-starvation between a
// "local" conversation thread and the rest of the team.
package routing

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the queue is at max capacity.
	ErrQueueFull = errors.New("routing queue is full")
	// ErrDuplicate is returned when an identical RoutingItem is already
	// queued (same parentMessageId:targetMemberId:intent).
	ErrDuplicate = errors.New("routing item already queued")
	// ErrAdjacentDuplicate is returned when the last currently-queued item
	// already targets the same member as the new one.
	ErrAdjacentDuplicate = errors.New("adjacent_duplicate")
)

// entry wraps a model.RoutingItem with the bookkeeping container/heap needs.
type entry struct {
	item  *model.RoutingItem
	index int
}

type itemHeap []*entry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority < h[j].item.Priority // lower value = higher priority
	}
	return h[i].item.QueuedAt.Before(h[j].item.QueuedAt)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Stats summarizes queue occupancy for the status surface.
type Stats struct {
	Len                   int
	ByTargetMember        map[string]int
	LastCompletedMessageID string
}

// Queue is the C4 routing queue.
type Queue struct {
	mu          sync.Mutex
	heap        itemHeap
	byID        map[string]*entry
	dedup       map[string]*entry   // DedupKey -> entry
	byTarget    map[string][]*entry // target member -> queued entries, for RemoveByTarget/Stats
	byParent    map[string][]*entry // parentMessageId -> queued entries, for branch-cap counting
	insertOrder []*entry            // enqueue order, for adjacent-dedup's "last currently-queued item"

	maxQueueSize  int
	maxBranchSize int
	maxLocalSeq   int

	// anti-starvation state: S1 is recomputed at selection time from
	// lastCompletedMessageID, not tracked as a sticky member.
	localSeqCount int

	lastCompletedMessageID string

	logger *logger.Logger
}

// Config tunes the queue's overflow and anti-starvation thresholds.
type Config struct {
	MaxQueueSize  int
	MaxBranchSize int
	MaxLocalSeq   int
}

// New creates a routing queue.
func New(cfg Config, log *logger.Logger) *Queue {
	q := &Queue{
		heap:          make(itemHeap, 0),
		byID:          make(map[string]*entry),
		dedup:         make(map[string]*entry),
		byTarget:      make(map[string][]*entry),
		byParent:      make(map[string][]*entry),
		maxQueueSize:  cfg.MaxQueueSize,
		maxBranchSize: cfg.MaxBranchSize,
		maxLocalSeq:   cfg.MaxLocalSeq,
		logger:        log.WithFields(zap.String("component", "routing-queue")),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a routing item to the queue.
//
// Queue overflow: checked first; if the queue as a whole is already at
// maxQueueSize, the new item is dropped and ErrQueueFull is returned.
//
// Branch overflow: branch size is the count of already-queued items
// sharing this item's ParentMessageID (everything dispatched off the same
// source message, regardless of which member each one targets). If that
// count is already at maxBranchSize, the new item is demoted to
// PriorityExtend rather than dropped — a flooded branch degrades to
// "handle me whenever," it never silently loses a message.
//
// Dedup: an item whose DedupKey (parentMessageId:targetMemberId:intent,
// computed after any branch-cap demotion) matches one already queued is
// dropped and ErrDuplicate is returned.
//
// Adjacent dedup: if the last currently-queued item (in enqueue order)
// targets the same member as this one, the new item is skipped and
// ErrAdjacentDuplicate is returned.
func (q *Queue) Enqueue(item *model.RoutingItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxQueueSize > 0 && len(q.heap) >= q.maxQueueSize {
		q.logger.Warn("routing queue full, dropping item", zap.String("reason", "queue_overflow"))
		return ErrQueueFull
	}

	if q.maxBranchSize > 0 && len(q.byParent[item.ParentMessageID]) >= q.maxBranchSize {
		item.Priority = model.PriorityExtend
		q.logger.Warn("branch size cap reached, demoting item to P3_EXTEND",
			zap.String("parent_message_id", item.ParentMessageID))
	}

	key := item.DedupKey()
	if _, exists := q.dedup[key]; exists {
		q.logger.Debug("dropping duplicate routing item", zap.String("dedup_key", key))
		return ErrDuplicate
	}

	if len(q.insertOrder) > 0 {
		if last := q.insertOrder[len(q.insertOrder)-1]; last.item.TargetMemberID == item.TargetMemberID {
			q.logger.Debug("dropping adjacent duplicate routing item",
				zap.String("target_member_id", item.TargetMemberID))
			return ErrAdjacentDuplicate
		}
	}

	e := &entry{item: item}
	heap.Push(&q.heap, e)
	q.byID[item.ID] = e
	q.dedup[key] = e
	q.byTarget[item.TargetMemberID] = append(q.byTarget[item.TargetMemberID], e)
	q.byParent[item.ParentMessageID] = append(q.byParent[item.ParentMessageID], e)
	q.insertOrder = append(q.insertOrder, e)

	return nil
}

// SelectNext implements the three-phase selection:
//
//   - P1 (global preemption): any queued PriorityInterrupt item always wins,
//     regardless of the local/global anti-starvation state, and resets
//     localSeqCount.
//   - Local set (S1): items whose ParentMessageID equals
//     lastCompletedMessageID, i.e. follow-ups to the message that most
//     recently finished processing. Preferred for up to maxLocalSeq
//     consecutive selections, so a back-and-forth conversation thread isn't
//     constantly interrupted by the rest of the team.
//   - Global set (S2): every remaining item. Used once S1 is empty or the
//     local run hits maxLocalSeq, so a quiet member can't be starved
//     indefinitely by one chatty thread.
//
// Within whichever set is chosen, ties break by priority then queued time
// (the underlying heap ordering).
func (q *Queue) SelectNext() *model.RoutingItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}

	if e := q.popBestWhere(func(it *model.RoutingItem) bool {
		return it.Priority == model.PriorityInterrupt
	}); e != nil {
		q.localSeqCount = 0
		return e
	}

	if q.lastCompletedMessageID != "" && q.localSeqCount < q.maxLocalSeq {
		if e := q.popBestWhere(func(it *model.RoutingItem) bool {
			return it.ParentMessageID == q.lastCompletedMessageID
		}); e != nil {
			q.localSeqCount++
			return e
		}
	}

	q.localSeqCount = 0
	return q.popBestWhere(func(*model.RoutingItem) bool { return true })
}

// popBestWhere removes and returns the highest-priority item matching pred,
// preserving heap ordering among the remaining items.
func (q *Queue) popBestWhere(pred func(*model.RoutingItem) bool) *model.RoutingItem {
	var candidate *entry
	for _, e := range q.heap {
		if !pred(e.item) {
			continue
		}
		if candidate == nil || less(e, candidate) {
			candidate = e
		}
	}
	if candidate == nil {
		return nil
	}
	q.removeEntry(candidate)
	return candidate.item
}

func less(a, b *entry) bool {
	if a.item.Priority != b.item.Priority {
		return a.item.Priority < b.item.Priority
	}
	return a.item.QueuedAt.Before(b.item.QueuedAt)
}

func (q *Queue) removeEntry(e *entry) {
	heap.Remove(&q.heap, e.index)
	delete(q.byID, e.item.ID)
	delete(q.dedup, e.item.DedupKey())

	branch := q.byTarget[e.item.TargetMemberID]
	for i, be := range branch {
		if be == e {
			q.byTarget[e.item.TargetMemberID] = append(branch[:i], branch[i+1:]...)
			break
		}
	}
	if len(q.byTarget[e.item.TargetMemberID]) == 0 {
		delete(q.byTarget, e.item.TargetMemberID)
	}

	parentBranch := q.byParent[e.item.ParentMessageID]
	for i, be := range parentBranch {
		if be == e {
			q.byParent[e.item.ParentMessageID] = append(parentBranch[:i], parentBranch[i+1:]...)
			break
		}
	}
	if len(q.byParent[e.item.ParentMessageID]) == 0 {
		delete(q.byParent, e.item.ParentMessageID)
	}

	for i, oe := range q.insertOrder {
		if oe == e {
			q.insertOrder = append(q.insertOrder[:i], q.insertOrder[i+1:]...)
			break
		}
	}
}

// RemoveByTarget removes every pending item addressed to targetMemberID,
// e.g. when that member leaves the conversation. This does not touch
// lastCompletedMessageID: that field tracks conversation progress, not
// queue contents.
func (q *Queue) RemoveByTarget(targetMemberID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	branch := append([]*entry(nil), q.byTarget[targetMemberID]...)
	for _, e := range branch {
		q.removeEntry(e)
	}
	q.localSeqCount = 0
	return len(branch)
}

// Clear empties the queue entirely. Like RemoveByTarget, this does not
// clear lastCompletedMessageID — see DESIGN.md Open Question 3.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = make(itemHeap, 0)
	q.byID = make(map[string]*entry)
	q.dedup = make(map[string]*entry)
	q.byTarget = make(map[string][]*entry)
	q.byParent = make(map[string][]*entry)
	q.insertOrder = nil
	q.localSeqCount = 0
	heap.Init(&q.heap)
}

// MarkCompleted records the most recently completed message ID. It is
// never cleared by Clear or RemoveByTarget.
func (q *Queue) MarkCompleted(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastCompletedMessageID = messageID
}

// LastCompletedMessageID returns the ID set by the most recent
// MarkCompleted call, or "" if none has happened yet.
func (q *Queue) LastCompletedMessageID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastCompletedMessageID
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Stats returns a snapshot of queue occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byTarget := make(map[string]int, len(q.byTarget))
	for target, entries := range q.byTarget {
		byTarget[target] = len(entries)
	}

	return Stats{
		Len:                    len(q.heap),
		ByTargetMember:         byTarget,
		LastCompletedMessageID: q.lastCompletedMessageID,
	}
}
