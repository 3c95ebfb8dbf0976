// Package snapshot implements the coordinator.SessionStorage collaborator:
// persisting and restoring one conversation's history, team task, status,
// and pending-turn state so a process restart (or a deliberate pause) can
// resume where it left off. MemoryStore is the default, in-process backend;
// a pgx-backed Postgres implementation lives in internal/snapshot/postgres.
package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/converse/internal/coordinator"
	"github.com/kandev/converse/internal/model"
)

// MemoryStore implements coordinator.SessionStorage by keeping every
// session's snapshot in a map. Grounded on the teacher's
// repository.MemoryRepository: a mutex-guarded map keyed by ID, copying
// values in and out so a caller mutating its own slice can't reach back into
// the stored snapshot.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]coordinator.Snapshot
}

var _ coordinator.SessionStorage = (*MemoryStore)(nil)

// NewMemoryStore builds an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]coordinator.Snapshot)}
}

// Save stores a copy of snap, overwriting whatever was previously saved
// under the same SessionID.
func (s *MemoryStore) Save(ctx context.Context, snap coordinator.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]*model.ConversationMessage, len(snap.History))
	copy(history, snap.History)
	snap.History = history

	s.snaps[snap.SessionID] = snap
	return nil
}

// Load returns the snapshot saved under sessionID, or an error if none
// exists.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (coordinator.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[sessionID]
	if !ok {
		return coordinator.Snapshot{}, fmt.Errorf("snapshot: no session found: %s", sessionID)
	}

	history := make([]*model.ConversationMessage, len(snap.History))
	copy(history, snap.History)
	snap.History = history
	return snap, nil
}
