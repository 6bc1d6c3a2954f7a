// Package setupstate persists which obligations have been blocked by an
// unrecoverable setup failure (component P).
package setupstate

import (
	"os"
	"sync"

	"github.com/kamino-liq/liqengine/internal/solanaio"
)

// BlockedEntry records why and when a key was blocked.
type BlockedEntry struct {
	Reason string `json:"reason"`
	AtMs   int64  `json:"atMs"`
}

type fileFormat struct {
	Blocked map[string]BlockedEntry `json:"blocked"`
}

// Store is the persistent blocked-key set, consulted before dispatch by
// cmd/bot's cycle loop (spec §4.P).
type Store struct {
	mu      sync.Mutex
	path    string
	blocked map[string]BlockedEntry
}

// Load reads the store from path, or starts empty if it doesn't exist yet.
func Load(path string) (*Store, error) {
	s := &Store{path: path, blocked: make(map[string]BlockedEntry)}

	var data fileFormat
	if err := solanaio.ReadJSON(path, &data); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if data.Blocked != nil {
		s.blocked = data.Blocked
	}
	return s, nil
}

// MarkBlocked records key as blocked with reason and the current time and
// persists the store atomically.
func (s *Store) MarkBlocked(key, reason string, nowMs int64) error {
	s.mu.Lock()
	s.blocked[key] = BlockedEntry{Reason: reason, AtMs: nowMs}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return solanaio.WriteJSONAtomic(s.path, snapshot)
}

// IsBlocked reports whether key is currently blocked.
func (s *Store) IsBlocked(key string) (BlockedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.blocked[key]
	return e, ok
}

// ClearBlocked removes key from the blocked set and persists the store.
func (s *Store) ClearBlocked(key string) error {
	s.mu.Lock()
	delete(s.blocked, key)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return solanaio.WriteJSONAtomic(s.path, snapshot)
}

func (s *Store) snapshotLocked() fileFormat {
	copied := make(map[string]BlockedEntry, len(s.blocked))
	for k, v := range s.blocked {
		copied[k] = v
	}
	return fileFormat{Blocked: copied}
}
