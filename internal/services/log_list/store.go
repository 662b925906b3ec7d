// Package log_list reconciles a live log subscription and paged historical log
// queries into one deduplicated, newest-first list, and manages that list across
// network switches and teardown.
//
// Components:
//   - Store: the ordered, deduplicated log set and its continuation cursor
//   - LiveFeed: owns the single live subscription and forwards deliveries to the Store
//   - PageFetcher: cursor-based historical retrieval into the Store
//   - Service: reacts to network changes and teardown
//   - SnapshotPublisher: hands Store snapshots to an outbound.SnapshotSink
package log_list

import (
	"slices"
	"sync"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
)

// StoreState is what Store observers receive after every mutation.
// Records must be treated as read-only; it is shared between observers.
type StoreState struct {
	Records    []entity.LogRecord
	NextCursor string
}

// HasNextPage reports whether a continuation cursor is held.
func (s StoreState) HasNextPage() bool {
	return s.NextCursor != ""
}

// Store holds the ordered log list. All mutations go through Reset, IngestLive
// and IngestPage, which keep two invariants: no two records share a LogKey,
// and the sequence is sorted by entity.CompareLogs.
//
// Store is safe for concurrent use. Observers run synchronously, in mutation
// order, while the store lock is held; they must not call back into the Store.
type Store struct {
	mu        sync.Mutex
	records   []entity.LogRecord
	keys      map[entity.LogKey]struct{}
	cursor    string
	epoch     uint64
	observers map[int]func(StoreState)
	nextID    int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		keys:      make(map[entity.LogKey]struct{}),
		observers: make(map[int]func(StoreState)),
	}
}

// Reset drops every record and the continuation cursor, then emits the empty list.
// Pages fetched against an earlier epoch are rejected by IngestPageAt afterwards.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.keys = make(map[entity.LogKey]struct{})
	s.cursor = ""
	s.epoch++
	s.emit()
}

// IngestLive inserts a record pushed by the live feed. It returns false, and
// emits nothing, when a record with the same key is already present.
func (s *Store) IngestLive(r entity.LogRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[r.Key()]; ok {
		return false
	}
	s.keys[r.Key()] = struct{}{}
	s.records = append(s.records, r)
	s.sort()
	s.emit()
	return true
}

// IngestPage merges a historical batch and replaces the continuation cursor.
// An empty nextCursor clears it. It returns how many records were added.
// The list is emitted even when nothing was added, since the cursor changed.
//
// IngestPage ignores the epoch, so a page requested before a Reset would land
// in the new list. Fetchers use IngestPageAt.
func (s *Store) IngestPage(records []entity.LogRecord, nextCursor string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestPage(records, nextCursor)
}

// IngestPageAt is IngestPage guarded by the epoch the fetch was started in.
// It returns false without touching the store if Reset ran since then.
func (s *Store) IngestPageAt(epoch uint64, records []entity.LogRecord, nextCursor string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return 0, false
	}
	return s.ingestPage(records, nextCursor), true
}

func (s *Store) ingestPage(records []entity.LogRecord, nextCursor string) int {
	added := 0
	for _, r := range records {
		if _, ok := s.keys[r.Key()]; ok {
			continue
		}
		s.keys[r.Key()] = struct{}{}
		s.records = append(s.records, r)
		added++
	}

	// Live and paged inserts interleave arbitrarily, so the whole set is re-sorted.
	s.sort()
	s.cursor = nextCursor
	s.emit()
	return added
}

// Records returns a copy of the ordered list. Readers that also need the
// cursor use State, which takes both under one lock.
func (s *Store) Records() []entity.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// State returns the list and cursor as one consistent copy.
func (s *Store) State() StoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreState{Records: slices.Clone(s.records), NextCursor: s.cursor}
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// NextCursor returns the continuation cursor, or "" when no further page is known.
func (s *Store) NextCursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// HasNextPage reports whether a continuation cursor is held.
func (s *Store) HasNextPage() bool {
	return s.NextCursor() != ""
}

// Epoch returns the current reset generation.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// NextPage returns the continuation cursor together with the epoch it belongs to.
func (s *Store) NextPage() (cursor string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.epoch
}

// Subscribe registers fn and immediately replays the current state to it.
// The returned func removes the observer.
func (s *Store) Subscribe(fn func(StoreState)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	fn(StoreState{Records: slices.Clone(s.records), NextCursor: s.cursor})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// sort must be called with s.mu held.
func (s *Store) sort() {
	slices.SortFunc(s.records, entity.CompareLogs)
}

// emit must be called with s.mu held.
func (s *Store) emit() {
	if len(s.observers) == 0 {
		return
	}
	state := StoreState{Records: slices.Clone(s.records), NextCursor: s.cursor}
	for _, fn := range s.observers {
		fn(state)
	}
}
