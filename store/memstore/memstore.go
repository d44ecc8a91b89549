// Package memstore implements store.SessionStore, store.SessionLifecycle,
// store.RunStore, and store.RunLogStore entirely in memory: this module's
// required default persistence, usable for tests and local tooling and
// good enough for any host that doesn't need to survive a process restart.
// Grounded on the teacher's
// features/session/mongo/clients/mongo/inmem package: a single mutex
// guarding plain maps, defensive copies on every read/write so callers
// can't mutate shared state through a returned slice or map.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/store"
)

// Store is an in-memory implementation of every contract in package
// store. The zero value is not usable; construct with New.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]store.Snapshot
	sessions  map[string]store.SessionRecord
	runs      map[string]store.RunMeta
	logs      map[string][]event.Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		snapshots: make(map[string]store.Snapshot),
		sessions:  make(map[string]store.SessionRecord),
		runs:      make(map[string]store.RunMeta),
		logs:      make(map[string][]event.Event),
	}
}

// Load implements store.SessionStore.
func (s *Store) Load(_ context.Context, sessionID string) (store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return store.Snapshot{}, store.ErrSnapshotNotFound
	}
	snap.Events = append([]event.Event(nil), snap.Events...)
	return snap, nil
}

// Commit implements store.SessionStore.
func (s *Store) Commit(_ context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Events = append([]event.Event(nil), snap.Events...)
	s.snapshots[snap.SessionID] = snap
	return nil
}

// CreateSession implements store.SessionLifecycle. Idempotent for an
// already-active session; returns store.ErrSessionEnded for an ended one.
func (s *Store) CreateSession(_ context.Context, sessionID string, createdAt time.Time) (store.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		if existing.Status == store.SessionEnded {
			return store.SessionRecord{}, store.ErrSessionEnded
		}
		return existing, nil
	}
	rec := store.SessionRecord{ID: sessionID, Status: store.SessionActive, CreatedAt: createdAt}
	s.sessions[sessionID] = rec
	return rec, nil
}

// LoadSession implements store.SessionLifecycle.
func (s *Store) LoadSession(_ context.Context, sessionID string) (store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return store.SessionRecord{}, store.ErrSessionNotFound
	}
	return rec, nil
}

// EndSession implements store.SessionLifecycle. Idempotent: ending an
// already-ended session just returns its stored record.
func (s *Store) EndSession(_ context.Context, sessionID string, endedAt time.Time) (store.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return store.SessionRecord{}, store.ErrSessionNotFound
	}
	if rec.Status == store.SessionEnded {
		return rec, nil
	}
	ended := endedAt
	rec.Status = store.SessionEnded
	rec.EndedAt = &ended
	s.sessions[sessionID] = rec
	return rec, nil
}

// UpsertRun implements store.RunStore.
func (s *Store) UpsertRun(_ context.Context, run store.RunMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.RunID]
	if ok && run.StartedAt.IsZero() {
		run.StartedAt = existing.StartedAt
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = time.Now()
	}
	run.Labels = cloneStrings(run.Labels)
	run.Metadata = cloneAny(run.Metadata)
	s.runs[run.RunID] = run
	return nil
}

// LoadRun implements store.RunStore.
func (s *Store) LoadRun(_ context.Context, runID string) (store.RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.RunMeta{}, store.ErrRunNotFound
	}
	run.Labels = cloneStrings(run.Labels)
	run.Metadata = cloneAny(run.Metadata)
	return run, nil
}

// ListRunsBySession implements store.RunStore.
func (s *Store) ListRunsBySession(_ context.Context, sessionID string, statuses []store.RunStatus) ([]store.RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := make(map[store.RunStatus]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}
	var out []store.RunMeta
	for _, run := range s.runs {
		if run.SessionID != sessionID {
			continue
		}
		if len(allowed) > 0 && !allowed[run.Status] {
			continue
		}
		run.Labels = cloneStrings(run.Labels)
		run.Metadata = cloneAny(run.Metadata)
		out = append(out, run)
	}
	return out, nil
}

// Append implements store.RunLogStore.
func (s *Store) Append(_ context.Context, runID string, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[runID] = append(s.logs[runID], e)
	return nil
}

// List implements store.RunLogStore. cursor is the decimal offset to
// resume from; an empty cursor starts from the beginning.
func (s *Store) List(_ context.Context, runID string, cursor string, limit int) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := parseCursor(cursor)
	events := s.logs[runID]
	if start > len(events) {
		start = len(events)
	}
	end := len(events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := store.Page{}
	for i := start; i < end; i++ {
		page.Entries = append(page.Entries, store.LogEntry{RunID: runID, Seq: i, Event: events[i]})
	}
	if end < len(events) {
		page.NextCursor = formatCursor(end)
	}
	return page, nil
}

func cloneStrings(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneAny(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
