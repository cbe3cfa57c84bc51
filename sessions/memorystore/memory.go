// Package memorystore provides an in-memory sessions.Store suitable for a
// single portal process, development, and tests. Records are lost on exit.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/recordsportal/sessions"
)

// Store is an in-memory implementation of sessions.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]sessions.Session
}

func New() *Store {
	return &Store{sessions: make(map[string]sessions.Session)}
}

func (s *Store) Get(ctx context.Context, token string) (*sessions.Session, error) {
	s.mu.RLock()
	rec, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return &rec, nil
}

// Put stores the record. The expiry hint is ignored; sweeps reclaim
// abandoned records.
func (s *Store) Put(ctx context.Context, rec sessions.Session, _ time.Time) error {
	s.mu.Lock()
	s.sessions[rec.Token] = rec
	s.mu.Unlock()
	return nil
}

// Update replaces the record only while it is present.
func (s *Store) Update(ctx context.Context, rec sessions.Session, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.Token]; !ok {
		return sessions.ErrNotFound
	}
	s.sessions[rec.Token] = rec
	return nil
}

func (s *Store) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// Scan iterates over a snapshot taken under the read lock, so fn runs
// without holding it and may call back into the store.
func (s *Store) Scan(ctx context.Context, fn func(sessions.Session) error) error {
	s.mu.RLock()
	snapshot := make([]sessions.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		snapshot = append(snapshot, rec)
	}
	s.mu.RUnlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Ensure interface compliance
var _ sessions.Store = (*Store)(nil)
