// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/vulnhalla/internal/issue"
	"github.com/linnemanlabs/vulnhalla/internal/triage"
)

// Store holds triage artifacts in memory. Suitable for dev/testing.
type Store struct {
	mu     sync.RWMutex
	raws   map[string]*triage.RawArtifact   // issue ID -> raw artifact
	finals map[string]*triage.FinalArtifact // issue ID -> final artifact
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		raws:   make(map[string]*triage.RawArtifact),
		finals: make(map[string]*triage.FinalArtifact),
	}
}

// WriteRaw stores a copy of the raw artifact.
func (s *Store) WriteRaw(_ context.Context, iss *issue.Issue, raw *triage.RawArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *raw
	s.raws[iss.ID] = &cp
	return nil
}

// WriteFinal stores a copy of the final artifact.
func (s *Store) WriteFinal(_ context.Context, iss *issue.Issue, final *triage.FinalArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *final
	s.finals[iss.ID] = &cp
	return nil
}

// ReadFinal retrieves the final artifact for an issue. Returns a copy.
func (s *Store) ReadFinal(_ context.Context, iss *issue.Issue) (*triage.FinalArtifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fa, ok := s.finals[iss.ID]
	if !ok {
		return nil, false, nil
	}
	cp := *fa
	return &cp, true, nil
}

// ReadRaw retrieves the raw artifact for an issue. Returns a copy.
func (s *Store) ReadRaw(_ context.Context, iss *issue.Issue) (*triage.RawArtifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ra, ok := s.raws[iss.ID]
	if !ok {
		return nil, false, nil
	}
	cp := *ra
	return &cp, true, nil
}
