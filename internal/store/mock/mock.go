// Package mock provides a test double for the store.Store interface.
//
// The zero value returns store.ErrNotFound for every profile lookup and
// accepts every write. Configure Profiles to serve seeds and read the call
// records after the code under test has run.
package mock

import (
	"context"
	"sync"

	"github.com/voxprep/voxprep/internal/interview"
	"github.com/voxprep/voxprep/internal/session"
	"github.com/voxprep/voxprep/internal/store"
)

// Store is a mock implementation of store.Store backed by in-memory maps.
type Store struct {
	mu sync.Mutex

	// --- Configurable state ---

	// Profiles maps candidate ID to the seed served by SeedProfile.
	Profiles map[string]interview.SeedProfile

	// Summaries maps candidate ID to saved summaries, oldest first.
	Summaries map[string][]session.Summary

	// Err, if non-nil, is returned by every call.
	Err error

	// --- Call records (read after test) ---

	// SeedCalls records the candidate IDs passed to SeedProfile.
	SeedCalls []string

	// SavedProfiles records every SaveProfile argument in order.
	SavedProfiles []interview.SeedProfile

	// SavedSummaries records every SaveSummary argument in order.
	SavedSummaries []session.Summary
}

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// SeedProfile implements store.Store.
func (s *Store) SeedProfile(_ context.Context, candidateID string) (interview.SeedProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SeedCalls = append(s.SeedCalls, candidateID)
	if s.Err != nil {
		return interview.SeedProfile{}, s.Err
	}
	seed, ok := s.Profiles[candidateID]
	if !ok {
		return interview.SeedProfile{}, store.ErrNotFound
	}
	return seed, nil
}

// SaveProfile implements store.Store.
func (s *Store) SaveProfile(_ context.Context, seed interview.SeedProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SavedProfiles = append(s.SavedProfiles, seed)
	if s.Err != nil {
		return s.Err
	}
	if s.Profiles == nil {
		s.Profiles = map[string]interview.SeedProfile{}
	}
	s.Profiles[seed.CandidateID] = seed
	return nil
}

// SaveSummary implements store.Store.
func (s *Store) SaveSummary(_ context.Context, summary session.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SavedSummaries = append(s.SavedSummaries, summary)
	if s.Err != nil {
		return s.Err
	}
	if s.Summaries == nil {
		s.Summaries = map[string][]session.Summary{}
	}
	s.Summaries[summary.CandidateID] = append(s.Summaries[summary.CandidateID], summary)
	return nil
}

// RecentSummaries implements store.Store.
func (s *Store) RecentSummaries(_ context.Context, candidateID string, n int) ([]session.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	all := s.Summaries[candidateID]
	out := []session.Summary{}
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// SummaryCount returns the number of summaries saved for a candidate.
func (s *Store) SummaryCount(candidateID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Summaries[candidateID])
}
