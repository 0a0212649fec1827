// Package store persists candidate profiles and finished session summaries.
//
// A profile is the durable seed a new session starts from (target role,
// experience level, carried-over weak and strong areas). A summary is the
// immutable record of one completed session. Saving a summary also folds its
// final weak/strong areas back into the profile so the next session starts
// from where the last one ended.
package store

import (
	"context"
	"errors"

	"github.com/voxprep/voxprep/internal/interview"
	"github.com/voxprep/voxprep/internal/session"
)

// ErrNotFound is returned when no profile exists for a candidate ID.
var ErrNotFound = errors.New("store: candidate not found")

// Store provides persistence for candidate profiles and session summaries.
// Implementations must be safe for concurrent use.
type Store interface {
	// SeedProfile loads the stored profile for a candidate.
	// Returns ErrNotFound if the candidate has never been saved.
	SeedProfile(ctx context.Context, candidateID string) (interview.SeedProfile, error)

	// SaveProfile creates or replaces a candidate profile.
	SaveProfile(ctx context.Context, seed interview.SeedProfile) error

	// SaveSummary records a completed session and updates the candidate's
	// profile with the session's final weak and strong areas.
	SaveSummary(ctx context.Context, summary session.Summary) error

	// RecentSummaries returns up to n summaries for a candidate, newest
	// first. A candidate with no sessions yields an empty slice, not an
	// error.
	RecentSummaries(ctx context.Context, candidateID string, n int) ([]session.Summary, error)
}
