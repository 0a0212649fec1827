package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxprep/voxprep/internal/interview"
	"github.com/voxprep/voxprep/internal/session"
)

// Schema is the SQL DDL for the candidate_profiles and session_summaries
// tables. Execute it via [PostgresStore.Migrate] or apply it manually during
// deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS candidate_profiles (
    candidate_id     TEXT PRIMARY KEY,
    target_role      TEXT NOT NULL DEFAULT '',
    target_industry  TEXT NOT NULL DEFAULT '',
    experience_level TEXT NOT NULL DEFAULT 'entry',
    weak_areas       JSONB NOT NULL DEFAULT '[]',
    strong_areas     JSONB NOT NULL DEFAULT '[]',
    session_goal     TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS session_summaries (
    id                BIGSERIAL PRIMARY KEY,
    candidate_id      TEXT NOT NULL,
    questions_asked   INTEGER NOT NULL DEFAULT 0,
    answers_evaluated INTEGER NOT NULL DEFAULT 0,
    average_score     INTEGER NOT NULL DEFAULT 0,
    history           JSONB NOT NULL DEFAULT '[]',
    final_context     JSONB NOT NULL DEFAULT '{}',
    completed_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_session_summaries_candidate
    ON session_summaries(candidate_id, completed_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// sub-fields (weak/strong areas, exchange history, final context) are
// serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] that uses the given connection
// or pool. The caller is responsible for calling [PostgresStore.Migrate]
// before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the tables and indexes if they
// do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SeedProfile loads the stored profile for a candidate. Returns [ErrNotFound]
// if no profile row exists.
func (s *PostgresStore) SeedProfile(ctx context.Context, candidateID string) (interview.SeedProfile, error) {
	const query = `
		SELECT candidate_id, target_role, target_industry, experience_level,
		       weak_areas, strong_areas, session_goal
		FROM candidate_profiles
		WHERE candidate_id = $1`

	var (
		seed       interview.SeedProfile
		level      string
		weakJSON   []byte
		strongJSON []byte
	)
	err := s.db.QueryRow(ctx, query, candidateID).Scan(
		&seed.CandidateID, &seed.TargetRole, &seed.TargetIndustry, &level,
		&weakJSON, &strongJSON, &seed.SessionGoal,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return interview.SeedProfile{}, fmt.Errorf("store: seed profile %q: %w", candidateID, ErrNotFound)
		}
		return interview.SeedProfile{}, fmt.Errorf("store: seed profile %q: %w", candidateID, err)
	}
	seed.ExperienceLevel = interview.ExperienceLevel(level)

	if err := json.Unmarshal(weakJSON, &seed.WeakAreas); err != nil {
		return interview.SeedProfile{}, fmt.Errorf("store: unmarshal weak_areas: %w", err)
	}
	if err := json.Unmarshal(strongJSON, &seed.StrongAreas); err != nil {
		return interview.SeedProfile{}, fmt.Errorf("store: unmarshal strong_areas: %w", err)
	}
	return seed, nil
}

// SaveProfile creates or replaces a candidate profile.
func (s *PostgresStore) SaveProfile(ctx context.Context, seed interview.SeedProfile) error {
	if seed.CandidateID == "" {
		return errors.New("store: save profile: empty candidate ID")
	}

	weakJSON, err := json.Marshal(emptySlice(seed.WeakAreas))
	if err != nil {
		return fmt.Errorf("store: marshal weak_areas: %w", err)
	}
	strongJSON, err := json.Marshal(emptySlice(seed.StrongAreas))
	if err != nil {
		return fmt.Errorf("store: marshal strong_areas: %w", err)
	}

	const query = `
		INSERT INTO candidate_profiles (
			candidate_id, target_role, target_industry, experience_level,
			weak_areas, strong_areas, session_goal
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (candidate_id) DO UPDATE SET
			target_role = EXCLUDED.target_role,
			target_industry = EXCLUDED.target_industry,
			experience_level = EXCLUDED.experience_level,
			weak_areas = EXCLUDED.weak_areas,
			strong_areas = EXCLUDED.strong_areas,
			session_goal = EXCLUDED.session_goal,
			updated_at = now()`

	_, err = s.db.Exec(ctx, query,
		seed.CandidateID, seed.TargetRole, seed.TargetIndustry,
		defaultLevel(seed.ExperienceLevel),
		weakJSON, strongJSON, seed.SessionGoal,
	)
	if err != nil {
		return fmt.Errorf("store: save profile %q: %w", seed.CandidateID, err)
	}
	return nil
}

// SaveSummary records a completed session. The session's final weak and
// strong areas are folded back into the candidate's profile so the next
// session seeds from them.
func (s *PostgresStore) SaveSummary(ctx context.Context, summary session.Summary) error {
	if summary.CandidateID == "" {
		return errors.New("store: save summary: empty candidate ID")
	}

	historyJSON, err := json.Marshal(emptyExchanges(summary.History))
	if err != nil {
		return fmt.Errorf("store: marshal history: %w", err)
	}
	contextJSON, err := json.Marshal(summary.FinalContext)
	if err != nil {
		return fmt.Errorf("store: marshal final_context: %w", err)
	}

	const insert = `
		INSERT INTO session_summaries (
			candidate_id, questions_asked, answers_evaluated, average_score,
			history, final_context, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = s.db.Exec(ctx, insert,
		summary.CandidateID, summary.QuestionsAsked, summary.AnswersEvaluated,
		summary.AverageScore, historyJSON, contextJSON, summary.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save summary %q: %w", summary.CandidateID, err)
	}

	weakJSON, err := json.Marshal(emptySlice(summary.FinalContext.WeakAreas))
	if err != nil {
		return fmt.Errorf("store: marshal weak_areas: %w", err)
	}
	strongJSON, err := json.Marshal(emptySlice(summary.FinalContext.StrongAreas))
	if err != nil {
		return fmt.Errorf("store: marshal strong_areas: %w", err)
	}

	const update = `
		UPDATE candidate_profiles SET
			weak_areas = $2, strong_areas = $3, updated_at = now()
		WHERE candidate_id = $1`

	if _, err := s.db.Exec(ctx, update, summary.CandidateID, weakJSON, strongJSON); err != nil {
		return fmt.Errorf("store: update profile areas %q: %w", summary.CandidateID, err)
	}
	return nil
}

// RecentSummaries returns up to n summaries for a candidate, newest first.
func (s *PostgresStore) RecentSummaries(ctx context.Context, candidateID string, n int) ([]session.Summary, error) {
	if n <= 0 {
		return []session.Summary{}, nil
	}

	const query = `
		SELECT candidate_id, questions_asked, answers_evaluated, average_score,
		       history, final_context, completed_at
		FROM session_summaries
		WHERE candidate_id = $1
		ORDER BY completed_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, candidateID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent summaries %q: %w", candidateID, err)
	}
	defer rows.Close()

	summaries := []session.Summary{}
	for rows.Next() {
		var (
			sm          session.Summary
			historyJSON []byte
			contextJSON []byte
		)
		err := rows.Scan(
			&sm.CandidateID, &sm.QuestionsAsked, &sm.AnswersEvaluated,
			&sm.AverageScore, &historyJSON, &contextJSON, &sm.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		if err := json.Unmarshal(historyJSON, &sm.History); err != nil {
			return nil, fmt.Errorf("store: unmarshal history: %w", err)
		}
		if err := json.Unmarshal(contextJSON, &sm.FinalContext); err != nil {
			return nil, fmt.Errorf("store: unmarshal final_context: %w", err)
		}
		summaries = append(summaries, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent summaries %q: %w", candidateID, err)
	}
	return summaries, nil
}

// emptySlice returns an empty slice instead of nil so JSON serialisation
// produces [] rather than null.
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyExchanges(h []session.Exchange) []session.Exchange {
	if h == nil {
		return []session.Exchange{}
	}
	return h
}

func defaultLevel(l interview.ExperienceLevel) interview.ExperienceLevel {
	if !l.IsValid() {
		return interview.ExperienceEntry
	}
	return l
}
