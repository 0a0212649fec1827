package session

import (
	"sync"
	"time"

	"github.com/voxprep/voxprep/internal/interview"
)

// Exchange is one completed question/answer/evaluation round.
type Exchange struct {
	// Question is the question text as spoken to the candidate.
	Question string

	// Answer is the candidate's full answer text.
	Answer string

	// Evaluation is the graded result for this answer.
	Evaluation interview.AnswerEvaluation

	// FollowUp marks exchanges that answered a probing follow-up rather than
	// a fresh question.
	FollowUp bool

	// At is when the evaluation completed.
	At time.Time
}

// History is the append-only record of a session's exchanges. Entries are
// never reordered, rewritten, or truncated; Recent provides the bounded view.
type History struct {
	mu      sync.Mutex
	entries []Exchange
}

// Append adds an exchange to the end of the history.
func (h *History) Append(e Exchange) {
	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()
}

// Len returns the number of recorded exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// All returns a copy of the full history in order.
func (h *History) All() []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Exchange(nil), h.entries...)
}

// Recent returns a copy of the last n exchanges in order. n larger than the
// history returns everything.
func (h *History) Recent(n int) []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(h.entries) {
		n = len(h.entries)
	}
	return append([]Exchange(nil), h.entries[len(h.entries)-n:]...)
}

// AverageScore returns the rounded mean overall score, or 0 for an empty
// history.
func (h *History) AverageScore() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return 0
	}
	total := 0
	for _, e := range h.entries {
		total += e.Evaluation.OverallScore
	}
	return (total + len(h.entries)/2) / len(h.entries)
}
