// Package session implements the session orchestrator: the turn state machine
// that drives one mock interview from initialization to completion.
//
// The orchestrator owns the evolving candidate context and the append-only
// evaluation history, and calls the adaptive pipeline for every judgment. It
// performs no storage I/O itself; persisting the final summary is the
// caller's concern. One generation call is in flight per session at most; a
// second SubmitAnswer while one is pending is rejected, never interleaved.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxprep/voxprep/internal/interview"
	"github.com/voxprep/voxprep/internal/interview/pipeline"
	"github.com/voxprep/voxprep/internal/observe"
)

// State is the session's turn state.
type State string

const (
	StateInitializing State = "initializing"
	StateQuestioning  State = "questioning"
	StateEvaluating   State = "evaluating"
	StateComplete     State = "complete"
)

// Orchestrator errors.
var (
	ErrEmptyAnswer     = errors.New("session: answer is empty")
	ErrTurnInFlight    = errors.New("session: a turn is already in flight")
	ErrNotQuestioning  = errors.New("session: no question is awaiting an answer")
	ErrSessionComplete = errors.New("session: session is complete")
	ErrSessionEnded    = errors.New("session: session was ended")
	ErrAlreadyStarted  = errors.New("session: already initialized")
)

// DefaultSessionLength is the number of fresh questions per session.
const DefaultSessionLength = 8

// Config holds the orchestrator tunables.
type Config struct {
	// SessionLength is the number of fresh questions before the session
	// completes. Default 8. Follow-up probes do not advance the counter.
	SessionLength int

	// RecentHistory bounds the history view included in status callbacks.
	// Default 10.
	RecentHistory int
}

func (c Config) withDefaults() Config {
	if c.SessionLength <= 0 {
		c.SessionLength = DefaultSessionLength
	}
	if c.RecentHistory <= 0 {
		c.RecentHistory = 10
	}
	return c
}

// Callbacks are the orchestrator's outbound events. Nil callbacks are
// skipped; all are invoked without the orchestrator lock held.
type Callbacks struct {
	// OnQuestion delivers the next question text to put to the candidate,
	// typically wired to the speech controller's Speak path.
	OnQuestion func(text string, followUp bool)

	// OnEvaluation delivers each completed evaluation.
	OnEvaluation func(eval interview.AnswerEvaluation)

	// OnComplete delivers the final summary when the session finishes.
	OnComplete func(s Summary)
}

// Summary is the aggregate result of a finished (or ended) session.
type Summary struct {
	// CandidateID identifies the candidate this session belonged to.
	CandidateID string `json:"candidateId"`

	// QuestionsAsked is the number of fresh questions put to the candidate.
	QuestionsAsked int `json:"questionsAsked"`

	// AnswersEvaluated is the total evaluations, follow-up rounds included.
	AnswersEvaluated int `json:"answersEvaluated"`

	// AverageScore is the rounded mean overall score across all evaluations.
	AverageScore int `json:"averageScore"`

	// History is the full exchange record in order.
	History []Exchange `json:"history"`

	// FinalContext is the candidate context as of session end.
	FinalContext interview.StudentContext `json:"finalContext"`

	// CompletedAt is when the session reached its terminal state.
	CompletedAt time.Time `json:"completedAt"`
}

// Orchestrator drives one interview session.
type Orchestrator struct {
	pipe    *pipeline.Pipeline
	cfg     Config
	cb      Callbacks
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	mu sync.Mutex

	candidateID string
	state       State
	sctx        interview.StudentContext
	question    interview.GeneratedQuestion
	history     *History

	questionsAsked    int
	currentIsFollowUp bool
	inFlight          bool
	ended             bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNow replaces the time source for timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator for the given candidate seed.
func New(pipe *pipeline.Pipeline, seed interview.SeedProfile, cfg Config, cb Callbacks, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pipe:        pipe,
		cfg:         cfg.withDefaults(),
		cb:          cb,
		log:         slog.Default(),
		now:         time.Now,
		candidateID: seed.CandidateID,
		state:       StateInitializing,
		sctx:        seed.Context(),
		history:     &History{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CurrentQuestion returns the question awaiting an answer.
func (o *Orchestrator) CurrentQuestion() interview.GeneratedQuestion {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.question
}

// Context returns a snapshot of the candidate context.
func (o *Orchestrator) Context() interview.StudentContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sctx
}

// Initialize runs the opening analyze/select cycle and asks the first
// question. Both stages are fail-soft, so initialization cannot fail on
// provider errors; it fails only on reuse or after End.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return ErrSessionEnded
	}
	if o.state != StateInitializing || o.inFlight {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.inFlight = true
	sctx := o.sctx
	o.mu.Unlock()

	analysis := o.pipe.Analyze(ctx, sctx)
	question := o.pipe.SelectQuestion(ctx, analysis, sctx)

	o.mu.Lock()
	o.inFlight = false
	if o.ended {
		o.mu.Unlock()
		return ErrSessionEnded
	}
	o.question = question
	o.questionsAsked = 1
	o.sctx.QuestionsAskedToday++
	o.state = StateQuestioning
	o.mu.Unlock()

	o.log.Info("session initialized",
		"candidate", o.candidateID,
		"need", analysis.CurrentNeed,
		"difficulty", analysis.RecommendedDifficulty)
	if o.metrics.ActiveSessions != nil {
		o.metrics.ActiveSessions.Add(ctx, 1)
	}
	o.recordQuestion(ctx, false)
	o.emitQuestion(question.Question, false)
	return nil
}

// SubmitAnswer evaluates the candidate's answer to the current question and
// advances the session: to complete at the question limit, to a follow-up
// probe when the weak-answer branch fires, or to a fresh analyze/select cycle
// otherwise. At most one call may be in flight; concurrent calls are
// rejected with ErrTurnInFlight.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, answer string) (interview.AnswerEvaluation, error) {
	if answer == "" {
		return interview.AnswerEvaluation{}, ErrEmptyAnswer
	}

	o.mu.Lock()
	switch {
	case o.ended:
		o.mu.Unlock()
		return interview.AnswerEvaluation{}, ErrSessionEnded
	case o.state == StateComplete:
		o.mu.Unlock()
		return interview.AnswerEvaluation{}, ErrSessionComplete
	case o.inFlight || o.state == StateEvaluating:
		o.mu.Unlock()
		return interview.AnswerEvaluation{}, ErrTurnInFlight
	case o.state != StateQuestioning:
		o.mu.Unlock()
		return interview.AnswerEvaluation{}, ErrNotQuestioning
	}
	o.inFlight = true
	o.state = StateEvaluating
	question := o.question
	wasFollowUp := o.currentIsFollowUp
	sctx := o.sctx
	o.mu.Unlock()

	turnStart := o.now()
	eval := o.pipe.Evaluate(ctx, question, answer, sctx)

	o.mu.Lock()
	o.inFlight = false
	if o.ended {
		// The generation call was fire-and-forget; the session ended while it
		// was in flight, so the result is discarded.
		o.mu.Unlock()
		return interview.AnswerEvaluation{}, ErrSessionEnded
	}

	o.history.Append(Exchange{
		Question:   question.Question,
		Answer:     answer,
		Evaluation: eval,
		FollowUp:   wasFollowUp,
		At:         o.now(),
	})
	o.sctx = interview.NudgeConfidence(o.sctx, eval.OverallScore)
	o.sctx.AverageAnswerScore = o.history.AverageScore()
	done := o.questionsAsked >= o.cfg.SessionLength
	sctx = o.sctx
	o.mu.Unlock()

	if o.cb.OnEvaluation != nil {
		o.cb.OnEvaluation(eval)
	}

	if done {
		o.complete(ctx)
		o.recordTurn(ctx, turnStart)
		return eval, nil
	}

	if o.pipe.ShouldFollowUp(eval, answer) {
		probe := o.pipe.FollowUp(ctx, question, answer, sctx)
		o.mu.Lock()
		if o.ended {
			o.mu.Unlock()
			return eval, nil
		}
		// The probe replaces the current question; the counter does not
		// advance and the original question's grading shape is kept.
		o.question = interview.GeneratedQuestion{
			Question:             probe.FollowUpQuestion,
			Category:             question.Category,
			Difficulty:           question.Difficulty,
			ExpectedAnswerLength: interview.AnswerShort,
			EvaluationCriteria:   question.EvaluationCriteria,
		}
		o.currentIsFollowUp = true
		o.state = StateQuestioning
		o.mu.Unlock()

		o.recordQuestion(ctx, true)
		o.emitQuestion(probe.FollowUpQuestion, true)
		o.recordTurn(ctx, turnStart)
		return eval, nil
	}

	analysis := o.pipe.Analyze(ctx, sctx)
	next := o.pipe.SelectQuestion(ctx, analysis, sctx)

	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return eval, nil
	}
	o.question = next
	o.questionsAsked++
	o.sctx.QuestionsAskedToday++
	o.currentIsFollowUp = false
	o.state = StateQuestioning
	o.mu.Unlock()

	o.recordQuestion(ctx, false)
	o.emitQuestion(next.Question, false)
	o.recordTurn(ctx, turnStart)
	return eval, nil
}

// End terminates the session early. Idempotent. Any generation call still in
// flight keeps running but its result is discarded.
func (o *Orchestrator) End() {
	o.mu.Lock()
	if o.ended || o.state == StateComplete {
		o.mu.Unlock()
		return
	}
	o.ended = true
	started := o.state != StateInitializing
	o.state = StateComplete
	o.mu.Unlock()

	o.log.Info("session ended early", "candidate", o.candidateID)
	if started && o.metrics.ActiveSessions != nil {
		o.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Summary returns the aggregate session result. Valid at any point; final
// once the session is complete.
func (o *Orchestrator) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Summary{
		CandidateID:      o.candidateID,
		QuestionsAsked:   o.questionsAsked,
		AnswersEvaluated: o.history.Len(),
		AverageScore:     o.history.AverageScore(),
		History:          o.history.All(),
		FinalContext:     o.sctx,
		CompletedAt:      o.now(),
	}
}

// complete transitions to the terminal state and emits the summary.
func (o *Orchestrator) complete(ctx context.Context) {
	o.mu.Lock()
	if o.state == StateComplete {
		o.mu.Unlock()
		return
	}
	o.state = StateComplete
	o.mu.Unlock()

	s := o.Summary()
	o.log.Info("session complete",
		"candidate", o.candidateID,
		"questions", s.QuestionsAsked,
		"evaluations", s.AnswersEvaluated,
		"average", s.AverageScore)
	if o.metrics.ActiveSessions != nil {
		o.metrics.ActiveSessions.Add(ctx, -1)
	}
	if o.cb.OnComplete != nil {
		o.cb.OnComplete(s)
	}
}

func (o *Orchestrator) emitQuestion(text string, followUp bool) {
	if o.cb.OnQuestion != nil {
		o.cb.OnQuestion(text, followUp)
	}
}

func (o *Orchestrator) recordQuestion(ctx context.Context, followUp bool) {
	if o.metrics.QuestionsAsked == nil {
		return
	}
	kind := "question"
	if followUp {
		kind = "followup"
	}
	o.metrics.QuestionsAsked.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (o *Orchestrator) recordTurn(ctx context.Context, start time.Time) {
	if o.metrics.TurnDuration == nil {
		return
	}
	o.metrics.TurnDuration.Record(ctx, o.now().Sub(start).Seconds())
}
