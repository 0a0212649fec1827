// Package pipeline implements the adaptive interview pipeline: the four
// generation stages that decide what to ask next and how to grade what was
// answered, with deterministic guardrails around a text generation provider.
//
// Every stage is fail-soft. Provider errors and unparseable responses resolve
// to the stage's fixed fallback value (see fallback.go) and are logged and
// counted, never surfaced to the candidate. Stage outputs additionally pass
// through deterministic post-checks (rule clamping for Analyze, score
// normalization for Evaluate) so the session's invariants hold regardless of
// model compliance.
package pipeline

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"github.com/voxprep/voxprep/internal/interview"
	"github.com/voxprep/voxprep/internal/interview/prompt"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/pkg/provider/textgen"
)

// Default follow-up branch tunables. A follow-up is considered when the
// answer scored below the threshold or was shorter than the minimum length,
// and then fires on a coin flip.
const (
	DefaultFollowUpScoreThreshold = 65
	DefaultFollowUpMinAnswerChars = 150
	DefaultFollowUpProbability    = 0.5
)

// Stage attribute values used in logs and metrics.
const (
	stageAnalyze  = "analyze"
	stageSelect   = "select"
	stageEvaluate = "evaluate"
	stageFollowUp = "followup"
)

// Pipeline runs the four interview stages against a textgen.Provider.
// Safe for concurrent use when the provider is.
type Pipeline struct {
	provider textgen.Provider
	log      *slog.Logger
	metrics  *observe.Metrics

	coinFlip func() bool

	scoreThreshold int
	minAnswerLen   int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCoinFlip replaces the follow-up random source. Tests use this to force
// both branches deterministically.
func WithCoinFlip(flip func() bool) Option {
	return func(p *Pipeline) {
		if flip != nil {
			p.coinFlip = flip
		}
	}
}

// WithFollowUpThresholds overrides the deterministic half of the follow-up
// branch condition. Non-positive values keep the defaults.
func WithFollowUpThresholds(scoreThreshold, minAnswerChars int) Option {
	return func(p *Pipeline) {
		if scoreThreshold > 0 {
			p.scoreThreshold = scoreThreshold
		}
		if minAnswerChars > 0 {
			p.minAnswerLen = minAnswerChars
		}
	}
}

// WithFollowUpProbability sets the coin-flip probability. Values outside
// (0,1) are clamped into [0,1].
func WithFollowUpProbability(prob float64) Option {
	return func(p *Pipeline) {
		if prob < 0 {
			prob = 0
		}
		if prob > 1 {
			prob = 1
		}
		p.coinFlip = func() bool { return rand.Float64() < prob }
	}
}

// New creates a Pipeline backed by the given provider.
func New(provider textgen.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider:       provider,
		log:            slog.Default(),
		coinFlip:       func() bool { return rand.IntN(2) == 0 },
		scoreThreshold: DefaultFollowUpScoreThreshold,
		minAnswerLen:   DefaultFollowUpMinAnswerChars,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Analyze runs Stage A: assess the candidate's current state. The fixed
// decision rules are applied as a post-check on the model's output, so the
// returned analysis always satisfies them even if the model did not.
func (p *Pipeline) Analyze(ctx context.Context, sctx interview.StudentContext) interview.AIAnalysis {
	raw, err := p.generate(ctx, stageAnalyze, prompt.Analyze(sctx))
	if err != nil {
		p.fellBack(ctx, stageAnalyze, err)
		return FallbackAnalysis
	}
	var a interview.AIAnalysis
	if err := decodeJSON(raw, &a); err != nil {
		p.fellBack(ctx, stageAnalyze, err)
		return FallbackAnalysis
	}
	return applyAnalysisRules(a, sctx)
}

// SelectQuestion runs Stage B: generate the next question from the analysis.
func (p *Pipeline) SelectQuestion(ctx context.Context, analysis interview.AIAnalysis, sctx interview.StudentContext) interview.GeneratedQuestion {
	raw, err := p.generate(ctx, stageSelect, prompt.SelectQuestion(analysis, sctx))
	if err != nil {
		p.fellBack(ctx, stageSelect, err)
		return FallbackQuestion(sctx.TargetRole)
	}
	var q interview.GeneratedQuestion
	if err := decodeJSON(raw, &q); err != nil || q.Question == "" {
		p.fellBack(ctx, stageSelect, err)
		return FallbackQuestion(sctx.TargetRole)
	}
	if !q.Category.IsValid() {
		q.Category = analysis.BestCategory
	}
	if !q.Difficulty.IsValid() {
		q.Difficulty = analysis.RecommendedDifficulty
	}
	if !q.ExpectedAnswerLength.IsValid() {
		q.ExpectedAnswerLength = interview.AnswerMedium
	}
	return q
}

// Evaluate runs Stage C: grade the candidate's answer. The result is always
// normalized, so the sub-score sum invariant holds regardless of what total
// the model reported.
func (p *Pipeline) Evaluate(ctx context.Context, question interview.GeneratedQuestion, answer string, sctx interview.StudentContext) interview.AnswerEvaluation {
	raw, err := p.generate(ctx, stageEvaluate, prompt.Evaluate(question, answer, sctx))
	if err != nil {
		p.fellBack(ctx, stageEvaluate, err)
		return FallbackEvaluation()
	}
	var e interview.AnswerEvaluation
	if err := decodeJSON(raw, &e); err != nil {
		p.fellBack(ctx, stageEvaluate, err)
		return FallbackEvaluation()
	}
	return e.Normalize()
}

// FollowUp runs Stage D: generate a probing question for a weak answer. The
// three answer signals are computed locally and embedded in the prompt.
func (p *Pipeline) FollowUp(ctx context.Context, question interview.GeneratedQuestion, answer string, sctx interview.StudentContext) interview.FollowUpQuestion {
	signals := interview.DetectSignals(answer)
	raw, err := p.generate(ctx, stageFollowUp, prompt.FollowUp(question, answer, signals, sctx))
	if err != nil {
		p.fellBack(ctx, stageFollowUp, err)
		return FallbackFollowUp
	}
	var f interview.FollowUpQuestion
	if err := decodeJSON(raw, &f); err != nil || f.FollowUpQuestion == "" {
		p.fellBack(ctx, stageFollowUp, err)
		return FallbackFollowUp
	}
	return f
}

// ShouldFollowUp decides whether the next turn probes the answer just given.
// The deterministic half requires a weak answer (score below threshold or
// text below the minimum length, counted in runes so the boundary does not
// shift for non-ASCII answers); the random half is the injected coin flip,
// consulted only when the deterministic half holds.
func (p *Pipeline) ShouldFollowUp(eval interview.AnswerEvaluation, answer string) bool {
	weak := eval.OverallScore < p.scoreThreshold || utf8.RuneCountInString(answer) < p.minAnswerLen
	return weak && p.coinFlip()
}

// generate calls the provider with latency recording.
func (p *Pipeline) generate(ctx context.Context, stage, prompt string) (string, error) {
	start := time.Now()
	raw, err := p.provider.GenerateStructured(ctx, prompt)
	p.metrics.RecordGeneration(ctx, stage, time.Since(start).Seconds())
	return raw, err
}

// fellBack logs and counts a stage falling back to its fixed degraded value.
func (p *Pipeline) fellBack(ctx context.Context, stage string, err error) {
	p.log.WarnContext(ctx, "stage degraded to fallback value", "stage", stage, "error", err)
	p.metrics.RecordStageFallback(ctx, stage)
}

// applyAnalysisRules enforces the fixed need/difficulty rules on model output
// and repairs out-of-range or invalid fields. Contexts that no rule covers
// (such as high confidence with a middling average) keep the model's choice.
func applyAnalysisRules(a interview.AIAnalysis, sctx interview.StudentContext) interview.AIAnalysis {
	conf, avg := sctx.ConfidenceLevel, sctx.AverageAnswerScore
	switch {
	case conf < 50 || avg < 60:
		a.CurrentNeed = interview.NeedConfidenceBoost
		a.RecommendedDifficulty = interview.DifficultyEasy
	case conf <= 80 && avg <= 80:
		a.CurrentNeed = interview.NeedPractice
		a.RecommendedDifficulty = interview.DifficultyMedium
	case conf > 80 && avg > 80:
		a.CurrentNeed = interview.NeedSkillChallenge
		a.RecommendedDifficulty = interview.DifficultyHard
	}
	if a.ReadinessLevel < 1 {
		a.ReadinessLevel = 1
	}
	if a.ReadinessLevel > 10 {
		a.ReadinessLevel = 10
	}
	if !a.CurrentNeed.IsValid() {
		a.CurrentNeed = FallbackAnalysis.CurrentNeed
	}
	if !a.RecommendedDifficulty.IsValid() {
		a.RecommendedDifficulty = FallbackAnalysis.RecommendedDifficulty
	}
	if !a.BestCategory.IsValid() {
		a.BestCategory = FallbackAnalysis.BestCategory
	}
	if a.FocusArea == "" {
		a.FocusArea = FallbackAnalysis.FocusArea
	}
	return a
}
