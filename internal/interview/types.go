// Package interview defines the domain model for an adaptive mock-interview
// session: the candidate's evolving performance profile, the per-cycle
// analysis derived from it, and the question/evaluation/follow-up values that
// flow through one turn.
//
// All values in this package are plain data. StudentContext is passed by
// value into every pipeline stage and replaced by the stage's output — never
// mutated in place — so a snapshot taken at any point stays valid.
package interview

// ExperienceLevel is the candidate's seniority bracket. Evaluation rubrics are
// calibrated against it so a junior answer is not penalised for lacking
// senior depth.
type ExperienceLevel string

const (
	ExperienceEntry  ExperienceLevel = "entry"
	ExperienceJunior ExperienceLevel = "junior"
	ExperienceMid    ExperienceLevel = "mid"
	ExperienceSenior ExperienceLevel = "senior"
	ExperienceLead   ExperienceLevel = "lead"
)

// IsValid reports whether l is a recognised experience level.
func (l ExperienceLevel) IsValid() bool {
	switch l {
	case ExperienceEntry, ExperienceJunior, ExperienceMid, ExperienceSenior, ExperienceLead:
		return true
	}
	return false
}

// Need classifies what the candidate most needs from the next question.
type Need string

const (
	NeedConfidenceBoost Need = "confidence-boost"
	NeedPractice        Need = "practice"
	NeedSkillChallenge  Need = "skill-challenge"
)

// IsValid reports whether n is a recognised need.
func (n Need) IsValid() bool {
	switch n {
	case NeedConfidenceBoost, NeedPractice, NeedSkillChallenge:
		return true
	}
	return false
}

// Difficulty is the target difficulty of a generated question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether d is a recognised difficulty.
func (d Difficulty) IsValid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// Category is the interview question category.
type Category string

const (
	CategoryBehavioral   Category = "behavioral"
	CategoryTechnical    Category = "technical"
	CategorySituational  Category = "situational"
	CategoryMotivational Category = "motivational"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryBehavioral, CategoryTechnical, CategorySituational, CategoryMotivational:
		return true
	}
	return false
}

// AnswerLength is the expected answer length bucket for a generated question.
type AnswerLength string

const (
	AnswerShort  AnswerLength = "short"
	AnswerMedium AnswerLength = "medium"
	AnswerLong   AnswerLength = "long"
)

// IsValid reports whether a is a recognised answer length bucket.
func (a AnswerLength) IsValid() bool {
	return a == AnswerShort || a == AnswerMedium || a == AnswerLong
}

// StudentContext is the evolving profile of a single candidate across one
// session. It is owned by the session orchestrator; pipeline stages receive
// it by value and must not retain references to its slices.
type StudentContext struct {
	// --- Identity / targeting ---

	// TargetRole is the position the candidate is preparing for.
	TargetRole string

	// TargetIndustry is the industry the candidate is targeting.
	TargetIndustry string

	// ExperienceLevel is the candidate's seniority bracket.
	ExperienceLevel ExperienceLevel

	// --- Behavioural signals (from camera/voice analysis; read-only here) ---

	// EyeContactScore is the camera-derived eye contact quality (0–100).
	EyeContactScore int

	// PostureScore is the camera-derived posture quality (0–100).
	PostureScore int

	// SpeechPace is the candidate's speaking rate in words per minute.
	SpeechPace int

	// FillerWordCount is the count of filler words detected this session.
	FillerWordCount int

	// --- Performance history ---

	// AverageAnswerScore is the running mean answer score (0–100).
	AverageAnswerScore int

	// WeakAreas lists topic labels the candidate has underperformed on.
	WeakAreas []string

	// StrongAreas lists topic labels the candidate has performed well on.
	StrongAreas []string

	// ConfidenceLevel is the bounded confidence estimate (0–100). It moves by
	// a fixed step after each evaluation; see [NudgeConfidence].
	ConfidenceLevel int

	// --- Session counters ---

	// QuestionsAskedToday counts questions asked across today's sessions.
	QuestionsAskedToday int

	// SessionDuration is the elapsed session time in minutes.
	SessionDuration int

	// CurrentSessionGoal is the candidate's stated goal for this session.
	CurrentSessionGoal string
}

// Confidence nudge steps. A score above ConfidenceScoreThreshold raises
// confidence by ConfidenceGain; anything else costs ConfidenceLoss.
const (
	ConfidenceScoreThreshold = 70
	ConfidenceGain           = 5
	ConfidenceLoss           = 3
)

// NudgeConfidence returns a copy of ctx with ConfidenceLevel stepped up or
// down based on score and clamped to [0,100].
func NudgeConfidence(ctx StudentContext, score int) StudentContext {
	if score > ConfidenceScoreThreshold {
		ctx.ConfidenceLevel += ConfidenceGain
	} else {
		ctx.ConfidenceLevel -= ConfidenceLoss
	}
	ctx.ConfidenceLevel = clamp(ctx.ConfidenceLevel, 0, 100)
	return ctx
}

// AIAnalysis is the per-cycle assessment derived from a StudentContext. It is
// ephemeral: produced at the start of a question cycle, consumed by question
// selection, and never persisted.
type AIAnalysis struct {
	// ReadinessLevel is the candidate's overall readiness (1–10).
	ReadinessLevel int `json:"readinessLevel"`

	// CurrentNeed is what the candidate most needs from the next question.
	CurrentNeed Need `json:"currentNeed"`

	// RecommendedDifficulty is the difficulty the next question should have.
	RecommendedDifficulty Difficulty `json:"recommendedDifficulty"`

	// BestCategory is the question category most useful right now.
	BestCategory Category `json:"bestCategory"`

	// FocusArea is the single topic the next question should probe.
	FocusArea string `json:"focusArea"`
}

// GeneratedQuestion is the next question to put to the candidate. Immutable
// once produced.
type GeneratedQuestion struct {
	// Question is the full question text, spoken verbatim to the candidate.
	Question string `json:"question"`

	// Category is the question's category.
	Category Category `json:"category"`

	// Difficulty is the question's difficulty.
	Difficulty Difficulty `json:"difficulty"`

	// ExpectedAnswerLength is the answer length bucket the grader expects.
	ExpectedAnswerLength AnswerLength `json:"expectedAnswerLength"`

	// EvaluationCriteria is the ordered list of criterion names the answer
	// will be graded against.
	EvaluationCriteria []string `json:"evaluationCriteria"`
}

// Sub-score bounds for AnswerEvaluation.
const (
	SubScoreMax = 25
	MaxScore    = 100
)

// AnswerEvaluation is the graded result of one answer. The four sub-scores
// are each bounded [0,25] and must sum to OverallScore; use [Normalize] after
// decoding model output to restore the invariant.
type AnswerEvaluation struct {
	// OverallScore is the total score (0–100). Always the sum of the four
	// sub-scores after normalization.
	OverallScore int `json:"overallScore"`

	// Relevance scores how directly the answer addresses the question (0–25).
	Relevance int `json:"relevance"`

	// Clarity scores structure and articulation (0–25).
	Clarity int `json:"clarity"`

	// Depth scores insight and substance (0–25).
	Depth int `json:"depth"`

	// Examples scores use of concrete evidence (0–25).
	Examples int `json:"examples"`

	// Strengths lists what the answer did well (3 items).
	Strengths []string `json:"strengths"`

	// Improvements lists what to work on (3 items).
	Improvements []string `json:"improvements"`

	// ImprovedAnswer is a model-written stronger version of the answer.
	ImprovedAnswer string `json:"improvedAnswer"`

	// NextFocusArea is the topic the next question should target.
	NextFocusArea string `json:"nextFocusArea"`
}

// Normalize clamps each sub-score to [0,25] and recomputes OverallScore as
// their sum, discarding whatever total the model reported. Strengths and
// Improvements are padded or truncated to exactly three entries.
func (e AnswerEvaluation) Normalize() AnswerEvaluation {
	e.Relevance = clamp(e.Relevance, 0, SubScoreMax)
	e.Clarity = clamp(e.Clarity, 0, SubScoreMax)
	e.Depth = clamp(e.Depth, 0, SubScoreMax)
	e.Examples = clamp(e.Examples, 0, SubScoreMax)
	e.OverallScore = e.Relevance + e.Clarity + e.Depth + e.Examples
	e.Strengths = padList(e.Strengths, 3, "Engaged with the question")
	e.Improvements = padList(e.Improvements, 3, "Add more specific detail")
	return e
}

// FollowUpQuestion is a probing question that replaces the current question
// without advancing the session counter's evaluation history.
type FollowUpQuestion struct {
	// FollowUpQuestion is the probe text, spoken verbatim.
	FollowUpQuestion string `json:"followUpQuestion"`

	// Purpose explains what the probe is trying to surface.
	Purpose string `json:"purpose"`

	// ExpectedImprovement is what a stronger second attempt would show.
	ExpectedImprovement string `json:"expectedImprovement"`
}

// SeedProfile is the stored candidate data a new session starts from.
type SeedProfile struct {
	// CandidateID identifies the candidate in the record store.
	CandidateID string

	// TargetRole, TargetIndustry, and ExperienceLevel seed the matching
	// StudentContext fields.
	TargetRole      string
	TargetIndustry  string
	ExperienceLevel ExperienceLevel

	// WeakAreas and StrongAreas carry over from prior sessions.
	WeakAreas   []string
	StrongAreas []string

	// SessionGoal is the candidate's stated goal for this session.
	SessionGoal string
}

// Context builds the initial StudentContext for a session from the seed.
// Confidence starts at the neutral midpoint; behavioural signals arrive later
// from camera/voice analysis.
func (s SeedProfile) Context() StudentContext {
	level := s.ExperienceLevel
	if !level.IsValid() {
		level = ExperienceEntry
	}
	return StudentContext{
		TargetRole:         s.TargetRole,
		TargetIndustry:     s.TargetIndustry,
		ExperienceLevel:    level,
		WeakAreas:          append([]string(nil), s.WeakAreas...),
		StrongAreas:        append([]string(nil), s.StrongAreas...),
		ConfidenceLevel:    50,
		CurrentSessionGoal: s.SessionGoal,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func padList(list []string, n int, filler string) []string {
	out := make([]string, 0, n)
	for _, s := range list {
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == n {
			return out
		}
	}
	for len(out) < n {
		out = append(out, filler)
	}
	return out
}
