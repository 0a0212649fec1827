// Package prompt builds the text generation prompts for each stage of the
// adaptive interview pipeline.
//
// Each builder embeds the relevant StudentContext fields plus the fixed
// decision rules as explicit instructions, and closes with the exact JSON
// shape the stage parser expects. The rules are restated to the model even
// though the pipeline re-applies them as a deterministic post-check — a model
// that already follows them produces less clamping noise.
package prompt

import (
	"fmt"
	"strings"

	"github.com/voxprep/voxprep/internal/interview"
)

// Analyze builds the Stage A prompt: assess the candidate's current state
// from the full StudentContext.
func Analyze(ctx interview.StudentContext) string {
	var b strings.Builder

	b.WriteString("You are an interview coach analysing a candidate's current state in a mock interview session.\n\n")
	b.WriteString("Candidate profile:\n")
	fmt.Fprintf(&b, "- Target role: %s\n", ctx.TargetRole)
	fmt.Fprintf(&b, "- Target industry: %s\n", ctx.TargetIndustry)
	fmt.Fprintf(&b, "- Experience level: %s\n", ctx.ExperienceLevel)
	fmt.Fprintf(&b, "- Eye contact score: %d/100\n", ctx.EyeContactScore)
	fmt.Fprintf(&b, "- Posture score: %d/100\n", ctx.PostureScore)
	fmt.Fprintf(&b, "- Speech pace: %d words/minute\n", ctx.SpeechPace)
	fmt.Fprintf(&b, "- Filler words this session: %d\n", ctx.FillerWordCount)
	fmt.Fprintf(&b, "- Average answer score: %d/100\n", ctx.AverageAnswerScore)
	fmt.Fprintf(&b, "- Confidence level: %d/100\n", ctx.ConfidenceLevel)
	fmt.Fprintf(&b, "- Weak areas: %s\n", joinOrNone(ctx.WeakAreas))
	fmt.Fprintf(&b, "- Strong areas: %s\n", joinOrNone(ctx.StrongAreas))
	fmt.Fprintf(&b, "- Questions asked today: %d\n", ctx.QuestionsAskedToday)
	fmt.Fprintf(&b, "- Session duration: %d minutes\n", ctx.SessionDuration)
	fmt.Fprintf(&b, "- Session goal: %s\n\n", ctx.CurrentSessionGoal)

	b.WriteString("Apply these rules exactly:\n")
	b.WriteString("- If confidence level is below 50 OR average answer score is below 60: currentNeed is \"confidence-boost\" and recommendedDifficulty is \"easy\".\n")
	b.WriteString("- If confidence level is 50-80 AND average answer score is 60-80: currentNeed is \"practice\" and recommendedDifficulty is \"medium\".\n")
	b.WriteString("- If confidence level is above 80 AND average answer score is above 80: currentNeed is \"skill-challenge\" and recommendedDifficulty is \"hard\".\n\n")

	b.WriteString("Return a JSON object with exactly these fields:\n")
	b.WriteString(`{"readinessLevel": <1-10>, "currentNeed": "confidence-boost"|"practice"|"skill-challenge", "recommendedDifficulty": "easy"|"medium"|"hard", "bestCategory": "behavioral"|"technical"|"situational"|"motivational", "focusArea": "<single topic>"}`)

	return b.String()
}

// SelectQuestion builds the Stage B prompt: generate the next question from
// the analysis plus the candidate's targeting and weak areas.
func SelectQuestion(analysis interview.AIAnalysis, ctx interview.StudentContext) string {
	var b strings.Builder

	b.WriteString("You are an interviewer in a mock interview. Generate the single next question for this candidate.\n\n")
	fmt.Fprintf(&b, "Target role: %s\n", ctx.TargetRole)
	fmt.Fprintf(&b, "Target industry: %s\n", ctx.TargetIndustry)
	fmt.Fprintf(&b, "Experience level: %s\n", ctx.ExperienceLevel)
	fmt.Fprintf(&b, "Question category: %s\n", analysis.BestCategory)
	fmt.Fprintf(&b, "Difficulty: %s\n", analysis.RecommendedDifficulty)
	fmt.Fprintf(&b, "Focus area: %s\n", analysis.FocusArea)
	fmt.Fprintf(&b, "Weak areas to weight: %s\n\n", joinOrNone(ctx.WeakAreas))

	b.WriteString("Requirements:\n")
	b.WriteString("- Weight the candidate's weak areas when choosing the topic.\n")
	fmt.Fprintf(&b, "- Match the %s difficulty precisely; do not escalate.\n", analysis.RecommendedDifficulty)
	switch {
	case analysis.ReadinessLevel < 6:
		b.WriteString("- The candidate's readiness is low: phrase the question in an encouraging, approachable tone.\n")
	case analysis.ReadinessLevel > 8:
		b.WriteString("- The candidate's readiness is high: phrase the question in a challenging tone that invites depth.\n")
	default:
		b.WriteString("- Use a neutral, professional tone.\n")
	}

	b.WriteString("\nReturn a JSON object with exactly these fields:\n")
	b.WriteString(`{"question": "<full question text>", "category": "behavioral"|"technical"|"situational"|"motivational", "difficulty": "easy"|"medium"|"hard", "expectedAnswerLength": "short"|"medium"|"long", "evaluationCriteria": ["<criterion>", ...]}`)

	return b.String()
}

// Evaluate builds the Stage C prompt: grade the candidate's answer to the
// current question, calibrated to their experience level.
func Evaluate(question interview.GeneratedQuestion, answer string, ctx interview.StudentContext) string {
	var b strings.Builder

	b.WriteString("You are grading a mock interview answer.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question.Question)
	fmt.Fprintf(&b, "Answer: %s\n\n", answer)
	fmt.Fprintf(&b, "Candidate experience level: %s\n", ctx.ExperienceLevel)
	fmt.Fprintf(&b, "Evaluation criteria: %s\n\n", joinOrNone(question.EvaluationCriteria))

	fmt.Fprintf(&b, "Calibrate expectations to a %s-level candidate: do not penalise this answer for lacking depth that only a more senior candidate would have.\n\n", ctx.ExperienceLevel)

	b.WriteString("Score four dimensions from 0 to 25 each: relevance, clarity, depth, examples. overallScore must equal their sum.\n")
	b.WriteString("List exactly 3 strengths and exactly 3 improvements. Write an improved version of the answer.\n\n")

	b.WriteString("Return a JSON object with exactly these fields:\n")
	b.WriteString(`{"overallScore": <0-100>, "relevance": <0-25>, "clarity": <0-25>, "depth": <0-25>, "examples": <0-25>, "strengths": ["...", "...", "..."], "improvements": ["...", "...", "..."], "improvedAnswer": "<stronger answer>", "nextFocusArea": "<topic>"}`)

	return b.String()
}

// FollowUp builds the Stage D prompt: probe a weak answer. The three signal
// booleans are computed locally by the pipeline and steer the probing
// strategy.
func FollowUp(question interview.GeneratedQuestion, answer string, signals interview.AnswerSignals, ctx interview.StudentContext) string {
	var b strings.Builder

	b.WriteString("You are an interviewer deciding how to probe a candidate's answer that needs more substance.\n\n")
	fmt.Fprintf(&b, "Original question: %s\n\n", question.Question)
	fmt.Fprintf(&b, "Candidate's answer: %s\n\n", answer)
	fmt.Fprintf(&b, "Experience level: %s\n\n", ctx.ExperienceLevel)

	b.WriteString("Signals detected in the answer:\n")
	fmt.Fprintf(&b, "- Contains a concrete example: %t\n", signals.HasExamples)
	fmt.Fprintf(&b, "- Contains quantifiable results: %t\n", signals.HasQuantifiableResults)
	fmt.Fprintf(&b, "- Describes problem-solving: %t\n\n", signals.ShowsProblemSolving)

	b.WriteString("Strategy:\n")
	if !signals.HasExamples {
		b.WriteString("- The answer is vague: ask for one specific example.\n")
	}
	if signals.ShowsProblemSolving && !signals.HasQuantifiableResults {
		b.WriteString("- Problem-solving was claimed but not evidenced: probe for measurable results.\n")
	}
	if signals.HasExamples && signals.HasQuantifiableResults {
		b.WriteString("- The answer has substance: probe one level deeper on the reasoning behind the approach.\n")
	}
	b.WriteString("- Ask one short follow-up question, not a list.\n\n")

	b.WriteString("Return a JSON object with exactly these fields:\n")
	b.WriteString(`{"followUpQuestion": "<probe text>", "purpose": "<what it surfaces>", "expectedImprovement": "<what a stronger second attempt shows>"}`)

	return b.String()
}

// joinOrNone renders a list for prompt embedding; an empty list reads as
// "none" rather than an empty string the model might misparse.
func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
