package pipeline

import (
	"fmt"

	"github.com/voxprep/voxprep/internal/interview"
)

// Fixed degraded values for each stage. Every generation failure resolves to
// one of these instead of surfacing an error to the candidate, so a session
// always proceeds. They are exported as named values so callers and tests can
// distinguish "the stage fell back" from "the model happened to produce this".
var (
	// FallbackAnalysis is the Stage A degraded value: a neutral mid-session
	// read that keeps question selection on safe ground.
	FallbackAnalysis = interview.AIAnalysis{
		ReadinessLevel:        5,
		CurrentNeed:           interview.NeedPractice,
		RecommendedDifficulty: interview.DifficultyMedium,
		BestCategory:          interview.CategoryBehavioral,
		FocusArea:             "communication",
	}

	// FallbackFollowUp is the Stage D degraded value: a generic probe that
	// works after any answer.
	FallbackFollowUp = interview.FollowUpQuestion{
		FollowUpQuestion:    "Can you walk me through a specific example of that?",
		Purpose:             "Ground the answer in a concrete situation",
		ExpectedImprovement: "A specific situation with the candidate's own actions and outcome",
	}
)

// FallbackQuestion returns the Stage B degraded value: a deterministic
// templated question referencing the candidate's target role.
func FallbackQuestion(targetRole string) interview.GeneratedQuestion {
	if targetRole == "" {
		targetRole = "your target role"
	}
	return interview.GeneratedQuestion{
		Question: fmt.Sprintf(
			"Tell me about a recent project or experience that prepared you for %s. What was your specific contribution?",
			targetRole),
		Category:             interview.CategoryBehavioral,
		Difficulty:           interview.DifficultyMedium,
		ExpectedAnswerLength: interview.AnswerMedium,
		EvaluationCriteria: []string{
			"Specificity of the example",
			"Clarity of the candidate's own role",
			"Outcome and impact",
		},
	}
}

// FallbackEvaluation returns the Stage C degraded value: a neutral passing
// score with generic but plausible feedback, so the candidate sees nothing
// unusual when the grader is unavailable. Slices are freshly allocated per
// call so callers can hold the result without aliasing.
func FallbackEvaluation() interview.AnswerEvaluation {
	return interview.AnswerEvaluation{
		OverallScore: 61,
		Relevance:    16,
		Clarity:      15,
		Depth:        15,
		Examples:     15,
		Strengths: []string{
			"Engaged directly with the question",
			"Maintained a clear overall structure",
			"Kept the answer focused on the topic",
		},
		Improvements: []string{
			"Add a concrete example from your own experience",
			"Quantify the impact of your actions where possible",
			"Close with what you learned or would do differently",
		},
		ImprovedAnswer: "Structure the answer around one specific situation: " +
			"the context, the actions you personally took, and the measurable outcome.",
		NextFocusArea: "communication",
	}
}
