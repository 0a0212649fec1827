package interview

import "strings"

// AnswerSignals are the locally computed booleans that steer the follow-up
// prompt. The pipeline derives them itself rather than delegating detection
// to the model, so the follow-up strategy stays deterministic and testable.
type AnswerSignals struct {
	// HasExamples is true when the answer references a concrete example,
	// situation, or experience.
	HasExamples bool

	// HasQuantifiableResults is true when the answer cites measurable impact.
	HasQuantifiableResults bool

	// ShowsProblemSolving is true when the answer describes a problem,
	// approach, or solution.
	ShowsProblemSolving bool
}

// Keyword lists for answer signal detection. Matching is case-insensitive and
// honours word boundaries, so "PROBLEM-solving" matches "problem" but
// "unproblematic" does not.
var (
	exampleKeywords = []string{
		"example", "instance", "time when", "situation", "project", "experience",
	}
	quantifiableKeywords = []string{
		"%", "percent", "increased", "decreased", "improved", "reduced", "saved", "grew",
	}
	problemSolvingKeywords = []string{
		"problem", "challenge", "solution", "solved", "approach", "strategy",
	}
)

// DetectSignals computes the three answer signals for the given answer text.
func DetectSignals(answer string) AnswerSignals {
	lower := strings.ToLower(answer)
	return AnswerSignals{
		HasExamples:            matchesAny(lower, exampleKeywords),
		HasQuantifiableResults: matchesAny(lower, quantifiableKeywords),
		ShowsProblemSolving:    matchesAny(lower, problemSolvingKeywords),
	}
}

// matchesAny reports whether any keyword occurs in lower (which must already
// be lowercased) as a whole word.
func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if containsWord(lower, kw) {
			return true
		}
	}
	return false
}

// containsWord reports whether kw occurs in s bounded by non-alphanumeric
// characters (or the ends of s). Keywords that are not purely alphanumeric,
// such as "%", match as plain substrings since boundary rules do not apply.
func containsWord(s, kw string) bool {
	if !isAlnumPhrase(kw) {
		return strings.Contains(s, kw)
	}
	for off := 0; ; {
		idx := strings.Index(s[off:], kw)
		if idx < 0 {
			return false
		}
		start := off + idx
		end := start + len(kw)
		if (start == 0 || !isAlnum(s[start-1])) && (end == len(s) || !isAlnum(s[end])) {
			return true
		}
		off = start + 1
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// isAlnumPhrase reports whether kw consists only of alphanumeric characters
// and spaces (multi-word keywords like "time when" still get boundary checks).
func isAlnumPhrase(kw string) bool {
	for i := 0; i < len(kw); i++ {
		if kw[i] != ' ' && !isAlnum(kw[i]) {
			return false
		}
	}
	return true
}
