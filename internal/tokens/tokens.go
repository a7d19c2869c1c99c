// Package tokens provides the approximate token counting used for context
// budgeting. It is a deliberate length-based heuristic, not a tokenizer:
// callers must treat the result as advisory and never as a hard limit.
package tokens

// charsPerToken is the rough ratio that holds for most models.
const charsPerToken = 4

// Estimate returns an approximate token count for text. Deterministic and
// O(len(text)). Exceeding a budget by the estimator's error margin is an
// accepted limitation of downstream budgeting, not a bug.
func Estimate(text string) int {
	return len(text) / charsPerToken
}
