// Package classify decides whether a free-text chat message is likely a SQL
// statement. The check is a case-insensitive whole-word match against a fixed
// keyword set. It is a heuristic: a natural-language sentence that happens to
// contain a keyword ("select the best restaurant") classifies as SQL. Callers
// recover from that through the pipeline's fallback chain, so the false
// positive is accepted rather than worked around here.
package classify

import "regexp"

// Command keywords only. Clause words like FROM or WHERE are deliberately
// absent: "show all entries from cities" is a question, not a statement.
var keywordPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|create|drop|alter|attach|detach|pragma|with|copy|describe|vacuum)\b`)

// IsLikelySQL reports whether text contains at least one SQL keyword as a
// whole word. Pure function, no failure modes.
func IsLikelySQL(text string) bool {
	return keywordPattern.MatchString(text)
}
