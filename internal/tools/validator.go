// Package tools implements the graph query tool: validation, rate-limited
// execution against the graph store, result truncation, and audit logging.
package tools

import (
	"fmt"
	"regexp"
)

// mutationPatterns match DQL constructs that would write to the store.
// The validator is deliberately conservative: it is the only barrier
// preventing write access through a read-only credential.
var mutationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bset\s*\{`),
	regexp.MustCompile(`(?i)\bdelete\s*\{`),
	regexp.MustCompile(`(?i)\bupsert\s*\{`),
	regexp.MustCompile(`(?i)\bmutation\b`),
}

// ValidationError reports a query rejected before any external call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("query rejected: %s", e.Reason)
}

// ValidateQuery rejects query text containing mutation constructs.
// Pure and synchronous; no I/O.
func ValidateQuery(query string) error {
	for _, p := range mutationPatterns {
		if p.MatchString(query) {
			return &ValidationError{Reason: "only read-only queries are allowed"}
		}
	}
	return nil
}
