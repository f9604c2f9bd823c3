package tools

import (
	"fmt"
	"unicode/utf8"
)

// TruncationMarker is the machine-detectable prefix of the marker appended
// to payloads cut down to the byte budget.
const TruncationMarker = "[result truncated:"

// DefaultResultBudget bounds tool results before they re-enter the
// conversation.
const DefaultResultBudget = 32 * 1024

// Truncator bounds tool result payloads to a byte budget.
type Truncator struct {
	Budget int
}

// NewTruncator returns a truncator with the given byte budget.
// A non-positive budget falls back to DefaultResultBudget.
func NewTruncator(budget int) *Truncator {
	if budget <= 0 {
		budget = DefaultResultBudget
	}
	return &Truncator{Budget: budget}
}

// Truncate returns payload unchanged when it fits the budget. Otherwise it
// returns a prefix cut at a rune boundary with a truncation marker appended;
// the output stays within the budget plus the marker length.
func (t *Truncator) Truncate(payload []byte) []byte {
	if len(payload) <= t.Budget {
		return payload
	}

	total := len(payload)
	// Worst-case marker length, so the output never exceeds the budget.
	reserve := len(fmt.Sprintf("\n%s showing %d of %d bytes]", TruncationMarker, total, total))
	keep := t.Budget - reserve
	if keep < 0 {
		keep = 0
	}

	// Never split a multi-byte rune.
	for keep > 0 && !utf8.RuneStart(payload[keep]) {
		keep--
	}

	marker := fmt.Sprintf("\n%s showing %d of %d bytes]", TruncationMarker, keep, total)
	out := make([]byte, 0, keep+len(marker))
	out = append(out, payload[:keep]...)
	out = append(out, marker...)
	return out
}
