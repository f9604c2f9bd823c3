package agent

import (
	"github.com/canopyhq/graphpilot/pkg/models"
)

// TruncationStrategy shrinks prior conversation history after the backend
// rejects a call for context overflow. Strategies never mutate the input
// slice; they return a new one. attempt is 1-based and increases across
// consecutive overflow recoveries within one run.
type TruncationStrategy interface {
	// Truncate returns the retained history and the number of messages
	// dropped. Returning the input unchanged (dropped == 0) tells the
	// caller recovery is impossible.
	Truncate(history []models.Message, attempt int) ([]models.Message, int)
}

// DropOldestStrategy discards messages from the front of the history.
// The first attempt drops half; later attempts drop progressively
// smaller fractions but always at least one message, so repeated
// overflows converge on an empty history rather than looping.
type DropOldestStrategy struct{}

// Truncate drops ceil(len/(attempt+1)) of the oldest messages, then
// extends the cut past any tool results whose originating tool call was
// dropped: a tool result without its call is rejected by the backend.
func (DropOldestStrategy) Truncate(history []models.Message, attempt int) ([]models.Message, int) {
	n := len(history)
	if n == 0 {
		return history, 0
	}
	if attempt < 1 {
		attempt = 1
	}

	drop := (n + attempt) / (attempt + 1)
	if drop < 1 {
		drop = 1
	}
	for drop < n && startsWithToolResult(history[drop]) {
		drop++
	}
	if drop >= n {
		return nil, n
	}

	kept := make([]models.Message, n-drop)
	copy(kept, history[drop:])
	return kept, drop
}

func startsWithToolResult(msg models.Message) bool {
	return len(msg.Content) > 0 && msg.Content[0].Type == models.BlockToolResult
}
