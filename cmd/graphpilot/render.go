package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/canopyhq/graphpilot/pkg/models"
)

// renderEvents prints a run's event stream and returns its done payload.
// Text deltas stream raw; everything else gets a status line.
func renderEvents(w io.Writer, events <-chan models.AgentEvent) *models.DoneEventPayload {
	streaming := false
	endStream := func() {
		if streaming {
			fmt.Fprintln(w)
			streaming = false
		}
	}

	var done *models.DoneEventPayload
	for ev := range events {
		switch ev.Type {
		case models.EventText:
			fmt.Fprint(w, ev.Stream.Delta)
			streaming = true

		case models.EventToolCall:
			endStream()
			desc := ev.Tool.Description
			if desc == "" {
				desc = ev.Tool.Name
			}
			fmt.Fprintf(w, "⏺ %s\n", desc)

		case models.EventToolComplete:
			if ev.Tool.IsError {
				endStream()
				fmt.Fprintf(w, "  ✗ %s\n", firstLine(ev.Tool.Error))
			}

		case models.EventRetry:
			endStream()
			fmt.Fprintf(w, "⏳ %s\n", ev.Retry.Message)

		case models.EventContextTruncated:
			endStream()
			fmt.Fprintf(w, "✂ %s\n", ev.Context.Message)

		case models.EventEntities:
			// Rendered once from the done payload.

		case models.EventDone:
			endStream()
			done = ev.Done
		}
	}

	if done != nil && len(done.Entities) > 0 {
		fmt.Fprintln(w, "\nReferenced:")
		for _, ent := range done.Entities {
			fmt.Fprintf(w, "  - %s (%s)\n", ent.DisplayName, ent.Type)
		}
	}
	return done
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
