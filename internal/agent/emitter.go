package agent

import (
	"context"
	"time"

	"github.com/canopyhq/graphpilot/pkg/models"
)

// eventVersion is stamped on every emitted event.
const eventVersion = 1

// emitter stamps and sequences events onto the run's channel. Not safe
// for concurrent use: a run emits from a single goroutine, which is what
// gives the stream its ordering guarantee.
type emitter struct {
	ch    chan<- models.AgentEvent
	runID string
	seq   uint64
	turn  int
	done  bool
}

func newEmitter(ch chan<- models.AgentEvent, runID string) *emitter {
	return &emitter{ch: ch, runID: runID}
}

// emit sends one event, giving up if the run context ends while the
// consumer is not draining the channel.
func (e *emitter) emit(ctx context.Context, ev models.AgentEvent) {
	e.seq++
	ev.Version = eventVersion
	ev.Time = time.Now()
	ev.Sequence = e.seq
	ev.RunID = e.runID
	ev.Turn = e.turn

	select {
	case e.ch <- ev:
	case <-ctx.Done():
	}
}

func (e *emitter) text(ctx context.Context, delta string) {
	e.emit(ctx, models.AgentEvent{
		Type:   models.EventText,
		Stream: &models.StreamEventPayload{Delta: delta},
	})
}

func (e *emitter) thinking(ctx context.Context, text string) {
	e.emit(ctx, models.AgentEvent{
		Type:     models.EventThinking,
		Thinking: &models.ThinkingEventPayload{Text: text},
	})
}

func (e *emitter) toolCall(ctx context.Context, callID, name, description string) {
	e.emit(ctx, models.AgentEvent{
		Type: models.EventToolCall,
		Tool: &models.ToolEventPayload{CallID: callID, Name: name, Description: description},
	})
}

func (e *emitter) toolComplete(ctx context.Context, result models.ToolResult) {
	payload := &models.ToolEventPayload{
		CallID:            result.ToolCallID,
		ElapsedMs:         result.Elapsed.Milliseconds(),
		IsError:           result.IsError,
		RetryAfterSeconds: result.RetryAfterSeconds,
	}
	if result.IsError {
		payload.Error = result.Content
	}
	e.emit(ctx, models.AgentEvent{Type: models.EventToolComplete, Tool: payload})
}

func (e *emitter) toolError(ctx context.Context, result models.ToolResult) {
	e.emit(ctx, models.AgentEvent{
		Type: models.EventToolError,
		Tool: &models.ToolEventPayload{
			CallID:            result.ToolCallID,
			ElapsedMs:         result.Elapsed.Milliseconds(),
			Error:             result.Content,
			IsError:           true,
			RetryAfterSeconds: result.RetryAfterSeconds,
		},
	})
}

func (e *emitter) entities(ctx context.Context, found []models.Entity) {
	e.emit(ctx, models.AgentEvent{
		Type:     models.EventEntities,
		Entities: &models.EntitiesEventPayload{Entities: found},
	})
}

func (e *emitter) retry(ctx context.Context, attempt int, delay time.Duration, message string) {
	e.emit(ctx, models.AgentEvent{
		Type: models.EventRetry,
		Retry: &models.RetryEventPayload{
			Attempt:      attempt,
			DelayMs:      delay.Milliseconds(),
			DelaySeconds: int(delay.Round(time.Second).Seconds()),
			Message:      message,
		},
	})
}

func (e *emitter) contextTruncated(ctx context.Context, attempt, original, remaining int, message string) {
	e.emit(ctx, models.AgentEvent{
		Type: models.EventContextTruncated,
		Context: &models.TruncationEventPayload{
			Attempt:       attempt,
			OriginalCount: original,
			NewCount:      remaining,
			DroppedCount:  original - remaining,
			Message:       message,
		},
	})
}

// emitDone terminates the stream. Subsequent calls are no-ops so every
// exit path can report its outcome without double-terminating. The send
// does not watch the run context: a cancelled run still owes its
// consumer a done event, so only a vanished consumer abandons it.
func (e *emitter) emitDone(payload models.DoneEventPayload) {
	if e.done {
		return
	}
	e.done = true

	e.seq++
	ev := models.AgentEvent{
		Version:  eventVersion,
		Type:     models.EventDone,
		Time:     time.Now(),
		Sequence: e.seq,
		RunID:    e.runID,
		Turn:     e.turn,
		Done:     &payload,
	}
	select {
	case e.ch <- ev:
	case <-time.After(5 * time.Second):
	}
}
