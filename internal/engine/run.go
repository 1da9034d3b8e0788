package engine

import (
	"context"
	"errors"

	"leaderkey/internal/event"
)

// DefaultBatchSize bounds how many events are drained per wake-up.
const DefaultBatchSize = 32

// Source is the consumer side of the handoff queue.
type Source interface {
	DequeueBatch(maxCount int) []event.Event
	Wait(ctx context.Context) bool
}

// Run drains src until ctx is cancelled. Each event is handled in order;
// a withheld event the engine passes through is re-posted. A panic while
// handling an event is recorded, the sequence is force-reset and the loop
// keeps going.
func (e *Engine) Run(ctx context.Context, src Source, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	e.log.Info("consumer started", "batch", batchSize)
	defer e.log.Info("consumer stopped")

	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		batch := src.DequeueBatch(batchSize)
		if len(batch) == 0 {
			src.Wait(ctx)
			continue
		}
		for _, ev := range batch {
			e.consume(ev)
		}
	}
}

func (e *Engine) consume(ev event.Event) {
	var outcome Outcome
	recovered := e.crash.Guard("engine", map[string]any{"kind": ev.Kind.String(), "code": ev.Code}, func() {
		outcome = e.HandleEvent(ev)
	})
	if recovered {
		e.metrics.RecoveredPanics.Inc()
		e.ForceReset()
		outcome = PassThrough
	}

	if outcome == PassThrough && ev.Consumed {
		e.repost(ev)
	}
}

func (e *Engine) repost(ev event.Event) {
	if e.reposter == nil {
		return
	}
	if err := e.reposter.Repost(ev); err != nil {
		e.log.Warn("repost failed", "code", ev.Code, "error", err)
	}
}
