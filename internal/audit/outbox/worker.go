// Package outbox drains committed outbox rows to the event stream. Rows are
// only marked published after the broker accepts them, so delivery is
// at-least-once; consumers dedupe on correlation id.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/audit"
)

// Source is the slice of the record store the worker drains.
type Source interface {
	NextUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Sink delivers one payload to the downstream stream.
type Sink interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Worker polls the outbox table and publishes pending entries in batches.
type Worker struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Worker)

func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func New(source Source, sink Sink, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		source:    source,
		sink:      sink,
		logger:    logger,
		interval:  time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run drains the outbox until the context is cancelled. Publish failures are
// logged and retried on the next tick; a failed entry stays unpublished.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.DrainOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce publishes one batch of pending entries. Entries that reach the
// broker are marked published even when a later entry in the batch fails.
func (w *Worker) DrainOnce(ctx context.Context) error {
	entries, err := w.source.NextUnpublished(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	published := make([]uuid.UUID, 0, len(entries))
	var publishErr error
	for _, entry := range entries {
		if err := w.sink.Publish(ctx, entry.CorrelationID.String(), entry.Payload); err != nil {
			w.logger.WarnContext(ctx, "publish outbox entry failed",
				"outbox_id", entry.ID,
				"correlation_id", entry.CorrelationID,
				"error", err,
			)
			publishErr = err
			break
		}
		published = append(published, entry.ID)
	}

	if len(published) > 0 {
		if err := w.source.MarkPublished(ctx, published); err != nil {
			return err
		}
		w.logger.DebugContext(ctx, "outbox batch published", "count", len(published))
	}
	return publishErr
}
