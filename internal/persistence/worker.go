package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"LevGuard/internal/core"
	"LevGuard/internal/observability"
)

// Worker drains the persist channel and batch-writes events to
// Postgres. It runs in its own goroutine; the core uses blocking sends
// into the channel, so if this worker falls behind the core stalls
// rather than losing events.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the worker loop. It batches incoming events and flushes
// either when the batch is full or the flush timeout expires. Blocks
// until ctx is cancelled or the input channel is closed.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				// Shutdown flush uses a background context so the
				// in-flight batch is not lost to the cancellation.
				if err := w.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			batch = append(batch, RowFromEnvelope(out.Envelope))

			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write
// succeeds or the context is cancelled. The worker never drops a batch.
func (w *Worker) flushWithRetry(ctx context.Context, batch []EventRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, events=%d)",
				attempt, backoff, len(batch))
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: flush on shutdown failed, %d events lost: %v", len(batch), err)
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []EventRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Writer returns the underlying writer, for replay at startup.
func (w *Worker) Writer() *EventLogWriter {
	return w.writer
}
