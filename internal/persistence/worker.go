package persistence

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// It runs independently from the sequencer. The persist channel uses BLOCKING
// sends, so if this worker falls behind the sequencer stalls and no event is
// lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics

	persisted       atomic.Int64 // last event sequence committed
	ledgerPersisted atomic.Int64 // last ledger sequence committed
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		logger:       logger.With().Str("component", "persistence").Logger(),
		metrics:      metrics,
	}
}

type pending struct {
	events   []EventRow
	journals []JournalRow
	lastSeq  int64
	ledger   int64
	outputs  int
}

func (p *pending) add(out core.CoreOutput) {
	p.outputs++
	if out.Envelope != nil {
		p.events = append(p.events, EventRowFromEnvelope(out.Envelope))
		p.lastSeq = out.Envelope.Sequence
	}
	if out.Batch != nil {
		p.journals = append(p.journals, JournalRowsFromBatch(out.Batch)...)
		p.ledger = out.Batch.Sequence
	}
}

func (p *pending) reset() {
	p.events = p.events[:0]
	p.journals = p.journals[:0]
	p.lastSeq = 0
	p.ledger = 0
	p.outputs = 0
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. It returns nil once the input channel is closed
// and the final batch is written; cancelling ctx abandons retries.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pending{
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*4),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if batch.outputs > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("outputs", batch.outputs).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if batch.outputs > 0 {
					if err := pw.flushWithRetry(ctx, batch); err != nil {
						return fmt.Errorf("final flush: %w", err)
					}
				}
				return nil
			}

			batch.add(output)
			if batch.outputs >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if batch.outputs > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. The worker never drops a batch.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pending) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch.events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// One last try without the cancelled context.
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Error().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pending) error {
	start := time.Now()

	// Events and journals commit together.
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch.events); err != nil {
		pw.countError("write_events")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if batch.lastSeq > 0 {
		pw.persisted.Store(batch.lastSeq)
	}
	if batch.ledger > 0 {
		pw.ledgerPersisted.Store(batch.ledger)
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(batch.outputs))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		if batch.lastSeq > 0 {
			pw.metrics.PersistLastSequence.Set(float64(batch.lastSeq))
		}
	}

	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}

// Persisted returns the last event sequence known to be committed.
func (pw *PersistenceWorker) Persisted() int64 {
	return pw.persisted.Load()
}

// SetPersisted seeds the watermark after recovery.
func (pw *PersistenceWorker) SetPersisted(seq int64) {
	pw.persisted.Store(seq)
}

// WaitPersisted blocks until seq is committed or ctx expires.
func (pw *PersistenceWorker) WaitPersisted(ctx context.Context, seq int64) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for pw.persisted.Load() < seq {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for sequence %d (persisted %d): %w", seq, pw.persisted.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
