package projection

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultCatchUpInterval = 500 * time.Millisecond
	defaultPageSize        = 500
)

// Invalidator is told about every vault row the worker rewrites.
type Invalidator interface {
	Invalidate(ctx context.Context, collateral string, vaultID uint64)
}

// ProjectionWorker keeps projections.vaults and projections.liquidations
// current. The projection channel is fed without blocking, so outputs may be
// dropped. A gap in sequences switches the worker to reading the persisted
// event log until it has caught up.
type ProjectionWorker struct {
	db          *sql.DB
	input       <-chan core.CoreOutput
	lastSeq     atomic.Int64
	highestSeen int64
	behind      bool

	catchUpInterval time.Duration
	pageSize        int
	invalidator     Invalidator

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewProjectionWorker(db *sql.DB, input <-chan core.CoreOutput, logger zerolog.Logger, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:              db,
		input:           input,
		catchUpInterval: defaultCatchUpInterval,
		pageSize:        defaultPageSize,
		logger:          logger.With().Str("component", "projection").Logger(),
		metrics:         metrics,
	}
}

// SetInvalidator registers a cache to evict when vault rows change.
func (pw *ProjectionWorker) SetInvalidator(inv Invalidator) {
	pw.invalidator = inv
}

// SetCatchUpInterval overrides how often a lagging worker polls the log.
func (pw *ProjectionWorker) SetCatchUpInterval(d time.Duration) {
	pw.catchUpInterval = d
}

// LastSequence returns the watermark.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq.Load()
}

// Run consumes outputs until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq.Store(last)
	pw.highestSeen = last
	// Whatever the log holds past the watermark was missed while down.
	pw.behind = true
	pw.catchUp(ctx)

	ticker := time.NewTicker(pw.catchUpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.input:
			if !ok {
				return nil
			}
			pw.handle(ctx, out)

		case <-ticker.C:
			if pw.behind {
				pw.catchUp(ctx)
			}
		}
	}
}

func (pw *ProjectionWorker) handle(ctx context.Context, out core.CoreOutput) {
	if out.Envelope == nil || out.Event == nil {
		return
	}
	seq := out.Envelope.Sequence
	if seq > pw.highestSeen {
		pw.highestSeen = seq
	}

	last := pw.lastSeq.Load()
	switch {
	case seq <= last:
		return
	case seq == last+1 && !pw.behind:
		if err := pw.apply(ctx, seq, out.Event); err != nil {
			pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed, falling back to event log")
			pw.behind = true
		}
	default:
		if !pw.behind {
			pw.logger.Warn().Int64("seq", seq).Int64("watermark", last).Msg("projection gap, catching up from event log")
		}
		pw.behind = true
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, seq int64, ev event.Event) error {
	start := time.Now()
	u := Plan(seq, ev)
	if err := ApplyUpdate(ctx, pw.db, u); err != nil {
		return err
	}
	pw.lastSeq.Store(seq)
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(WatermarkName).Observe(time.Since(start).Seconds())
	}
	if pw.invalidator != nil && u.Vault != nil {
		pw.invalidator.Invalidate(ctx, u.Vault.Collateral, u.Vault.VaultID)
	}
	return nil
}

// catchUp applies persisted events after the watermark. Events the
// persistence worker has not flushed yet are picked up on a later tick.
func (pw *ProjectionWorker) catchUp(ctx context.Context) {
	for {
		from := pw.lastSeq.Load() + 1
		rows, err := persistence.LoadEventsFrom(ctx, pw.db, from, pw.pageSize)
		if err != nil {
			if ctx.Err() == nil {
				pw.logger.Warn().Err(err).Int64("from", from).Msg("projection catch-up read failed")
			}
			return
		}
		for _, r := range rows {
			if r.Sequence != pw.lastSeq.Load()+1 {
				// Not persisted yet.
				return
			}
			ev, err := decodeRow(r)
			if err != nil {
				log.Printf("FATAL: projection cannot decode persisted event %d: %v", r.Sequence, err)
				panic(err)
			}
			if err := pw.apply(ctx, r.Sequence, ev); err != nil {
				pw.logger.Warn().Err(err).Int64("seq", r.Sequence).Msg("projection catch-up apply failed")
				return
			}
		}
		if len(rows) < pw.pageSize {
			if pw.lastSeq.Load() >= pw.highestSeen {
				pw.behind = false
				pw.logger.Info().Int64("watermark", pw.lastSeq.Load()).Msg("projection caught up")
			}
			return
		}
	}
}

func decodeRow(r persistence.EventRow) (event.Event, error) {
	et, err := event.ParseEventType(r.EventType)
	if err != nil {
		return nil, err
	}
	return event.Decode(et, r.Payload)
}

// RebuildProjections truncates the projection tables and replays the whole
// event log into them.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		`TRUNCATE projections.vaults`,
		`TRUNCATE projections.liquidations`,
		`DELETE FROM projections.watermark WHERE projection_name = '` + WatermarkName + `'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	next := int64(1)
	applied := 0
	for {
		rows, err := persistence.LoadEventsFrom(ctx, db, next, defaultPageSize)
		if err != nil {
			return fmt.Errorf("read event log at %d: %w", next, err)
		}
		for _, r := range rows {
			ev, err := decodeRow(r)
			if err != nil {
				return fmt.Errorf("decode event %d: %w", r.Sequence, err)
			}
			if err := ApplyUpdate(ctx, db, Plan(r.Sequence, ev)); err != nil {
				return fmt.Errorf("apply event %d: %w", r.Sequence, err)
			}
			applied++
		}
		if len(rows) < defaultPageSize {
			break
		}
		next = rows[len(rows)-1].Sequence + 1
	}

	log.Printf("INFO: projection rebuild complete (%d events)", applied)
	return nil
}
