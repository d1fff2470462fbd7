package core

import (
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CoreOutput is one unit handed to the persistence, projection and publish
// workers. Exactly one of Envelope or Batch is set.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
	Batch    *ledger.Batch
}

type sequencerInput struct {
	evt        event.Event
	batch      *ledger.Batch
	checkpoint chan Checkpoint
}

// Checkpoint is the sequencer position at one instant.
type Checkpoint struct {
	LastSequence   int64
	StateHash      [32]byte
	LedgerSequence int64
}

var ErrSequencerStopped = errors.New("core: sequencer stopped")

type SequencerConfig struct {
	StartSequence  int64
	InputBuffer    int
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
	PublishChan    chan<- CoreOutput
	Logger         zerolog.Logger
	Metrics        *observability.Metrics
}

// Sequencer is the single writer of the event log. Managers emit into it
// through Emit, the ledger reports commits through OnCommit, and Run assigns
// each event a global sequence and a link in the hash chain.
type Sequencer struct {
	sequence       int64
	ledgerSequence int64
	hasher         *StateHasher

	input   chan sequencerInput
	stopped chan struct{}
	drained chan struct{}
	stop    sync.Once

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	publishChan    chan<- CoreOutput

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewSequencer(cfg SequencerConfig) *Sequencer {
	if cfg.InputBuffer <= 0 {
		cfg.InputBuffer = 1024
	}
	start := cfg.StartSequence
	if start <= 0 {
		start = 1
	}
	return &Sequencer{
		sequence:       start,
		hasher:         NewStateHasher(),
		input:          make(chan sequencerInput, cfg.InputBuffer),
		stopped:        make(chan struct{}),
		drained:        make(chan struct{}),
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
		publishChan:    cfg.PublishChan,
		logger:         cfg.Logger.With().Str("component", "sequencer").Logger(),
		metrics:        cfg.Metrics,
	}
}

// Emit implements event.Sink. It blocks while the input buffer is full and
// drops the event once the sequencer has stopped.
func (s *Sequencer) Emit(e event.Event) {
	s.submit(sequencerInput{evt: e})
}

// OnCommit is registered as a ledger.CommitHook.
func (s *Sequencer) OnCommit(batch *ledger.Batch) {
	s.submit(sequencerInput{batch: batch})
}

func (s *Sequencer) submit(in sequencerInput) {
	select {
	case <-s.stopped:
		s.logger.Warn().Msg("sequencer stopped, dropping input")
		return
	default:
	}
	select {
	case s.input <- in:
	case <-s.stopped:
		s.logger.Warn().Msg("sequencer stopped, dropping input")
	}
}

// Restore resumes numbering after lastSequence with the given chain tip.
// It must be called before Run.
func (s *Sequencer) Restore(lastSequence int64, tip [32]byte, ledgerSequence int64) {
	s.sequence = lastSequence + 1
	s.hasher.SetPrevHash(tip)
	s.ledgerSequence = ledgerSequence
}

// Run sequences inputs until ctx is done, then drains whatever is already
// buffered so that nothing accepted by Emit is lost.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.drained)
	defer s.stop.Do(func() { close(s.stopped) })

	for {
		select {
		case in := <-s.input:
			if err := s.process(in); err != nil {
				return err
			}
		case <-ctx.Done():
			s.stop.Do(func() { close(s.stopped) })
			for {
				select {
				case in := <-s.input:
					if err := s.process(in); err != nil {
						return err
					}
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Sequencer) process(in sequencerInput) error {
	if in.checkpoint != nil {
		in.checkpoint <- s.checkpoint()
		return nil
	}
	if in.batch != nil {
		s.ledgerSequence = in.batch.Sequence
		s.sendPersist(CoreOutput{Batch: in.batch})
		if s.metrics != nil {
			for _, j := range in.batch.Journals {
				s.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
		return nil
	}

	env, err := s.wrap(in.evt)
	if err != nil {
		return err
	}
	out := CoreOutput{Envelope: env, Event: in.evt}

	// Persistence is blocking: the sequencer stalls until the worker drains.
	s.sendPersist(out)

	// Projections and publishing drop on a full channel; both can be rebuilt
	// from the event log.
	if s.projectionChan != nil {
		select {
		case s.projectionChan <- out:
		default:
			if s.metrics != nil {
				s.metrics.ProjectionDrops.WithLabelValues("vaults").Inc()
			}
		}
	}
	if s.publishChan != nil {
		select {
		case s.publishChan <- out:
		default:
			if s.metrics != nil {
				s.metrics.PublishDrops.Inc()
			}
		}
	}
	return nil
}

func (s *Sequencer) sendPersist(out CoreOutput) {
	if s.persistChan == nil {
		return
	}
	select {
	case s.persistChan <- out:
		return
	default:
	}
	if s.metrics != nil {
		s.metrics.PersistBackpressure.Inc()
	}
	s.persistChan <- out
}

// wrap puts e in the next envelope and advances the chain.
func (s *Sequencer) wrap(e event.Event) (*event.EventEnvelope, error) {
	payload, err := event.Encode(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}

	prev := s.hasher.GetPrevHash()
	hash := s.hasher.ComputeHash(s.sequence, EnvelopeDigest(e.EventType(), s.ledgerSequence, payload))

	env := &event.EventEnvelope{
		Sequence:       s.sequence,
		IdempotencyKey: e.IdempotencyKey(),
		EventType:      e.EventType(),
		Collateral:     e.CollateralBrand(),
		Timestamp:      e.OccurredAt(),
		LedgerSequence: s.ledgerSequence,
		Payload:        payload,
		StateHash:      hash,
		PrevHash:       prev,
	}
	s.sequence++

	if s.metrics != nil {
		s.metrics.CoreEventsSequenced.WithLabelValues(e.EventType().String()).Inc()
		s.metrics.CoreSequence.Set(float64(env.Sequence))
	}
	s.logger.Debug().
		Int64("sequence", env.Sequence).
		Str("event_type", env.EventType.String()).
		Str("collateral", string(env.Collateral)).
		Msg("event sequenced")
	return env, nil
}

// Checkpoint returns the position after every input submitted before the
// call has been sequenced.
func (s *Sequencer) Checkpoint(ctx context.Context) (Checkpoint, error) {
	reply := make(chan Checkpoint, 1)
	select {
	case <-s.stopped:
		return Checkpoint{}, ErrSequencerStopped
	default:
	}
	select {
	case s.input <- sequencerInput{checkpoint: reply}:
	case <-s.stopped:
		return Checkpoint{}, ErrSequencerStopped
	case <-ctx.Done():
		return Checkpoint{}, ctx.Err()
	}
	select {
	case cp := <-reply:
		return cp, nil
	case <-s.drained:
		select {
		case cp := <-reply:
			return cp, nil
		default:
			return Checkpoint{}, ErrSequencerStopped
		}
	case <-ctx.Done():
		return Checkpoint{}, ctx.Err()
	}
}

func (s *Sequencer) checkpoint() Checkpoint {
	return Checkpoint{
		LastSequence:   s.sequence - 1,
		StateHash:      s.hasher.GetPrevHash(),
		LedgerSequence: s.ledgerSequence,
	}
}

// ChannelStats reports the input buffer for backpressure gauges.
func (s *Sequencer) ChannelStats() (size, capacity int) {
	return len(s.input), cap(s.input)
}

// ReportChannels refreshes the channel gauges every interval until ctx is done.
func (s *Sequencer) ReportChannels(ctx context.Context, interval time.Duration) {
	if s.metrics == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, capacity := s.ChannelStats()
			s.metrics.SetChannelMetrics("sequencer_input", size, capacity)
		}
	}
}
