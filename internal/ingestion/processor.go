package ingestion

import (
	"VaultLedger/internal/core"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Applier runs one request to completion. *core.Dispatcher implements it.
type Applier interface {
	Apply(ctx context.Context, req core.Request) core.Reply
}

// ReplyPublisher fans replies out to requesters.
type ReplyPublisher interface {
	PublishReply(ctx context.Context, reply core.Reply) error
}

// Processor is the single consumer of the inbound queue. Requests are applied
// in arrival order; a message is acked once its reply exists, whatever the
// outcome.
type Processor struct {
	inbound <-chan Inbound
	applier Applier
	replies ReplyPublisher
	logger  zerolog.Logger
}

func NewProcessor(inbound <-chan Inbound, applier Applier, replies ReplyPublisher, logger zerolog.Logger) *Processor {
	return &Processor{
		inbound: inbound,
		applier: applier,
		replies: replies,
		logger:  logger.With().Str("component", "processor").Logger(),
	}
}

// Run applies requests until ctx is cancelled. Messages still queued at that
// point are nak'd so JetStream redelivers them after restart.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case in, ok := <-p.inbound:
			if !ok {
				return nil
			}
			p.process(ctx, in)
		}
	}
}

func (p *Processor) process(ctx context.Context, in Inbound) {
	start := time.Now()
	reply := p.applier.Apply(ctx, in.Request)
	in.ack()

	if in.Reply != nil {
		select {
		case in.Reply <- reply:
		default:
		}
	}
	if p.replies != nil {
		if err := p.replies.PublishReply(ctx, reply); err != nil {
			p.logger.Warn().Err(err).Str("request_id", reply.RequestID).Msg("reply publish failed")
		}
	}

	p.logger.Debug().
		Str("request_id", reply.RequestID).
		Str("kind", string(reply.Kind)).
		Str("status", string(reply.Status)).
		Dur("took", time.Since(start)).
		Msg("request processed")
}

func (p *Processor) drain() {
	n := 0
	for {
		select {
		case in := <-p.inbound:
			in.nak()
			n++
		default:
			if n > 0 {
				p.logger.Info().Int("count", n).Msg("nak'd queued requests on shutdown")
			}
			return
		}
	}
}
