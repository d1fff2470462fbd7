package ingestion

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes sequenced events and request replies to NATS.
// Subjects:
//
//	vault.events.{event_type}.{collateral}
//	vault.replies.{kind}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// PublishableEvent is the outbound wire form of an envelope.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Collateral     string          `json:"collateral"`
	LedgerSequence int64           `json:"ledger_sequence"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewPublishableEvent(env *event.EventEnvelope) PublishableEvent {
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Collateral:     string(env.Collateral),
		LedgerSequence: env.LedgerSequence,
		Payload:        env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
}

// EventSubject returns the outbound subject for an envelope.
func EventSubject(env *event.EventEnvelope) string {
	return fmt.Sprintf("vault.events.%s.%s", env.EventType.Subject(), env.Collateral)
}

// ReplySubject returns the outbound subject for a reply.
func ReplySubject(reply core.Reply) string {
	return fmt.Sprintf("vault.replies.%s", reply.Kind)
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, logger zerolog.Logger, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger.With().Str("component", "publisher").Logger(),
		metrics:   metrics,
	}
}

// Run publishes envelopes until ctx is cancelled. Publish failures are not
// fatal: downstream consumers can read the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if out.Envelope == nil {
				continue
			}
			if err := op.publishEvent(ctx, out.Envelope); err != nil {
				op.failed("event")
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publishEvent(ctx context.Context, env *event.EventEnvelope) error {
	data, err := json.Marshal(NewPublishableEvent(env))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The idempotency key doubles as the JetStream message id so a replay
	// after restart is deduplicated by the server.
	_, err = op.js.Publish(ctx, EventSubject(env), data, jetstream.WithMsgID(env.IdempotencyKey))
	return err
}

// PublishReply implements ReplyPublisher.
func (op *OutboundPublisher) PublishReply(ctx context.Context, reply core.Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	msgID := fmt.Sprintf("%s:%s", reply.Kind, reply.RequestID)
	if _, err := op.js.Publish(ctx, ReplySubject(reply), data, jetstream.WithMsgID(msgID)); err != nil {
		op.failed("reply")
		return err
	}
	return nil
}

func (op *OutboundPublisher) failed(kind string) {
	if op.metrics != nil {
		op.metrics.PublishErrors.WithLabelValues(kind).Inc()
	}
}

// EnsureOutboundStreams creates the event and reply streams.
func EnsureOutboundStreams(ctx context.Context, js jetstream.JetStream) error {
	for _, cfg := range []jetstream.StreamConfig{
		streamConfig(EventStream, EventSubjects),
		streamConfig(ReplyStream, ReplySubjects),
	} {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create outbound stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured outbound stream %s", cfg.Name)
	}
	return nil
}
