package ingestion

import (
	"VaultLedger/internal/core"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Stream names and subject roots.
const (
	RequestStream = "VAULT_REQUESTS"
	PriceStream   = "VAULT_PRICES"
	EventStream   = "VAULT_EVENTS"
	ReplyStream   = "VAULT_REPLIES"

	RequestSubjects = "vault.requests.>"
	PriceSubjects   = "vault.prices.>"
	EventSubjects   = "vault.events.>"
	ReplySubjects   = "vault.replies.>"
)

// RequestSubject is where producers publish requests of kind for brand.
func RequestSubject(kind core.RequestKind, brand fpmath.Brand) string {
	return fmt.Sprintf("vault.requests.%s.%s", kind, brand)
}

// PriceSubject is where the price feed for collateral is published.
func PriceSubject(collateral fpmath.Brand) string {
	return fmt.Sprintf("vault.prices.%s", collateral)
}

// Inbound is a parsed request waiting for the dispatcher. Ack and Nak settle
// the NATS message; Reply, when set, receives the dispatcher's answer.
type Inbound struct {
	Request  core.Request
	Subject  string
	Received time.Time
	Ack      func()
	Nak      func()
	Reply    chan<- core.Reply
}

func (in Inbound) ack() {
	if in.Ack != nil {
		in.Ack()
	}
}

func (in Inbound) nak() {
	if in.Nak != nil {
		in.Nak()
	}
}

// SubjectConfig binds a durable consumer to a filter subject.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one consumer per request kind so each can be
// scaled and paused independently, plus one for prices.
func DefaultSubjects() []SubjectConfig {
	kinds := []core.RequestKind{
		core.KindOpen, core.KindAdjust, core.KindClose, core.KindTransfer,
		core.KindAccept, core.KindDeposit, core.KindWithdraw, core.KindParams,
	}
	subjects := make([]SubjectConfig, 0, len(kinds)+1)
	for _, k := range kinds {
		subjects = append(subjects, SubjectConfig{
			Subject:      fmt.Sprintf("vault.requests.%s.>", k),
			ConsumerName: fmt.Sprintf("vaultengine-%s", k),
			StreamName:   RequestStream,
		})
	}
	return append(subjects, SubjectConfig{
		Subject:      PriceSubjects,
		ConsumerName: "vaultengine-prices",
		StreamName:   PriceStream,
	})
}

// NATSSubscriber consumes JetStream subjects, parses each message and queues
// it for the dispatcher. Unparseable messages are terminated, never redelivered.
type NATSSubscriber struct {
	js        jetstream.JetStream
	parser    Parser
	inbound   chan<- Inbound
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewNATSSubscriber(js jetstream.JetStream, parser Parser, inbound chan<- Inbound, logger zerolog.Logger, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		parser:  parser,
		inbound: inbound,
		logger:  logger.With().Str("component", "nats_subscriber").Logger(),
		metrics: metrics,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		stream := cfg.StreamName
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.handle(ctx, stream, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, stream string, msg jetstream.Msg) {
	if ns.metrics != nil {
		ns.metrics.IngestReceived.WithLabelValues(stream).Inc()
	}

	req, err := ns.parser.ParseMessage(msg.Subject(), msg.Data())
	if err != nil {
		if ns.metrics != nil {
			ns.metrics.IngestMalformed.WithLabelValues(stream).Inc()
		}
		ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("terminating malformed message")
		if termErr := msg.Term(); termErr != nil && !errors.Is(termErr, nats.ErrConnectionClosed) {
			ns.logger.Warn().Err(termErr).Msg("term failed")
		}
		return
	}

	in := Inbound{
		Request:  req,
		Subject:  msg.Subject(),
		Received: time.Now(),
		Ack:      func() { _ = msg.Ack() },
		Nak:      func() { _ = msg.Nak() },
	}

	select {
	case ns.inbound <- in:
	case <-ctx.Done():
		_ = msg.Nak()
	}
}

func streamConfig(name, subjects string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subjects},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		streamConfig(RequestStream, RequestSubjects),
		streamConfig(PriceStream, PriceSubjects),
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("vaultengine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
