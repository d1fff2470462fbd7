package ingestion

import (
	"VaultLedger/internal/core"
	fpmath "VaultLedger/internal/math"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotApplied = errors.New("ingestion: request was not applied")

// AdminIngestService injects operator requests into the same queue the NATS
// subscriber feeds, so they are ordered with regular traffic. It is meant for
// manual corrections, not throughput.
type AdminIngestService struct {
	inbound chan<- Inbound
	parser  Parser
	now     func() time.Time
}

func NewAdminIngestService(inbound chan<- Inbound, parser Parser) *AdminIngestService {
	return &AdminIngestService{inbound: inbound, parser: parser, now: time.Now}
}

// Submit queues req and waits for the dispatcher's reply.
func (s *AdminIngestService) Submit(ctx context.Context, req core.Request) (core.Reply, error) {
	replyCh := make(chan core.Reply, 1)
	in := Inbound{
		Request:  req,
		Subject:  "admin",
		Received: s.now(),
		Reply:    replyCh,
	}

	select {
	case s.inbound <- in:
	case <-ctx.Done():
		return core.Reply{}, ctx.Err()
	}

	select {
	case reply := <-replyCh:
		if reply.Status == core.StatusRejected {
			return reply, fmt.Errorf("%w: %s: %s", ErrNotApplied, reply.Code, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return core.Reply{}, ctx.Err()
	}
}

// SubmitJSON parses a request body the same way the NATS path does.
func (s *AdminIngestService) SubmitJSON(ctx context.Context, kind core.RequestKind, brand fpmath.Brand, body []byte) (core.Reply, error) {
	req, err := s.parser.ParseRequest(kind, brand, body)
	if err != nil {
		return core.Reply{}, err
	}
	return s.Submit(ctx, req)
}

// InjectDeposit credits owner's wallet under a generated request id.
func (s *AdminIngestService) InjectDeposit(ctx context.Context, owner string, amount fpmath.Amount) (core.Reply, error) {
	if amount.Value <= 0 {
		return core.Reply{}, fmt.Errorf("amount must be positive")
	}
	return s.Submit(ctx, &core.Deposit{ID: "admin-" + uuid.NewString(), Owner: owner, Amount: amount})
}

// InjectWithdrawal debits owner's wallet under a generated request id.
func (s *AdminIngestService) InjectWithdrawal(ctx context.Context, owner string, amount fpmath.Amount) (core.Reply, error) {
	if amount.Value <= 0 {
		return core.Reply{}, fmt.Errorf("amount must be positive")
	}
	return s.Submit(ctx, &core.Withdraw{ID: "admin-" + uuid.NewString(), Owner: owner, Amount: amount})
}

// InjectPrice sets a price. Admin prices use the timestamp as sequence so
// they always supersede feed prices already seen.
func (s *AdminIngestService) InjectPrice(ctx context.Context, price fpmath.Ratio) (core.Reply, error) {
	if price.IsZero() || !price.IsValid() {
		return core.Reply{}, fmt.Errorf("price must be positive")
	}
	now := s.now()
	return s.Submit(ctx, &core.PriceUpdate{Price: price, Sequence: now.UnixMicro(), Timestamp: now})
}

// SubmitPriceJSON parses a price body as if it arrived on the collateral's
// price subject.
func (s *AdminIngestService) SubmitPriceJSON(ctx context.Context, collateral fpmath.Brand, body []byte) (core.Reply, error) {
	req, err := s.parser.ParseMessage(PriceSubject(collateral), body)
	if err != nil {
		return core.Reply{}, err
	}
	return s.Submit(ctx, req)
}
