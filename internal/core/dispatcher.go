package core

import (
	"VaultLedger/internal/factory"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/liquidation"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/state"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PriceSetter accepts oracle price updates.
type PriceSetter interface {
	SetPriceAt(price fpmath.Ratio, ts time.Time) error
}

// ReplyRecorder stores replies so that the Postgres dedup tier can find them.
type ReplyRecorder interface {
	RecordReply(ctx context.Context, reply Reply) error
}

type DispatcherConfig struct {
	Factory     *factory.VaultFactory
	Prices      PriceSetter
	Idempotency *IdempotencyChecker
	Replies     ReplyRecorder
	Now         func() time.Time
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
}

// Dispatcher applies ingested requests to the factory one at a time.
type Dispatcher struct {
	factory     *factory.VaultFactory
	prices      PriceSetter
	idempotency *IdempotencyChecker
	sequences   *SequenceValidator
	replies     ReplyRecorder
	now         func() time.Time
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Factory == nil {
		return nil, errors.New("dispatcher needs a factory")
	}
	if cfg.Idempotency == nil {
		cfg.Idempotency = NewIdempotencyChecker(100_000, nil, cfg.Metrics)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		factory:     cfg.Factory,
		prices:      cfg.Prices,
		idempotency: cfg.Idempotency,
		sequences:   NewSequenceValidator(),
		replies:     cfg.Replies,
		now:         cfg.Now,
		logger:      cfg.Logger.With().Str("component", "dispatcher").Logger(),
		metrics:     cfg.Metrics,
	}, nil
}

// Apply runs one request and returns its reply. Every request id is
// consumed by its first outcome, applied or rejected.
func (d *Dispatcher) Apply(ctx context.Context, req Request) Reply {
	kind := string(req.Kind())
	reply := Reply{RequestID: req.RequestID(), Kind: req.Kind(), At: d.now()}

	switch r := req.(type) {
	case *PriceUpdate:
		return d.applyPrice(r, reply)
	case *ParamsUpdate:
		return d.applyParams(ctx, r, reply)
	}

	if reply.RequestID == "" {
		return d.reject(reply, fmt.Errorf("%w: request_id is required", state.ErrValidation))
	}
	if d.idempotency.IsDuplicate(ctx, kind, reply.RequestID) {
		reply.Status = StatusDuplicate
		d.count(reply)
		return reply
	}

	result, err := d.apply(ctx, req)
	if err != nil {
		reply = d.reject(reply, err)
	} else {
		reply.Status = StatusApplied
		reply.Result = result
		d.count(reply)
	}

	d.idempotency.MarkProcessed(kind, reply.RequestID)
	d.record(ctx, reply)
	return reply
}

func (d *Dispatcher) apply(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case *OpenVault:
		return d.factory.OpenVault(ctx, r.OpenRequest)
	case *AdjustVault:
		return d.factory.AdjustVault(ctx, r.AdjustRequest)
	case *CloseVault:
		return d.factory.CloseVault(ctx, r.CloseRequest)
	case *TransferVault:
		return d.factory.MakeTransferInvitation(ctx, r.Handle)
	case *AcceptTransfer:
		if r.NewOwner == "" {
			return nil, fmt.Errorf("%w: new_owner is required", state.ErrValidation)
		}
		return d.factory.AcceptTransfer(ctx, r.Invitation, r.NewOwner)
	case *Deposit:
		if err := d.validateWallet(r.Owner, r.Amount); err != nil {
			return nil, err
		}
		if err := d.factory.Ledger().Deposit(r.Owner, r.Amount); err != nil {
			return nil, err
		}
		return d.walletBalance(r.Owner, r.Amount.Brand), nil
	case *Withdraw:
		if err := d.validateWallet(r.Owner, r.Amount); err != nil {
			return nil, err
		}
		if err := d.factory.Ledger().Withdraw(r.Owner, r.Amount); err != nil {
			return nil, err
		}
		return d.walletBalance(r.Owner, r.Amount.Brand), nil
	default:
		return nil, fmt.Errorf("%w: unsupported request %T", state.ErrValidation, req)
	}
}

func (d *Dispatcher) validateWallet(owner string, amount fpmath.Amount) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is required", state.ErrValidation)
	}
	if amount.Brand == "" || amount.Value <= 0 {
		return fmt.Errorf("%w: amount must be positive and branded", state.ErrValidation)
	}
	return nil
}

func (d *Dispatcher) walletBalance(owner string, brand fpmath.Brand) fpmath.Amount {
	return d.factory.Ledger().Amount(ledger.UserAccount(owner, brand))
}

// applyPrice drops updates older than the last accepted one for the pair.
func (d *Dispatcher) applyPrice(r *PriceUpdate, reply Reply) Reply {
	if d.prices == nil {
		return d.reject(reply, errors.New("no price authority configured"))
	}
	if !d.sequences.ValidatePriceSequence(r.Pair(), r.Sequence) {
		reply.Status = StatusStale
		d.count(reply)
		return reply
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}
	if err := d.prices.SetPriceAt(r.Price, ts); err != nil {
		return d.reject(reply, fmt.Errorf("%w: %v", state.ErrValidation, err))
	}
	reply.Status = StatusApplied
	d.count(reply)
	return reply
}

func (d *Dispatcher) applyParams(ctx context.Context, r *ParamsUpdate, reply Reply) Reply {
	applied, err := d.sequences.ValidateSequence("params:"+string(r.Collateral), r.Sequence)
	if err != nil {
		return d.reject(reply, err)
	}
	if applied {
		reply.Status = StatusDuplicate
		d.count(reply)
		return reply
	}

	p, err := state.ParamsFromBasisPoints(d.factory.DebtBrand(), r.Params)
	if err != nil {
		err = fmt.Errorf("%w: %w", state.ErrValidation, err)
	} else if err = d.factory.UpdateParams(r.Collateral, p); err != nil && !errors.Is(err, factory.ErrUnknownCollateral) {
		err = fmt.Errorf("%w: %w", state.ErrValidation, err)
	}
	if err != nil {
		// The sequence was consumed; a corrected update must use the next one.
		reply = d.reject(reply, err)
		d.record(ctx, reply)
		return reply
	}

	reply.Status = StatusApplied
	reply.Result = r.Params
	d.count(reply)
	d.record(ctx, reply)
	d.logger.Info().
		Str("collateral", string(r.Collateral)).
		Int64("sequence", r.Sequence).
		Msg("parameters updated")
	return reply
}

func (d *Dispatcher) reject(reply Reply, err error) Reply {
	reply.Status = StatusRejected
	reply.Code = ErrorCode(err)
	reply.Error = err.Error()
	d.count(reply)

	ev := d.logger.Info()
	if reply.Code == "internal" {
		ev = d.logger.Error()
	}
	ev.Err(err).
		Str("request_id", reply.RequestID).
		Str("kind", string(reply.Kind)).
		Str("code", reply.Code).
		Msg("request rejected")
	return reply
}

func (d *Dispatcher) record(ctx context.Context, reply Reply) {
	if d.replies == nil {
		return
	}
	if err := d.replies.RecordReply(ctx, reply); err != nil {
		d.logger.Warn().Err(err).Str("request_id", reply.RequestID).Msg("failed to record reply")
	}
}

func (d *Dispatcher) count(reply Reply) {
	if d.metrics == nil {
		return
	}
	switch reply.Status {
	case StatusApplied:
		d.metrics.RequestsApplied.WithLabelValues(string(reply.Kind)).Inc()
	case StatusRejected:
		d.metrics.RequestsRejected.WithLabelValues(string(reply.Kind), reply.Code).Inc()
	default:
		d.metrics.RequestsRejected.WithLabelValues(string(reply.Kind), string(reply.Status)).Inc()
	}
}

// IdempotencyKeys returns the dedup cache contents for snapshots.
func (d *Dispatcher) IdempotencyKeys() []string {
	return d.idempotency.Keys()
}

// SequenceState returns the next expected sequence of every partition.
func (d *Dispatcher) SequenceState() map[string]int64 {
	return d.sequences.Partitions()
}

// RestoreSequences reloads partition positions before the first Apply.
func (d *Dispatcher) RestoreSequences(partitions map[string]int64) {
	for p, next := range partitions {
		d.sequences.SetExpectedSequence(p, next)
	}
}

// ErrorCode maps an error to the stable code carried in replies.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, state.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, state.ErrOverCollateralization):
		return "over_collateralization"
	case errors.Is(err, state.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, state.ErrLoanTooSmall):
		return "loan_too_small"
	case errors.Is(err, state.ErrDebtLimitExceeded):
		return "debt_limit_exceeded"
	case errors.Is(err, state.ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, state.ErrHandleRevoked):
		return "handle_revoked"
	case errors.Is(err, state.ErrVaultNotFound):
		return "vault_not_found"
	case errors.Is(err, state.ErrConflict):
		return "conflict"
	case errors.Is(err, state.ErrManagerStopped):
		return "manager_stopped"
	case errors.Is(err, factory.ErrUnknownCollateral):
		return "unknown_collateral"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrSequenceGap):
		return "sequence_gap"
	case errors.Is(err, liquidation.ErrLiquidationFailed):
		return "liquidation_failed"
	case errors.Is(err, state.ErrValidation),
		errors.Is(err, fpmath.ErrBrandMismatch),
		errors.Is(err, fpmath.ErrNegativeAmount):
		return "validation"
	default:
		return "internal"
	}
}
