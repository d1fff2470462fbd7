package core

import (
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/state"
	"fmt"
	"time"
)

// RequestKind discriminates ingested requests. The value doubles as the
// subject token on the request stream.
type RequestKind string

const (
	KindOpen     RequestKind = "open"
	KindAdjust   RequestKind = "adjust"
	KindClose    RequestKind = "close"
	KindTransfer RequestKind = "transfer"
	KindAccept   RequestKind = "accept"
	KindDeposit  RequestKind = "deposit"
	KindWithdraw RequestKind = "withdraw"
	KindParams   RequestKind = "params"
	KindPrice    RequestKind = "price"
)

// Request is a typed instruction for the dispatcher.
type Request interface {
	RequestID() string
	Kind() RequestKind
}

type OpenVault struct {
	ID string
	state.OpenRequest
}

func (r *OpenVault) RequestID() string { return r.ID }
func (r *OpenVault) Kind() RequestKind { return KindOpen }

type AdjustVault struct {
	ID string
	state.AdjustRequest
}

func (r *AdjustVault) RequestID() string { return r.ID }
func (r *AdjustVault) Kind() RequestKind { return KindAdjust }

type CloseVault struct {
	ID string
	state.CloseRequest
}

func (r *CloseVault) RequestID() string { return r.ID }
func (r *CloseVault) Kind() RequestKind { return KindClose }

// TransferVault asks for a transfer invitation for the handle's vault.
type TransferVault struct {
	ID     string
	Handle state.VaultHandle
}

func (r *TransferVault) RequestID() string { return r.ID }
func (r *TransferVault) Kind() RequestKind { return KindTransfer }

type AcceptTransfer struct {
	ID         string
	Invitation state.TransferInvitation
	NewOwner   string
}

func (r *AcceptTransfer) RequestID() string { return r.ID }
func (r *AcceptTransfer) Kind() RequestKind { return KindAccept }

// Deposit credits an owner's wallet from outside the ledger.
type Deposit struct {
	ID     string
	Owner  string
	Amount fpmath.Amount
}

func (r *Deposit) RequestID() string { return r.ID }
func (r *Deposit) Kind() RequestKind { return KindDeposit }

type Withdraw struct {
	ID     string
	Owner  string
	Amount fpmath.Amount
}

func (r *Withdraw) RequestID() string { return r.ID }
func (r *Withdraw) Kind() RequestKind { return KindWithdraw }

// ParamsUpdate replaces a vault type's governed parameters. Updates of one
// collateral must arrive in Sequence order starting at 1.
type ParamsUpdate struct {
	Collateral fpmath.Brand
	Params     state.BasisPointParams
	Sequence   int64
}

func (r *ParamsUpdate) RequestID() string {
	return fmt.Sprintf("%s:%d", r.Collateral, r.Sequence)
}
func (r *ParamsUpdate) Kind() RequestKind { return KindParams }

// PriceUpdate sets the oracle price of a pair, as debt per collateral.
type PriceUpdate struct {
	Price     fpmath.Ratio
	Sequence  int64
	Timestamp time.Time
}

// Pair names the price as "collateral/debt".
func (r *PriceUpdate) Pair() string {
	return fmt.Sprintf("%s/%s", r.Price.Denominator.Brand, r.Price.Numerator.Brand)
}

func (r *PriceUpdate) RequestID() string {
	return fmt.Sprintf("%s:%d", r.Pair(), r.Sequence)
}
func (r *PriceUpdate) Kind() RequestKind { return KindPrice }

// ReplyStatus is the outcome of one request.
type ReplyStatus string

const (
	StatusApplied   ReplyStatus = "applied"
	StatusRejected  ReplyStatus = "rejected"
	StatusDuplicate ReplyStatus = "duplicate"
	StatusStale     ReplyStatus = "stale"
)

// Reply is recorded for every request and published back to the caller.
type Reply struct {
	RequestID string      `json:"request_id"`
	Kind      RequestKind `json:"kind"`
	Status    ReplyStatus `json:"status"`
	Code      string      `json:"code,omitempty"`
	Error     string      `json:"error,omitempty"`
	Result    any         `json:"result,omitempty"`
	At        time.Time   `json:"at"`
}
