package event

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeVaultOpened
	EventTypeVaultAdjusted
	EventTypeVaultClosed
	EventTypeVaultTransferInvited
	EventTypeVaultTransferred
	EventTypeLiquidationStarted
	EventTypeLiquidationCompleted
	EventTypeLiquidationStalled
	EventTypeInterestCharged
	EventTypePriceCheckArmed
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key of the event
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Collateral brand of the emitting manager
	Collateral fpmath.Brand

	// Time the manager recorded the event
	Timestamp time.Time

	// Ledger commit sequence observed when the event was sequenced
	LedgerSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 chaining this envelope to its predecessor
	StateHash [32]byte

	// Previous envelope's hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// CollateralBrand returns the emitting manager's collateral
	CollateralBrand() fpmath.Brand

	// OccurredAt returns the manager's timestamp for the event
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeVaultOpened:
		return "VaultOpened"
	case EventTypeVaultAdjusted:
		return "VaultAdjusted"
	case EventTypeVaultClosed:
		return "VaultClosed"
	case EventTypeVaultTransferInvited:
		return "VaultTransferInvited"
	case EventTypeVaultTransferred:
		return "VaultTransferred"
	case EventTypeLiquidationStarted:
		return "LiquidationStarted"
	case EventTypeLiquidationCompleted:
		return "LiquidationCompleted"
	case EventTypeLiquidationStalled:
		return "LiquidationStalled"
	case EventTypeInterestCharged:
		return "InterestCharged"
	case EventTypePriceCheckArmed:
		return "PriceCheckArmed"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject suffix for the type.
func (et EventType) Subject() string {
	switch et {
	case EventTypeVaultOpened:
		return "vault_opened"
	case EventTypeVaultAdjusted:
		return "vault_adjusted"
	case EventTypeVaultClosed:
		return "vault_closed"
	case EventTypeVaultTransferInvited:
		return "vault_transfer_invited"
	case EventTypeVaultTransferred:
		return "vault_transferred"
	case EventTypeLiquidationStarted:
		return "liquidation_started"
	case EventTypeLiquidationCompleted:
		return "liquidation_completed"
	case EventTypeLiquidationStalled:
		return "liquidation_stalled"
	case EventTypeInterestCharged:
		return "interest_charged"
	case EventTypePriceCheckArmed:
		return "price_check_armed"
	default:
		return "unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, error) {
	for et := EventTypeVaultOpened; et <= EventTypePriceCheckArmed; et++ {
		if et.String() == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type %q", s)
}
