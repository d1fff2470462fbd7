package state

import "fmt"

// Phase is the lifecycle state of a vault
type Phase int32

const (
	PhaseActive Phase = iota
	PhaseLiquidating
	PhaseLiquidated
	PhaseClosed

	// PhaseTransferring is only ever reported to a holder whose handle was
	// revoked by a transfer invitation. The vault itself keeps its phase.
	PhaseTransferring
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseLiquidating:
		return "liquidating"
	case PhaseLiquidated:
		return "liquidated"
	case PhaseClosed:
		return "closed"
	case PhaseTransferring:
		return "transfer"
	default:
		return "unknown"
	}
}

// ParsePhase is the inverse of String.
func ParsePhase(s string) (Phase, bool) {
	for p := PhaseActive; p <= PhaseTransferring; p++ {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	parsed, ok := ParsePhase(string(b))
	if !ok {
		return fmt.Errorf("unknown vault phase %q", b)
	}
	*p = parsed
	return nil
}

var validTransitions = map[Phase][]Phase{
	PhaseActive:      {PhaseLiquidating, PhaseClosed},
	PhaseLiquidating: {PhaseLiquidated},
	PhaseLiquidated:  {PhaseClosed},
	PhaseClosed:      {},
}

// CanTransitionTo validates state transitions. No edge re-enters Active.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range validTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsCloseable reports whether the owner may close or transfer the vault.
func (p Phase) IsCloseable() bool {
	return p == PhaseActive || p == PhaseLiquidated
}
