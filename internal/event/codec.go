package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event payload for the log and the outbound stream.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode restores a payload written by Encode.
func Decode(et EventType, payload []byte) (Event, error) {
	var e Event
	switch et {
	case EventTypeVaultOpened:
		e = &VaultOpened{}
	case EventTypeVaultAdjusted:
		e = &VaultAdjusted{}
	case EventTypeVaultClosed:
		e = &VaultClosed{}
	case EventTypeVaultTransferInvited:
		e = &VaultTransferInvited{}
	case EventTypeVaultTransferred:
		e = &VaultTransferred{}
	case EventTypeLiquidationStarted:
		e = &LiquidationStarted{}
	case EventTypeLiquidationCompleted:
		e = &LiquidationCompleted{}
	case EventTypeLiquidationStalled:
		e = &LiquidationStalled{}
	case EventTypeInterestCharged:
		e = &InterestCharged{}
	case EventTypePriceCheckArmed:
		e = &PriceCheckArmed{}
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return e, nil
}
