package core_test

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/testutil"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
)

// ============================================================================
// Test: Hash chain format
// ============================================================================

// The chain format is part of the persisted log; a change here invalidates
// every stored state_hash.
func TestStateHasher_GoldenChain(t *testing.T) {
	inputs := []struct {
		seq       int64
		et        event.EventType
		ledgerSeq int64
		payload   string
	}{
		{1, event.EventTypeVaultOpened, 0, `{"vault_id":1}`},
		{2, event.EventTypeVaultAdjusted, 3, `{"vault_id":1,"version":2}`},
		{3, event.EventTypeLiquidationCompleted, 5, `{"liquidation_id":"x"}`},
	}

	h := core.NewStateHasher()
	var sb strings.Builder
	genesis := h.GetPrevHash()
	fmt.Fprintf(&sb, "genesis %s\n", hex.EncodeToString(genesis[:]))
	for _, in := range inputs {
		hash := h.ComputeHash(in.seq, core.EnvelopeDigest(in.et, in.ledgerSeq, []byte(in.payload)))
		fmt.Fprintf(&sb, "%d %s\n", in.seq, hex.EncodeToString(hash[:]))
	}

	testutil.AssertGolden(t, "hash_chain.golden", []byte(sb.String()))
}
