package core

import (
	"VaultLedger/internal/event"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const GenesisHashSeed = "VaultLedger:genesis:v1"

// StateHasher chains envelope hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hash := chainHash(h.prevHash, sequence, digest)
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resumes the chain from a persisted tip.
func (h *StateHasher) SetPrevHash(tip [32]byte) {
	h.prevHash = tip
}

func chainHash(prev [32]byte, sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// EnvelopeDigest is the per-envelope input to the chain: the event type, the
// ledger commit sequence observed when the event was sequenced, and the
// encoded payload.
func EnvelopeDigest(et event.EventType, ledgerSequence int64, payload []byte) []byte {
	hasher := sha256.New()

	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(et))
	binary.LittleEndian.PutUint64(buf[4:], uint64(ledgerSequence))
	hasher.Write(buf[:])
	hasher.Write(payload)

	return hasher.Sum(nil)
}

// VerifyChain recomputes the hashes of consecutive envelopes starting from
// prev. It returns the new tip or the first sequence that does not match.
func VerifyChain(prev [32]byte, envelopes []*event.EventEnvelope) ([32]byte, error) {
	for _, env := range envelopes {
		if env.PrevHash != prev {
			return prev, fmt.Errorf("chain broken at sequence %d: prev_hash mismatch", env.Sequence)
		}
		want := chainHash(prev, env.Sequence, EnvelopeDigest(env.EventType, env.LedgerSequence, env.Payload))
		if env.StateHash != want {
			return prev, fmt.Errorf("chain broken at sequence %d: state_hash mismatch", env.Sequence)
		}
		prev = want
	}
	return prev, nil
}
