package core

import (
	"errors"
	"fmt"
)

var ErrSequenceGap = errors.New("core: sequence gap")

// SequenceValidator orders sourced inputs per partition. Governance updates
// must arrive gap-free; price feeds tolerate gaps and drop stale values.
// Not thread-safe; only the dispatcher goroutine touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	gaps            map[string]int64
	stale           map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		stale:           make(map[string]int64),
	}
}

// ValidateSequence accepts exactly the next sequence of a partition. An
// older sequence is reported as already applied.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64) (applied bool, err error) {
	expected, seen := sv.expectedNextSeq[partition]
	if !seen {
		expected = 1
	}

	switch {
	case sourceSequence < expected:
		sv.stale[partition]++
		return true, nil
	case sourceSequence == expected:
		sv.expectedNextSeq[partition] = expected + 1
		return false, nil
	default:
		sv.gaps[partition]++
		return false, fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrSequenceGap, partition, expected, sourceSequence)
	}
}

// ValidatePriceSequence reports whether a price update is newer than the
// last one accepted for the pair. Gaps are counted and accepted.
func (sv *SequenceValidator) ValidatePriceSequence(pair string, priceSequence int64) bool {
	partition := "price:" + pair
	expected := sv.expectedNextSeq[partition]

	if priceSequence < expected {
		sv.stale[partition]++
		return false
	}
	if expected > 0 && priceSequence > expected {
		sv.gaps[partition]++
	}
	sv.expectedNextSeq[partition] = priceSequence + 1
	return true
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Partitions returns a copy of every partition's next expected sequence.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

func (sv *SequenceValidator) Gaps(partition string) int64 {
	return sv.gaps[partition]
}

func (sv *SequenceValidator) Stale(partition string) int64 {
	return sv.stale[partition]
}
