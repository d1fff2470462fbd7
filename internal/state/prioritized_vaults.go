package state

import (
	fpmath "VaultLedger/internal/math"
	"sort"
)

// QueueEntry is a vault's last scored debt and collateral.
type QueueEntry struct {
	VaultID    uint64
	Debt       fpmath.Amount
	Collateral fpmath.Amount
}

// Ratio returns debt/collateral. ok is false for a vault with no collateral,
// which ranks above every finite ratio.
func (e QueueEntry) Ratio() (r fpmath.Ratio, ok bool) {
	if e.Collateral.IsEmpty() {
		return fpmath.Ratio{}, false
	}
	r, err := fpmath.NewRatio(e.Debt, e.Collateral)
	return r, err == nil
}

// cmpRatio orders two entries by ratio alone.
func (e QueueEntry) cmpRatio(o QueueEntry) int {
	er, eFinite := e.Ratio()
	or, oFinite := o.Ratio()
	switch {
	case !eFinite && !oFinite:
		return 0
	case !eFinite:
		return 1
	case !oFinite:
		return -1
	}
	return er.Cmp(or)
}

// before is the queue order: worst ratio first, ties by vault id.
func (e QueueEntry) before(o QueueEntry) bool {
	if c := e.cmpRatio(o); c != 0 {
		return c > 0
	}
	return e.VaultID < o.VaultID
}

// AtOrAbove reports whether debt/collateral >= threshold.
func (e QueueEntry) AtOrAbove(threshold fpmath.Ratio) bool {
	r, ok := e.Ratio()
	if !ok {
		return true
	}
	return r.Cmp(threshold) >= 0
}

// PrioritizedVaults indexes the vaults of one manager that carry debt,
// worst collateralization first.
type PrioritizedVaults struct {
	entries []QueueEntry // sorted by before
	byID    map[uint64]QueueEntry

	onHigherHighest func(QueueEntry)
}

func NewPrioritizedVaults() *PrioritizedVaults {
	return &PrioritizedVaults{byID: make(map[uint64]QueueEntry)}
}

// OnHighestRatioChanged registers fn to run whenever an insert or refresh
// raises the worst ratio. Improvements to the head do not fire.
func (q *PrioritizedVaults) OnHighestRatioChanged(fn func(QueueEntry)) {
	q.onHigherHighest = fn
}

// AddVault indexes a vault. Vaults without debt are not indexed.
func (q *PrioritizedVaults) AddVault(id uint64, debt, collateral fpmath.Amount) {
	if _, exists := q.byID[id]; exists {
		q.remove(id)
	}
	if debt.IsEmpty() {
		return
	}

	entry := QueueEntry{VaultID: id, Debt: debt, Collateral: collateral}
	var prevHead *QueueEntry
	if len(q.entries) > 0 {
		head := q.entries[0]
		prevHead = &head
	}

	i := sort.Search(len(q.entries), func(i int) bool { return entry.before(q.entries[i]) })
	q.entries = append(q.entries, QueueEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = entry
	q.byID[id] = entry

	if i == 0 && q.onHigherHighest != nil && (prevHead == nil || entry.cmpRatio(*prevHead) > 0) {
		q.onHigherHighest(entry)
	}
}

// RefreshVault re-scores a vault after its debt or collateral changed.
func (q *PrioritizedVaults) RefreshVault(id uint64, debt, collateral fpmath.Amount) {
	q.AddVault(id, debt, collateral)
}

// RemoveVault drops a vault from the index; it reports whether it was present.
func (q *PrioritizedVaults) RemoveVault(id uint64) bool {
	if _, ok := q.byID[id]; !ok {
		return false
	}
	q.remove(id)
	return true
}

func (q *PrioritizedVaults) remove(id uint64) {
	entry := q.byID[id]
	i := sort.Search(len(q.entries), func(i int) bool { return !q.entries[i].before(entry) })
	if i >= len(q.entries) || q.entries[i].VaultID != id {
		panic("FATAL: prioritized vaults index out of sync")
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	delete(q.byID, id)
}

// Highest returns the worst entry.
func (q *PrioritizedVaults) Highest() (QueueEntry, bool) {
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	return q.entries[0], true
}

// HighestRatio returns the worst finite debt/collateral ratio.
func (q *PrioritizedVaults) HighestRatio() (fpmath.Ratio, bool) {
	head, ok := q.Highest()
	if !ok {
		return fpmath.Ratio{}, false
	}
	return head.Ratio()
}

// EntriesPrioritizedGTE returns, worst first, every entry whose ratio is at
// or above threshold. The scan stops at the first entry below it.
func (q *PrioritizedVaults) EntriesPrioritizedGTE(threshold fpmath.Ratio) []QueueEntry {
	n := sort.Search(len(q.entries), func(i int) bool { return !q.entries[i].AtOrAbove(threshold) })
	out := make([]QueueEntry, n)
	copy(out, q.entries[:n])
	return out
}

func (q *PrioritizedVaults) Get(id uint64) (QueueEntry, bool) {
	e, ok := q.byID[id]
	return e, ok
}

func (q *PrioritizedVaults) Len() int {
	return len(q.entries)
}

// Vaults returns every indexed entry, worst first.
func (q *PrioritizedVaults) Vaults() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}
