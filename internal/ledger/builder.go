package ledger

import (
	fpmath "VaultLedger/internal/math"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Builder accumulates journal legs into a single batch. Zero-value legs are
// skipped so callers can pass computed amounts without guarding each one.
type Builder struct {
	batch *Batch
	err   error
}

func NewBuilder(eventRef string, timestamp time.Time) *Builder {
	return &Builder{
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Timestamp: timestamp.UnixMicro(),
			Journals:  make([]Journal, 0, 4),
		},
	}
}

// Transfer moves amount from one account to another.
// Moves funds: from (credit) → to (debit)
func (b *Builder) Transfer(from, to AccountKey, amount fpmath.Amount, jt JournalType) *Builder {
	if b.err != nil || amount.IsEmpty() {
		return b
	}
	if amount.Value < 0 {
		b.err = fmt.Errorf("%s leg: %w", jt, fpmath.ErrNegativeAmount)
		return b
	}
	if from.Brand != amount.Brand || to.Brand != amount.Brand {
		b.err = fmt.Errorf("%s leg %s → %s with %s: %w", jt, from, to, amount, fpmath.ErrBrandMismatch)
		return b
	}

	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.batch.BatchID,
		EventRef:      b.batch.EventRef,
		DebitAccount:  to,
		CreditAccount: from,
		Brand:         amount.Brand,
		Amount:        amount.Value,
		JournalType:   jt,
		Timestamp:     b.batch.Timestamp,
	})
	return b
}

// Mint issues new tokens into to.
// Moves funds: external:issuance → to
func (b *Builder) Mint(to AccountKey, amount fpmath.Amount, jt JournalType) *Builder {
	return b.Transfer(ExternalAccount(SubTypeIssuance, amount.Brand), to, amount, jt)
}

// Burn retires tokens held by from.
// Moves funds: from → external:issuance
func (b *Builder) Burn(from AccountKey, amount fpmath.Amount, jt JournalType) *Builder {
	return b.Transfer(from, ExternalAccount(SubTypeIssuance, amount.Brand), amount, jt)
}

func (b *Builder) Len() int {
	return len(b.batch.Journals)
}

// Build returns the batch or the first leg error.
func (b *Builder) Build() (*Batch, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.batch, nil
}
