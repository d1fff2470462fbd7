// Package oracle defines the price feed a vault manager watches and an
// in-memory price authority used by the daemon's price ingestion and tests.
package oracle

import (
	fpmath "VaultLedger/internal/math"
	"context"
	"errors"
	"time"
)

var (
	ErrNoPrice            = errors.New("oracle: no price for pair")
	ErrSubscriptionClosed = errors.New("oracle: subscription closed")
)

// PriceQuote prices AmountIn in units of AmountOut's brand.
type PriceQuote struct {
	AmountIn  fpmath.Amount
	AmountOut fpmath.Amount
	Timestamp time.Time
	Source    string
}

// Price returns the quote as an out/in ratio.
func (q PriceQuote) Price() (fpmath.Ratio, error) {
	return fpmath.NewRatio(q.AmountOut, q.AmountIn)
}

// PriceOracle answers immediate quotes and one-shot threshold subscriptions.
type PriceOracle interface {
	QuoteGiven(ctx context.Context, amountIn fpmath.Amount, brandOut fpmath.Brand) (PriceQuote, error)

	// SubscribeWhenBelow delivers exactly one quote for amountIn once its
	// value drops strictly below threshold.
	SubscribeWhenBelow(amountIn, threshold fpmath.Amount) (QuoteSubscription, error)
}

// QuoteSubscription is a mutable one-shot trigger. After its quote is
// delivered it is inert; UpdateTrigger on an inert subscription returns
// ErrSubscriptionClosed.
type QuoteSubscription interface {
	UpdateTrigger(amountIn, threshold fpmath.Amount) error
	C() <-chan PriceQuote
	Stop()
}
