package oracle

import (
	fpmath "VaultLedger/internal/math"
	"context"
	"fmt"
	"sync"
	"time"
)

type pairKey struct {
	in  fpmath.Brand
	out fpmath.Brand
}

// ManualPriceAuthority holds one price per pair, set by callers. Every price
// change re-evaluates outstanding subscriptions on that pair.
type ManualPriceAuthority struct {
	mu     sync.Mutex
	source string
	prices map[pairKey]priceEntry
	subs   map[*manualSubscription]struct{}
	now    func() time.Time
}

type priceEntry struct {
	price     fpmath.Ratio
	timestamp time.Time
}

func NewManualPriceAuthority(source string) *ManualPriceAuthority {
	return &ManualPriceAuthority{
		source: source,
		prices: make(map[pairKey]priceEntry),
		subs:   make(map[*manualSubscription]struct{}),
		now:    time.Now,
	}
}

// SetPrice records price as out-brand per in-brand and fires any
// subscription whose threshold is now above its quote.
func (a *ManualPriceAuthority) SetPrice(price fpmath.Ratio) error {
	return a.SetPriceAt(price, a.now())
}

func (a *ManualPriceAuthority) SetPriceAt(price fpmath.Ratio, ts time.Time) error {
	if !price.IsValid() {
		return fmt.Errorf("set price %s: %w", price, fpmath.ErrZeroDenominator)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := pairKey{in: price.Denominator.Brand, out: price.Numerator.Brand}
	a.prices[key] = priceEntry{price: price, timestamp: ts}

	for sub := range a.subs {
		if sub.pair == key {
			a.evaluateLocked(sub)
		}
	}
	return nil
}

// Price returns the last price set for a pair.
func (a *ManualPriceAuthority) Price(in, out fpmath.Brand) (fpmath.Ratio, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.prices[pairKey{in: in, out: out}]
	return entry.price, ok
}

func (a *ManualPriceAuthority) QuoteGiven(ctx context.Context, amountIn fpmath.Amount, brandOut fpmath.Brand) (PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return PriceQuote{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quoteLocked(amountIn, brandOut)
}

func (a *ManualPriceAuthority) quoteLocked(amountIn fpmath.Amount, brandOut fpmath.Brand) (PriceQuote, error) {
	entry, ok := a.prices[pairKey{in: amountIn.Brand, out: brandOut}]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s/%s", ErrNoPrice, brandOut, amountIn.Brand)
	}
	out, err := fpmath.FloorMultiplyBy(amountIn, entry.price)
	if err != nil {
		return PriceQuote{}, err
	}
	return PriceQuote{
		AmountIn:  amountIn,
		AmountOut: out,
		Timestamp: entry.timestamp,
		Source:    a.source,
	}, nil
}

func (a *ManualPriceAuthority) SubscribeWhenBelow(amountIn, threshold fpmath.Amount) (QuoteSubscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sub := &manualSubscription{
		authority: a,
		pair:      pairKey{in: amountIn.Brand, out: threshold.Brand},
		amountIn:  amountIn,
		threshold: threshold,
		ch:        make(chan PriceQuote, 1),
	}
	a.subs[sub] = struct{}{}
	a.evaluateLocked(sub)
	return sub, nil
}

// Outstanding returns the number of armed subscriptions.
func (a *ManualPriceAuthority) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// evaluateLocked delivers and retires sub if its trigger condition holds.
func (a *ManualPriceAuthority) evaluateLocked(sub *manualSubscription) {
	quote, err := a.quoteLocked(sub.amountIn, sub.threshold.Brand)
	if err != nil {
		return
	}
	if quote.AmountOut.Value >= sub.threshold.Value {
		return
	}
	delete(a.subs, sub)
	sub.fired = true
	sub.ch <- quote
}

type manualSubscription struct {
	authority *ManualPriceAuthority
	pair      pairKey
	amountIn  fpmath.Amount
	threshold fpmath.Amount
	fired     bool
	stopped   bool
	ch        chan PriceQuote
}

func (s *manualSubscription) UpdateTrigger(amountIn, threshold fpmath.Amount) error {
	a := s.authority
	a.mu.Lock()
	defer a.mu.Unlock()

	if s.fired || s.stopped {
		return ErrSubscriptionClosed
	}
	if amountIn.Brand != s.amountIn.Brand || threshold.Brand != s.threshold.Brand {
		return fmt.Errorf("update trigger: %w", fpmath.ErrBrandMismatch)
	}
	s.amountIn = amountIn
	s.threshold = threshold
	a.evaluateLocked(s)
	return nil
}

func (s *manualSubscription) C() <-chan PriceQuote {
	return s.ch
}

func (s *manualSubscription) Stop() {
	a := s.authority
	a.mu.Lock()
	defer a.mu.Unlock()
	s.stopped = true
	delete(a.subs, s)
}
