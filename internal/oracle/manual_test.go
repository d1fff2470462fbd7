package oracle_test

import (
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/oracle"
	"context"
	"errors"
	"testing"
)

const (
	run  fpmath.Brand = "RUN"
	atom fpmath.Brand = "ATOM"
)

func received(sub oracle.QuoteSubscription) (oracle.PriceQuote, bool) {
	select {
	case q := <-sub.C():
		return q, true
	default:
		return oracle.PriceQuote{}, false
	}
}

func TestQuoteGiven(t *testing.T) {
	pa := oracle.NewManualPriceAuthority("test")
	_ = pa.SetPrice(fpmath.MakeRatio(12, run, 10, atom))

	q, err := pa.QuoteGiven(context.Background(), fpmath.MustAmount(atom, 100), run)
	if err != nil {
		t.Fatal(err)
	}
	if q.AmountOut.Value != 120 || q.AmountOut.Brand != run {
		t.Errorf("got %s, want 120 RUN", q.AmountOut)
	}
}

func TestQuoteGiven_NoPrice(t *testing.T) {
	pa := oracle.NewManualPriceAuthority("test")
	if _, err := pa.QuoteGiven(context.Background(), fpmath.MustAmount(atom, 1), run); !errors.Is(err, oracle.ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestSubscribeWhenBelow_FiresOnce(t *testing.T) {
	pa := oracle.NewManualPriceAuthority("test")
	_ = pa.SetPrice(fpmath.MakeRatio(2, run, 1, atom))

	sub, err := pa.SubscribeWhenBelow(fpmath.MustAmount(atom, 50), fpmath.MustAmount(run, 80))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := received(sub); ok {
		t.Fatal("should not fire while 100 >= 80")
	}

	// 50 ATOM at 1.6 = 80, not strictly below
	_ = pa.SetPrice(fpmath.MakeRatio(16, run, 10, atom))
	if _, ok := received(sub); ok {
		t.Fatal("should not fire at exactly the threshold")
	}

	_ = pa.SetPrice(fpmath.MakeRatio(15, run, 10, atom))
	q, ok := received(sub)
	if !ok {
		t.Fatal("expected a quote once the price dropped")
	}
	if q.AmountOut.Value != 75 {
		t.Errorf("quote out = %d, want 75", q.AmountOut.Value)
	}

	_ = pa.SetPrice(fpmath.MakeRatio(1, run, 1, atom))
	if _, ok := received(sub); ok {
		t.Error("subscription should be inert after delivery")
	}
	if err := sub.UpdateTrigger(fpmath.MustAmount(atom, 50), fpmath.MustAmount(run, 90)); !errors.Is(err, oracle.ErrSubscriptionClosed) {
		t.Errorf("expected ErrSubscriptionClosed, got %v", err)
	}
}

func TestUpdateTrigger_FiresImmediately(t *testing.T) {
	pa := oracle.NewManualPriceAuthority("test")
	_ = pa.SetPrice(fpmath.MakeRatio(1, run, 1, atom))

	sub, _ := pa.SubscribeWhenBelow(fpmath.MustAmount(atom, 100), fpmath.MustAmount(run, 50))
	if err := sub.UpdateTrigger(fpmath.MustAmount(atom, 100), fpmath.MustAmount(run, 101)); err != nil {
		t.Fatal(err)
	}
	if _, ok := received(sub); !ok {
		t.Fatal("raising the trigger above the current quote should fire")
	}
	if pa.Outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0", pa.Outstanding())
	}
}

func TestStop_RemovesSubscription(t *testing.T) {
	pa := oracle.NewManualPriceAuthority("test")
	_ = pa.SetPrice(fpmath.MakeRatio(1, run, 1, atom))

	sub, _ := pa.SubscribeWhenBelow(fpmath.MustAmount(atom, 100), fpmath.MustAmount(run, 50))
	sub.Stop()
	_ = pa.SetPrice(fpmath.MakeRatio(1, run, 10, atom))

	if _, ok := received(sub); ok {
		t.Error("stopped subscription should not fire")
	}
}
