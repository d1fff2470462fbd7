package amm

import (
	fpmath "VaultLedger/internal/math"
	"context"
	"fmt"
	"sync"
)

// Pool is a constant-product pool between a central brand and one secondary
// brand. The fee is taken from the input side.
type Pool struct {
	mu        sync.Mutex
	central   fpmath.Amount
	secondary fpmath.Amount
	feeBP     int64
	swaps     int64
}

func NewPool(central, secondary fpmath.Amount, feeBP int64) (*Pool, error) {
	if central.Brand == secondary.Brand {
		return nil, fmt.Errorf("pool needs two brands, got %s", central.Brand)
	}
	if feeBP < 0 || feeBP >= fpmath.BasisPointsDenominator {
		return nil, fmt.Errorf("pool fee out of range: %dbp", feeBP)
	}
	return &Pool{central: central, secondary: secondary, feeBP: feeBP}, nil
}

func (p *Pool) FeeBP() int64 {
	return p.feeBP
}

// Swaps returns the number of executed swaps.
func (p *Pool) Swaps() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swaps
}

// SetReserves replaces the pool's holdings. Used by the daemon's seed config
// and by tests that move the pool price.
func (p *Pool) SetReserves(central, secondary fpmath.Amount) error {
	if central.Brand != p.central.Brand || secondary.Brand != p.secondary.Brand {
		return fpmath.ErrBrandMismatch
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.central = central
	p.secondary = secondary
	return nil
}

func (p *Pool) PoolReserves(ctx context.Context, secondary fpmath.Brand) (Reserves, error) {
	if err := ctx.Err(); err != nil {
		return Reserves{}, err
	}
	if secondary != p.secondary.Brand {
		return Reserves{}, fmt.Errorf("no pool for %s: %w", secondary, fpmath.ErrBrandMismatch)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Reserves{Central: p.central, Secondary: p.secondary}, nil
}

// sides returns (reserveIn, reserveOut) for a swap giving brand in.
func (p *Pool) sides(in, out fpmath.Brand) (*fpmath.Amount, *fpmath.Amount, error) {
	switch {
	case in == p.secondary.Brand && out == p.central.Brand:
		return &p.secondary, &p.central, nil
	case in == p.central.Brand && out == p.secondary.Brand:
		return &p.central, &p.secondary, nil
	}
	return nil, nil, fmt.Errorf("pool %s/%s cannot swap %s for %s: %w",
		p.central.Brand, p.secondary.Brand, in, out, fpmath.ErrBrandMismatch)
}

func (p *Pool) outputFor(in int64, reserveIn, reserveOut int64) (int64, error) {
	net, err := fpmath.MulDiv(in, fpmath.BasisPointsDenominator-p.feeBP, fpmath.BasisPointsDenominator, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	if reserveIn+net == 0 {
		return 0, nil
	}
	return fpmath.MulDiv(reserveOut, net, reserveIn+net, fpmath.RoundDown)
}

func (p *Pool) inputFor(want int64, reserveIn, reserveOut int64) (int64, error) {
	if want >= reserveOut {
		return 0, ErrSwapRefused
	}
	net, err := fpmath.MulDiv(reserveIn, want, reserveOut-want, fpmath.RoundUp)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDiv(net, fpmath.BasisPointsDenominator, fpmath.BasisPointsDenominator-p.feeBP, fpmath.RoundUp)
}

func (p *Pool) SwapExactOut(ctx context.Context, give, want fpmath.Amount) (SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return SwapResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	reserveIn, reserveOut, err := p.sides(give.Brand, want.Brand)
	if err != nil {
		return SwapResult{}, err
	}
	if want.IsEmpty() {
		return SwapResult{In: fpmath.Empty(give.Brand), Out: want}, nil
	}

	required, err := p.inputFor(want.Value, reserveIn.Value, reserveOut.Value)
	if err != nil {
		return SwapResult{}, fmt.Errorf("want %s: %w", want, ErrSwapRefused)
	}
	if required > give.Value {
		return SwapResult{}, fmt.Errorf("want %s needs %d %s, offered %s: %w",
			want, required, give.Brand, give, ErrSwapRefused)
	}

	reserveIn.Value += required
	reserveOut.Value -= want.Value
	p.swaps++
	return SwapResult{In: fpmath.Amount{Brand: give.Brand, Value: required}, Out: want}, nil
}

func (p *Pool) SwapIn(ctx context.Context, give, minWant fpmath.Amount) (SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return SwapResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	reserveIn, reserveOut, err := p.sides(give.Brand, minWant.Brand)
	if err != nil {
		return SwapResult{}, err
	}

	out, err := p.outputFor(give.Value, reserveIn.Value, reserveOut.Value)
	if err != nil {
		return SwapResult{}, err
	}
	if out < minWant.Value {
		return SwapResult{}, fmt.Errorf("give %s yields %d %s, below %s: %w",
			give, out, minWant.Brand, minWant, ErrSwapRefused)
	}

	reserveIn.Value += give.Value
	reserveOut.Value -= out
	p.swaps++
	return SwapResult{In: give, Out: fpmath.Amount{Brand: minWant.Brand, Value: out}}, nil
}
