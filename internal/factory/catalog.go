package factory

import (
	"VaultLedger/internal/liquidation"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/state"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Catalog is the governed list of collateral types. The engine reads it at
// startup and never writes it back.
type Catalog struct {
	DebtBrand  string             `toml:"debt_brand"`
	Collateral []CollateralConfig `toml:"collateral"`
}

// CollateralConfig describes one vault type.
type CollateralConfig struct {
	Brand string `toml:"brand"`

	LiquidationMarginBP  int64 `toml:"liquidation_margin_bp"`
	LiquidationPenaltyBP int64 `toml:"liquidation_penalty_bp"`
	LoanFeeBP            int64 `toml:"loan_fee_bp"`
	InterestRateBP       int64 `toml:"interest_rate_bp"`
	ChargingPeriod       int64 `toml:"charging_period"`  // seconds
	RecordingPeriod      int64 `toml:"recording_period"` // seconds
	DebtLimit            int64 `toml:"debt_limit"`

	// QuoteUnit is the collateral amount reported by GetCollateralQuote.
	QuoteUnit int64 `toml:"quote_unit"`

	Strategy    string                          `toml:"strategy"`
	Incremental *liquidation.IncrementalConfig `toml:"incremental"`
	StepSeconds int64                           `toml:"step_seconds"`

	// Pool seeds the in-memory AMM for this collateral.
	Pool PoolConfig `toml:"pool"`

	// InitialPrice seeds the oracle as debt per collateral unit.
	InitialPrice PriceConfig `toml:"initial_price"`
}

type PoolConfig struct {
	Central   int64 `toml:"central"`
	Secondary int64 `toml:"secondary"`
	FeeBP     int64 `toml:"fee_bp"`
}

type PriceConfig struct {
	Debt       int64 `toml:"debt"`
	Collateral int64 `toml:"collateral"`
}

const defaultStepSeconds = 60

// LoadCatalog reads a TOML catalogue. Unknown keys are rejected.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return ParseCatalog(string(data))
}

func ParseCatalog(data string) (*Catalog, error) {
	var c Catalog
	meta, err := toml.Decode(data, &c)
	if err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("catalog: unknown fields %s", strings.Join(keys, ", "))
	}
	for i := range c.Collateral {
		c.Collateral[i].applyDefaults()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *CollateralConfig) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = liquidation.StrategyMinimumSale
	}
	if c.QuoteUnit == 0 {
		c.QuoteUnit = 1
	}
	if c.StepSeconds == 0 {
		c.StepSeconds = defaultStepSeconds
	}
	if c.Strategy == liquidation.StrategyIncremental && c.Incremental == nil {
		def := liquidation.DefaultIncrementalConfig()
		def.AMMFeeBP = c.Pool.FeeBP
		c.Incremental = &def
	}
}

func (c *Catalog) Validate() error {
	if strings.TrimSpace(c.DebtBrand) == "" {
		return errors.New("catalog: debt_brand is required")
	}
	if len(c.Collateral) == 0 {
		return errors.New("catalog: at least one collateral entry is required")
	}
	seen := make(map[string]struct{}, len(c.Collateral))
	for i, cc := range c.Collateral {
		if _, dup := seen[cc.Brand]; dup {
			return fmt.Errorf("catalog: collateral %q listed twice", cc.Brand)
		}
		seen[cc.Brand] = struct{}{}
		if err := cc.Validate(fpmath.Brand(c.DebtBrand)); err != nil {
			return fmt.Errorf("catalog: collateral[%d] %q: %w", i, cc.Brand, err)
		}
	}
	return nil
}

// Validate checks the entry against the debt brand it borrows.
func (c CollateralConfig) Validate(debt fpmath.Brand) error {
	if strings.TrimSpace(c.Brand) == "" {
		return errors.New("brand is required")
	}
	if fpmath.Brand(c.Brand) == debt {
		return fmt.Errorf("brand must differ from debt brand %s", debt)
	}
	if _, err := c.Params(debt); err != nil {
		return err
	}
	switch c.Strategy {
	case liquidation.StrategyMinimumSale:
	case liquidation.StrategyIncremental:
		if c.Incremental == nil {
			return errors.New("incremental strategy needs an [incremental] table")
		}
		if err := c.Incremental.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.QuoteUnit <= 0 {
		return fmt.Errorf("quote_unit must be > 0, got %d", c.QuoteUnit)
	}
	if c.StepSeconds <= 0 {
		return fmt.Errorf("step_seconds must be > 0, got %d", c.StepSeconds)
	}
	if c.Pool.Central < 0 || c.Pool.Secondary < 0 {
		return errors.New("pool reserves must be non-negative")
	}
	if c.InitialPrice.Debt < 0 || c.InitialPrice.Collateral < 0 {
		return errors.New("initial price must be non-negative")
	}
	return nil
}

// Params converts the basis-point entry to manager parameters.
func (c CollateralConfig) Params(debt fpmath.Brand) (state.Params, error) {
	return state.ParamsFromBasisPoints(debt, state.BasisPointParams{
		LiquidationMarginBP:  c.LiquidationMarginBP,
		LiquidationPenaltyBP: c.LiquidationPenaltyBP,
		LoanFeeBP:            c.LoanFeeBP,
		InterestRateBP:       c.InterestRateBP,
		ChargingPeriod:       c.ChargingPeriod,
		RecordingPeriod:      c.RecordingPeriod,
		DebtLimit:            c.DebtLimit,
	})
}

// HasPrice reports whether the entry seeds an oracle price.
func (c CollateralConfig) HasPrice() bool {
	return c.InitialPrice.Debt > 0 && c.InitialPrice.Collateral > 0
}
