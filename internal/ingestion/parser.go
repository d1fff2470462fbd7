package ingestion

import (
	"VaultLedger/internal/core"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/state"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrMalformed = errors.New("ingestion: malformed message")

// Parser converts JSON messages into typed requests. Collateral brands come
// from the subject; amounts on the wire are bare integers in the brand the
// field implies.
type Parser struct {
	Debt fpmath.Brand
}

// ParseMessage dispatches on the subject:
//
//	vault.requests.{kind}.{brand}
//	vault.prices.{collateral}
func (p Parser) ParseMessage(subject string, data []byte) (core.Request, error) {
	tokens := strings.Split(subject, ".")
	if len(tokens) < 3 || tokens[0] != "vault" {
		return nil, fmt.Errorf("%w: unexpected subject %q", ErrMalformed, subject)
	}
	switch tokens[1] {
	case "prices":
		return p.parsePrice(fpmath.Brand(tokens[2]), data)
	case "requests":
		if len(tokens) < 4 {
			return nil, fmt.Errorf("%w: subject %q has no brand", ErrMalformed, subject)
		}
		return p.ParseRequest(core.RequestKind(tokens[2]), fpmath.Brand(tokens[3]), data)
	default:
		return nil, fmt.Errorf("%w: unexpected subject %q", ErrMalformed, subject)
	}
}

// ParseRequest parses one request body. brand is the collateral for vault
// requests and the wallet brand for deposits and withdrawals.
func (p Parser) ParseRequest(kind core.RequestKind, brand fpmath.Brand, data []byte) (core.Request, error) {
	if brand == "" {
		return nil, fmt.Errorf("%w: empty brand", ErrMalformed)
	}
	switch kind {
	case core.KindOpen:
		return p.parseOpen(brand, data)
	case core.KindAdjust:
		return p.parseAdjust(brand, data)
	case core.KindClose:
		return p.parseClose(brand, data)
	case core.KindTransfer:
		return p.parseTransfer(brand, data)
	case core.KindAccept:
		return p.parseAccept(brand, data)
	case core.KindDeposit:
		return parseWallet(brand, data, func(id, owner string, amt fpmath.Amount) core.Request {
			return &core.Deposit{ID: id, Owner: owner, Amount: amt}
		})
	case core.KindWithdraw:
		return parseWallet(brand, data, func(id, owner string, amt fpmath.Amount) core.Request {
			return &core.Withdraw{ID: id, Owner: owner, Amount: amt}
		})
	case core.KindParams:
		return parseParams(brand, data)
	default:
		return nil, fmt.Errorf("%w: unknown request kind %q", ErrMalformed, kind)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type handleJSON struct {
	VaultID uint64 `json:"vault_id"`
	Token   string `json:"token"`
}

func (h handleJSON) handle(collateral fpmath.Brand) (state.VaultHandle, error) {
	if h.VaultID == 0 {
		return state.VaultHandle{}, fmt.Errorf("%w: vault_id is required", ErrMalformed)
	}
	token, err := uuid.Parse(h.Token)
	if err != nil {
		return state.VaultHandle{}, fmt.Errorf("%w: parse token: %v", ErrMalformed, err)
	}
	return state.VaultHandle{Collateral: collateral, VaultID: h.VaultID, Token: token}, nil
}

func decode(kind string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrMalformed, kind, err)
	}
	return nil
}

func amount(field string, brand fpmath.Brand, value int64) (fpmath.Amount, error) {
	a, err := fpmath.NewAmount(brand, value)
	if err != nil {
		return fpmath.Amount{}, fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return a, nil
}

type openJSON struct {
	RequestID string `json:"request_id"`
	Owner     string `json:"owner"`
	Give      int64  `json:"give"`
	Want      int64  `json:"want"`
}

func (p Parser) parseOpen(collateral fpmath.Brand, data []byte) (*core.OpenVault, error) {
	var j openJSON
	if err := decode("open", data, &j); err != nil {
		return nil, err
	}
	give, err := amount("give", collateral, j.Give)
	if err != nil {
		return nil, err
	}
	want, err := amount("want", p.Debt, j.Want)
	if err != nil {
		return nil, err
	}
	return &core.OpenVault{
		ID:          j.RequestID,
		OpenRequest: state.OpenRequest{Owner: j.Owner, Give: give, Want: want},
	}, nil
}

type adjustJSON struct {
	RequestID string `json:"request_id"`
	handleJSON
	GiveCollateral int64 `json:"give_collateral"`
	WantCollateral int64 `json:"want_collateral"`
	GiveDebt       int64 `json:"give_debt"`
	WantDebt       int64 `json:"want_debt"`
}

func (p Parser) parseAdjust(collateral fpmath.Brand, data []byte) (*core.AdjustVault, error) {
	var j adjustJSON
	if err := decode("adjust", data, &j); err != nil {
		return nil, err
	}
	h, err := j.handle(collateral)
	if err != nil {
		return nil, err
	}
	req := state.AdjustRequest{Handle: h}
	for _, f := range []struct {
		name  string
		brand fpmath.Brand
		value int64
		dst   *fpmath.Amount
	}{
		{"give_collateral", collateral, j.GiveCollateral, &req.GiveCollateral},
		{"want_collateral", collateral, j.WantCollateral, &req.WantCollateral},
		{"give_debt", p.Debt, j.GiveDebt, &req.GiveDebt},
		{"want_debt", p.Debt, j.WantDebt, &req.WantDebt},
	} {
		if *f.dst, err = amount(f.name, f.brand, f.value); err != nil {
			return nil, err
		}
	}
	return &core.AdjustVault{ID: j.RequestID, AdjustRequest: req}, nil
}

type closeJSON struct {
	RequestID string `json:"request_id"`
	handleJSON
	Payment int64 `json:"payment"`
}

func (p Parser) parseClose(collateral fpmath.Brand, data []byte) (*core.CloseVault, error) {
	var j closeJSON
	if err := decode("close", data, &j); err != nil {
		return nil, err
	}
	h, err := j.handle(collateral)
	if err != nil {
		return nil, err
	}
	payment, err := amount("payment", p.Debt, j.Payment)
	if err != nil {
		return nil, err
	}
	return &core.CloseVault{
		ID:           j.RequestID,
		CloseRequest: state.CloseRequest{Handle: h, Payment: payment},
	}, nil
}

type transferJSON struct {
	RequestID string `json:"request_id"`
	handleJSON
}

func (p Parser) parseTransfer(collateral fpmath.Brand, data []byte) (*core.TransferVault, error) {
	var j transferJSON
	if err := decode("transfer", data, &j); err != nil {
		return nil, err
	}
	h, err := j.handle(collateral)
	if err != nil {
		return nil, err
	}
	return &core.TransferVault{ID: j.RequestID, Handle: h}, nil
}

type acceptJSON struct {
	RequestID    string `json:"request_id"`
	VaultID      uint64 `json:"vault_id"`
	InvitationID string `json:"invitation_id"`
	NewOwner     string `json:"new_owner"`
}

func (p Parser) parseAccept(collateral fpmath.Brand, data []byte) (*core.AcceptTransfer, error) {
	var j acceptJSON
	if err := decode("accept", data, &j); err != nil {
		return nil, err
	}
	inv, err := uuid.Parse(j.InvitationID)
	if err != nil {
		return nil, fmt.Errorf("%w: parse invitation_id: %v", ErrMalformed, err)
	}
	return &core.AcceptTransfer{
		ID: j.RequestID,
		Invitation: state.TransferInvitation{
			Collateral:   collateral,
			VaultID:      j.VaultID,
			InvitationID: inv,
		},
		NewOwner: j.NewOwner,
	}, nil
}

type walletJSON struct {
	RequestID string `json:"request_id"`
	Owner     string `json:"owner"`
	Amount    int64  `json:"amount"`
}

func parseWallet(brand fpmath.Brand, data []byte, build func(id, owner string, amt fpmath.Amount) core.Request) (core.Request, error) {
	var j walletJSON
	if err := decode("wallet", data, &j); err != nil {
		return nil, err
	}
	amt, err := amount("amount", brand, j.Amount)
	if err != nil {
		return nil, err
	}
	return build(j.RequestID, j.Owner, amt), nil
}

type paramsJSON struct {
	Sequence             int64 `json:"sequence"`
	LiquidationMarginBP  int64 `json:"liquidation_margin_bp"`
	LiquidationPenaltyBP int64 `json:"liquidation_penalty_bp"`
	LoanFeeBP            int64 `json:"loan_fee_bp"`
	InterestRateBP       int64 `json:"interest_rate_bp"`
	ChargingPeriod       int64 `json:"charging_period"`
	RecordingPeriod      int64 `json:"recording_period"`
	DebtLimit            int64 `json:"debt_limit"`
}

func parseParams(collateral fpmath.Brand, data []byte) (*core.ParamsUpdate, error) {
	var j paramsJSON
	if err := decode("params", data, &j); err != nil {
		return nil, err
	}
	if j.Sequence <= 0 {
		return nil, fmt.Errorf("%w: sequence must be positive", ErrMalformed)
	}
	return &core.ParamsUpdate{
		Collateral: collateral,
		Sequence:   j.Sequence,
		Params: state.BasisPointParams{
			LiquidationMarginBP:  j.LiquidationMarginBP,
			LiquidationPenaltyBP: j.LiquidationPenaltyBP,
			LoanFeeBP:            j.LoanFeeBP,
			InterestRateBP:       j.InterestRateBP,
			ChargingPeriod:       j.ChargingPeriod,
			RecordingPeriod:      j.RecordingPeriod,
			DebtLimit:            j.DebtLimit,
		},
	}, nil
}

// priceJSON is debt per collateral: debt/collateral.
type priceJSON struct {
	Sequence    int64 `json:"sequence"`
	Debt        int64 `json:"debt"`
	Collateral  int64 `json:"collateral"`
	TimestampUs int64 `json:"timestamp_us"`
}

func (p Parser) parsePrice(collateral fpmath.Brand, data []byte) (*core.PriceUpdate, error) {
	var j priceJSON
	if err := decode("price", data, &j); err != nil {
		return nil, err
	}
	num, err := amount("debt", p.Debt, j.Debt)
	if err != nil {
		return nil, err
	}
	den, err := amount("collateral", collateral, j.Collateral)
	if err != nil {
		return nil, err
	}
	price, err := fpmath.NewRatio(num, den)
	if err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrMalformed, err)
	}
	var ts time.Time
	if j.TimestampUs > 0 {
		ts = time.UnixMicro(j.TimestampUs).UTC()
	}
	return &core.PriceUpdate{Price: price, Sequence: j.Sequence, Timestamp: ts}, nil
}
