package server_test

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/factory"
	"VaultLedger/internal/ingestion"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/query"
	"VaultLedger/internal/server"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeQuery struct {
	lastLimit  int
	lastStatus string
}

func (q *fakeQuery) GetVault(_ context.Context, collateral string, id uint64) (*query.VaultResponse, error) {
	if id != 1 {
		return nil, fmt.Errorf("%w: vault %s/%d", query.ErrNotFound, collateral, id)
	}
	return &query.VaultResponse{Collateral: collateral, VaultID: id, Phase: "active", AsOfSequence: 9}, nil
}

func (q *fakeQuery) ListVaults(_ context.Context, collateral string, limit int) ([]query.VaultResponse, error) {
	q.lastLimit = limit
	return []query.VaultResponse{{Collateral: collateral, VaultID: 1}, {Collateral: collateral, VaultID: 2}}, nil
}

func (q *fakeQuery) GetLiquidations(_ context.Context, _ string, status string, limit int) ([]query.LiquidationResponse, error) {
	q.lastStatus, q.lastLimit = status, limit
	return []query.LiquidationResponse{{LiquidationID: "l-1", Status: "completed"}}, nil
}

func (q *fakeQuery) GetManagerMetrics(_ context.Context, collateral string) (*query.ManagerMetricsResponse, error) {
	if collateral != "ATOM" {
		return nil, fmt.Errorf("%w: %s", factory.ErrUnknownCollateral, collateral)
	}
	return &query.ManagerMetricsResponse{Collateral: "ATOM", NumVaults: 3}, nil
}

func (q *fakeQuery) GetBalance(owner, brand string) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{Owner: owner, Brand: brand, Balance: 12}, nil
}

func (q *fakeQuery) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true, LedgerBalanced: true}, nil
}

type fakeAdmin struct {
	kind  core.RequestKind
	brand fpmath.Brand
	body  string
}

func (a *fakeAdmin) SubmitJSON(_ context.Context, kind core.RequestKind, brand fpmath.Brand, body []byte) (core.Reply, error) {
	a.kind, a.brand, a.body = kind, brand, string(body)
	switch kind {
	case "borrow":
		return core.Reply{}, fmt.Errorf("%w: unknown request kind", ingestion.ErrMalformed)
	case core.KindWithdraw:
		reply := core.Reply{RequestID: "w-1", Kind: kind, Status: core.StatusRejected, Code: "insufficient_funds"}
		return reply, fmt.Errorf("%w: insufficient_funds", ingestion.ErrNotApplied)
	}
	return core.Reply{RequestID: "r-1", Kind: kind, Status: core.StatusApplied}, nil
}

func (a *fakeAdmin) SubmitPriceJSON(_ context.Context, collateral fpmath.Brand, body []byte) (core.Reply, error) {
	a.kind, a.brand, a.body = core.KindPrice, collateral, string(body)
	return core.Reply{Kind: core.KindPrice, Status: core.StatusApplied}, nil
}

type fakeLog struct{}

func (fakeLog) ChainTip(context.Context) (core.Checkpoint, error) {
	return core.Checkpoint{LastSequence: 17, LedgerSequence: 30, StateHash: [32]byte{0xab}}, nil
}

func newHandler(t *testing.T, deps *server.ServerDeps) http.Handler {
	t.Helper()
	deps.Logger = zerolog.Nop()
	h, err := server.NewHandler(deps)
	require.NoError(t, err)
	return h
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestHandler_VaultRoutes(t *testing.T) {
	q := &fakeQuery{}
	h := newHandler(t, &server.ServerDeps{Query: q})

	code, body := do(t, h, http.MethodGet, "/v1/vaults/ATOM/1", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ATOM", body["collateral"])
	require.EqualValues(t, 9, body["as_of_sequence"])

	code, _ = do(t, h, http.MethodGet, "/v1/vaults/ATOM/7", "")
	require.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodGet, "/v1/vaults/ATOM/x", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodGet, "/v1/vaults/ATOM?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["vaults"], 2)
	require.Equal(t, 5, q.lastLimit)

	code, _ = do(t, h, http.MethodGet, "/v1/vaults/ATOM?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_LiquidationsMetricsAndBalances(t *testing.T) {
	q := &fakeQuery{}
	h := newHandler(t, &server.ServerDeps{Query: q})

	code, body := do(t, h, http.MethodGet, "/v1/liquidations/ATOM?status=completed", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["liquidations"], 1)
	require.Equal(t, "completed", q.lastStatus)

	code, body = do(t, h, http.MethodGet, "/v1/managers/ATOM/metrics", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 3, body["num_vaults"])

	code, _ = do(t, h, http.MethodGet, "/v1/managers/OSMO/metrics", "")
	require.Equal(t, http.StatusNotFound, code)

	code, body = do(t, h, http.MethodGet, "/v1/balances/alice/RUN", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 12, body["balance"])

	code, body = do(t, h, http.MethodGet, "/v1/admin/integrity", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["is_healthy"])
}

func TestHandler_AdminRoutes(t *testing.T) {
	admin := &fakeAdmin{}
	rebuilt := false
	h := newHandler(t, &server.ServerDeps{
		Query:    &fakeQuery{},
		Admin:    admin,
		EventLog: fakeLog{},
		Rebuild: func(context.Context) error {
			rebuilt = true
			return nil
		},
	})

	code, body := do(t, h, http.MethodPost, "/v1/admin/requests/deposit/RUN", `{"request_id":"d-1","owner":"alice","amount":5}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "applied", body["status"])
	require.Equal(t, core.KindDeposit, admin.kind)
	require.Equal(t, fpmath.Brand("RUN"), admin.brand)
	require.Contains(t, admin.body, `"d-1"`)

	code, _ = do(t, h, http.MethodPost, "/v1/admin/requests/borrow/RUN", `{}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodPost, "/v1/admin/requests/withdraw/RUN", `{}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body["message"], "insufficient_funds")

	code, _ = do(t, h, http.MethodPost, "/v1/admin/prices/ATOM", `{"sequence":1,"debt":2,"collateral":1}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, core.KindPrice, admin.kind)

	code, body = do(t, h, http.MethodPost, "/v1/admin/projections/rebuild", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, rebuilt)

	code, body = do(t, h, http.MethodGet, "/v1/admin/eventlog", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 17, body["last_sequence"])
	require.True(t, strings.HasPrefix(body["state_hash"].(string), "ab00"))
}

func TestHandler_AdminDisabledAndHealth(t *testing.T) {
	hc := observability.NewHealthChecker()
	h := newHandler(t, &server.ServerDeps{Query: &fakeQuery{}, HealthChecker: hc})

	code, _ := do(t, h, http.MethodPost, "/v1/admin/requests/open/ATOM", `{}`)
	require.Equal(t, http.StatusNotImplemented, code)

	code, _ = do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
	hc.SetReady(true)
	code, _ = do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, code)
}
