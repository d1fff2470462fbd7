package server

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/factory"
	"VaultLedger/internal/ingestion"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/query"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

// Querier serves the read routes.
type Querier interface {
	GetVault(ctx context.Context, collateral string, vaultID uint64) (*query.VaultResponse, error)
	ListVaults(ctx context.Context, collateral string, limit int) ([]query.VaultResponse, error)
	GetLiquidations(ctx context.Context, collateral, status string, limit int) ([]query.LiquidationResponse, error)
	GetManagerMetrics(ctx context.Context, collateral string) (*query.ManagerMetricsResponse, error)
	GetBalance(owner, brand string) (*query.BalanceResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Submitter injects operator requests into the ingestion queue.
type Submitter interface {
	SubmitJSON(ctx context.Context, kind core.RequestKind, brand fpmath.Brand, body []byte) (core.Reply, error)
	SubmitPriceJSON(ctx context.Context, collateral fpmath.Brand, body []byte) (core.Reply, error)
}

// EventLog reports the persisted chain tip.
type EventLog interface {
	ChainTip(ctx context.Context) (core.Checkpoint, error)
}

// ServerDeps holds everything the routes call. Admin, EventLog and Rebuild
// are optional; their routes answer Unimplemented when unset.
type ServerDeps struct {
	Query         Querier
	Admin         Submitter
	EventLog      EventLog
	Rebuild       func(ctx context.Context) error
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
}

// GRPCServer serves gRPC health and reflection, and the HTTP/JSON API on a
// grpc-gateway ServeMux.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	handler      http.Handler
	logger       zerolog.Logger
}

func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) (*GRPCServer, error) {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	handler, err := NewHandler(deps)
	if err != nil {
		return nil, err
	}

	return &GRPCServer{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		handler:      handler,
		logger:       deps.Logger.With().Str("component", "server").Logger(),
	}, nil
}

// SetServing flips the gRPC health status once recovery has finished.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON API (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP gateway listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// NewHandler builds the HTTP handler: health checks plus the API routes.
func NewHandler(deps *ServerDeps) (http.Handler, error) {
	mux := runtime.NewServeMux()
	api := &api{deps: deps, mux: mux, logger: deps.Logger.With().Str("component", "http").Logger()}

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/vaults/{collateral}/{id}", api.getVault},
		{http.MethodGet, "/v1/vaults/{collateral}", api.listVaults},
		{http.MethodGet, "/v1/liquidations/{collateral}", api.getLiquidations},
		{http.MethodGet, "/v1/managers/{collateral}/metrics", api.managerMetrics},
		{http.MethodGet, "/v1/balances/{owner}/{brand}", api.getBalance},

		{http.MethodPost, "/v1/admin/requests/{kind}/{brand}", api.submitRequest},
		{http.MethodPost, "/v1/admin/prices/{collateral}", api.submitPrice},
		{http.MethodPost, "/v1/admin/projections/rebuild", api.rebuildProjections},
		{http.MethodGet, "/v1/admin/eventlog", api.eventLogInfo},
		{http.MethodGet, "/v1/admin/integrity", api.verifyIntegrity},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if hc := deps.HealthChecker; hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// ============================================================================
// Routes
// ============================================================================

type api struct {
	deps   *ServerDeps
	mux    *runtime.ServeMux
	logger zerolog.Logger
}

func (a *api) getVault(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, err := strconv.ParseUint(p["id"], 10, 64)
	if err != nil {
		a.fail(w, r, status.Errorf(codes.InvalidArgument, "invalid vault id %q", p["id"]))
		return
	}
	v, err := a.deps.Query.GetVault(r.Context(), p["collateral"], id)
	a.respond(w, r, v, err)
}

func (a *api) listVaults(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, err := limitParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	vaults, err := a.deps.Query.ListVaults(r.Context(), p["collateral"], limit)
	a.respond(w, r, map[string]interface{}{"vaults": vaults}, err)
}

func (a *api) getLiquidations(w http.ResponseWriter, r *http.Request, p map[string]string) {
	limit, err := limitParam(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	liqs, err := a.deps.Query.GetLiquidations(r.Context(), p["collateral"], r.URL.Query().Get("status"), limit)
	a.respond(w, r, map[string]interface{}{"liquidations": liqs}, err)
}

func (a *api) managerMetrics(w http.ResponseWriter, r *http.Request, p map[string]string) {
	m, err := a.deps.Query.GetManagerMetrics(r.Context(), p["collateral"])
	a.respond(w, r, m, err)
}

func (a *api) getBalance(w http.ResponseWriter, r *http.Request, p map[string]string) {
	b, err := a.deps.Query.GetBalance(p["owner"], p["brand"])
	a.respond(w, r, b, err)
}

func (a *api) submitRequest(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if a.deps.Admin == nil {
		a.fail(w, r, status.Error(codes.Unimplemented, "admin ingestion disabled"))
		return
	}
	body, err := readBody(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	reply, err := a.deps.Admin.SubmitJSON(r.Context(), core.RequestKind(p["kind"]), fpmath.Brand(p["brand"]), body)
	a.respond(w, r, reply, err)
}

func (a *api) submitPrice(w http.ResponseWriter, r *http.Request, p map[string]string) {
	if a.deps.Admin == nil {
		a.fail(w, r, status.Error(codes.Unimplemented, "admin ingestion disabled"))
		return
	}
	body, err := readBody(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	reply, err := a.deps.Admin.SubmitPriceJSON(r.Context(), fpmath.Brand(p["collateral"]), body)
	a.respond(w, r, reply, err)
}

func (a *api) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.deps.Rebuild == nil {
		a.fail(w, r, status.Error(codes.Unimplemented, "projections disabled"))
		return
	}
	start := time.Now()
	if err := a.deps.Rebuild(r.Context()); err != nil {
		a.fail(w, r, status.Errorf(codes.Internal, "rebuild failed: %v", err))
		return
	}
	a.respond(w, r, map[string]interface{}{
		"rebuilt":  true,
		"duration": time.Since(start).String(),
	}, nil)
}

func (a *api) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.deps.EventLog == nil {
		a.fail(w, r, status.Error(codes.Unimplemented, "event log disabled"))
		return
	}
	tip, err := a.deps.EventLog.ChainTip(r.Context())
	a.respond(w, r, map[string]interface{}{
		"last_sequence":   tip.LastSequence,
		"ledger_sequence": tip.LedgerSequence,
		"state_hash":      fmt.Sprintf("%x", tip.StateHash),
	}, err)
}

func (a *api) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := a.deps.Query.VerifyIntegrity(r.Context())
	a.respond(w, r, report, err)
}

// ============================================================================
// Helpers
// ============================================================================

func (a *api) respond(w http.ResponseWriter, r *http.Request, body any, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("write response")
	}
}

// fail renders err through the gateway's error handler so HTTP codes follow
// the gRPC status mapping.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	st := toStatus(err)
	if st.Code() == codes.Internal {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	_, outbound := runtime.MarshalerForRequest(a.mux, r)
	runtime.HTTPError(r.Context(), a.mux, outbound, w, r, st.Err())
}

func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	switch {
	case errors.Is(err, query.ErrNotFound), errors.Is(err, factory.ErrUnknownCollateral):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, ingestion.ErrMalformed):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, ingestion.ErrNotApplied):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	default:
		return status.New(codes.Internal, err.Error())
	}
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "invalid limit %q", raw)
	}
	return n, nil
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, status.Error(codes.InvalidArgument, "body too large")
	}
	return body, nil
}
