package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"TroveLedger/internal/core"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Querier is the read side served over HTTP. *query.QueryService
// implements it.
type Querier interface {
	GetTrove(ctx context.Context, asset, owner string) (*query.TroveResponse, error)
	ListTroves(ctx context.Context, asset string, limit int, afterNICR *decimal.Decimal) ([]query.TroveResponse, error)
	GetBalances(ctx context.Context, owner string) ([]query.BalanceResponse, error)
	GetLiquidations(ctx context.Context, asset string, limit int, beforeSequence *int64) ([]query.LiquidationResponse, error)
	GetRedemptions(ctx context.Context, owner string, limit int, beforeSequence *int64) ([]query.RedemptionResponse, error)
	GetJournalHistory(ctx context.Context, owner string, limit int, afterSequence *int64) ([]query.JournalHistoryEntry, error)
	GetCommand(ctx context.Context, sequence int64) (*query.CommandResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Executor runs work on the core goroutine. *core.Runner implements it.
type Executor interface {
	Do(ctx context.Context, fn func(*core.DeterministicCore) error) error
}

// RebuildFunc truncates and replays the projections, returning the number
// of replayed commands.
type RebuildFunc func(ctx context.Context) (int64, error)

// Deps holds everything the handlers need. Routes backed by a nil Query or
// Rebuild answer 503.
type Deps struct {
	Core     Executor
	Query    Querier
	Rebuild  RebuildFunc
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Gatherer http.Handler // /metrics, promhttp.Handler() when nil
	Logger   zerolog.Logger

	// CommandRate limits POST /v1/commands per second; zero disables it.
	CommandRate  float64
	CommandBurst int
}

// Server hosts the gRPC health service and the HTTP/JSON API.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string

	deps    Deps
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewServer(grpcAddr, httpAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	s := &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		deps:         deps,
		logger:       deps.Logger,
	}
	if deps.CommandRate > 0 {
		burst := deps.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(deps.CommandRate), burst)
	}
	return s
}

// SetServing flips the gRPC health status. main calls it once recovery
// finishes, alongside HealthChecker.SetReady.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler builds the HTTP routing tree. Exposed for tests.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"GET", "/v1/troves/{asset}", s.getTrove},
		{"GET", "/v1/troves/{asset}/list", s.listTroves},
		{"GET", "/v1/balances", s.getBalances},
		{"GET", "/v1/liquidations/{asset}", s.getLiquidations},
		{"GET", "/v1/redemptions", s.getRedemptions},
		{"GET", "/v1/journals", s.getJournals},
		{"GET", "/v1/commands/{seq}", s.getCommand},
		{"POST", "/v1/commands/{type}", s.submitCommand},
		{"GET", "/v1/hints/{asset}/insert", s.insertHint},
		{"GET", "/v1/hints/{asset}/redemption", s.redemptionHint},
		{"GET", "/v1/system/{asset}", s.systemStatus},
		{"GET", "/v1/admin/integrity", s.verifyIntegrity},
		{"POST", "/v1/admin/rebuild", s.rebuildProjections},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.deps.Health != nil {
		httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	}
	metricsHandler := s.deps.Gatherer
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	httpMux.Handle("/metrics", metricsHandler)
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTP serves the JSON API, health and metrics endpoints (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
