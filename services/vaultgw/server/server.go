package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"deltavault/chain"
	"deltavault/chain/permit"
	gwmw "deltavault/gateway/middleware"
	"deltavault/services/vaultgw/metrics"
	vgmw "deltavault/services/vaultgw/middleware"
	"deltavault/services/vaultgw/pools"
	"deltavault/services/vaultgw/setup"
)

const maxBodyBytes = 1 << 20

// OperatorScope is the JWT scope required on /ops routes.
const OperatorScope = "operator"

// Operator signs and mines transactions with the server key.
// *chain.Transactor satisfies it.
type Operator interface {
	Address() common.Address
	Signer() chain.Signer
	ChainID() *big.Int
	Execute(ctx context.Context, req chain.TxRequest) (*gethtypes.Receipt, error)
}

var _ Operator = (*chain.Transactor)(nil)

// Contracts lists the addresses the routes bind to. Zero addresses disable
// the routes that need them.
type Contracts struct {
	Vault      common.Address
	USDC       common.Address
	Operator   common.Address
	Rebalancer common.Address
	Factory    common.Address
	Periphery  common.Address
}

// Config captures the dependencies required to construct the server.
type Config struct {
	ListenAddress string
	Logger        *slog.Logger
	DB            *gorm.DB
	Backend       chain.Backend
	ChainID       *big.Int
	Contracts     Contracts
	Aggregator    *metrics.Aggregator
	Poller        *metrics.Poller
	History       *metrics.History
	Pools         *pools.Store
	Permits       *permit.Builder
	Operator      Operator
	Setup         *setup.Runner
	Auth          gwmw.AuthConfig
	CORS          gwmw.CORSConfig
	RateLimits    map[string]gwmw.RateLimit
	ReceiptPoll   time.Duration
	TxTimeout     time.Duration
}

// Server exposes the vault gateway HTTP API.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	backend   chain.Backend
	contracts Contracts
	agg       *metrics.Aggregator
	poller    *metrics.Poller
	history   *metrics.History
	pools     *pools.Store
	permits   *permit.Builder
	operator  Operator
	setup     *setup.Runner
	obs       *gwmw.Observability

	router http.Handler
}

func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("server: chain backend required")
	}
	if cfg.Pools == nil {
		return nil, fmt.Errorf("server: pool store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 3 * time.Minute
	}
	if cfg.Operator != nil && !cfg.Auth.Enabled {
		return nil, fmt.Errorf("server: operator routes require auth")
	}
	agg := cfg.Aggregator
	if agg == nil && cfg.Contracts.Vault != (common.Address{}) {
		agg = metrics.NewAggregator(chain.NewVault(cfg.Contracts.Vault, cfg.Backend), metrics.WithLogger(logger))
	}
	permits := cfg.Permits
	if permits == nil {
		permits = permit.NewBuilder(cfg.Backend, permit.WithLogger(logger))
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		backend:   cfg.Backend,
		contracts: cfg.Contracts,
		agg:       agg,
		poller:    cfg.Poller,
		history:   cfg.History,
		pools:     cfg.Pools,
		permits:   permits,
		operator:  cfg.Operator,
		setup:     cfg.Setup,
		obs:       gwmw.NewObservability(gwmw.ObservabilityConfig{ServiceName: "vaultgw"}, logger),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	limiter := gwmw.NewRateLimiter(s.cfg.RateLimits, s.logger)
	authn := gwmw.NewAuthenticator(s.cfg.Auth, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(gwmw.CORS(s.cfg.CORS))
	r.Use(s.obs.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/api", func(api chi.Router) {
		api.Group(func(reads chi.Router) {
			reads.Use(limiter.Middleware("reads"))
			reads.Get("/metrics", s.handleMetrics)
			reads.Get("/metrics/history", s.handleMetricsHistory)
			reads.Get("/metrics/stream", s.handleMetricsStream)

			reads.Get("/vault/metrics", s.handleVaultMetrics)
			reads.Get("/vault/asset", s.handleVaultAsset)
			reads.Get("/vault/balance/{address}", s.handleVaultBalance)
			reads.Get("/vault/allowance/{owner}", s.handleVaultAllowance)
			reads.Get("/operator/health", s.handleOperatorHealth)
			reads.Get("/rebalancer/status", s.handleRebalancerStatus)

			reads.Get("/amm/pools", s.handleAMMPools)
			reads.Get("/amm/pools/{address}", s.handleAMMPool)
			reads.Post("/amm/pools/compute", s.handleComputePoolAddress)
			reads.Get("/amm/quote", s.handleAMMQuote)
			reads.Get("/amm/limits", s.handleAMMLimits)
		})

		api.Route("/pools", func(pr chi.Router) {
			pr.Use(limiter.Middleware("pools"))
			pr.Get("/", s.handleListPools)
			pr.Post("/", s.handleCreatePool)
			pr.Get("/{id}", s.handleGetPool)
			pr.Put("/{id}", s.handleUpdatePool)
			pr.Delete("/{id}", s.handleDeletePool)
			pr.Post("/{id}/transactions", s.handleAddPoolTransaction)
		})

		api.Group(func(wallet chi.Router) {
			wallet.Use(limiter.Middleware("wallet"))
			wallet.Post("/permit", s.handleBuildPermit)
			wallet.Post("/permit/split", s.handleSplitPermit)
			wallet.Post("/tx/calldata", s.handleCalldata)
			wallet.Post("/tx/relay", s.handleRelay)
		})
	})

	r.Route("/ops", func(ops chi.Router) {
		ops.Use(limiter.Middleware("ops"))
		ops.Use(authn.Middleware(OperatorScope))
		ops.Use(vgmw.WithIdempotency(s.cfg.DB, s.logger))
		ops.Post("/rebalance", s.handleOpsRebalance)
		ops.Post("/operator/rebalance", s.handleOpsOperatorRebalance)
		ops.Post("/operator/set-vault", s.handleOpsSetVault)
		ops.Post("/operator/transfer-ownership", s.handleOpsTransferOwnership)
		ops.Post("/operator/renounce-ownership", s.handleOpsRenounceOwnership)
		ops.Post("/deposit", s.handleOpsDeposit)
		ops.Post("/withdraw", s.handleOpsWithdraw)
		ops.Post("/setup", s.handleOpsSetup)
		ops.Get("/setup/{id}", s.handleOpsSetupStatus)
		ops.Post("/setup/{id}/resume", s.handleOpsSetupResume)
	})

	return r
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(s.router, "vaultgw"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("vaultgw: http server listening", "listen", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if id, err := s.backend.ChainID(ctx); err != nil {
		status["status"] = "degraded"
		status["rpc"] = err.Error()
	} else {
		status["chainId"] = id.String()
	}
	if s.poller != nil {
		if snap, ok := s.poller.Latest(); ok {
			status["lastSnapshot"] = snap.Data.Timestamp
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeChainError maps contract and RPC failures onto gateway statuses.
func (s *Server) writeChainError(w http.ResponseWriter, op string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = 499
	}
	s.logger.Warn("chain request failed", "op", op, "error", err)
	s.writeError(w, status, fmt.Sprintf("%s: %v", op, err))
}

func (s *Server) chainID(ctx context.Context) (*big.Int, error) {
	if s.cfg.ChainID != nil {
		return s.cfg.ChainID, nil
	}
	return s.backend.ChainID(ctx)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (s *Server) requireContract(w http.ResponseWriter, addr common.Address, name string) bool {
	if addr == (common.Address{}) {
		s.writeError(w, http.StatusServiceUnavailable, name+" contract not configured")
		return false
	}
	return true
}
