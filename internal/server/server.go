// Package server exposes C12: the thin HTTP facade over the mission
// engine. Every route maps close to 1:1 onto a mission/registry/relayer
// method; the facade's own job is auth, request decoding, and mapping
// domain errors onto HTTP status codes, not business logic.
package server

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/auth"
	"github.com/mbd888/missionengine/internal/bonds"
	"github.com/mbd888/missionengine/internal/config"
	"github.com/mbd888/missionengine/internal/dispatch"
	"github.com/mbd888/missionengine/internal/escrow"
	"github.com/mbd888/missionengine/internal/indexer"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/mbd888/missionengine/internal/logging"
	"github.com/mbd888/missionengine/internal/metrics"
	"github.com/mbd888/missionengine/internal/mission"
	"github.com/mbd888/missionengine/internal/outcome"
	"github.com/mbd888/missionengine/internal/ratelimit"
	"github.com/mbd888/missionengine/internal/registry"
	"github.com/mbd888/missionengine/internal/relayer"
	"github.com/mbd888/missionengine/internal/reputation"
	"github.com/mbd888/missionengine/internal/security"
	"github.com/mbd888/missionengine/internal/settlement"
	"github.com/mbd888/missionengine/internal/traces"
)

// Server wires the mission engine's domain services to an HTTP API.
type Server struct {
	cfg *config.Config

	registry   registry.Store
	ledger     *ledger.Ledger
	bonds      *bonds.Service
	escrow     *escrow.Service
	settlement *settlement.Service
	dispatch   *dispatch.Service
	mission    *mission.Service
	outcomes   outcome.Store
	reputation *reputation.Provider
	authMgr    *auth.Manager
	indexer    *indexer.Service
	relayer    *relayer.Service

	missionStore  mission.Store
	dispatchStore dispatch.Store
	relayerStore  relayer.Store
	indexerStore  indexer.Store

	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory stores

	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger

	cancelRunCtx   context.CancelFunc
	tracerShutdown func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default logger (mainly for tests).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New builds a Server from cfg: domain services over Postgres when
// cfg.DatabaseURL is set, in-memory stores otherwise; the chain-facing
// indexer and relayer are wired only when cfg.RPCURL/SignerKey are
// present, since a deployment may run the off-chain engine standalone
// ahead of a contract deploy.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthy.Store(true)

	ctx := context.Background()

	tracerShutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		tracerShutdown = func(context.Context) error { return nil }
	}
	s.tracerShutdown = tracerShutdown

	if err := s.initStores(ctx, cfg); err != nil {
		return nil, err
	}
	s.initDomain(cfg)

	if err := s.initChain(cfg); err != nil {
		s.logger.Warn("chain integration disabled", "error", err)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// initStores picks Postgres or in-memory backing stores for every
// domain package and runs their migrations when Postgres is in use.
func (s *Server) initStores(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		s.registry = registry.NewMemoryStore()
		ledgerStore := ledger.NewMemoryStore()
		s.ledger = ledger.New(ledgerStore, s.logger)
		missionStore := mission.NewMemoryStore()
		s.missionStore = missionStore
		dispatchStore := dispatch.NewMemoryStore()
		s.dispatchStore = dispatchStore
		s.outcomes = outcome.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.relayerStore = relayer.NewMemoryStore()
		s.indexerStore = indexer.NewMemoryStore()
		s.logger.Info("using in-memory storage")
		return nil
	}

	dbDSN := appendDSNParams(cfg.DatabaseURL, cfg.DBConnectTimeout, cfg.DBStatementTimeout)
	db, err := sql.Open("postgres", dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	registryStore := registry.NewPostgresStore(db)
	if err := registryStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate registry: %w", err)
	}
	s.registry = registryStore

	ledgerStore := ledger.NewPostgresStore(db)
	if err := ledgerStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	s.ledger = ledger.New(ledgerStore, s.logger)

	missionStore := mission.NewPostgresStore(db)
	if err := missionStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate mission: %w", err)
	}
	s.missionStore = missionStore

	dispatchStore := dispatch.NewPostgresStore(db)
	if err := dispatchStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate dispatch: %w", err)
	}
	s.dispatchStore = dispatchStore

	outcomeStore := outcome.NewPostgresStore(db)
	if err := outcomeStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate outcome: %w", err)
	}
	s.outcomes = outcomeStore

	authStore := auth.NewPostgresStore(db)
	if err := authStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate auth: %w", err)
	}
	s.authMgr = auth.NewManager(authStore)

	relayerStore := relayer.NewPostgresStore(db)
	if err := relayerStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate relayer: %w", err)
	}
	s.relayerStore = relayerStore

	indexerStore := indexer.NewPostgresStore(db)
	if err := indexerStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate indexer: %w", err)
	}
	s.indexerStore = indexerStore

	s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	return nil
}

// initDomain wires C2-C9 over the stores initStores picked, using
// *ledger.Ledger directly as bonds/escrow/settlement's LedgerService:
// its method set already matches each narrow interface, so no adapter
// shims are needed here the way the same wiring needed them upstream.
func (s *Server) initDomain(cfg *config.Config) {
	s.bonds = bonds.NewService(s.ledger)
	s.escrow = escrow.NewService(s.ledger)
	s.reputation = reputation.NewProvider(s.outcomes)

	settleCfg := settlement.DefaultConfig()
	settleCfg.ClawgerFeeBps = fractionToBps(cfg.ClawgerFee)
	settleCfg.VerifierFeeBps = fractionToBps(cfg.VerifierFee)
	settleCfg.WorkerBondSlashBps = fractionToBps(cfg.WorkerBondSlashFraction)
	settleCfg.OutlierBondSlashBps = fractionToBps(cfg.OutlierBondSlashFraction)
	s.settlement = settlement.NewService(s.ledger, s.escrow, s.bonds, s.outcomes, settleCfg)

	livenessWindow := cfg.LivenessWindow
	s.dispatch = dispatch.NewService(s.dispatchStore, livenessWindow)

	missionCfg := mission.DefaultConfig()
	if cfg.BiddingThresholdMinor > 0 {
		missionCfg.BiddingThreshold = amount.Amount(cfg.BiddingThresholdMinor)
	}
	missionCfg.ProposalBond = amount.Amount(cfg.ProposalBondMinor)
	missionCfg.ReputationFloor = cfg.ReputationFloor
	missionCfg.MaxRevisions = cfg.MaxRevisions
	missionCfg.WorkerBondBps = fractionToBps(cfg.WorkerBondFraction)
	missionCfg.VerifierBondBps = fractionToBps(cfg.VerifierBondFraction)
	missionCfg.WorkerBondSlashBps = fractionToBps(cfg.WorkerBondSlashFraction)
	s.mission = mission.NewService(s.missionStore, s.registry, s.escrow, s.bonds, s.settlement, s.dispatch, missionCfg, s.logger)
}

// fractionToBps converts an operator-facing fraction (e.g. 0.2 for the
// WORKER_BOND_FRACTION env var) into the basis-points unit the ledger,
// bonds, escrow, and settlement packages compute with (10000 = 100%).
func fractionToBps(frac float64) int64 {
	return int64(frac * float64(amount.BpsDenominator))
}

// initChain dials the chain RPC and wires the indexer (C10) and signing
// relayer (C11). It is a soft failure: a missing RPC URL or signer key
// just leaves s.indexer/s.relayer nil, since those routes are the only
// part of the facade that needs them.
func (s *Server) initChain(cfg *config.Config) error {
	if cfg.RPCURL == "" || cfg.ManagerAddress == "" {
		return errors.New("CHAIN_RPC_URL or MANAGER_ADDRESS not configured")
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial chain rpc: %w", err)
	}

	addrs := indexer.Addresses{
		Manager:       common.HexToAddress(cfg.ManagerAddress),
		AgentRegistry: common.HexToAddress(cfg.RegistryAddress),
	}
	indexerCfg := indexer.Config{
		SafeLookback: cfg.SafeLookback,
		PollInterval: cfg.PollInterval,
	}
	s.indexer = indexer.NewService(client, s.indexerStore, addrs, indexerCfg, s.logger)

	if cfg.SignerKey == "" {
		return errors.New("SIGNER_KEY not configured, relayer disabled")
	}
	signerKey, err := parseSignerKey(cfg.SignerKey)
	if err != nil {
		return fmt.Errorf("parse signer key: %w", err)
	}
	maxEscrow, ok := new(big.Int).SetString(cfg.MaxEscrow, 10)
	if !ok {
		maxEscrow = big.NewInt(0)
	}
	verifyingContract := cfg.VerifyingContract
	if verifyingContract == "" {
		verifyingContract = cfg.ManagerAddress
	}
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPM,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	})
	relayerCfg := relayer.Config{
		Name:              "missionengine",
		ChainID:           cfg.ChainID,
		VerifyingContract: common.HexToAddress(verifyingContract),
		SignerKey:         signerKey,
		MaxEscrow:         maxEscrow,
		RateLimitPerMin:   cfg.RateLimitRPM,
	}
	s.relayer = relayer.NewService(s.indexer, s.relayerStore, s.rateLimiter, relayerCfg)
	return nil
}

func parseSignerKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	return crypto.HexToECDSA(hexKey)
}

func maskDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i != -1 {
		if j := strings.LastIndex(dsn[:i], "//"); j != -1 {
			return dsn[:j+2] + "***" + dsn[i:]
		}
	}
	return "***"
}

func appendDSNParams(dsn string, connectTimeout, statementTimeout int) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sconnect_timeout=%d&statement_timeout=%d", dsn, sep, connectTimeout, statementTimeout)
	}
	return fmt.Sprintf("%s connect_timeout=%d statement_timeout=%d", dsn, connectTimeout, statementTimeout)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and background workers, blocking until a
// shutdown signal or ctx cancellation.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       s.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.HTTPWriteTimeout,
		IdleTimeout:       s.cfg.HTTPIdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.indexer != nil {
		s.indexer.Start(runCtx)
	}
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	go s.runReputationSync(runCtx)
	go s.runDeadlineSweep(runCtx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}
	return s.Shutdown()
}

// Shutdown gracefully stops the HTTP server and background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.tracerShutdown != nil {
		if err := s.tracerShutdown(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}
	s.logger.Info("server stopped")
	return nil
}

// runReputationSync keeps registry.Agent.Reputation in sync with the
// outcome log (C2), the way the worker bond/verifier selection checks
// expect to read it without recomputing it on every request.
func (s *Server) runReputationSync(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncReputations(ctx)
		}
	}
}

// runDeadlineSweep periodically expires missions whose deadline has
// passed but whose terminal transition no caller has yet triggered
// (spec §4.8 `expire` has no dedicated caller otherwise).
func (s *Server) runDeadlineSweep(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredMissions(ctx)
		}
	}
}

func (s *Server) sweepExpiredMissions(ctx context.Context) {
	missions, err := s.mission.List(ctx, mission.Query{Limit: 10000})
	if err != nil {
		s.logger.Warn("deadline sweep: list missions failed", "error", err)
		return
	}
	now := time.Now()
	for _, m := range missions {
		if m.Status.IsTerminal() || now.Before(m.Deadline) {
			continue
		}
		if _, err := s.mission.Expire(ctx, m.MissionID); err != nil {
			s.logger.Warn("deadline sweep: expire failed", "mission_id", m.MissionID, "error", err)
		}
	}
}

func (s *Server) syncReputations(ctx context.Context) {
	agents, err := s.registry.List(ctx, registry.Query{Limit: 10000})
	if err != nil {
		s.logger.Warn("reputation sync: list agents failed", "error", err)
		return
	}
	for _, a := range agents {
		score, err := s.reputation.Get(ctx, a.AgentID)
		if err != nil {
			continue
		}
		if score.Value == a.Reputation {
			continue
		}
		a.Reputation = score.Value
		if err := s.registry.Update(ctx, a); err != nil {
			s.logger.Warn("reputation sync: update failed", "agent_id", a.AgentID, "error", err)
		}
	}
}
