package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/api"
	"github.com/petrovska-petro/voting-onchain/pkg/archive"
	"github.com/petrovska-petro/voting-onchain/pkg/auth"
	"github.com/petrovska-petro/voting-onchain/pkg/config"
	"github.com/petrovska-petro/voting-onchain/pkg/ledger"
	"github.com/petrovska-petro/voting-onchain/pkg/observability"
	"github.com/petrovska-petro/voting-onchain/pkg/policy"
	"github.com/petrovska-petro/voting-onchain/pkg/processor"
	"github.com/petrovska-petro/voting-onchain/pkg/registry"
	"github.com/petrovska-petro/voting-onchain/pkg/relay"
	"github.com/petrovska-petro/voting-onchain/pkg/server"
	"github.com/petrovska-petro/voting-onchain/pkg/store"
	"github.com/petrovska-petro/voting-onchain/pkg/wallet"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"
)

const idempotencyTTL = 24 * time.Hour

func runServer(stdout, stderr io.Writer) int {
	if err := config.LoadEnvFile(".env"); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error loading .env: %v\n", err)
		return 1
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid configuration:\n%v\n", err)
		return 1
	}
	deployment, err := config.LoadDeployment(cfg.DeploymentFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := newLogger(cfg, stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, deployment, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("votebridge ready", "addr", srv.Addr, "lite_mode", cfg.LiteMode())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is the wired server and everything it must release on shutdown.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	handler http.Handler

	db          *sql.DB
	redis       *store.RedisStore
	journal     *ledger.Ledger
	journalPath string
	obs         *observability.Provider
	cancel      context.CancelFunc
}

func newApp(ctx context.Context, cfg *config.Config, deployment *config.Deployment, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx, deployment); err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, deployment *config.Deployment) error {
	cfg, logger := a.cfg, a.logger

	stores, err := a.openStores(ctx)
	if err != nil {
		return err
	}

	a.journal = ledger.New()
	a.journalPath = filepath.Join(cfg.DataDir, "journal.json")
	if err := a.restoreJournal(); err != nil {
		return err
	}

	governance := common.HexToAddress(cfg.Governance)
	module := common.HexToAddress(cfg.Module)
	signLib := common.HexToAddress(cfg.SignMessageLib)

	reg := registry.New(governance, stores.Proposals,
		registry.WithJournal(a.journal),
		registry.WithRoleStore(stores.Roles),
	)
	if err := reg.Load(ctx); err != nil {
		return err
	}

	admission, err := buildPolicy(deployment)
	if err != nil {
		return err
	}
	wallets, err := buildWallets(cfg, deployment, module, signLib)
	if err != nil {
		return err
	}

	_, seeded, err := stores.Roles.LoadRoles(ctx, store.ScopeProcessor)
	if err != nil {
		return fmt.Errorf("load processor roles: %w", err)
	}
	proc, err := processor.New(
		processor.Config{Module: module, Governance: governance, SignMessageLib: signLib, Window: cfg.Window},
		processor.Deps{
			Registry:    reg,
			Submissions: stores.Submissions,
			Roles:       stores.Roles,
			Wallets:     wallets,
			Policy:      admission,
			Journal:     a.journal,
		},
	)
	if err != nil {
		return err
	}
	if err := proc.Load(ctx); err != nil {
		return err
	}
	if !seeded {
		if err := seedRoles(ctx, proc, governance, deployment); err != nil {
			return err
		}
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.ServiceVersion = version
	a.obs, err = observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	a.obs.WithSLO(observability.NewSLOTracker(observability.DefaultTargets()...))

	archiveStore, err := archive.NewStoreFromConfig(ctx, archive.Config{
		Type:     archive.Type(cfg.ArchiveType),
		Dir:      cfg.ArchiveDir,
		Bucket:   cfg.ArchiveBucket,
		Prefix:   cfg.ArchivePrefix,
		Region:   cfg.ArchiveRegion,
		Endpoint: cfg.ArchiveEndpoint,
	})
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	var relayer *relay.Relayer
	if cfg.RelayURL != "" {
		relayer = &relay.Relayer{Source: proc, Signer: proc, Sender: relay.NewClient(cfg.RelayURL, cfg.RelayRPS)}
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; every mutating request will be rejected")
	}

	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	idem := api.NewIdempotencyStore(idempotencyTTL)
	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go limiter.Run(bg)
	go idem.Run(bg)

	srv, err := server.New(server.Deps{
		Registry:      reg,
		Processor:     proc,
		Journal:       a.journal,
		Relayer:       relayer,
		Archive:       archiveStore,
		Wallets:       wallets,
		Observability: a.obs,
		Validator:     auth.NewJWTValidator([]byte(cfg.JWTSecret)),
		Limiter:       limiter,
		Idempotency:   idem,
		Logger:        logger,
		Health:        a.health,
	})
	if err != nil {
		return err
	}
	a.handler = srv.Handler()

	logger.Info("votebridge wired",
		"governance", governance.Hex(),
		"module", module.Hex(),
		"window", cfg.Window,
		"stores", describeStores(cfg),
		"wallets", len(wallets.Addresses()),
		"policy_rules", len(deployment.Policy.Rules),
		"archive", cfg.ArchiveType,
		"relay", cfg.RelayURL != "",
	)
	return nil
}

// openStores selects postgres when DATABASE_URL is set and sqlite under
// DATA_DIR otherwise. REDIS_ADDR moves submissions to redis.
func (a *app) openStores(ctx context.Context) (store.Stores, error) {
	var err error
	if a.cfg.LiteMode() {
		if err := os.MkdirAll(a.cfg.DataDir, 0o750); err != nil {
			return store.Stores{}, fmt.Errorf("failed to create data dir: %w", err)
		}
		a.logger.Info("lite mode: using sqlite", "path", a.cfg.SQLitePath())
		a.db, err = sql.Open("sqlite", a.cfg.SQLitePath())
		if err != nil {
			return store.Stores{}, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// sqlite takes one writer at a time.
		a.db.SetMaxOpenConns(1)
	} else {
		a.db, err = sql.Open("postgres", a.cfg.DatabaseURL)
		if err != nil {
			return store.Stores{}, fmt.Errorf("failed to connect to DB: %w", err)
		}
		if err := a.db.PingContext(ctx); err != nil {
			return store.Stores{}, fmt.Errorf("DB ping failed: %w", err)
		}
		a.logger.Info("postgres: connected")
	}

	sqlStore := store.NewSQLStore(a.db)
	if err := sqlStore.Init(ctx); err != nil {
		return store.Stores{}, err
	}
	stores := store.SQLStores(sqlStore)

	if a.cfg.RedisAddr != "" {
		a.redis = store.NewRedisStore(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB, a.cfg.RedisPrefix)
		if err := a.redis.Ping(ctx); err != nil {
			return store.Stores{}, fmt.Errorf("redis ping failed: %w", err)
		}
		stores.Submissions = a.redis.Submissions()
		a.logger.Info("redis: submissions enabled", "addr", a.cfg.RedisAddr)
	}
	return stores, nil
}

func (a *app) health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// restoreJournal loads the snapshot written by the previous shutdown.
func (a *app) restoreJournal() error {
	data, err := os.ReadFile(a.journalPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if err := a.journal.Import(data); err != nil {
		return fmt.Errorf("restore journal %s: %w", a.journalPath, err)
	}
	a.logger.Info("journal restored", "entries", a.journal.Len(), "head", a.journal.Head())
	return nil
}

func (a *app) saveJournal() error {
	data, err := a.journal.Export()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.journalPath), 0o750); err != nil {
		return err
	}
	tmp := a.journalPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, a.journalPath)
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.cancel != nil {
		a.cancel()
	}
	if a.handler != nil && a.journal.Len() > 0 {
		if err := a.saveJournal(); err != nil {
			errs = append(errs, fmt.Errorf("save journal: %w", err))
		}
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildPolicy(d *config.Deployment) (policy.Admission, error) {
	if len(d.Policy.Rules) == 0 {
		return policy.AllowAll, nil
	}
	cel, err := policy.NewCELAdmission(d.Policy.Rules)
	if err != nil {
		return nil, err
	}
	return cel, nil
}

// buildWallets registers an in-memory Safe for every SAFES entry and every
// deployment safe. Safes with no module list get the processor module.
func buildWallets(cfg *config.Config, d *config.Deployment, module, signLib common.Address) (*wallet.Network, error) {
	chainID := new(big.Int).SetUint64(cfg.ChainID)
	network := wallet.NewNetwork()

	add := func(addr string, modules []string) error {
		safe := wallet.NewMemorySafe(common.HexToAddress(addr), chainID, signLib)
		if len(modules) == 0 {
			modules = []string{module.Hex()}
		}
		for _, m := range modules {
			if err := safe.EnableModule(common.HexToAddress(m)); err != nil {
				return fmt.Errorf("safe %s: %w", addr, err)
			}
		}
		network.Add(safe)
		return nil
	}
	for _, s := range cfg.Safes {
		if err := add(s, nil); err != nil {
			return nil, err
		}
	}
	for _, s := range d.Safes {
		if err := add(s.Address, s.Modules); err != nil {
			return nil, err
		}
	}
	return network, nil
}

// seedRoles grants the deployment's role sets on first start.
func seedRoles(ctx context.Context, proc *processor.Processor, governance common.Address, d *config.Deployment) error {
	for _, p := range config.Addresses(d.Proposers) {
		if err := proc.AddProposer(ctx, governance, p); err != nil {
			return fmt.Errorf("seed proposer %s: %w", p.Hex(), err)
		}
	}
	for _, v := range config.Addresses(d.Validators) {
		if err := proc.AddValidator(ctx, governance, v); err != nil {
			return fmt.Errorf("seed validator %s: %w", v.Hex(), err)
		}
	}
	return nil
}

func describeStores(cfg *config.Config) string {
	parts := []string{"sqlite"}
	if !cfg.LiteMode() {
		parts[0] = "postgres"
	}
	if cfg.RedisAddr != "" {
		parts = append(parts, "redis")
	}
	return strings.Join(parts, "+")
}
