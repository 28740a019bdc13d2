package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/trang393934/angelaithutrang-sub004/pkg/archive"
	"github.com/trang393934/angelaithutrang-sub004/pkg/attest"
	"github.com/trang393934/angelaithutrang-sub004/pkg/auditlog"
	"github.com/trang393934/angelaithutrang-sub004/pkg/config"
	"github.com/trang393934/angelaithutrang-sub004/pkg/engine"
	"github.com/trang393934/angelaithutrang-sub004/pkg/fraud"
	"github.com/trang393934/angelaithutrang-sub004/pkg/ledgergw"
	"github.com/trang393934/angelaithutrang-sub004/pkg/mint"
	"github.com/trang393934/angelaithutrang-sub004/pkg/observability"
	"github.com/trang393934/angelaithutrang-sub004/pkg/policy"
	"github.com/trang393934/angelaithutrang-sub004/pkg/store"
	"github.com/trang393934/angelaithutrang-sub004/pkg/trust"
)

// app holds everything a command needs, built from one Config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	redis    *redis.Client
	registry *prometheus.Registry
	obs      *observability.Provider
	audit    *auditlog.Log
	signer   *attest.Signer
	quota    trust.Quota
	engine   *engine.Engine
}

// openDB connects to Postgres when a URL is configured and otherwise opens
// the SQLite file under the data directory.
func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	driver, dsn := "postgres", cfg.DatabaseURL
	if cfg.LiteMode() {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		driver, dsn = "sqlite", cfg.SQLitePath()
		logger.Info("lite mode: using sqlite", "path", dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if cfg.LiteMode() {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// loadOrGenerateSigner reads the attester key. Lite mode generates and
// persists one on first start; otherwise a key file is required.
func loadOrGenerateSigner(cfg *config.Config, logger *slog.Logger) (*attest.Signer, error) {
	path := cfg.AttesterKeyPath
	if path == "" {
		path = filepath.Join(cfg.DataDir, "attester.key")
	}
	if _, err := os.Stat(path); err == nil {
		s, err := attest.LoadSigner(path, cfg.AttesterKeyID)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded attester key", "key_id", cfg.AttesterKeyID, "public_key", s.PublicKey())
		return s, nil
	}
	if !cfg.LiteMode() {
		return nil, fmt.Errorf("attester key %s does not exist; create one with `%s keygen`", path, programName)
	}
	s, err := attest.NewSigner(cfg.AttesterKeyID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := s.WriteSeed(path); err != nil {
		return nil, fmt.Errorf("save attester key: %w", err)
	}
	logger.Warn("generated attester key; provision a managed key outside lite mode", "path", path, "public_key", s.PublicKey())
	return s, nil
}

type initer interface {
	Init(ctx context.Context) error
}

// ensurePolicy publishes the configured policy file, or the built-in default
// on an empty store. A file whose version is not newer than the active one is
// left alone.
func ensurePolicy(ctx context.Context, ps policy.Store, file string, logger *slog.Logger) error {
	var snap *policy.Snapshot
	if file != "" {
		s, err := policy.LoadFile(file)
		if err != nil {
			return err
		}
		snap = s
	}
	active, err := ps.Active(ctx)
	switch {
	case err == nil && snap == nil:
		logger.Info("active policy", "version", active.Version)
		return nil
	case err != nil && snap == nil:
		snap = policy.Default()
	}
	if err := ps.Publish(ctx, snap); err != nil {
		if errors.Is(err, policy.ErrVersionNotNewer) && active != nil {
			logger.Info("policy file not newer than active policy", "file", file, "active", active.Version)
			return nil
		}
		return err
	}
	logger.Info("policy published", "version", snap.Version)
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if a.db, err = openDB(ctx, cfg, logger); err != nil {
		return a, err
	}
	policies := policy.NewSQLStore(a.db)
	actions := store.NewSQLActionStore(a.db)
	profiles := trust.NewSQLStore(a.db)
	fraudStore := fraud.NewSQLStore(a.db)
	mints := mint.NewSQLStore(a.db)
	auditStore := auditlog.NewSQLStore(a.db)
	for _, s := range []initer{policies, actions, profiles, fraudStore, mints, auditStore} {
		if err = s.Init(ctx); err != nil {
			return a, fmt.Errorf("init schema: %w", err)
		}
	}
	if err = ensurePolicy(ctx, policies, cfg.PolicyFile, logger); err != nil {
		return a, err
	}

	var trustStore trust.Store = profiles
	a.quota = trust.NewMemoryQuota()
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err = a.redis.Ping(ctx).Err(); err != nil {
			return a, fmt.Errorf("redis: %w", err)
		}
		trustStore = trust.Combine(profiles, trust.NewRedisCountersFromClient(a.redis))
		a.quota = trust.NewRedisQuota(a.redis)
		logger.Info("using redis counters", "addr", cfg.RedisAddr)
	}

	if a.signer, err = loadOrGenerateSigner(cfg, logger); err != nil {
		return a, err
	}
	var gw ledgergw.Gateway
	if cfg.SimulatedLedger() {
		ring := attest.NewKeyRing()
		ring.AddSigner(a.signer)
		gw = ledgergw.NewSimulated(ring, cfg.LedgerPool)
		logger.Info("using simulated ledger", "pool", cfg.LedgerPool)
	} else {
		gw = ledgergw.NewClient(cfg.LedgerURL, cfg.LedgerToken)
		logger.Info("using ledger service", "url", cfg.LedgerURL)
	}

	arc, err := archive.Open(ctx, archive.Config{
		Backend:  archive.Backend(cfg.ArchiveBackend),
		Dir:      cfg.ArchiveDir,
		Bucket:   cfg.ArchiveBucket,
		Region:   cfg.ArchiveRegion,
		Endpoint: cfg.ArchiveEndpoint,
		Prefix:   cfg.ArchivePrefix,
	})
	if err != nil {
		return a, err
	}

	a.audit = auditlog.New(auditStore)
	if err = a.audit.Restore(ctx); err != nil {
		return a, err
	}

	a.obs, err = observability.New(ctx, &observability.Config{
		ServiceName:    programName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEnabled,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return a, err
	}

	a.engine, err = engine.New(engine.Deps{
		Policies:      policies,
		Actions:       actions,
		Trust:         trustStore,
		Holds:         fraudStore,
		Flags:         fraudStore,
		Mints:         mints,
		Ledger:        gw,
		Signer:        a.signer,
		Archive:       arc,
		Audit:         a.audit,
		Observability: a.obs,
		Registerer:    a.registry,
		Notifier:      fraud.LogNotifier{Logger: logger},
		Logger:        logger,
	})
	if err != nil {
		return a, err
	}
	a.engine.WithConfirmer(2*time.Second, cfg.ConfirmTimeout)
	return a, nil
}

// ready reports whether the stores the engine depends on answer.
func (a *app) ready(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) Close(ctx context.Context) {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			a.logger.Error("observability shutdown", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
