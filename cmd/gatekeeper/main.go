// Command gatekeeper runs the governance gateway: the adapter/operator HTTP
// surface (C10), decision engine (C7), approval lifecycle (C8), and
// hash-linked audit chain (C9) wired against Postgres and Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/agentgate/gatekeeper/internal/api"
	"github.com/agentgate/gatekeeper/internal/config"
	"github.com/agentgate/gatekeeper/pkg/approval"
	"github.com/agentgate/gatekeeper/pkg/audit"
	"github.com/agentgate/gatekeeper/pkg/budget"
	"github.com/agentgate/gatekeeper/pkg/decision"
	"github.com/agentgate/gatekeeper/pkg/metrics"
	"github.com/agentgate/gatekeeper/pkg/notify"
	"github.com/agentgate/gatekeeper/pkg/policy"
	"github.com/agentgate/gatekeeper/pkg/rbac"
	"github.com/agentgate/gatekeeper/pkg/store/auditstore"
	"github.com/agentgate/gatekeeper/pkg/store/cache"
	"github.com/agentgate/gatekeeper/pkg/store/migrations"
	"github.com/agentgate/gatekeeper/pkg/store/sqlstore"
	"github.com/agentgate/gatekeeper/pkg/tokens"
)

func main() {
	configPath := flag.String("config", "configs/gatekeeper.yaml", "path to the gatekeeper config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatekeeper: failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := buildZapLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatekeeper: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLogger.Sync() }()
	log := zapr.NewLogger(zapLogger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	otelShutdown, err := metrics.SetupTelemetry("gatekeeper")
	if err != nil {
		log.Error(err, "failed to set up telemetry providers")
		os.Exit(1)
	}
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = otelShutdown(shutCtx)
	}()

	sqlDB, err := sqlx.Connect("postgres", cfg.Store.DBPath)
	if err != nil {
		log.Error(err, "failed to connect to postgres")
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := migrations.Up(sqlDB.DB); err != nil {
		log.Error(err, "failed to apply migrations")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.Store.DBPath)
	if err != nil {
		log.Error(err, "failed to open audit chain connection pool")
		os.Exit(1)
	}
	defer pool.Close()

	sqlStore := sqlstore.New(sqlDB)
	auditStore := auditstore.New(pool)
	auditChain := audit.NewChain(auditStore)

	var policyLister policy.PolicyLister = sqlStore
	if cfg.Store.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			log.Error(err, "failed to parse redis url")
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		policyLister = cache.New(redisClient, sqlStore)
	}

	rbacChecker := rbac.NewChecker(sqlStore)
	budgetMgr := budget.NewManager(sqlStore)
	engine := decision.NewEngine(rbacChecker, budgetMgr, selectEvaluator(policyLister, cfg.Policy.OperatorsEnabled))

	signer := tokens.NewSigner([]byte(cfg.Tokens.DecisionTokenSecret), []byte(cfg.Tokens.AdapterTokenSecret), cfg.Tokens.TTL)
	lifecycle := approval.NewLifecycle(sqlStore, auditChain, signer)
	lifecycle.ReuseWindow = cfg.Approval.ReuseWindow

	var notifier *notify.Notifier
	if cfg.Notify.SlackToken != "" && cfg.Notify.SlackChannel != "" {
		notifier = notify.New(cfg.Notify.SlackToken, cfg.Notify.SlackChannel)
	}

	runtime := api.NewRuntimeConfig(api.HotConfig{
		DefaultApprovalMode:    cfg.Approval.ApprovalMode,
		ReuseWindow:            cfg.Approval.ReuseWindow,
		WaitTimeout:            cfg.Approval.WaitTimeout,
		PollInterval:           cfg.Approval.PollInterval,
		PolicyOperatorsEnabled: cfg.Policy.OperatorsEnabled,
	})

	watcher, err := config.NewWatcher(*configPath, cfg, log, func(next *config.Config) {
		runtime.Store(api.HotConfig{
			DefaultApprovalMode:    next.Approval.ApprovalMode,
			ReuseWindow:            next.Approval.ReuseWindow,
			WaitTimeout:            next.Approval.WaitTimeout,
			PollInterval:           next.Approval.PollInterval,
			PolicyOperatorsEnabled: next.Policy.OperatorsEnabled,
		})
		lifecycle.ReuseWindow = next.Approval.ReuseWindow
		engine.SetEvaluator(selectEvaluator(policyLister, next.Policy.OperatorsEnabled))
	})
	if err != nil {
		log.Error(err, "failed to start config watcher")
		os.Exit(1)
	}
	defer func() { _ = watcher.Close() }()

	router, err := api.NewRouter(api.Deps{
		Store:     sqlStore,
		Engine:    engine,
		Approval:  lifecycle,
		Audit:     auditChain,
		Tokens:    signer,
		Notify:    notifier,
		Runtime:   runtime,
		Log:       log,
		OpsAPIKey: cfg.Ops.APIKey,
	})
	if err != nil {
		log.Error(err, "failed to build router")
		os.Exit(1)
	}

	metricsLogger := logrus.New()
	metricsSrv := metrics.NewServer(cfg.Server.MetricsPort, metricsLogger)
	metricsSrv.StartAsync()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.APIPort,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gatekeeper starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gatekeeper")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error(err, "server shutdown error")
	}
	if err := metricsSrv.Stop(shutCtx); err != nil {
		log.Error(err, "metrics server shutdown error")
	}
}

// selectEvaluator picks the C3 operator-aware evaluator or the pre-C3
// scalar-equality-only one per the policy_operators_enabled flag.
func selectEvaluator(lister policy.PolicyLister, operatorsEnabled bool) decision.PolicyEvaluator {
	if operatorsEnabled {
		return policy.NewEvaluator(lister)
	}
	return policy.NewLegacyEvaluator(lister)
}

func buildZapLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "text" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level := zap.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}
