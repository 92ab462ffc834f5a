// treasuryd syncs treasury wallet balances and transactions from chain data
// providers into PostgreSQL, prices them in USD, and serves the admin API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/funtreasury/treasury-sync/internal/admin"
	"github.com/funtreasury/treasury-sync/internal/alert"
	"github.com/funtreasury/treasury-sync/internal/chain"
	"github.com/funtreasury/treasury-sync/internal/chain/btcbook"
	"github.com/funtreasury/treasury-sync/internal/chain/moralis"
	"github.com/funtreasury/treasury-sync/internal/chain/ratelimit"
	"github.com/funtreasury/treasury-sync/internal/circuitbreaker"
	"github.com/funtreasury/treasury-sync/internal/config"
	"github.com/funtreasury/treasury-sync/internal/price"
	"github.com/funtreasury/treasury-sync/internal/store/postgres"
	redisstore "github.com/funtreasury/treasury-sync/internal/store/redis"
	syncpkg "github.com/funtreasury/treasury-sync/internal/sync"
	"github.com/funtreasury/treasury-sync/internal/tracing"
)

const migrationsDir = "internal/store/postgres/migrations"

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := run(); err != nil {
		slog.Error("treasuryd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(ctx, "treasury-sync", tracingEndpoint, cfg.Tracing.Insecure)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	walletRepo := postgres.NewWalletRepo(db)
	balanceRepo := postgres.NewTokenBalanceRepo(db)
	txRepo := postgres.NewTransactionRepo(db)
	stateRepo := postgres.NewSyncStateRepo(db)
	priceCacheRepo := postgres.NewPriceCacheRepo(db)
	alertCfgRepo := postgres.NewAlertConfigRepo(db)
	notificationRepo := postgres.NewNotificationRepo(db)
	contractRepo := postgres.NewTokenContractRepo(db)
	txMetadataRepo := postgres.NewTxMetadataRepo(db)

	// Read views degrade to PostgreSQL when Redis is down.
	views, err := redisstore.NewViews(cfg.Redis.URL, logger, redisstore.WithViewTTL(cfg.Redis.ViewTTL))
	if err != nil {
		logger.Warn("redis unavailable, read views disabled", "error", err)
		views = nil
	} else {
		defer views.Close()
	}

	resolver := price.NewResolver(
		priceCacheRepo,
		[]price.Provider{
			price.NewCoinGecko(cfg.Price.CoinGeckoBaseURL),
			price.NewDexScreener(cfg.Price.DexScreenerBaseURL),
		},
		logger,
		price.WithBackoff(price.NewBackoffPolicy(
			cfg.Price.RetryMaxAttempts,
			cfg.Price.RetryBaseDelay,
			cfg.Price.RetryMultiplier,
		)),
		price.WithTTLs(cfg.Price.TokenTTL, cfg.Price.MarketTTL),
	)

	breakerFor := func(provider string) *circuitbreaker.Breaker {
		return circuitbreaker.New(circuitbreaker.Config{
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("provider breaker state changed",
					"provider", provider, "from", from.String(), "to", to.String())
			},
		})
	}
	evm := moralis.NewClient(cfg.Provider.MoralisBaseURL, cfg.Provider.MoralisAPIKey, logger,
		moralis.WithLimiter(ratelimit.NewLimiter(cfg.Provider.RPS, cfg.Provider.Burst, "moralis")),
		moralis.WithBreaker(breakerFor("moralis")),
		moralis.WithTimeout(cfg.Provider.RequestTimeout),
	)
	btc := btcbook.NewClient(cfg.Provider.BTCBaseURL, logger,
		btcbook.WithLimiter(ratelimit.NewLimiter(cfg.Provider.RPS, cfg.Provider.Burst, "btcbook")),
		btcbook.WithBreaker(breakerFor("btcbook")),
		btcbook.WithTimeout(cfg.Provider.RequestTimeout),
	)
	fetcher := chain.NewMultichainFetcher(evm, btc, contractRepo, logger)

	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		channels = append(channels, &alert.NoopAlerter{})
	}
	alerter := alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
	notifier := alert.NewNotifier(alertCfgRepo, notificationRepo, alerter, logger)

	syncOpts := []syncpkg.Option{
		syncpkg.WithWorkers(cfg.Sync.Workers),
		syncpkg.WithTransferPageSize(cfg.Sync.TransferPage),
		syncpkg.WithNotifier(notifier),
	}
	if views != nil {
		syncOpts = append(syncOpts, syncpkg.WithViewCache(views))
	}
	syncer := syncpkg.New(walletRepo, balanceRepo, txRepo, stateRepo, fetcher, resolver, logger, syncOpts...)

	adminOpts := []admin.ServerOption{
		admin.WithSyncTrigger(syncer),
		admin.WithMarketSource(resolver),
		admin.WithTokenContracts(contractRepo),
		admin.WithTxMetadata(txMetadataRepo),
	}
	if views != nil {
		adminOpts = append(adminOpts, admin.WithViewCache(views))
	}
	adminServer := admin.NewServer(walletRepo, balanceRepo, txRepo, alertCfgRepo, cfg.Server.AdminToken, logger, adminOpts...)

	rateLimiter := admin.NewRateLimitMiddleware(logger)
	defer rateLimiter.Stop()
	handler := rateLimiter.Wrap(admin.AuditMiddleware(logger, adminServer.Handler()))

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sync.CronSpec, func() {
		if _, err := syncer.Run(ctx); err != nil {
			logger.Error("scheduled sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sync %q: %w", cfg.Sync.CronSpec, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler.Start()
		logger.Info("sync scheduler started", "cron", cfg.Sync.CronSpec)
		<-gctx.Done()
		cronCtx := scheduler.Stop()
		<-cronCtx.Done()
		return nil
	})

	g.Go(func() error {
		return runHTTPServer(gctx, cfg.Server.Port, handler, logger)
	})

	logger.Info("treasuryd started", "port", cfg.Server.Port)
	return g.Wait()
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server shutdown failed", "error", err)
		}
	}()

	logger.Info("http server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
