package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/usdcpay/adapters/eth"
	"github.com/layer-3/usdcpay/adapters/events"
	"github.com/layer-3/usdcpay/adapters/store"
	"github.com/layer-3/usdcpay/adapters/tokenizer"
	"github.com/layer-3/usdcpay/internal/config"
	"github.com/layer-3/usdcpay/internal/health"
	ctxlog "github.com/layer-3/usdcpay/internal/log"
	"github.com/layer-3/usdcpay/internal/metrics"
	"github.com/layer-3/usdcpay/migrations"
	"github.com/layer-3/usdcpay/ports"
	"github.com/layer-3/usdcpay/service"
	httptransport "github.com/layer-3/usdcpay/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := ctxlog.New(os.Stdout, cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	if err := migrations.Up(ctx, pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("rpc: %w", err)
	}
	defer rpc.Close()

	usdc, err := eth.NewUSDC(rpc, cfg.USDCContractAddress)
	if err != nil {
		return fmt.Errorf("usdc: %w", err)
	}

	signerCfg := eth.SignerProviderConfig{
		ChainID:          big.NewInt(cfg.ChainID),
		Passphrase:       cfg.KeystorePassphrase,
		AllowRequestKeys: cfg.AllowRequestKeys,
	}
	if cfg.KeystoreDir != "" {
		signerCfg.Keystore = keystore.NewKeyStore(cfg.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
		logger.Info("custodial keystore loaded", "accounts", len(signerCfg.Keystore.Accounts()))
	}
	signers, err := eth.NewSignerProvider(signerCfg)
	if err != nil {
		return fmt.Errorf("signers: %w", err)
	}

	var publisher ports.EventPublisher = events.NoopPublisher{}
	if cfg.EventsEnabled {
		var streams message.Publisher
		streams, err = events.NewRedisStreamPublisher(redisClient, logger)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		defer streams.Close()
		publisher = events.NewWatermillPublisher(streams)
	}

	// Users
	users := store.NewPostgresUserStore(pool)
	identity := service.NewIdentityService(users, logger)

	// Auth
	auth := service.NewAuthService(
		tokenizer.NewJWTTokenizer([]byte(cfg.JWTSecret)),
		eth.NewPersonalSignVerifier(),
		store.NewRedisNonceStore(redisClient),
		identity,
		logger,
		service.AuthOptions{NonceTTL: cfg.NonceTTL, TokenTTL: cfg.TokenTTL},
	)

	// Transactions
	txs := store.NewPostgresTransactionStore(pool)
	ledger := service.NewLedgerService(txs, identity, store.NewPostgresTransactor(pool), publisher, logger)
	settlement := service.NewSettlementService(txs, signers, usdc, publisher, logger, cfg.SettlementTimeout)

	// Rows left PROCESSING by a previous process need an operator.
	if _, err := settlement.ReportStale(ctx, settlement.DrainTimeout()); err != nil {
		logger.Error("stale settlement report", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)
	checker := health.NewChecker(map[string]health.Pinger{
		"postgres": pool,
		"redis":    health.RedisPinger(redisClient),
	}, logger, registry)

	router, err := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:         logger,
		Auth:           httptransport.NewAuthHandlers(auth, logger),
		Users:          httptransport.NewUserHandlers(identity, logger),
		Transactions:   httptransport.NewTransactionHandlers(ledger, settlement, logger),
		Balances:       httptransport.NewBalanceHandlers(service.NewBalanceService(usdc), logger),
		TokenValidator: auth,
		AuthRatePerMin: cfg.AuthRatePerMin,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, registry, checker)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "port", cfg.Port, "env", cfg.Env, "chain_id", cfg.ChainID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server: %w", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		logger.Error("server failed", "error", runErr)
	}
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), settlement.DrainTimeout())
	defer cancelDrain()
	if err := settlement.Drain(drainCtx); err != nil {
		logger.Error("settlements still in flight", "error", err)
	}

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	return runErr
}
