package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bintrade-core/internal/api"
	"bintrade-core/internal/auth"
	"bintrade-core/internal/bank"
	"bintrade-core/internal/events"
	"bintrade-core/internal/ledger"
	"bintrade-core/internal/market"
	"bintrade-core/internal/monitor"
	"bintrade-core/internal/notify"
	"bintrade-core/internal/settings"
	"bintrade-core/internal/settlement"
	"bintrade-core/internal/store"
	"bintrade-core/internal/trade"
	"bintrade-core/internal/users"
	"bintrade-core/internal/wallet"
	"bintrade-core/pkg/coingecko"
	"bintrade-core/pkg/config"
	"bintrade-core/pkg/crypto"
	"bintrade-core/pkg/db"
	"bintrade-core/pkg/i18n"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	st, closeStore := openStore(cfg)
	defer closeStore()

	settingsSvc := settings.New(st)
	if n, err := settingsSvc.Seed(ctx, cfg.SettingsSeedPath); err != nil {
		log.Printf(i18n.Get("SettingsSeedFailed"), err)
	} else if n > 0 {
		log.Printf(i18n.Get("SettingsSeeded"), n, cfg.SettingsSeedPath)
	}

	// Bank account numbers are sealed at rest when a master key is configured.
	var cipher bank.Cipher
	if cfg.MasterEncryptionKey != "" {
		km, err := crypto.LoadKeyManager("MASTER_ENCRYPTION_KEY", os.Getenv)
		if err != nil {
			log.Fatalf(i18n.Get("EncryptionKeyInvalid"), err)
		}
		cipher = km
		log.Printf(i18n.Get("EncryptionEnabled"), km.CurrentVersion())
	} else {
		log.Println(i18n.Get("EncryptionDisabled"))
	}

	sysMetrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("SystemMetricsInit"))

	bus := events.NewBus()
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	hub := notify.NewHub(tokens, sysMetrics)
	hub.RelayMarket(ctx, bus)

	ledgerMgr := ledger.NewManager(st, hub)
	sysMetrics.SetLockStatsSource(func() uint64 { return ledgerMgr.Locks().Stats().Acquisitions })

	// Price oracle
	var source market.Source
	oracleMode := "coingecko"
	if cfg.OracleMock {
		oracleMode = "mock"
		source = market.NewMockSource(cfg.MockAssets, 100, 0.5, 1)
		log.Println(i18n.Get("OracleMock"))
	} else {
		source = coingecko.NewClient(cfg.OracleBaseURL, cfg.OracleAPIKey, cfg.OracleRPS)
		log.Printf(i18n.Get("OracleLive"), cfg.OracleBaseURL, cfg.OracleVsCurrency, cfg.OracleTopN, cfg.OracleTTL)
	}
	oracle := market.NewOracle(source, market.Config{
		VsCurrency: cfg.OracleVsCurrency,
		TopN:       cfg.OracleTopN,
		TTL:        cfg.OracleTTL,
		MaxRetries: cfg.OracleMaxRetries,
		Backoff:    cfg.OracleBackoff,
	}, market.WithMetrics(sysMetrics))

	feed := &market.Feed{Oracle: oracle, Bus: bus, Interval: cfg.MarketFeedInterval}
	feed.Start(ctx)
	log.Printf(i18n.Get("MarketFeedStarted"), feed.Interval)

	tradeMgr := trade.NewManager(trade.Deps{
		Trades:   st,
		Ledger:   ledgerMgr,
		Oracle:   oracle,
		Notify:   hub,
		Settings: settingsSvc,
		Metrics:  sysMetrics,
	})

	poller := settlement.NewPoller(tradeMgr, cfg.SettlementInterval, cfg.SettlementWorkers,
		settlement.WithMetrics(sysMetrics),
		settlement.WithBus(bus),
	)
	poller.Start(ctx)
	log.Printf(i18n.Get("PollerStarted"), cfg.SettlementInterval, cfg.SettlementWorkers)

	alerts := monitor.NewRecentSink(100)
	(&monitor.Monitor{Bus: bus, Sink: monitor.MultiSink{monitor.LogSink{}, alerts}}).Start(ctx)

	userSvc := users.NewService(st, ledgerMgr)
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		admin, created, err := userSvc.EnsureAdmin(ctx, users.Registration{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		})
		switch {
		case err != nil:
			log.Printf(i18n.Get("AdminBootstrapFailed"), err)
		case created:
			log.Printf(i18n.Get("AdminCreated"), admin.Username)
		default:
			log.Printf(i18n.Get("AdminExists"), cfg.AdminUsername)
		}
	}

	// API
	server := api.NewServer(api.Deps{
		Users:    userSvc,
		Trades:   tradeMgr,
		Wallet:   wallet.NewService(st, st, ledgerMgr, settingsSvc),
		Banks:    bank.NewService(st, cipher),
		Settings: settingsSvc,
		Ledger:   ledgerMgr,
		Oracle:   oracle,
		Hub:      hub,
		Tokens:   tokens,
		Metrics:  sysMetrics,
		Alerts:   alerts,
	}, api.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, api.SystemMeta{
		Version:    buildVersion,
		OracleMode: oracleMode,
		Storage:    cfg.DBDriver,
	})

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: server.Handler()}
	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))

	// Stop background work first and let an in-flight sweep finish before the store closes.
	cancel()
	select {
	case <-poller.Done():
		log.Println(i18n.Get("PollerStopped"))
	case <-time.After(cfg.ShutdownTimeout):
		log.Printf(i18n.Get("PollerDrainTimeout"), cfg.ShutdownTimeout)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer done()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf(i18n.Get("APIServerError"), err)
	}
	log.Println(i18n.Get("ShutdownComplete"))
}

// openStore returns the configured persistence backend and its closer.
func openStore(cfg *config.Config) (store.Store, func()) {
	if cfg.DBDriver == "memory" {
		log.Println(i18n.Get("UsingMemoryStore"))
		return store.NewMemory(), func() {}
	}

	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}
	return database, func() { _ = database.Close() }
}
