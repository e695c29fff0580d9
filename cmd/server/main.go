// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/database"
	"github.com/scrylabs/scry-backend/internal/events"
	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/middleware"
	"github.com/scrylabs/scry-backend/internal/router"
	"github.com/scrylabs/scry-backend/internal/services"
	"github.com/scrylabs/scry-backend/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	setupLogging(cfg)

	// Initialize i18n
	if err := i18n.Initialize(); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db); err != nil {
			logrus.WithError(err).Fatal("Failed to run migrations")
		}
	}

	if err := run(cfg, db); err != nil {
		logrus.WithError(err).Fatal("Server stopped")
	}
	logrus.Info("Server exited")
}

func run(cfg *config.Config, db *gorm.DB) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	roles, err := baseRoles(cfg)
	if err != nil {
		return err
	}
	hub := events.NewHub(events.NewRoleBook(roles),
		events.WithQueueLimit(cfg.Events.QueueLimit),
		events.WithSubscriberGauge(metrics.SetSubscribers),
	)
	defer hub.Close()

	l, signer, watch, err := openLedger(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer l.Close()

	// The marketplace is useless without a ledger; fail fast at startup
	info, err := l.Info(ctx)
	if err != nil {
		return fmt.Errorf("ledger connectivity check: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"driver":  info.Driver,
		"chain":   info.ChainID,
		"token":   info.TokenAddress,
		"channel": info.ChannelAddress,
		"block":   info.LatestBlock,
	}).Info("Connected to ledger")

	// Contract addresses show up as named roles in the event stream
	contracts := map[string]string{"owner": info.Owner}
	if info.TokenAddress != "" {
		contracts["token"] = info.TokenAddress
	}
	if info.ChannelAddress != "" {
		contracts["channel"] = info.ChannelAddress
	}
	hub.SetRoles(hub.Roles().With(contracts))

	var defaultVerifier *services.DefaultVerifier
	if cfg.Market.DefaultVerifierKey != "" {
		if defaultVerifier, err = services.NewDefaultVerifier(cfg.Market.DefaultVerifierKey); err != nil {
			return err
		}
		logrus.WithField("verifier", defaultVerifier.Account.Hex()).Info("Default verifier configured")
	}

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	defer limiter.Stop()
	ledgerLimiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.LedgerRPS), cfg.RateLimit.LedgerBurst)
	defer ledgerLimiter.Stop()

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r, err := router.Initialize(db, cfg, router.Dependencies{
		Ledger:          l,
		Hub:             hub,
		Signer:          signer,
		DefaultVerifier: defaultVerifier,
		Metrics:         metrics,
		Gatherer:        registry,
		RateLimiter:     limiter,
		LedgerLimiter:   ledgerLimiter,
	})
	if err != nil {
		return err
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	if watch != nil {
		g.Go(func() error {
			if err := watch(gctx, 0); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Error("Ledger event watcher stopped")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down server...")

		// Event streams end first so Shutdown does not wait on them
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

type watchFunc func(ctx context.Context, fromBlock uint64) error

// openLedger selects the ledger driver. Custodial signing shares the
// ethereum keystore; the memory ledger keeps keys in process.
func openLedger(ctx context.Context, cfg *config.Config, hub *events.Hub) (ledger.Ledger, services.Signer, watchFunc, error) {
	switch cfg.Ledger.Driver {
	case "ethereum":
		eth, err := ledger.DialEthereum(ctx, ledger.EthereumConfig{
			RPCURL:          cfg.Ledger.RPCURL,
			TokenAddress:    common.HexToAddress(cfg.Ledger.TokenAddress),
			ChannelAddress:  common.HexToAddress(cfg.Ledger.ChannelAddress),
			Owner:           common.HexToAddress(cfg.Ledger.OwnerAddress),
			KeystoreDir:     cfg.Ledger.KeystoreDir,
			Passphrase:      cfg.Ledger.KeystorePass,
			FinalityTimeout: time.Duration(cfg.Ledger.FinalityTimeout) * time.Second,
			PollInterval:    time.Duration(cfg.Ledger.PollInterval) * time.Millisecond,
			OpenGas:         cfg.Ledger.OpenGas,
			CloseGas:        cfg.Ledger.CloseGas,
		}, hub)
		if err != nil {
			return nil, nil, nil, err
		}
		var signer services.Signer
		if ks := eth.Keystore(); ks != nil {
			signer = services.NewKeystoreSigner(ks, cfg.Ledger.KeystorePass)
		}
		return eth, signer, eth.Watch, nil
	default:
		mem := ledger.NewMemory(common.HexToAddress(cfg.Ledger.OwnerAddress), cfg.Ledger.OwnerSupply, ledger.WithEmitter(hub))
		return mem, services.NewKeySigner(), nil, nil
	}
}

func baseRoles(cfg *config.Config) (map[string]string, error) {
	roles, err := events.ParseRoleList(cfg.Ledger.AccountNames)
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_ACCOUNT_NAMES: %w", err)
	}
	roles["owner"] = cfg.Ledger.OwnerAddress
	return roles, nil
}

func setupLogging(cfg *config.Config) {
	if cfg.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Logging.File != "" {
		logrus.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}))
	}
}
