package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/influmatch/influmatch/internal/api/http"
	"github.com/influmatch/influmatch/internal/application/commission"
	"github.com/influmatch/influmatch/internal/application/engine"
	"github.com/influmatch/influmatch/internal/application/escrow"
	"github.com/influmatch/influmatch/internal/config"
	"github.com/influmatch/influmatch/internal/infrastructure/postgres"
	"github.com/influmatch/influmatch/internal/infrastructure/push"
	"github.com/influmatch/influmatch/internal/infrastructure/razorpay"
	"github.com/influmatch/influmatch/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, "migrations"); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	// repositories
	conversationRepo := postgres.NewConversationRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	escrowRepo := postgres.NewEscrowRepository(pool)
	commissionRepo := postgres.NewCommissionRepository(pool)
	trackingRepo := postgres.NewTrackingRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// infrastructure
	sseHub := sse.NewHub(logger)
	gateway := razorpay.NewClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, logger)
	pusher := push.NewNotifier(cfg.PushWebhookURL, logger)
	limiter := sse.NewSlidingWindowLimiter(cfg.MessageRateLimit, cfg.MessageRateWindow)

	// services
	escrowSvc := escrow.NewService(escrowRepo, ledgerRepo, logger)
	commissionSvc := commission.NewService(commissionRepo, cfg.CommissionDefaultBps, logger)

	eng := engine.NewEngine(
		conversationRepo,
		ledgerRepo,
		escrowSvc,
		commissionSvc,
		gateway,
		trackingRepo,
		txRunner,
		sseHub,
		pusher,
		limiter,
		logger,
	)
	eng.SetMaxRevisions(cfg.MaxRevisions)

	apiServer := httpapi.NewServer(eng, sseHub, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	sseHub.Stop()
}
