package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devbazaar/escrow-engine/internal/audit"
	"github.com/devbazaar/escrow-engine/internal/config"
	"github.com/devbazaar/escrow-engine/internal/handler"
	"github.com/devbazaar/escrow-engine/internal/logging"
	"github.com/devbazaar/escrow-engine/internal/middleware"
	"github.com/devbazaar/escrow-engine/internal/repository"
	"github.com/devbazaar/escrow-engine/internal/service/dispute"
	"github.com/devbazaar/escrow-engine/internal/service/escrow"
	"github.com/devbazaar/escrow-engine/internal/service/notify"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("escrow-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	projects := repository.NewProjectRepository(db)
	ledger := repository.NewLedgerRepository(db)
	payments := repository.NewPaymentRepository(db)
	milestones := repository.NewMilestoneRepository(db)
	disputes := repository.NewDisputeRepository(db)
	notifications := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	recorder := audit.NewRecorder(auditRepo)
	escrowSvc := escrow.NewService(projects, ledger, payments, milestones, disputes, notifications, recorder, db, cfg)
	disputeSvc := dispute.NewEngine(projects, ledger, disputes, notifications, recorder, escrowSvc, db, cfg)

	dispatcher := notify.NewDispatcher(
		notifications,
		&notify.LogSender{Logger: logger},
		logger,
		time.Duration(cfg.NotifyPollIntervalS)*time.Second,
		cfg.NotifyBatchSize,
	)
	go dispatcher.Start(ctx)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := idempotency.CleanExpired(ctx); err != nil {
					slog.Warn("idempotency cache cleanup failed", "error", err)
				} else if n > 0 {
					slog.Info("idempotency cache cleaned", "removed", n)
				}
			}
		}
	}()

	healthHandler := handler.NewHealthHandler(db, version)
	webhookHandler := handler.NewWebhookHandler(payments, cfg.GatewaySecret)
	projectHandler := handler.NewProjectHandler(escrowSvc)
	milestoneHandler := handler.NewMilestoneHandler(escrowSvc)
	paymentHandler := handler.NewPaymentHandler(escrowSvc)
	ledgerHandler := handler.NewLedgerHandler(escrowSvc)
	disputeHandler := handler.NewDisputeHandler(disputeSvc)
	auditHandler := handler.NewAuditHandler(auditRepo)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/projects", projectHandler.Create)
	api.HandleFunc("GET /api/v1/projects/{id}", projectHandler.Get)
	api.HandleFunc("POST /api/v1/projects/{id}/proposal", projectHandler.SubmitProposal)
	api.HandleFunc("POST /api/v1/projects/{id}/accept", projectHandler.AcceptProposal)
	api.HandleFunc("POST /api/v1/projects/{id}/hold", projectHandler.Hold)
	api.HandleFunc("POST /api/v1/projects/{id}/resume", projectHandler.Resume)
	api.HandleFunc("POST /api/v1/projects/{id}/cancel", projectHandler.Cancel)

	api.HandleFunc("POST /api/v1/projects/{id}/milestones", milestoneHandler.Add)
	api.HandleFunc("GET /api/v1/projects/{id}/milestones", milestoneHandler.List)
	api.HandleFunc("POST /api/v1/milestones/{id}/approve", milestoneHandler.Approve)
	api.HandleFunc("POST /api/v1/milestones/{id}/release", milestoneHandler.Release)

	api.HandleFunc("GET /api/v1/projects/{id}/ledger", ledgerHandler.History)
	api.HandleFunc("GET /api/v1/projects/{id}/balance", ledgerHandler.Balance)
	api.HandleFunc("POST /api/v1/projects/{id}/adjustments", ledgerHandler.Adjust)
	api.HandleFunc("POST /api/v1/projects/{id}/reconcile", ledgerHandler.Reconcile)

	api.HandleFunc("GET /api/v1/projects/{id}/payments", paymentHandler.ListByProject)
	api.HandleFunc("GET /api/v1/payments/{id}", paymentHandler.Get)
	api.HandleFunc("POST /api/v1/payments/{id}/verify", paymentHandler.Verify)
	api.HandleFunc("POST /api/v1/payments/{id}/reject", paymentHandler.Reject)

	api.HandleFunc("POST /api/v1/disputes", disputeHandler.Raise)
	api.HandleFunc("GET /api/v1/disputes/{id}", disputeHandler.Get)
	api.HandleFunc("POST /api/v1/disputes/{id}/resolve", disputeHandler.Resolve)
	api.HandleFunc("POST /api/v1/disputes/{id}/annotations", disputeHandler.Annotate)

	api.HandleFunc("GET /api/v1/audit/{entity_type}/{id}", auditHandler.ListByEntity)

	apiChain := middleware.Tracing(
		middleware.Auth(cfg.JWTSecret)(
			middleware.Logging(
				middleware.Recovery(
					middleware.Idempotency(idempotency)(api),
				),
			),
		),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", apiChain)
	mux.Handle("POST /webhooks/gateway", middleware.Tracing(
		middleware.Logging(middleware.Recovery(http.HandlerFunc(webhookHandler.ReceiveGatewayWebhook))),
	))
	mux.HandleFunc("GET /health/live", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
