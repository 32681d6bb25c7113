package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"

	"github.com/gigboard/backend/internal/auth"
	"github.com/gigboard/backend/internal/config"
	"github.com/gigboard/backend/internal/dashboard"
	"github.com/gigboard/backend/internal/disputes"
	"github.com/gigboard/backend/internal/jobs"
	"github.com/gigboard/backend/internal/ledger"
	"github.com/gigboard/backend/internal/middleware"
	"github.com/gigboard/backend/internal/reconcile"
	"github.com/gigboard/backend/internal/repository"
	"github.com/gigboard/backend/internal/router"
	"github.com/gigboard/backend/internal/verify"
)

func buildAuth(pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) (auth.Service, *auth.Handler, *repository.AccountRepo) {
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.Auth.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)
	accountRepo := repository.NewAccountRepo(pool)
	return authSvc, authHandler, accountRepo
}

// buildHandler assembles the HTTP surface: the /v1 router behind JWT auth,
// wrapped in CORS for the dashboard UI.
func buildHandler(
	cfg *config.Config,
	logger *slog.Logger,
	authSvc auth.Service,
	authHandler *auth.Handler,
	accountRepo *repository.AccountRepo,
	jobsSvc jobs.Service,
	disputesSvc disputes.Service,
	ledgerSvc ledger.Service,
	ledgerRepo *ledger.Repository,
	reconciler *reconcile.Reconciler,
) http.Handler {
	jobsHandler := jobs.NewHandler(jobsSvc, logger)
	disputesHandler := disputes.NewHandler(disputesSvc, logger)

	verifyClient := verify.NewClient(cfg.External.VerifierURL, accountRepo)
	verifyHandler := verify.NewHandler(verifyClient, logger)

	dashHandler := dashboard.NewHandler(ledgerSvc, ledgerRepo, reconciler, logger)

	authMW := middleware.JWTAuth(authSvc, accountRepo)
	apiRouter := router.New(authHandler, jobsHandler, disputesHandler, verifyHandler, dashHandler, authMW)

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(apiRouter)
}
