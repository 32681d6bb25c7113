package router

import (
	"net/http"

	"github.com/gigboard/backend/internal/auth"
	"github.com/gigboard/backend/internal/dashboard"
	"github.com/gigboard/backend/internal/disputes"
	"github.com/gigboard/backend/internal/jobs"
	"github.com/gigboard/backend/internal/verify"
)

// Middleware wraps a handler, e.g. JWT auth.
type Middleware func(http.Handler) http.Handler

// New returns the http.Handler serving the API under /v1. Everything except
// register and login sits behind the auth middleware.
func New(
	authHandler *auth.Handler,
	jobsHandler *jobs.Handler,
	disputesHandler *disputes.Handler,
	verifyHandler *verify.Handler,
	dashHandler *dashboard.Handler,
	authMW Middleware,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /v1/auth/login", authHandler.Login)

	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMW(h))
	}

	protected("POST /v1/jobs", jobsHandler.CreateJob)
	protected("GET /v1/jobs", jobsHandler.ListJobs)
	protected("GET /v1/jobs/{id}", jobsHandler.GetJob)
	protected("POST /v1/jobs/{id}/accept", jobsHandler.Accept)
	protected("POST /v1/jobs/{id}/start", jobsHandler.Start)
	protected("POST /v1/jobs/{id}/submit", jobsHandler.Submit)
	protected("POST /v1/jobs/{id}/approve", jobsHandler.Approve)
	protected("POST /v1/jobs/{id}/cancel", jobsHandler.Cancel)
	protected("POST /v1/jobs/{id}/dispute", jobsHandler.Dispute)
	protected("GET /v1/jobs/{id}/payment-status", jobsHandler.PaymentStatus)

	protected("GET /v1/jobs/{id}/dispute", disputesHandler.Get)
	protected("POST /v1/jobs/{id}/dispute/resolve", disputesHandler.Resolve)

	protected("POST /v1/verify", verifyHandler.Check)

	protected("GET /v1/account/me", dashHandler.GetMe)
	protected("GET /v1/wallet/balance", dashHandler.GetBalance)
	protected("GET /v1/wallet/ledger", dashHandler.ListLedger)
	protected("POST /v1/wallet/deposit", dashHandler.Deposit)
	protected("GET /v1/reconciliation/report", dashHandler.GetReconciliationReport)
	protected("POST /v1/reconciliation/run", dashHandler.RunReconciliation)

	return mux
}
