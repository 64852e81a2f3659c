package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/voxmeter/internal/adapters/reconcile"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/internal/domain/registry"
	"github.com/okian/voxmeter/pkg/logger"
)

// Matcher links reconciliation reports to canonical identities.
type Matcher interface {
	Reconcile(ctx context.Context, report model.ReconcileReport) (model.ServerUsage, error)
}

// AuthorityServer wires the routes of the reconciliation authority.
type AuthorityServer struct {
	matcher       Matcher
	log           logger.Logger
	healthHandler *HealthHandler
}

// NewAuthorityServer creates the authority routes over matcher.
func NewAuthorityServer(matcher Matcher) *AuthorityServer {
	return &AuthorityServer{
		matcher:       matcher,
		log:           logger.Named("authority"),
		healthHandler: NewHealthHandler(),
	}
}

// Register attaches the authority routes to mux.
func (a *AuthorityServer) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(a.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("POST "+reconcile.Path, MetricsMiddleware(a.handleReconcile, "reconcile"))
}

// handleReconcile handles POST /v1/reconcile.
func (a *AuthorityServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var report model.ReconcileReport
	if err := decodeJSON(r, &report); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	usage, err := a.matcher.Reconcile(r.Context(), report)
	switch {
	case errors.Is(err, registry.ErrInvalidReport):
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	case err != nil:
		a.log.Error(r.Context(), "reconcile failed",
			logger.String("identity_key", report.IdentityKey),
			logger.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
