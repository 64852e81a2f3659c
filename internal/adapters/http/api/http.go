// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/voxmeter/internal/adapters/reconcile"
	"github.com/okian/voxmeter/internal/adapters/transcribe"
	service "github.com/okian/voxmeter/internal/app"
	"github.com/okian/voxmeter/internal/domain/admission"
	"github.com/okian/voxmeter/internal/domain/ledger"
	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/logger"
)

const defaultMaxUploadBytes = 64 << 20

// Metering is the part of the metering service the daemon routes call.
type Metering interface {
	StatsProvider

	ResolveCaller(ctx context.Context, p model.Principal, signals model.DeviceSignals) (model.IdentityContext, error)
	RemainingQuota(ctx context.Context, ic model.IdentityContext) (model.QuotaState, error)
	CheckAdmission(ctx context.Context, ic model.IdentityContext, requestedMinutes float64) (model.AdmissionDecision, model.QuotaState, error)
	AdmitUpload(ctx context.Context, ic model.IdentityContext, payload []byte, declaredSeconds float64) (service.Upload, error)
	Transcribe(ctx context.Context, ic model.IdentityContext, payload []byte, declaredSeconds float64, contentType, operationID string) (service.Transcription, error)
	RecordCompletedUsage(ctx context.Context, ic model.IdentityContext, seconds float64, label, operationID string, opts ...ledger.RecordOption) (model.UsageEvent, error)
	UsageHistory(ctx context.Context, ic model.IdentityContext, days int) ([]model.DailyUsage, error)

	StartRecording(ctx context.Context, ic model.IdentityContext, capture admission.Capture) (service.RecordingInfo, error)
	RecordingStatus(ctx context.Context, ic model.IdentityContext, id string) (service.RecordingInfo, error)
	PauseRecording(ctx context.Context, ic model.IdentityContext, id string) (service.RecordingInfo, error)
	ResumeRecording(ctx context.Context, ic model.IdentityContext, id string) (service.RecordingInfo, error)
	FinishRecording(ctx context.Context, ic model.IdentityContext, id string) (service.RecordingInfo, error)

	Reconcile(ctx context.Context, ic model.IdentityContext) (service.ReconcileResult, error)
	ResetUsage(ctx context.Context, caller model.IdentityContext, targetKey string) error
	ResetAllUsage(ctx context.Context, caller model.IdentityContext) error
	SetQuotaOverride(ctx context.Context, caller model.IdentityContext, targetKey string, totalMinutes float64, usedMinutes *float64) error
	ClearQuotaOverride(ctx context.Context, caller model.IdentityContext, targetKey string) error
	WipeIdentity(ctx context.Context, ic model.IdentityContext) error
	ListUsage(ctx context.Context, caller model.IdentityContext) ([]service.UsageSummary, error)
}

// Server wires HTTP routes for the daemon API.
type Server struct {
	svc            Metering
	log            logger.Logger
	maxUploadBytes int64

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxUploadBytes bounds the size of uploaded audio.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(svc Metering, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		maxUploadBytes: defaultMaxUploadBytes,
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(svc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("api")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("GET /v1/quota", MetricsMiddleware(s.handleQuota, "quota"))
	mux.HandleFunc("POST /v1/admission", MetricsMiddleware(s.handleAdmission, "admission"))
	mux.HandleFunc("POST /v1/uploads", MetricsMiddleware(s.handleUpload, "uploads"))
	mux.HandleFunc("POST /v1/usage", MetricsMiddleware(s.handleRecordUsage, "usage"))
	mux.HandleFunc("GET /v1/usage/history", MetricsMiddleware(s.handleHistory, "usage_history"))

	mux.HandleFunc("POST /v1/recordings", MetricsMiddleware(s.handleStartRecording, "recordings"))
	mux.HandleFunc("GET /v1/recordings/{id}", MetricsMiddleware(s.handleRecordingStatus, "recording"))
	mux.HandleFunc("POST /v1/recordings/{id}/pause", MetricsMiddleware(s.handlePauseRecording, "recording_pause"))
	mux.HandleFunc("POST /v1/recordings/{id}/resume", MetricsMiddleware(s.handleResumeRecording, "recording_resume"))
	mux.HandleFunc("POST /v1/recordings/{id}/stop", MetricsMiddleware(s.handleStopRecording, "recording_stop"))

	mux.HandleFunc("POST /v1/reconcile/now", MetricsMiddleware(s.handleReconcileNow, "reconcile_now"))
	mux.HandleFunc("POST /v1/admin/reset", MetricsMiddleware(s.handleAdminReset, "admin_reset"))
	mux.HandleFunc("POST /v1/admin/override", MetricsMiddleware(s.handleAdminOverride, "admin_override"))
	mux.HandleFunc("GET /v1/admin/usage", MetricsMiddleware(s.handleAdminUsage, "admin_usage"))
	mux.HandleFunc("DELETE /v1/identity", MetricsMiddleware(s.handleWipeIdentity, "identity"))
}

// caller resolves the identity of r, writing an error response on failure.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (model.IdentityContext, bool) {
	signals, err := deviceSignals(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return model.IdentityContext{}, false
	}
	ic, err := s.svc.ResolveCaller(r.Context(), principal(r), signals)
	if err != nil {
		s.fail(w, r, err)
		return model.IdentityContext{}, false
	}
	return ic, true
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, ledger.ErrInvalidWindow), errors.Is(err, ledger.ErrInvalidDuration):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, admission.ErrQuotaExhausted):
		return http.StatusPaymentRequired, "quota_exhausted"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrRecordingNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrDuplicateOperation):
		return http.StatusConflict, "duplicate_operation"
	case errors.Is(err, admission.ErrRecordingStopped):
		return http.StatusConflict, "recording_stopped"
	case errors.Is(err, admission.ErrDurationUnknown):
		return http.StatusUnprocessableEntity, "duration_unknown"
	case errors.Is(err, transcribe.ErrRejected):
		return http.StatusUnprocessableEntity, "transcriber_rejected"
	case errors.Is(err, reconcile.ErrReconciliationUnavailable), errors.Is(err, transcribe.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("method", r.Method),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return WrapKind(ErrBadRequest, err)
	}
	return nil
}
