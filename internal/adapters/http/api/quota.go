package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/okian/voxmeter/internal/domain/model"
)

const defaultHistoryDays = 30

type admissionRequest struct {
	RequestedMinutes float64 `json:"requested_minutes"`
}

type admissionResponse struct {
	Decision model.AdmissionDecision `json:"decision"`
	Quota    model.QuotaState        `json:"quota"`
}

type quotaResponse struct {
	IdentityKey string `json:"identity_key"`
	model.QuotaState
}

// handleQuota handles GET /v1/quota.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	q, err := s.svc.RemainingQuota(r.Context(), ic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{IdentityKey: ic.Key, QuotaState: q})
}

// handleAdmission handles POST /v1/admission. A denial is a normal answer,
// not an error status.
func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	var req admissionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if math.IsNaN(req.RequestedMinutes) || math.IsInf(req.RequestedMinutes, 0) || req.RequestedMinutes < 0 {
		s.fail(w, r, WrapKind(ErrBadRequest, fmt.Errorf("requested_minutes must be a non-negative number")))
		return
	}
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	d, q, err := s.svc.CheckAdmission(r.Context(), ic, req.RequestedMinutes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, admissionResponse{Decision: d, Quota: q})
}

// handleHistory handles GET /v1/usage/history?days=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := defaultHistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, WrapKind(ErrBadRequest, fmt.Errorf("invalid days %q", raw)))
			return
		}
		days = n
	}
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	history, err := s.svc.UsageHistory(r.Context(), ic, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity_key": ic.Key, "days": history})
}
