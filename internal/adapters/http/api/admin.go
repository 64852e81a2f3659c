package api

import (
	"errors"
	"net/http"
)

type resetRequest struct {
	IdentityKey string `json:"identity_key"`
	All         bool   `json:"all"`
}

type overrideRequest struct {
	IdentityKey  string   `json:"identity_key"`
	TotalMinutes float64  `json:"total_minutes"`
	UsedMinutes  *float64 `json:"used_minutes,omitempty"`
	Clear        bool     `json:"clear"`
}

// handleReconcileNow handles POST /v1/reconcile/now.
func (s *Server) handleReconcileNow(w http.ResponseWriter, r *http.Request) {
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Reconcile(r.Context(), ic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAdminReset handles POST /v1/admin/reset.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.All == (req.IdentityKey != "") {
		s.fail(w, r, WrapKind(ErrBadRequest, errors.New("set exactly one of identity_key or all")))
		return
	}
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	var err error
	if req.All {
		err = s.svc.ResetAllUsage(r.Context(), ic)
	} else {
		err = s.svc.ResetUsage(r.Context(), ic, req.IdentityKey)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminOverride handles POST /v1/admin/override.
func (s *Server) handleAdminOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	var err error
	if req.Clear {
		err = s.svc.ClearQuotaOverride(r.Context(), ic, req.IdentityKey)
	} else {
		err = s.svc.SetQuotaOverride(r.Context(), ic, req.IdentityKey, req.TotalMinutes, req.UsedMinutes)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminUsage handles GET /v1/admin/usage.
func (s *Server) handleAdminUsage(w http.ResponseWriter, r *http.Request) {
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	list, err := s.svc.ListUsage(r.Context(), ic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identities": list})
}

// handleWipeIdentity handles DELETE /v1/identity.
func (s *Server) handleWipeIdentity(w http.ResponseWriter, r *http.Request) {
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.svc.WipeIdentity(r.Context(), ic); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
