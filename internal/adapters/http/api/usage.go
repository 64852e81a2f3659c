package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	service "github.com/okian/voxmeter/internal/app"
	"github.com/okian/voxmeter/internal/domain/model"
)

// HeaderAudioDuration declares the duration, in seconds, of a payload the
// daemon cannot decode.
const HeaderAudioDuration = "X-Audio-Duration"

// Metered writes are billed once per operation id, so a retry without one
// could bill twice.
var errMissingOperationID = WrapKind(ErrBadRequest, fmt.Errorf("%s header or operation_id is required", HeaderOperationID))

type usageRequest struct {
	Seconds     float64 `json:"seconds"`
	Label       string  `json:"label"`
	OperationID string  `json:"operation_id"`
}

type usageResponse struct {
	Event model.UsageEvent `json:"usage_event"`
	Quota model.QuotaState `json:"quota"`
}

type uploadResponse struct {
	service.Upload
	Text  string            `json:"text,omitempty"`
	Event *model.UsageEvent `json:"usage_event,omitempty"`
}

// handleUpload handles POST /v1/uploads. The body is the raw audio. With
// ?transcribe=false the payload is only admitted and nothing is billed;
// otherwise an operation id is required.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	declared := 0.0
	if raw := strings.TrimSpace(r.Header.Get(HeaderAudioDuration)); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			s.fail(w, r, WrapKind(ErrBadRequest, fmt.Errorf("invalid %s header %q", HeaderAudioDuration, raw)))
			return
		}
		declared = v
	}
	transcribe := true
	if raw := r.URL.Query().Get("transcribe"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, WrapKind(ErrBadRequest, fmt.Errorf("invalid transcribe %q", raw)))
			return
		}
		transcribe = v
	}
	opID := operationID(r, "")
	if transcribe && opID == "" {
		s.fail(w, r, errMissingOperationID)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(payload) == 0 {
		s.fail(w, r, WrapKind(ErrBadRequest, errors.New("empty upload")))
		return
	}
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}

	if !transcribe {
		up, err := s.svc.AdmitUpload(r.Context(), ic, payload, declared)
		if err != nil {
			s.failUpload(w, r, up, err)
			return
		}
		writeJSON(w, http.StatusOK, uploadResponse{Upload: up})
		return
	}

	res, err := s.svc.Transcribe(r.Context(), ic, payload, declared, r.Header.Get("Content-Type"), opID)
	if err != nil {
		s.failUpload(w, r, res.Upload, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Upload: res.Upload, Text: res.Text, Event: &res.Event})
}

// failUpload reports a denied admission with its decision so the shell can
// show why.
func (s *Server) failUpload(w http.ResponseWriter, r *http.Request, up service.Upload, err error) {
	if up.Decision.Reason == "" || up.Decision.Allowed {
		s.fail(w, r, err)
		return
	}
	status, code := statusFor(err)
	writeJSON(w, status, map[string]any{
		"code":     code,
		"message":  err.Error(),
		"decision": up.Decision,
		"quota":    up.Quota,
	})
}

// handleRecordUsage handles POST /v1/usage for operations metered outside
// the daemon.
func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		req.Label = service.UploadLabel
	}
	opID := operationID(r, req.OperationID)
	if opID == "" {
		s.fail(w, r, errMissingOperationID)
		return
	}
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	ev, err := s.svc.RecordCompletedUsage(r.Context(), ic, req.Seconds, req.Label, opID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := s.svc.RemainingQuota(r.Context(), ic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, usageResponse{Event: ev, Quota: q})
}
