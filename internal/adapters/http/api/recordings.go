package api

import (
	"context"
	"net/http"

	service "github.com/okian/voxmeter/internal/app"
	"github.com/okian/voxmeter/internal/domain/model"
)

// handleStartRecording handles POST /v1/recordings. The shell owns the
// microphone; the daemon meters the session and tells it when to stop.
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	info, err := s.svc.StartRecording(r.Context(), ic, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	s.recordingOp(w, r, s.svc.RecordingStatus)
}

func (s *Server) handlePauseRecording(w http.ResponseWriter, r *http.Request) {
	s.recordingOp(w, r, s.svc.PauseRecording)
}

func (s *Server) handleResumeRecording(w http.ResponseWriter, r *http.Request) {
	s.recordingOp(w, r, s.svc.ResumeRecording)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	s.recordingOp(w, r, s.svc.FinishRecording)
}

type recordingFunc func(ctx context.Context, ic model.IdentityContext, id string) (service.RecordingInfo, error)

func (s *Server) recordingOp(w http.ResponseWriter, r *http.Request, op recordingFunc) {
	id := r.PathValue("id")
	if id == "" {
		s.fail(w, r, ErrBadRequest)
		return
	}
	ic, ok := s.caller(w, r)
	if !ok {
		return
	}
	info, err := op(r.Context(), ic, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
