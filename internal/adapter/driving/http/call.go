package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/rs/zerolog/log"
)

type initiateRequest struct {
	Peer      domain.Participant   `json:"peer"`
	Members   []domain.Participant `json:"members,omitempty"`
	CallType  domain.CallType      `json:"call_type"`
	CameraOff bool                 `json:"camera_off,omitempty"`
}

type answerRequest struct {
	CameraOff bool `json:"camera_off,omitempty"`
}

type endRequest struct {
	Reason domain.EndReason `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Calls.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	var opts []service.CallOption
	if req.CameraOff {
		opts = append(opts, service.WithCameraOff())
	}

	var err error
	switch {
	case len(req.Members) > 0:
		err = h.Calls.InitiateGroup(r.Context(), req.Members, req.CallType, opts...)
	case req.Peer.ID != "":
		err = h.Calls.Initiate(r.Context(), req.Peer, req.CallType, opts...)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing peer or members"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.respondSnapshot(w, r, http.StatusCreated)
}

func (h *Handler) AnswerCall(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
			return
		}
	}
	var opts []service.CallOption
	if req.CameraOff {
		opts = append(opts, service.WithCameraOff())
	}
	h.command(w, r, func(ctx context.Context) error {
		return h.Calls.Answer(ctx, opts...)
	})
}

func (h *Handler) RejectCall(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Calls.Reject)
}

func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	req := endRequest{Reason: domain.ReasonHangup}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
			return
		}
	}
	h.command(w, r, func(ctx context.Context) error {
		return h.Calls.End(ctx, req.Reason)
	})
}

func (h *Handler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := h.Calls.ToggleMute(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (h *Handler) EnableVideo(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Calls.EnableVideo)
}

func (h *Handler) DisableVideo(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Calls.DisableVideo)
}

func (h *Handler) StartScreenShare(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Calls.StartScreenShare)
}

func (h *Handler) StopScreenShare(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.Calls.StopScreenShare)
}

// command runs fn and answers with the resulting snapshot.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.respondSnapshot(w, r, http.StatusOK)
}

func (h *Handler) respondSnapshot(w http.ResponseWriter, r *http.Request, status int) {
	sess, err := h.Calls.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, sess)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Call command failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Call command rejected")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSelfCall), errors.Is(err, domain.ErrInvalidCallType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrNotReceiver):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnreachable), errors.Is(err, domain.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNotVideoCall), errors.Is(err, domain.ErrScreenShareActive),
		errors.Is(err, domain.ErrNoPeerLink), errors.Is(err, domain.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrRenegotiationFailed), errors.Is(err, domain.ErrConfigurationRejected):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
