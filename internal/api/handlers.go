package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"mintwatch/internal/authgate"
	"mintwatch/internal/ingest"
	rtsup "mintwatch/internal/runtime/supervisor"
)

const (
	msgCodeSet     = "Code set successfully."
	msgCodeAlready = "Code already set."
	msgCodeFormat  = "Code must be a 5-digit number."
)

type healthResponse struct {
	Status       string          `json:"status"`
	Subscribers  int             `json:"subscribers"`
	Seen         *int            `json:"seen,omitempty"`
	LoginPending bool            `json:"login_pending"`
	PendingSince *time.Time      `json:"pending_since,omitempty"`
	Authorized   *bool           `json:"authorized,omitempty"`
	Ingest       *ingest.Status  `json:"ingest,omitempty"`
	Tasks        *rtsup.Snapshot `json:"tasks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Hub != nil {
		resp.Subscribers = s.deps.Hub.Count()
	}
	if s.deps.Seen != nil {
		n := s.deps.Seen()
		resp.Seen = &n
	}
	if s.deps.Codes != nil {
		if pending, since := s.deps.Codes.Pending(); pending {
			resp.LoginPending = true
			resp.PendingSince = &since
		}
	}
	if s.deps.Authorized != nil {
		ok := s.deps.Authorized()
		resp.Authorized = &ok
	}
	if s.deps.Ingest != nil {
		st := s.deps.Ingest()
		resp.Ingest = &st
	}
	if s.deps.Goroutines != nil {
		snap := s.deps.Goroutines()
		resp.Tasks = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLatest returns the address list, or upgrades to the push stream when
// the client asks for a WebSocket.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	out := []string{}
	if s.deps.Latest != nil {
		if m := s.deps.Latest.Members(); m != nil {
			out = m
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n > 0 && n < len(out) {
			out = out[len(out)-n:]
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type setCodeRequest struct {
	Code int `json:"code" validate:"min=10000,max=99999"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// handleSetCode accepts the code as ?code=N or as {"code": N}.
func (s *Server) handleSetCode(w http.ResponseWriter, r *http.Request) {
	req, err := bindSetCode(w, r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeDetail(w, http.StatusBadRequest, msgCodeFormat)
		return
	}
	if s.deps.Codes == nil {
		writeDetail(w, http.StatusServiceUnavailable, "login is not available")
		return
	}

	switch err := s.deps.Codes.Submit(req.Code); {
	case err == nil:
		s.log.Info("login code received")
		writeJSON(w, http.StatusOK, map[string]string{"message": msgCodeSet})
	case errors.Is(err, authgate.ErrAlreadySet):
		writeDetail(w, http.StatusBadRequest, msgCodeAlready)
	case errors.Is(err, authgate.ErrCodeFormat):
		writeDetail(w, http.StatusBadRequest, msgCodeFormat)
	default:
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

var errCodeMissing = errors.New("code is required")

func bindSetCode(w http.ResponseWriter, r *http.Request) (setCodeRequest, error) {
	var req setCodeRequest
	if raw := strings.TrimSpace(r.URL.Query().Get("code")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, errors.New("code must be an integer")
		}
		req.Code = n
		return req, nil
	}

	body := http.MaxBytesReader(w, r.Body, 1<<10)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	var in struct {
		Code *json.Number `json:"code"`
	}
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errCodeMissing
		}
		return req, errors.New("invalid JSON body")
	}
	if dec.More() {
		return req, errors.New("unexpected trailing data")
	}
	if in.Code == nil {
		return req, errCodeMissing
	}
	n, err := strconv.Atoi(in.Code.String())
	if err != nil {
		return req, errors.New("code must be an integer")
	}
	req.Code = n
	return req, nil
}
