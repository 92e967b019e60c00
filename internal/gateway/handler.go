package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mandelmonkey/latency-test/internal/handshake"
	"github.com/mandelmonkey/latency-test/internal/models"
)

// HandshakeEngine defines what the gateway needs from the handshake app.
type HandshakeEngine interface {
	StartSession(ctx context.Context, req handshake.StartSessionRequest) (*handshake.StartSessionResponse, error)
	ReportRound(ctx context.Context, req handshake.ReportRoundRequest) (*handshake.ReportRoundResponse, error)
}

// LatencyApp defines what the gateway needs from the latency query app.
type LatencyApp interface {
	LatenciesByUser(ctx context.Context, userID string) ([]models.RegionLatencyRecord, error)
	ClosestRegion(ctx context.Context, userID string) (*models.ClosestRegion, error)
}

// Handler binds the wire contract to HTTP + JSON.
type Handler struct {
	engine HandshakeEngine
	app    LatencyApp
}

// NewHandler creates the HTTP gateway.
func NewHandler(engine HandshakeEngine, app LatencyApp) *Handler {
	return &Handler{
		engine: engine,
		app:    app,
	}
}

// RegisterRoutes registers the HTTP binding on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.handleStartSession)
	mux.HandleFunc("POST /api/v1/sessions/report", h.handleReportRound)
	mux.HandleFunc("GET /api/v1/latency", h.handleLatencies)
	mux.HandleFunc("GET /api/v1/latency/closest", h.handleClosest)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req handshake.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed request body")
		return
	}
	req.ClientAddress = clientAddress(r)

	resp, err := h.engine.StartSession(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleReportRound(w http.ResponseWriter, r *http.Request) {
	var req handshake.ReportRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed request body")
		return
	}

	resp, err := h.engine.ReportRound(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLatencies(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_id is required")
		return
	}

	records, err := h.app.LatenciesByUser(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []models.RegionLatencyRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleClosest(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_id is required")
		return
	}

	closest, err := h.app.ClosestRegion(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closest)
}

// writeEngineError maps app-layer errors onto the HTTP binding.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, handshake.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, err.Error())
	case errors.Is(err, handshake.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrorCodeSessionNotFound, "unknown or expired token, restart the handshake")
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "internal error")
	}
}

type errorResponse struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// clientAddress extracts a best-effort originating address: the first
// X-Forwarded-For hop when present, the peer address otherwise.
func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
