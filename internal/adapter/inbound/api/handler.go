// Package api implements the bridge's JSON API handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/clibridge/clibridge/internal/ctxkey"
	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/domain/session"
	"github.com/clibridge/clibridge/internal/port/inbound"
	"github.com/clibridge/clibridge/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the /v1 API on top of a Bridge.
type Handler struct {
	bridge inbound.Bridge
	stats  *service.StatsService
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithStats exposes counters at GET /v1/stats.
func WithStats(s *service.StatsService) Option {
	return func(h *Handler) { h.stats = s }
}

// WithLogger sets the fallback logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a Handler for bridge.
func NewHandler(bridge inbound.Bridge, opts ...Option) *Handler {
	h := &Handler{
		bridge: bridge,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a mux serving every /v1 endpoint.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/messages", h.handleSubmit)
	mux.HandleFunc("POST /v1/reset", h.handleReset)
	mux.HandleFunc("GET /v1/sessions", h.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{user_id}", h.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{user_id}", h.handleDeleteSession)
	mux.HandleFunc("GET /v1/stats", h.handleStats)

	return mux
}

func (h *Handler) loggerFor(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return h.logger
}

// respondJSON writes data as JSON with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.loggerFor(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.respondJSON(w, r, status, errorResponse{Error: message})
}

// readJSON decodes a bounded request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

// submitStatus maps a Submit error to an HTTP status code.
func submitStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, invocation.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, invocation.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, invocation.ErrSpawn), errors.Is(err, invocation.ErrDecode):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req invocation.Request
	if err := h.readJSON(w, r, &req, false); err != nil {
		h.respondJSON(w, r, http.StatusBadRequest, invocation.Result{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
		return
	}

	res, err := h.bridge.Submit(r.Context(), req)
	h.respondJSON(w, r, submitStatus(err), res)
}

type resetRequest struct {
	UserID string `json:"user_id"`
}

type resetResponse struct {
	UserID string `json:"user_id"`
	Reset  bool   `json:"reset"`
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := h.readJSON(w, r, &req, true); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = invocation.DefaultUserID
	}

	if err := h.bridge.Reset(r.Context(), req.UserID); err != nil {
		h.loggerFor(r.Context()).Error("reset failed", "user_id", req.UserID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "reset failed")
		return
	}
	h.respondJSON(w, r, http.StatusOK, resetResponse{UserID: req.UserID, Reset: true})
}

type sessionListResponse struct {
	Sessions []session.Metadata `json:"sessions"`
	Count    int                `json:"count"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.bridge.Sessions(r.Context())
	if err != nil {
		h.loggerFor(r.Context()).Error("list sessions failed", "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if list == nil {
		list = []session.Metadata{}
	}
	h.respondJSON(w, r, http.StatusOK, sessionListResponse{Sessions: list, Count: len(list)})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	meta, err := h.bridge.Session(r.Context(), userID)
	if errors.Is(err, session.ErrSessionNotFound) {
		h.respondError(w, r, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.loggerFor(r.Context()).Error("get session failed", "user_id", userID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to read session")
		return
	}
	h.respondJSON(w, r, http.StatusOK, meta)
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	deleted, err := h.bridge.DeleteSession(r.Context(), userID)
	if err != nil {
		h.loggerFor(r.Context()).Error("delete session failed", "user_id", userID, "error", err)
		h.respondError(w, r, http.StatusInternalServerError, "failed to delete session")
		return
	}
	h.respondJSON(w, r, http.StatusOK, deleteResponse{Deleted: deleted})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.respondError(w, r, http.StatusNotFound, "stats not enabled")
		return
	}
	h.respondJSON(w, r, http.StatusOK, h.stats.GetStats())
}
