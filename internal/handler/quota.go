// Package handler contains the HTTP handlers for the quota service.
//
// This file exposes the quota engine to the host application. Every route
// requires a user ID (set by the identity middleware) and acts on that user.
//
// Routes:
//   - GET    /api/quota          -> Snapshot
//   - POST   /api/quota/enforce  -> Enforce
//   - POST   /api/quota/usage    -> RecordUsage
//   - DELETE /api/quota/usage    -> RollbackUsage
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/tollgate/internal/auth"
	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/service"
)

const maxToolNameLength = 128

// QuotaHandler handles quota requests for the calling user.
type QuotaHandler struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:  quota,
		logger: logger,
	}
}

// RegisterRoutes registers quota routes with the provided middleware.
func (h *QuotaHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireUser func(http.Handler) http.Handler,
) {
	mux.Handle("GET /api/quota", requireUser(http.HandlerFunc(h.Snapshot)))
	mux.Handle("POST /api/quota/enforce", requireUser(http.HandlerFunc(h.Enforce)))
	mux.Handle("POST /api/quota/usage", requireUser(http.HandlerFunc(h.RecordUsage)))
	mux.Handle("DELETE /api/quota/usage", requireUser(http.HandlerFunc(h.RollbackUsage)))
}

// Snapshot returns the caller's usage for today.
func (h *QuotaHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.quota.GetQuotaSnapshot(r.Context(), auth.GetUserIDFromRequest(r))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Enforce answers whether the caller may run one more operation now.
// A denial is a 429 carrying the usage figures.
func (h *QuotaHandler) Enforce(w http.ResponseWriter, r *http.Request) {
	if err := h.quota.EnforceQuota(r.Context(), auth.GetUserIDFromRequest(r)); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": true})
}

// RecordUsageRequest is the body of POST /api/quota/usage.
type RecordUsageRequest struct {
	Tool string `json:"tool"`
}

// RecordUsage counts one completed operation for the caller.
// Store faults are absorbed by the engine, so this always succeeds once the
// request is valid.
func (h *QuotaHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.record_usage"

	var req RecordUsageRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	tool := strings.TrimSpace(req.Tool)
	if tool == "" {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "tool", "tool is required"))
		return
	}
	if len(tool) > maxToolNameLength {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "tool", "tool name is too long"))
		return
	}

	if err := h.quota.IncrementUsage(r.Context(), auth.GetUserIDFromRequest(r), tool); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RollbackUsage undoes one recorded operation, e.g. after the host's work
// failed downstream.
func (h *QuotaHandler) RollbackUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.quota.RollbackUsage(r.Context(), auth.GetUserIDFromRequest(r)); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
