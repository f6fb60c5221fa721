package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/service"
	"github.com/DukeRupert/tollgate/internal/store"
)

// AdminHandler handles operator requests against a single user.
type AdminHandler struct {
	quota    service.QuotaService
	listener service.PlanChangeListener
	contacts store.Contacts
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	quota service.QuotaService,
	listener service.PlanChangeListener,
	contacts store.Contacts,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		quota:    quota,
		listener: listener,
		contacts: contacts,
		logger:   logger,
	}
}

// RegisterRoutes registers admin routes with the provided middleware.
func (h *AdminHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireAdmin func(http.Handler) http.Handler,
) {
	mux.Handle("GET /admin/users/{userID}/quota", requireAdmin(http.HandlerFunc(h.UserQuota)))
	mux.Handle("POST /admin/users/{userID}/quota/reset", requireAdmin(http.HandlerFunc(h.ResetQuota)))
	mux.Handle("PUT /admin/users/{userID}/plan", requireAdmin(http.HandlerFunc(h.UpdatePlan)))
	mux.Handle("PUT /admin/users/{userID}/contact", requireAdmin(http.HandlerFunc(h.UpdateContact)))
}

// UserQuota returns a user's usage for today.
func (h *AdminHandler) UserQuota(w http.ResponseWriter, r *http.Request) {
	snap, err := h.quota.GetQuotaSnapshot(r.Context(), r.PathValue("userID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ResetQuota clears every stored count of a user.
func (h *AdminHandler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	const op = "admin.reset_quota"

	userID := r.PathValue("userID")
	if !h.quota.ResetUserQuota(r.Context(), userID) {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EUNAVAILABLE, op, "quota reset failed"))
		return
	}

	h.logger.Info("quota reset by admin", "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

// UpdatePlanRequest is the body of PUT /admin/users/{userID}/plan.
type UpdatePlanRequest struct {
	Plan string `json:"plan"`
}

// UpdatePlan moves a user to another plan outside of billing, e.g. for a
// comped account. The new limit applies to the very next check.
func (h *AdminHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	const op = "admin.update_plan"

	var req UpdatePlanRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	userID := r.PathValue("userID")
	if err := h.listener.OnPlanChanged(r.Context(), userID, req.Plan); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	snap, err := h.quota.GetQuotaSnapshot(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// UpdateContactRequest is the body of PUT /admin/users/{userID}/contact.
type UpdateContactRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UpdateContact sets where a user's quota notices are sent.
func (h *AdminHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	const op = "admin.update_contact"

	var req UpdateContactRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	contact := domain.Contact{
		UserID: r.PathValue("userID"),
		Email:  strings.TrimSpace(req.Email),
		Name:   strings.TrimSpace(req.Name),
	}
	if err := contact.Validate(op); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.contacts.WriteContact(r.Context(), contact); err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to save contact"))
		return
	}
	writeJSON(w, http.StatusOK, contact)
}
