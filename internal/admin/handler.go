package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shiva2076/Saas-backend-repo/internal/auth"
	"github.com/Shiva2076/Saas-backend-repo/internal/company"
)

// Handler serves the admin surface: company user listing, promotion, and a
// small stats readout. All routes sit behind auth.RequireAdmin.
type Handler struct {
	users     auth.Store
	companies company.Store
	log       *zap.Logger
}

func NewHandler(users auth.Store, companies company.Store, log *zap.Logger) *Handler {
	return &Handler{users: users, companies: companies, log: log}
}

func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	users, err := h.users.ListByCompany(r.Context(), p.CompanyID)
	if err != nil {
		h.log.Error("failed to list users", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if users == nil {
		users = []*auth.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) HandlePromoteUser(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	userID := chi.URLParam(r, "id")

	user, err := h.users.Promote(r.Context(), userID, p.CompanyID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		h.log.Error("failed to promote user", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	c, err := h.companies.Get(r.Context(), p.CompanyID)
	if err != nil {
		if errors.Is(err, company.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "company not found"})
			return
		}
		h.log.Error("failed to get company", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	users, err := h.users.ListByCompany(r.Context(), p.CompanyID)
	if err != nil {
		h.log.Error("failed to list users", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	adminCount := 0
	for _, u := range users {
		if u.Role == auth.RoleAdmin {
			adminCount++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_count":    len(users),
		"admin_count":   adminCount,
		"monthly_usage": c.CurrentUsage,
		"plan":          c.Plan,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
