package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shiva2076/Saas-backend-repo/internal/company"
)

// Handlers covers registration and login. This is collaborator plumbing for
// the metering core: its only job is producing tokens the middleware can
// resolve into a Principal.
type Handlers struct {
	users     Store
	companies company.Store
	secret    string
	log       *zap.Logger
}

func NewHandlers(users Store, companies company.Store, secret string, log *zap.Logger) *Handlers {
	return &Handlers{users: users, companies: companies, secret: secret, log: log}
}

type registerRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name"`
	Plan        string `json:"plan"`
}

func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.CompanyName == "" {
		writeError(w, http.StatusBadRequest, "email, password and company_name are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("failed to hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	c := &company.Company{Name: req.CompanyName, Plan: req.Plan}
	if err := h.companies.Create(r.Context(), c); err != nil {
		h.log.Error("failed to create company", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	u := &User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         RoleAdmin,
		CompanyID:    c.ID,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		h.log.Error("failed to create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	token, err := IssueToken(h.secret, u)
	if err != nil {
		h.log.Error("failed to issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":   token,
		"user":    u,
		"company": c,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.Error("failed to look up user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !u.IsActive {
		writeError(w, http.StatusForbidden, "account is deactivated, please contact support")
		return
	}

	token, err := IssueToken(h.secret, u)
	if err != nil {
		h.log.Error("failed to issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token": token,
		"user":  u,
	})
}
