package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/qrpay/internal/http/respond"
	"github.com/hongminglow/qrpay/internal/middleware"
	"github.com/hongminglow/qrpay/internal/models/dto"
)

// AuthHandler owns register, login and token lifecycle endpoints.
type AuthHandler struct {
	creds  Credentials
	tokens Tokens
}

func NewAuthHandler(creds Credentials, tokens Tokens) *AuthHandler {
	return &AuthHandler{creds: creds, tokens: tokens}
}

// Routes attaches the public auth routes.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/verify-otp", h.handleVerifyOtp)
	r.Post("/auth/refresh", h.handleRefresh)
}

// ProtectedRoutes attaches routes that need an authenticated caller.
func (h *AuthHandler) ProtectedRoutes(r chi.Router) {
	r.Post("/auth/logout", h.handleLogout)
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	user, err := h.creds.Register(r.Context(), req)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, "User created successfully", dto.NewUserView(user))
}

type loginView struct {
	Token       string       `json:"token,omitempty"`
	RequiresOTP bool         `json:"requires_otp"`
	User        dto.UserView `json:"user"`
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	resp, err := h.creds.Login(r.Context(), req)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	message := "login successful"
	if resp.RequiresOTP {
		message = "verification code sent"
	}
	respond.JSON(w, http.StatusOK, message, loginView{Token: resp.Token, RequiresOTP: resp.RequiresOTP, User: dto.NewUserView(resp.User)})
}

func (h *AuthHandler) handleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyOtpRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		respond.FromError(w, err)
		return
	}
	resp, err := h.creds.VerifyLogin(r.Context(), req.UserID, req.Code)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "login successful", loginView{Token: resp.Token, User: dto.NewUserView(resp.User)})
}

func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.BearerToken(r)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	next, err := h.tokens.Refresh(r.Context(), token)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "token refreshed", next)
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.Logout(r.Context(), middleware.Token(r.Context())); err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "logged out", nil)
}
