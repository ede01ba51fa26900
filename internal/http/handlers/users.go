package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/qrpay/internal/http/respond"
	"github.com/hongminglow/qrpay/internal/middleware"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/models/dto"
)

// UserHandler serves the caller's profile, balance and settings.
type UserHandler struct {
	ledger Ledger
	creds  Credentials
	codes  Codes
}

func NewUserHandler(l Ledger, creds Credentials, codes Codes) *UserHandler {
	return &UserHandler{ledger: l, creds: creds, codes: codes}
}

func (h *UserHandler) Routes(r chi.Router) {
	r.Get("/users/me", h.handleMe)
	r.Get("/users/me/summary", h.handleSummary)
	r.Put("/users/me/2fa", h.handleTwoFactor)
	r.Put("/users/profile", h.handleUpdateProfile)
	r.Get("/users/search", h.handleSearch)
	r.Post("/otp/send", h.handleSendOtp)
}

func (h *UserHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.ledger.GetUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", dto.NewUserView(user))
}

func (h *UserHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.ledger.Summary(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", dto.SummaryView{
		Balance:        dto.FormatAmount(s.Balance),
		Currency:       s.Currency,
		TotalSent:      dto.FormatAmount(s.TotalSent),
		TotalReceived:  dto.FormatAmount(s.TotalReceived),
		CompletedCount: s.CompletedCount,
	})
}

func (h *UserHandler) handleTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req dto.TwoFactorRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		respond.FromError(w, err)
		return
	}
	user, err := h.creds.SetTwoFactor(r.Context(), middleware.UserID(r.Context()), *req.Enabled)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "two-factor setting updated", dto.NewUserView(user))
}

func (h *UserHandler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateProfileRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	user, err := h.creds.UpdateProfile(r.Context(), middleware.UserID(r.Context()), req)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "profile updated", dto.NewUserView(user))
}

func (h *UserHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	users, err := h.creds.SearchUsers(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", dto.NewContactViews(users))
}

// handleSendOtp issues a code. The code itself is delivered out of band by
// the otp.issued event consumer, never in the response.
func (h *UserHandler) handleSendOtp(w http.ResponseWriter, r *http.Request) {
	var req dto.SendOtpRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		respond.FromError(w, err)
		return
	}
	code, err := h.codes.Issue(r.Context(), middleware.UserID(r.Context()), models.OtpPurpose(req.Purpose))
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "verification code sent", map[string]any{
		"purpose":    code.Purpose,
		"expires_at": code.ExpiresAt,
	})
}
