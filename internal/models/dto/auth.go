package dto

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/models"
)

type RegisterRequest struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	PhoneNumber string `json:"phoneNumber"`
	FullName    string `json:"full_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

// Normalize trims input and folds the legacy phoneNumber field into Phone.
func (r *RegisterRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
	if r.Phone == "" {
		r.Phone = strings.TrimSpace(r.PhoneNumber)
	}
	r.FullName = strings.TrimSpace(r.FullName)
	r.Role = strings.ToUpper(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = string(models.RoleUser)
	}
}

func (r RegisterRequest) Validate() error {
	if r.Email == "" || r.Phone == "" || r.FullName == "" {
		return apperr.Wrap(apperr.ErrValidation, "email, phone, and full_name are required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return apperr.Wrap(apperr.ErrValidation, "email is malformed")
	}
	if len(strings.TrimSpace(r.Password)) < 8 || !utf8.ValidString(r.Password) {
		return apperr.Wrap(apperr.ErrValidation, "password must be at least 8 characters")
	}
	if !models.Role(r.Role).Valid() {
		return apperr.Wrap(apperr.ErrValidation, "role must be USER or MERCHANT")
	}
	return nil
}

// UpdateProfileRequest changes the caller's display name and phone. Empty
// fields keep their current value.
type UpdateProfileRequest struct {
	FullName    string `json:"full_name"`
	Phone       string `json:"phone"`
	PhoneNumber string `json:"phoneNumber"`
}

func (r *UpdateProfileRequest) Normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Phone = strings.TrimSpace(r.Phone)
	if r.Phone == "" {
		r.Phone = strings.TrimSpace(r.PhoneNumber)
	}
}

func (r UpdateProfileRequest) Validate() error {
	if r.FullName == "" && r.Phone == "" {
		return apperr.Wrap(apperr.ErrValidation, "full_name or phone is required")
	}
	if utf8.RuneCountInString(r.FullName) > 255 {
		return apperr.Wrap(apperr.ErrValidation, "full_name is too long")
	}
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" || strings.TrimSpace(r.Password) == "" {
		return apperr.Wrap(apperr.ErrValidation, "email and password are required")
	}
	return nil
}

type LoginResponse struct {
	Token       string      `json:"token,omitempty"`
	RequiresOTP bool        `json:"requires_otp"`
	User        models.User `json:"user"`
}

type VerifyOtpRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

func (r VerifyOtpRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" || strings.TrimSpace(r.Code) == "" {
		return apperr.Wrap(apperr.ErrValidation, "user_id and code are required")
	}
	return nil
}

type SendOtpRequest struct {
	Purpose string `json:"purpose"`
}

func (r SendOtpRequest) Validate() error {
	if !models.OtpPurpose(r.Purpose).Valid() {
		return apperr.Wrap(apperr.ErrValidation, "purpose must be LOGIN or TRANSFER_CONFIRM")
	}
	return nil
}

type TwoFactorRequest struct {
	Enabled *bool `json:"enabled"`
}

func (r TwoFactorRequest) Validate() error {
	if r.Enabled == nil {
		return apperr.Wrap(apperr.ErrValidation, "enabled is required")
	}
	return nil
}

type TokenResponse struct {
	Token string `json:"token"`
}
