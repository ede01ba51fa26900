package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/auth"
	"github.com/hongminglow/qrpay/internal/ledger"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/models/dto"
	"github.com/hongminglow/qrpay/internal/payments"
)

// Credentials is the registration and login surface.
type Credentials interface {
	Register(ctx context.Context, req dto.RegisterRequest) (models.User, error)
	Login(ctx context.Context, req dto.LoginRequest) (dto.LoginResponse, error)
	VerifyLogin(ctx context.Context, userID, code string) (dto.LoginResponse, error)
	SetTwoFactor(ctx context.Context, userID string, enabled bool) (models.User, error)
	UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest) (models.User, error)
	SearchUsers(ctx context.Context, userID, query string) ([]models.User, error)
	Logout(ctx context.Context, token string) error
}

// Tokens refreshes access tokens.
type Tokens interface {
	Refresh(ctx context.Context, token string) (auth.Token, error)
}

// Ledger is what the account and transaction endpoints call.
type Ledger interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	Summary(ctx context.Context, userID string) (ledger.Summary, error)
	InitiateTransfer(ctx context.Context, senderID, recipientID string, amount int64, description string, opts ...ledger.InitiateOption) (models.Transaction, error)
	ConfirmTransfer(ctx context.Context, id string, opts ...ledger.ConfirmOption) (models.Transaction, error)
	CancelTransfer(ctx context.Context, id, userID string) (models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	ListForUser(ctx context.Context, userID string, page, limit int) (ledger.Page, error)
}

// Offers is the QR payment surface.
type Offers interface {
	CreateOffer(ctx context.Context, recipientID string, amount int64, description string, opts ...payments.OfferOption) (models.PaymentSession, error)
	GetOffer(ctx context.Context, id string) (models.PaymentSession, error)
	Payload(ps models.PaymentSession) (string, error)
	RenderPNG(ctx context.Context, id string, size int) ([]byte, error)
	Resolve(ctx context.Context, payload string) (models.PaymentSession, error)
	Redeem(ctx context.Context, sessionID, senderID string, opts ...payments.RedeemOption) (models.Transaction, error)
}

// Codes issues one-time codes on request.
type Codes interface {
	Issue(ctx context.Context, userID string, purpose models.OtpPurpose) (models.OtpCode, error)
}

const maxBody = 1 << 20

// decode reads a JSON body into v. An empty body is allowed when optional
// is set, leaving v untouched.
// decode reads exactly one JSON object into v. Fields v does not declare and
// anything after the object are rejected.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return apperr.Wrap(apperr.ErrValidation, "unknown field %s", field)
		}
		return apperr.Wrap(apperr.ErrValidation, "invalid JSON payload")
	}
	if dec.More() {
		return apperr.Wrap(apperr.ErrValidation, "invalid JSON payload: unexpected data after object")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Wrap(apperr.ErrValidation, "%s must be a non-negative integer", key)
	}
	return n, nil
}
