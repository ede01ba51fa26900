package dto

import (
	"strings"

	"github.com/hongminglow/qrpay/internal/apperr"
)

type CreateOfferRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
	PayerID     string `json:"payer_id"`
}

// Parse validates the request and returns the amount in minor units.
func (r CreateOfferRequest) Parse() (int64, error) {
	if len(r.Description) > 255 {
		return 0, apperr.Wrap(apperr.ErrValidation, "description exceeds 255 characters")
	}
	return ParseAmount(r.Amount)
}

type ResolveOfferRequest struct {
	Payload string `json:"payload"`
}

func (r ResolveOfferRequest) Validate() error {
	if strings.TrimSpace(r.Payload) == "" {
		return apperr.Wrap(apperr.ErrValidation, "payload is required")
	}
	return nil
}

type OfferView struct {
	ID            string `json:"id"`
	RecipientID   string `json:"recipient_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description,omitempty"`
	PayerID       string `json:"payer_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	ExpiresAt     string `json:"expires_at"`
	Payload       string `json:"payload,omitempty"`
}
