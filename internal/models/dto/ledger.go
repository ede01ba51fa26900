package dto

import (
	"strings"

	"github.com/hongminglow/qrpay/internal/apperr"
)

type InitiateTransferRequest struct {
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// Parse validates the request and returns the amount in minor units.
func (r InitiateTransferRequest) Parse() (int64, error) {
	if strings.TrimSpace(r.RecipientID) == "" {
		return 0, apperr.Wrap(apperr.ErrValidation, "recipient_id is required")
	}
	if len(r.Description) > 255 {
		return 0, apperr.Wrap(apperr.ErrValidation, "description exceeds 255 characters")
	}
	return ParseAmount(r.Amount)
}

// ConfirmRequest carries the optional step-up code for confirm and redeem.
type ConfirmRequest struct {
	OTP string `json:"otp"`
}

type TransactionView struct {
	ID               string  `json:"id"`
	SenderID         string  `json:"sender_id"`
	RecipientID      string  `json:"recipient_id"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Description      string  `json:"description,omitempty"`
	Status           string  `json:"status"`
	FailureReason    string  `json:"failure_reason,omitempty"`
	PaymentSessionID string  `json:"payment_session_id,omitempty"`
	CreatedAt        string  `json:"created_at"`
	CompletedAt      *string `json:"completed_at,omitempty"`
}

type TransactionPage struct {
	Transactions []TransactionView `json:"transactions"`
	Page         int               `json:"page"`
	Limit        int               `json:"limit"`
	Total        int               `json:"total"`
	Pages        int               `json:"pages"`
}

type SummaryView struct {
	Balance        string `json:"balance"`
	Currency       string `json:"currency"`
	TotalSent      string `json:"total_sent"`
	TotalReceived  string `json:"total_received"`
	CompletedCount int    `json:"completed_count"`
}
