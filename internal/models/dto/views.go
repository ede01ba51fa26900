package dto

import (
	"time"

	"github.com/hongminglow/qrpay/internal/models"
)

func NewTransactionView(tx models.Transaction) TransactionView {
	v := TransactionView{
		ID:               tx.ID,
		SenderID:         tx.SenderID,
		RecipientID:      tx.RecipientID,
		Amount:           FormatAmount(tx.Amount),
		Currency:         tx.Currency,
		Description:      tx.Description,
		Status:           string(tx.Status),
		FailureReason:    string(tx.FailureReason),
		PaymentSessionID: tx.PaymentSessionID,
		CreatedAt:        tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	if tx.CompletedAt != nil {
		at := tx.CompletedAt.UTC().Format(time.RFC3339)
		v.CompletedAt = &at
	}
	return v
}

func NewTransactionViews(txs []models.Transaction) []TransactionView {
	out := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, NewTransactionView(tx))
	}
	return out
}

// NewOfferView renders a session; payload may be empty.
func NewOfferView(ps models.PaymentSession, payload string) OfferView {
	return OfferView{
		ID:            ps.ID,
		RecipientID:   ps.RecipientID,
		Amount:        FormatAmount(ps.Amount),
		Currency:      ps.Currency,
		Description:   ps.Description,
		PayerID:       ps.PayerID,
		TransactionID: ps.TransactionID,
		ExpiresAt:     ps.ExpiresAt.UTC().Format(time.RFC3339),
		Payload:       payload,
	}
}

// UserView hides the password hash and formats the balance.
type UserView struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	FullName         string `json:"full_name"`
	Role             string `json:"role"`
	Balance          string `json:"balance"`
	Active           bool   `json:"active"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	CreatedAt        string `json:"created_at"`
}

func NewUserView(u models.User) UserView {
	return UserView{
		ID:               u.ID,
		Email:            u.Email,
		Phone:            u.Phone,
		FullName:         u.FullName,
		Role:             string(u.Role),
		Balance:          FormatAmount(u.Balance),
		Active:           u.Active,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ContactView is what a user sees of another user when picking a recipient.
type ContactView struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

func NewContactViews(users []models.User) []ContactView {
	out := make([]ContactView, 0, len(users))
	for _, u := range users {
		out = append(out, ContactView{ID: u.ID, FullName: u.FullName, Email: u.Email, Phone: u.Phone, Role: string(u.Role)})
	}
	return out
}
