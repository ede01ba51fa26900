package models

import "time"

// PaymentSession is a one-shot, time-bounded request for Amount to be paid to
// RecipientID. PayerID is set for directed offers, which carry a PENDING
// transaction from the moment they are created.
type PaymentSession struct {
	ID            string    `json:"id"`
	RecipientID   string    `json:"recipient_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description,omitempty"`
	PayerID       string    `json:"payer_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Nonce         string    `json:"-"`
	ExpiresAt     time.Time `json:"expires_at"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Expired reports whether the session is past its deadline at now.
func (p PaymentSession) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
