package models

import "time"

// TransactionStatus is the lifecycle state of a transfer attempt.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusExpired   TransactionStatus = "EXPIRED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s != StatusPending
}

// CanTransition reports whether s -> next is a legal move. Only PENDING has
// outgoing edges.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	if s != StatusPending {
		return false
	}
	switch next {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// FailureReason explains a FAILED transaction.
type FailureReason string

const (
	ReasonInsufficientFunds FailureReason = "INSUFFICIENT_FUNDS"
	ReasonInactiveAccount   FailureReason = "INACTIVE_ACCOUNT"
)

// Transaction records one transfer attempt and its outcome. Everything but
// Status, FailureReason and CompletedAt is fixed at creation.
type Transaction struct {
	ID               string            `json:"id"`
	SenderID         string            `json:"sender_id"`
	RecipientID      string            `json:"recipient_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Description      string            `json:"description,omitempty"`
	Status           TransactionStatus `json:"status"`
	FailureReason    FailureReason     `json:"failure_reason,omitempty"`
	PaymentSessionID string            `json:"payment_session_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}
