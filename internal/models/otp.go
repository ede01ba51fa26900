package models

import "time"

// OtpPurpose scopes a code to the action it may authorize.
type OtpPurpose string

const (
	PurposeLogin           OtpPurpose = "LOGIN"
	PurposeTransferConfirm OtpPurpose = "TRANSFER_CONFIRM"
)

// Valid reports whether p is a known purpose.
func (p OtpPurpose) Valid() bool {
	return p == PurposeLogin || p == PurposeTransferConfirm
}

// OtpCode is a single-use numeric code. Only Used and Attempts change after
// creation.
type OtpCode struct {
	ID        string
	UserID    string
	Code      string
	Purpose   OtpPurpose
	ExpiresAt time.Time
	Used      bool
	// Attempts counts wrong guesses against this code.
	Attempts  int
	CreatedAt time.Time
}
