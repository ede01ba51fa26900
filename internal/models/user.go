package models

import "time"

// User is a ledger account holder. Balance is held in minor currency units
// and only changes through a confirmed transfer.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	FullName         string    `json:"full_name"`
	Role             Role      `json:"role"`
	Balance          int64     `json:"balance"`
	Active           bool      `json:"active"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	PasswordHash     string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
