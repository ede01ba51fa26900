package models

import "time"

// Session backs an issued access token so it can be revoked before expiry.
// ID doubles as the token's jti claim.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
