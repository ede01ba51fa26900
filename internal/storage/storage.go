package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hongminglow/qrpay/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrTransient marks a failure that may succeed if the whole unit of work is
// run again, such as a serialization failure or a dropped connection.
var ErrTransient = errors.New("transient storage failure")

// TxManager runs fn inside one atomic unit of work. Store methods called with
// the context passed to fn join that unit; any error from fn rolls it back.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// InTx reports whether ctx already belongs to a unit of work.
	InTx(ctx context.Context) bool
}

// UserStore persists account holders and their balances.
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	// LockUsers loads the given users and holds an exclusive lock on each
	// until the enclosing unit of work ends. Locks are taken in ascending id
	// order. Must be called inside WithTx.
	LockUsers(ctx context.Context, ids ...string) (map[string]models.User, error)
	UpdateBalance(ctx context.Context, id string, balance int64, at time.Time) error
	SetTwoFactor(ctx context.Context, id string, enabled bool, at time.Time) error
	// UpdateProfile overwrites the display name and phone. A phone held by
	// another user yields ErrAlreadyExists.
	UpdateProfile(ctx context.Context, id, fullName, phone string, at time.Time) error
	// SearchUsers returns up to limit active users other than excludeID whose
	// name, email or phone contains query, ignoring case.
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]models.User, error)
}

// Totals aggregates a user's completed transfers.
type Totals struct {
	Sent      int64
	Received  int64
	Completed int
}

// TransactionStore persists transfer attempts.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx models.Transaction) error
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	// LockTransaction is GetTransaction with a row lock held until the
	// enclosing unit of work ends.
	LockTransaction(ctx context.Context, id string) (models.Transaction, error)
	// FinishTransaction writes the status, failure reason and completion time
	// of a transaction that is still PENDING. It returns ErrNotFound when no
	// pending row with that id exists.
	FinishTransaction(ctx context.Context, tx models.Transaction) error
	// ListTransactions returns a newest-first page of transactions the user
	// sent or received plus the total count.
	ListTransactions(ctx context.Context, userID string, offset, limit int) ([]models.Transaction, int, error)
	TransactionTotals(ctx context.Context, userID string) (Totals, error)
}

// PaymentSessionStore persists QR offers.
type PaymentSessionStore interface {
	CreatePaymentSession(ctx context.Context, ps models.PaymentSession) error
	GetPaymentSession(ctx context.Context, id string) (models.PaymentSession, error)
	LockPaymentSession(ctx context.Context, id string) (models.PaymentSession, error)
	// DeactivatePaymentSession flips an active session to inactive and links
	// transactionID when non-empty. It returns ErrNotFound when no active
	// session with that id exists.
	DeactivatePaymentSession(ctx context.Context, id, transactionID string) error
	// ExpiredPaymentSessions lists up to limit sessions still marked active
	// whose deadline is before now.
	ExpiredPaymentSessions(ctx context.Context, now time.Time, limit int) ([]models.PaymentSession, error)
}

// OtpStore persists one-time codes.
type OtpStore interface {
	CreateOtp(ctx context.Context, code models.OtpCode) error
	// InvalidateOtps marks every unused code for (userID, purpose) as used.
	InvalidateOtps(ctx context.Context, userID string, purpose models.OtpPurpose) (int64, error)
	// OutstandingOtp returns the newest unused code for (userID, purpose).
	OutstandingOtp(ctx context.Context, userID string, purpose models.OtpPurpose) (models.OtpCode, error)
	// MarkOtpUsed flips an unused code to used and returns ErrNotFound if the
	// code was already used.
	MarkOtpUsed(ctx context.Context, id string) error
	// RecordOtpFailure counts a wrong guess against an unused code and marks
	// it used once the count reaches limit. burned reports that it did.
	RecordOtpFailure(ctx context.Context, id string, limit int) (burned bool, err error)
	DeleteExpiredOtps(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore persists access-token sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s models.Session) error
	GetSession(ctx context.Context, id string) (models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full persistence contract used by the core components.
type Store interface {
	TxManager
	UserStore
	TransactionStore
	PaymentSessionStore
	OtpStore
	SessionStore
	Ping(ctx context.Context) error
	Close()
}
