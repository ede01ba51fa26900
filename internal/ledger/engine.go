// Package ledger owns user balances and the transaction record. Confirm is
// the only operation that moves money.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/events"
	"github.com/hongminglow/qrpay/internal/keylock"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/otp"
	"github.com/hongminglow/qrpay/internal/storage"
)

// Store is the persistence the engine needs.
type Store interface {
	storage.TxManager
	storage.UserStore
	storage.TransactionStore
	storage.PaymentSessionStore
}

// OtpValidator checks step-up codes.
type OtpValidator interface {
	Validate(ctx context.Context, userID, code string, purpose models.OtpPurpose) error
}

// Config tunes the engine.
type Config struct {
	Currency string
	// OpeningBalance is credited to every new account, in minor units.
	OpeningBalance int64
	// StepUpThreshold is the amount, in minor units, at or above which
	// confirmation needs a TRANSFER_CONFIRM code. Zero disables step-up.
	StepUpThreshold int64
}

// Engine executes transfers. Balance-affecting work on an account is
// serialized through the shared lock table and, in the database, by row
// locks taken in ascending id order.
type Engine struct {
	store  Store
	locks  *keylock.Table
	otp    OtpValidator
	events events.Publisher
	clock  clock.Clock
	log    *zap.Logger
	cfg    Config
}

func NewEngine(store Store, locks *keylock.Table, codes OtpValidator, pub events.Publisher, clk clock.Clock, log *zap.Logger, cfg Config) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = "PHP"
	}
	return &Engine{store: store, locks: locks, otp: codes, events: pub, clock: clk, log: log, cfg: cfg}
}

// AccountKey is the lock-table key guarding one account's balance.
func AccountKey(userID string) string { return "account:" + userID }

// Currency returns the ledger currency.
func (e *Engine) Currency() string { return e.cfg.Currency }

// OpenAccount stores a new active user with the configured opening balance.
func (e *Engine) OpenAccount(ctx context.Context, user models.User) (models.User, error) {
	now := e.clock.Now()
	user.ID = uuid.NewString()
	user.Balance = e.cfg.OpeningBalance
	user.Active = true
	user.CreatedAt = now
	user.UpdatedAt = now
	if !user.Role.Valid() {
		return models.User{}, apperr.Wrap(apperr.ErrValidation, "unknown role %q", user.Role)
	}

	var created models.User
	err := storage.RetryOnce(ctx, func(ctx context.Context) error {
		var err error
		created, err = e.store.CreateUser(ctx, user)
		return err
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return models.User{}, apperr.Wrap(apperr.ErrConflict, "email or phone already registered")
	}
	if err != nil {
		return models.User{}, e.fail(ctx, "open account", err)
	}
	return created, nil
}

// InitiateOption adjusts a new transaction.
type InitiateOption func(*models.Transaction)

// ForPaymentSession links the transaction to the offer it settles.
func ForPaymentSession(sessionID string) InitiateOption {
	return func(tx *models.Transaction) { tx.PaymentSessionID = sessionID }
}

// InitiateTransfer records a PENDING transaction after checking both
// parties exist and are active. No balance changes.
func (e *Engine) InitiateTransfer(ctx context.Context, senderID, recipientID string, amount int64, description string, opts ...InitiateOption) (models.Transaction, error) {
	senderID, recipientID = strings.TrimSpace(senderID), strings.TrimSpace(recipientID)
	switch {
	case senderID == "" || recipientID == "":
		return models.Transaction{}, apperr.Wrap(apperr.ErrValidation, "sender and recipient are required")
	case amount <= 0:
		return models.Transaction{}, apperr.Wrap(apperr.ErrValidation, "amount must be positive, got %d", amount)
	case senderID == recipientID:
		return models.Transaction{}, apperr.Wrap(apperr.ErrValidation, "cannot transfer to self")
	}

	tx := models.Transaction{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      amount,
		Currency:    e.cfg.Currency,
		Description: strings.TrimSpace(description),
		Status:      models.StatusPending,
		CreatedAt:   e.clock.Now(),
	}
	for _, opt := range opts {
		opt(&tx)
	}

	err := storage.Atomic(ctx, e.store, func(ctx context.Context) error {
		for _, id := range []string{senderID, recipientID} {
			u, err := e.store.GetUser(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.Wrap(apperr.ErrNotFound, "user %s", id)
			}
			if err != nil {
				return err
			}
			if !u.Active {
				return apperr.Wrap(apperr.ErrInactiveAccount, "user %s", id)
			}
		}
		return e.store.CreateTransaction(ctx, tx)
	})
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "initiate transfer", err)
	}
	e.log.Info("transfer initiated",
		zap.String("transaction_id", tx.ID),
		zap.String("sender_id", senderID),
		zap.String("recipient_id", recipientID),
		zap.Int64("amount", amount),
	)
	return tx, nil
}

type confirmOptions struct {
	otp      string
	actor    string
	verified bool
}

// ConfirmOption adjusts ConfirmTransfer.
type ConfirmOption func(*confirmOptions)

// WithOTP supplies the TRANSFER_CONFIRM code for amounts over the step-up
// threshold.
func WithOTP(code string) ConfirmOption {
	return func(o *confirmOptions) { o.otp = strings.TrimSpace(code) }
}

// ActingAs rejects the call unless userID is the sender.
func ActingAs(userID string) ConfirmOption {
	return func(o *confirmOptions) { o.actor = userID }
}

// StepUpVerified tells the engine the caller already validated the
// TRANSFER_CONFIRM code for this transaction.
func StepUpVerified() ConfirmOption {
	return func(o *confirmOptions) { o.verified = true }
}

// RequiresStepUp reports whether confirming amount needs a one-time code.
func (e *Engine) RequiresStepUp(amount int64) bool {
	return e.cfg.StepUpThreshold > 0 && amount >= e.cfg.StepUpThreshold
}

// ConfirmTransfer settles a PENDING transaction. With enough funds and an
// active recipient it debits the sender, credits the recipient and marks the
// transaction COMPLETED in one unit of work. Otherwise the transaction is
// marked FAILED, balances are untouched, and the stored transaction is
// returned together with ErrInsufficientFunds or ErrInactiveAccount.
//
// A transaction that is already terminal is returned as stored, with the
// same error its outcome produced the first time.
//
// Called with a context that is already inside a unit of work, the confirm
// joins it and publishes nothing; the outer caller owns the commit.
func (e *Engine) ConfirmTransfer(ctx context.Context, id string, opts ...ConfirmOption) (models.Transaction, error) {
	var o confirmOptions
	for _, opt := range opts {
		opt(&o)
	}
	nested := e.store.InTx(ctx)

	current, err := e.store.GetTransaction(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Transaction{}, apperr.Wrap(apperr.ErrNotFound, "transaction %s", id)
	}
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "load transaction", err)
	}
	if o.actor != "" && o.actor != current.SenderID {
		return models.Transaction{}, apperr.Wrap(apperr.ErrAuth, "only the sender may confirm")
	}
	if current.Status.Terminal() {
		return current, Outcome(current)
	}

	keys := []string{AccountKey(current.SenderID), AccountKey(current.RecipientID)}
	var verify func(context.Context) error
	if !o.verified && e.RequiresStepUp(current.Amount) {
		if err := e.checkStepUp(o.otp); err != nil {
			return current, err
		}
		keys = append(keys, otp.LockKey(current.SenderID, models.PurposeTransferConfirm))
		verify = func(ctx context.Context) error {
			return e.otp.Validate(ctx, current.SenderID, o.otp, models.PurposeTransferConfirm)
		}
	}

	ctx, unlock, err := e.locks.Lock(ctx, keys...)
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "lock accounts", err)
	}
	defer unlock()

	var (
		result  models.Transaction
		settled bool
		// rejected is a refused step-up code. The unit still commits so the
		// wrong guess is counted, but nothing else has changed.
		rejected error
	)
	err = storage.Atomic(ctx, e.store, func(ctx context.Context) error {
		var err error
		rejected = nil
		result, settled, err = e.settle(ctx, id, verify)
		if apperr.IsLogical(err) {
			rejected = err
			return nil
		}
		return err
	})
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "confirm transfer", err)
	}
	if rejected != nil {
		return current, rejected
	}
	if settled {
		e.logOutcome(result)
		if !nested {
			events.Emit(ctx, e.events, e.log, events.NewTransfer(result, e.clock.Now(), false))
		}
	}
	return result, Outcome(result)
}

// settle runs inside a unit of work with both account locks held. settled
// is false when another caller finished the transaction first. verify, when
// set, consumes the step-up code in the same unit so a settle that does not
// commit leaves the code usable.
func (e *Engine) settle(ctx context.Context, id string, verify func(context.Context) error) (models.Transaction, bool, error) {
	tx, err := e.store.LockTransaction(ctx, id)
	if err != nil {
		return models.Transaction{}, false, err
	}
	if tx.Status.Terminal() {
		return tx, false, nil
	}
	if verify != nil {
		if err := verify(ctx); err != nil {
			return models.Transaction{}, false, err
		}
	}

	users, err := e.store.LockUsers(ctx, tx.SenderID, tx.RecipientID)
	if err != nil {
		return models.Transaction{}, false, err
	}
	sender, recipient := users[tx.SenderID], users[tx.RecipientID]
	now := e.clock.Now()

	switch {
	case !sender.Active || !recipient.Active:
		tx.Status, tx.FailureReason = models.StatusFailed, models.ReasonInactiveAccount
	case sender.Balance < tx.Amount:
		tx.Status, tx.FailureReason = models.StatusFailed, models.ReasonInsufficientFunds
	default:
		if err := e.store.UpdateBalance(ctx, sender.ID, sender.Balance-tx.Amount, now); err != nil {
			return models.Transaction{}, false, err
		}
		if err := e.store.UpdateBalance(ctx, recipient.ID, recipient.Balance+tx.Amount, now); err != nil {
			return models.Transaction{}, false, err
		}
		tx.Status = models.StatusCompleted
		tx.CompletedAt = &now
	}

	if err := e.store.FinishTransaction(ctx, tx); err != nil {
		return models.Transaction{}, false, err
	}
	return tx, true, nil
}

// checkStepUp rejects a missing code before any lock is taken.
func (e *Engine) checkStepUp(code string) error {
	if strings.TrimSpace(code) == "" {
		return apperr.Wrap(apperr.ErrOtpInvalid, "transfers of this size need a one-time code")
	}
	if e.otp == nil {
		return apperr.Service("step-up", errors.New("no otp validator configured"))
	}
	return nil
}

// CancelTransfer lets the sender abandon a PENDING transaction. A linked
// offer is deactivated in the same unit of work.
func (e *Engine) CancelTransfer(ctx context.Context, id, userID string) (models.Transaction, error) {
	current, err := e.store.GetTransaction(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Transaction{}, apperr.Wrap(apperr.ErrNotFound, "transaction %s", id)
	}
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "load transaction", err)
	}
	if current.SenderID != userID {
		return models.Transaction{}, apperr.Wrap(apperr.ErrAuth, "only the sender may cancel")
	}

	keys := []string{AccountKey(current.SenderID), AccountKey(current.RecipientID)}
	if current.PaymentSessionID != "" {
		keys = append(keys, OfferKey(current.PaymentSessionID))
	}
	ctx, unlock, err := e.locks.Lock(ctx, keys...)
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "lock accounts", err)
	}
	defer unlock()

	var result models.Transaction
	err = storage.Atomic(ctx, e.store, func(ctx context.Context) error {
		tx, err := e.store.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx.Status.Terminal() {
			return apperr.Wrap(apperr.ErrConflict, "transaction is already %s", tx.Status)
		}
		tx.Status = models.StatusCancelled
		if err := e.store.FinishTransaction(ctx, tx); err != nil {
			return err
		}
		if tx.PaymentSessionID != "" {
			err := e.store.DeactivatePaymentSession(ctx, tx.PaymentSessionID, "")
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		result = tx
		return nil
	})
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "cancel transfer", err)
	}
	e.log.Info("transfer cancelled", zap.String("transaction_id", id))
	return result, nil
}

// ExpireTransfer moves a PENDING transaction linked to an offer to EXPIRED.
// It is driven by the offer lifecycle, never by the ledger itself.
func (e *Engine) ExpireTransfer(ctx context.Context, id string) (models.Transaction, error) {
	current, err := e.store.GetTransaction(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Transaction{}, apperr.Wrap(apperr.ErrNotFound, "transaction %s", id)
	}
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "load transaction", err)
	}
	if current.PaymentSessionID == "" {
		return models.Transaction{}, apperr.Wrap(apperr.ErrValidation, "transaction %s has no payment session", id)
	}

	ctx, unlock, err := e.locks.Lock(ctx, AccountKey(current.SenderID), AccountKey(current.RecipientID))
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "lock accounts", err)
	}
	defer unlock()

	var result models.Transaction
	err = storage.Atomic(ctx, e.store, func(ctx context.Context) error {
		tx, err := e.store.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !tx.Status.CanTransition(models.StatusExpired) {
			result = tx
			return nil
		}
		tx.Status = models.StatusExpired
		if err := e.store.FinishTransaction(ctx, tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "expire transfer", err)
	}
	return result, nil
}

// OfferKey is the lock-table key guarding one payment session.
func OfferKey(sessionID string) string { return "offer:" + sessionID }

// Outcome maps a terminal transaction to the error its caller receives.
// PENDING and COMPLETED map to nil.
func Outcome(tx models.Transaction) error {
	switch tx.Status {
	case models.StatusFailed:
		if tx.FailureReason == models.ReasonInactiveAccount {
			return apperr.Wrap(apperr.ErrInactiveAccount, "transaction %s failed", tx.ID)
		}
		return apperr.Wrap(apperr.ErrInsufficientFunds, "transaction %s failed", tx.ID)
	case models.StatusExpired:
		return apperr.Wrap(apperr.ErrExpired, "transaction %s expired", tx.ID)
	case models.StatusCancelled:
		return apperr.Wrap(apperr.ErrConflict, "transaction %s was cancelled", tx.ID)
	}
	return nil
}

func (e *Engine) logOutcome(tx models.Transaction) {
	fields := []zap.Field{
		zap.String("transaction_id", tx.ID),
		zap.String("sender_id", tx.SenderID),
		zap.String("recipient_id", tx.RecipientID),
		zap.Int64("amount", tx.Amount),
	}
	if tx.Status == models.StatusCompleted {
		e.log.Info("transfer completed", fields...)
		return
	}
	e.log.Info("transfer failed", append(fields, zap.String("reason", string(tx.FailureReason)))...)
}

// fail converts whatever escaped a unit of work into the error taxonomy.
// Request-level kinds pass through; storage failures become ErrService.
// Inside an outer unit of work storage errors are returned untouched so the
// outermost caller can still recognise a transient failure and retry.
func (e *Engine) fail(ctx context.Context, op string, err error) error {
	switch {
	case apperr.IsLogical(err):
		return err
	case e.store.InTx(ctx):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperr.Wrap(apperr.ErrNotFound, "%s", op)
	case errors.Is(err, storage.ErrAlreadyExists):
		return apperr.Wrap(apperr.ErrConflict, "%s", op)
	}
	e.log.Error(op+" failed", zap.Error(err))
	return apperr.Service(op, err)
}
