// Package payments runs the QR offer workflow: a recipient publishes a
// one-shot, time-bounded request and the first eligible payer settles it
// through the ledger.
package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/events"
	"github.com/hongminglow/qrpay/internal/keylock"
	"github.com/hongminglow/qrpay/internal/ledger"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/otp"
	"github.com/hongminglow/qrpay/internal/random"
	"github.com/hongminglow/qrpay/internal/storage"
)

const DefaultTTL = 10 * time.Minute

// Store is the persistence the manager needs.
type Store interface {
	storage.TxManager
	storage.PaymentSessionStore
	GetUser(ctx context.Context, id string) (models.User, error)
}

// Ledger is the part of ledger.Engine that settles offers.
type Ledger interface {
	InitiateTransfer(ctx context.Context, senderID, recipientID string, amount int64, description string, opts ...ledger.InitiateOption) (models.Transaction, error)
	ConfirmTransfer(ctx context.Context, id string, opts ...ledger.ConfirmOption) (models.Transaction, error)
	ExpireTransfer(ctx context.Context, id string) (models.Transaction, error)
	RequiresStepUp(amount int64) bool
	Currency() string
}

// OtpValidator checks step-up codes.
type OtpValidator interface {
	Validate(ctx context.Context, userID, code string, purpose models.OtpPurpose) error
}

type Config struct {
	TTL time.Duration
}

type Manager struct {
	store  Store
	ledger Ledger
	otp    OtpValidator
	locks  *keylock.Table
	random random.Source
	codec  *Codec
	clock  clock.Clock
	events events.Publisher
	log    *zap.Logger
	cfg    Config
}

func NewManager(store Store, l Ledger, codes OtpValidator, locks *keylock.Table, src random.Source, codec *Codec, clk clock.Clock, pub events.Publisher, log *zap.Logger, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Manager{
		store: store, ledger: l, otp: codes, locks: locks, random: src, codec: codec,
		clock: clk, events: pub, log: log, cfg: cfg,
	}
}

type offerOptions struct {
	ttl   time.Duration
	payer string
}

// OfferOption adjusts CreateOffer.
type OfferOption func(*offerOptions)

// WithTTL overrides the configured lifetime.
func WithTTL(d time.Duration) OfferOption {
	return func(o *offerOptions) { o.ttl = d }
}

// DirectedTo restricts the offer to one payer. The PENDING transaction is
// created with the offer and expires with it.
func DirectedTo(payerID string) OfferOption {
	return func(o *offerOptions) { o.payer = strings.TrimSpace(payerID) }
}

// CreateOffer stores an active payment session asking for amount on behalf
// of recipientID.
func (m *Manager) CreateOffer(ctx context.Context, recipientID string, amount int64, description string, opts ...OfferOption) (models.PaymentSession, error) {
	o := offerOptions{ttl: m.cfg.TTL}
	for _, opt := range opts {
		opt(&o)
	}
	switch {
	case amount <= 0:
		return models.PaymentSession{}, apperr.Wrap(apperr.ErrValidation, "amount must be positive, got %d", amount)
	case o.ttl <= 0:
		return models.PaymentSession{}, apperr.Wrap(apperr.ErrValidation, "ttl must be positive")
	case o.payer == recipientID:
		return models.PaymentSession{}, apperr.Wrap(apperr.ErrValidation, "cannot request payment from self")
	}

	recipient, err := m.store.GetUser(ctx, recipientID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.PaymentSession{}, apperr.Wrap(apperr.ErrNotFound, "user %s", recipientID)
	}
	if err != nil {
		return models.PaymentSession{}, m.fail("load recipient", err)
	}
	if !recipient.Active {
		return models.PaymentSession{}, apperr.Wrap(apperr.ErrInactiveAccount, "user %s", recipientID)
	}

	nonce, err := m.random.Nonce()
	if err != nil {
		return models.PaymentSession{}, apperr.Service("generate nonce", err)
	}
	now := m.clock.Now()
	ps := models.PaymentSession{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Amount:      amount,
		Currency:    m.ledger.Currency(),
		Description: strings.TrimSpace(description),
		PayerID:     o.payer,
		Nonce:       nonce,
		ExpiresAt:   now.Add(o.ttl),
		Active:      true,
		CreatedAt:   now,
	}

	err = storage.Atomic(ctx, m.store, func(ctx context.Context) error {
		ps.TransactionID = ""
		if ps.PayerID != "" {
			tx, err := m.ledger.InitiateTransfer(ctx, ps.PayerID, recipientID, amount, ps.Description, ledger.ForPaymentSession(ps.ID))
			if err != nil {
				return err
			}
			ps.TransactionID = tx.ID
		}
		return m.store.CreatePaymentSession(ctx, ps)
	})
	if err != nil {
		return models.PaymentSession{}, m.fail("create offer", err)
	}
	m.log.Info("offer created",
		zap.String("session_id", ps.ID),
		zap.String("recipient_id", recipientID),
		zap.Int64("amount", amount),
		zap.Bool("directed", ps.PayerID != ""),
	)
	return ps, nil
}

// GetOffer returns a session that can still be redeemed.
func (m *Manager) GetOffer(ctx context.Context, id string) (models.PaymentSession, error) {
	ps, err := m.store.GetPaymentSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.PaymentSession{}, apperr.Wrap(apperr.ErrNotFound, "offer %s", id)
	}
	if err != nil {
		return models.PaymentSession{}, m.fail("get offer", err)
	}
	if !ps.Active || ps.Expired(m.clock.Now()) {
		return models.PaymentSession{}, apperr.Wrap(apperr.ErrExpired, "offer %s is no longer active", id)
	}
	return ps, nil
}

// Payload returns the signed string to embed in the QR code.
func (m *Manager) Payload(ps models.PaymentSession) (string, error) {
	payload, err := m.codec.Encode(ps)
	if err != nil {
		return "", apperr.Service("encode offer", err)
	}
	return payload, nil
}

// RenderPNG draws the QR code of an active offer.
func (m *Manager) RenderPNG(ctx context.Context, id string, size int) ([]byte, error) {
	ps, err := m.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := m.Payload(ps)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, apperr.Service("render qr", err)
	}
	return png, nil
}

// Resolve verifies a scanned payload and returns the live session behind it.
func (m *Manager) Resolve(ctx context.Context, payload string) (models.PaymentSession, error) {
	decoded, err := m.codec.Decode(strings.TrimSpace(payload))
	if err != nil {
		return models.PaymentSession{}, err
	}
	ps, err := m.GetOffer(ctx, decoded.SessionID)
	if err != nil {
		return models.PaymentSession{}, err
	}
	if ps.Nonce != decoded.Nonce || ps.Amount != decoded.Amount || ps.RecipientID != decoded.RecipientID {
		return models.PaymentSession{}, apperr.Wrap(apperr.ErrAuth, "offer payload does not match session")
	}
	return ps, nil
}

type redeemOptions struct {
	otp string
}

// RedeemOption adjusts Redeem.
type RedeemOption func(*redeemOptions)

// WithOTP supplies the TRANSFER_CONFIRM code for offers over the step-up
// threshold.
func WithOTP(code string) RedeemOption {
	return func(o *redeemOptions) { o.otp = strings.TrimSpace(code) }
}

// Redeem pays an offer from senderID. Checking the session, creating and
// confirming the transaction and deactivating the session happen in one unit
// of work under the offer's lock, so concurrent redemptions of the same
// offer settle at most once.
//
// A session past its deadline or already inactive yields ErrExpired. When
// the payer lacks funds the FAILED transaction is returned with
// ErrInsufficientFunds; an open offer stays redeemable, a directed one is
// closed because its transaction is terminal.
func (m *Manager) Redeem(ctx context.Context, sessionID, senderID string, opts ...RedeemOption) (models.Transaction, error) {
	var o redeemOptions
	for _, opt := range opts {
		opt(&o)
	}

	ps, err := m.store.GetPaymentSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Transaction{}, apperr.Wrap(apperr.ErrNotFound, "offer %s", sessionID)
	}
	if err != nil {
		return models.Transaction{}, m.fail("load offer", err)
	}
	if err := m.redeemable(ctx, ps, senderID); err != nil {
		return models.Transaction{}, err
	}
	keys := []string{ledger.OfferKey(sessionID), ledger.AccountKey(senderID), ledger.AccountKey(ps.RecipientID)}
	stepUp := m.ledger.RequiresStepUp(ps.Amount)
	if stepUp {
		if o.otp == "" {
			return models.Transaction{}, apperr.Wrap(apperr.ErrOtpInvalid, "payments of this size need a one-time code")
		}
		keys = append(keys, otp.LockKey(senderID, models.PurposeTransferConfirm))
	}

	ctx, unlock, err := m.locks.Lock(ctx, keys...)
	if err != nil {
		return models.Transaction{}, m.fail("lock offer", err)
	}
	defer unlock()

	var (
		result  models.Transaction
		outcome error
		expired bool
		// rejected is a refused step-up code; the unit commits only the
		// attempt count.
		rejected error
	)
	err = storage.Atomic(ctx, m.store, func(ctx context.Context) error {
		result, outcome, expired, rejected = models.Transaction{}, nil, false, nil

		ps, err := m.store.LockPaymentSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ps.Active {
			return apperr.Wrap(apperr.ErrExpired, "offer %s is no longer active", sessionID)
		}
		if ps.Expired(m.clock.Now()) {
			expired = true
			return m.closeExpired(ctx, ps)
		}
		if stepUp {
			err := m.otp.Validate(ctx, senderID, o.otp, models.PurposeTransferConfirm)
			if apperr.IsLogical(err) {
				rejected = err
				return nil
			}
			if err != nil {
				return err
			}
		}

		txID := ps.TransactionID
		if ps.PayerID == "" {
			tx, err := m.ledger.InitiateTransfer(ctx, senderID, ps.RecipientID, ps.Amount, ps.Description, ledger.ForPaymentSession(ps.ID))
			if err != nil {
				return err
			}
			txID = tx.ID
		}

		result, outcome = m.ledger.ConfirmTransfer(ctx, txID, ledger.ActingAs(senderID), ledger.StepUpVerified())
		switch {
		case outcome == nil:
			return m.store.DeactivatePaymentSession(ctx, ps.ID, txID)
		case result.Status == models.StatusFailed:
			if ps.PayerID != "" {
				return m.store.DeactivatePaymentSession(ctx, ps.ID, "")
			}
			return nil
		}
		return outcome
	})
	if err != nil {
		return models.Transaction{}, m.fail("redeem offer", err)
	}
	if expired {
		return models.Transaction{}, apperr.Wrap(apperr.ErrExpired, "offer %s expired", sessionID)
	}
	if rejected != nil {
		return models.Transaction{}, rejected
	}

	m.log.Info("offer redeem settled",
		zap.String("session_id", sessionID),
		zap.String("transaction_id", result.ID),
		zap.String("status", string(result.Status)),
	)
	events.Emit(ctx, m.events, m.log, events.NewTransfer(result, m.clock.Now(), true))
	return result, outcome
}

// redeemable runs the cheap checks before any lock is taken. An active
// session found past its deadline is closed on the spot.
func (m *Manager) redeemable(ctx context.Context, ps models.PaymentSession, senderID string) error {
	if !ps.Active {
		return apperr.Wrap(apperr.ErrExpired, "offer %s is no longer active", ps.ID)
	}
	if ps.Expired(m.clock.Now()) {
		if err := m.expireOffer(ctx, ps); err != nil {
			m.log.Warn("close expired offer failed", zap.String("session_id", ps.ID), zap.Error(err))
		}
		return apperr.Wrap(apperr.ErrExpired, "offer %s expired", ps.ID)
	}
	if ps.PayerID != "" && ps.PayerID != senderID {
		return apperr.Wrap(apperr.ErrAuth, "offer %s is addressed to another payer", ps.ID)
	}
	if senderID == ps.RecipientID {
		return apperr.Wrap(apperr.ErrValidation, "cannot pay own offer")
	}
	return nil
}

// ExpireStale closes up to limit active sessions whose deadline has passed
// and expires their pending transactions. It returns how many it closed.
func (m *Manager) ExpireStale(ctx context.Context, limit int) (int, error) {
	stale, err := m.store.ExpiredPaymentSessions(ctx, m.clock.Now(), limit)
	if err != nil {
		return 0, m.fail("list expired offers", err)
	}
	closed := 0
	for _, ps := range stale {
		if err := m.expireOffer(ctx, ps); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func (m *Manager) expireOffer(ctx context.Context, ps models.PaymentSession) error {
	keys := []string{ledger.OfferKey(ps.ID), ledger.AccountKey(ps.RecipientID)}
	if ps.PayerID != "" {
		keys = append(keys, ledger.AccountKey(ps.PayerID))
	}
	ctx, unlock, err := m.locks.Lock(ctx, keys...)
	if err != nil {
		return m.fail("lock offer", err)
	}
	defer unlock()

	err = storage.Atomic(ctx, m.store, func(ctx context.Context) error {
		current, err := m.store.LockPaymentSession(ctx, ps.ID)
		if err != nil {
			return err
		}
		if !current.Active || !current.Expired(m.clock.Now()) {
			return nil
		}
		return m.closeExpired(ctx, current)
	})
	if err != nil {
		return m.fail("expire offer", err)
	}
	m.log.Info("offer expired", zap.String("session_id", ps.ID))
	return nil
}

// closeExpired deactivates ps and expires its linked PENDING transaction.
// Runs inside a unit of work holding the offer and account locks.
func (m *Manager) closeExpired(ctx context.Context, ps models.PaymentSession) error {
	if err := m.store.DeactivatePaymentSession(ctx, ps.ID, ""); err != nil {
		return err
	}
	if ps.TransactionID == "" {
		return nil
	}
	_, err := m.ledger.ExpireTransfer(ctx, ps.TransactionID)
	return err
}

func (m *Manager) fail(op string, err error) error {
	switch {
	case apperr.IsLogical(err):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperr.Wrap(apperr.ErrNotFound, "%s", op)
	case errors.Is(err, storage.ErrAlreadyExists):
		return apperr.Wrap(apperr.ErrConflict, "%s", op)
	}
	m.log.Error(op+" failed", zap.Error(err))
	return apperr.Service(op, err)
}
