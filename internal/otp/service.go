// Package otp issues and checks single-use numeric step-up codes.
package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/events"
	"github.com/hongminglow/qrpay/internal/keylock"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/random"
	"github.com/hongminglow/qrpay/internal/storage"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultLength      = 6
	DefaultMaxAttempts = 5
)

// Store is the persistence the service needs.
type Store interface {
	storage.TxManager
	storage.OtpStore
}

type Config struct {
	TTL    time.Duration
	Length int
	// MaxAttempts is how many wrong guesses burn a code.
	MaxAttempts int
}

// Service keeps at most one outstanding code per user and purpose. Issue and
// Validate for the same pair are serialized through the lock table.
type Service struct {
	store  Store
	locks  *keylock.Table
	random random.Source
	clock  clock.Clock
	events events.Publisher
	log    *zap.Logger
	cfg    Config
}

func NewService(store Store, locks *keylock.Table, src random.Source, clk clock.Clock, pub events.Publisher, log *zap.Logger, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Length <= 0 {
		cfg.Length = DefaultLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Service{store: store, locks: locks, random: src, clock: clk, events: pub, log: log, cfg: cfg}
}

// LockKey is the lock-table key serializing Issue and Validate for one user
// and purpose. Callers that validate inside their own unit of work hold it
// alongside their other keys.
func LockKey(userID string, purpose models.OtpPurpose) string {
	return "otp:" + userID + ":" + string(purpose)
}

// Issue creates a fresh code for (userID, purpose) and burns any code still
// outstanding for that pair. The code reaches the user through the
// otp.issued event.
func (s *Service) Issue(ctx context.Context, userID string, purpose models.OtpPurpose) (models.OtpCode, error) {
	if strings.TrimSpace(userID) == "" {
		return models.OtpCode{}, apperr.Wrap(apperr.ErrValidation, "user id is required")
	}
	if !purpose.Valid() {
		return models.OtpCode{}, apperr.Wrap(apperr.ErrValidation, "unknown purpose %q", purpose)
	}
	digits, err := s.random.Digits(s.cfg.Length)
	if err != nil {
		return models.OtpCode{}, apperr.Service("generate otp", err)
	}
	now := s.clock.Now()
	code := models.OtpCode{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      digits,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}

	ctx, unlock, err := s.locks.Lock(ctx, LockKey(userID, purpose))
	if err != nil {
		return models.OtpCode{}, apperr.Service("lock otp", err)
	}
	defer unlock()

	err = storage.Atomic(ctx, s.store, func(ctx context.Context) error {
		if _, err := s.store.InvalidateOtps(ctx, userID, purpose); err != nil {
			return err
		}
		return s.store.CreateOtp(ctx, code)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return models.OtpCode{}, apperr.Wrap(apperr.ErrNotFound, "user %s", userID)
	}
	if err != nil {
		s.log.Error("issue otp failed", zap.String("user_id", userID), zap.Error(err))
		return models.OtpCode{}, apperr.Service("issue otp", err)
	}

	s.log.Info("otp issued", zap.String("user_id", userID), zap.String("purpose", string(purpose)))
	events.Emit(ctx, s.events, s.log, events.NewOtpIssued(code, now))
	return code, nil
}

// Validate consumes the outstanding code for (userID, purpose) if it matches.
// A wrong or already used code yields ErrOtpInvalid, a matching code past its
// deadline yields ErrOtpExpired. A wrong guess is recorded against the code
// and the code is burned after MaxAttempts of them; any other failed check
// leaves it untouched.
//
// Called inside a caller's unit of work, the consume commits or rolls back
// with that unit, and the caller must already hold LockKey(userID, purpose).
func (s *Service) Validate(ctx context.Context, userID, code string, purpose models.OtpPurpose) error {
	code = strings.TrimSpace(code)
	if code == "" || userID == "" || !purpose.Valid() {
		return apperr.Wrap(apperr.ErrOtpInvalid, "code is required")
	}

	ctx, unlock, err := s.locks.Lock(ctx, LockKey(userID, purpose))
	if err != nil {
		return apperr.Service("lock otp", err)
	}
	defer unlock()

	// verdict carries a rejected check out of the unit so the attempt
	// counter still commits.
	var verdict error
	err = storage.Atomic(ctx, s.store, func(ctx context.Context) error {
		verdict = nil
		current, err := s.store.OutstandingOtp(ctx, userID, purpose)
		if errors.Is(err, storage.ErrNotFound) {
			verdict = apperr.ErrOtpInvalid
			return nil
		}
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(current.Code), []byte(code)) != 1 {
			verdict = apperr.ErrOtpInvalid
			burned, err := s.store.RecordOtpFailure(ctx, current.ID, s.cfg.MaxAttempts)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			if burned {
				s.log.Warn("otp burned after repeated failures",
					zap.String("user_id", userID), zap.String("purpose", string(purpose)))
			}
			return nil
		}
		if s.clock.Now().After(current.ExpiresAt) {
			verdict = apperr.ErrOtpExpired
			return nil
		}
		if err := s.store.MarkOtpUsed(ctx, current.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				verdict = apperr.ErrOtpInvalid
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		if apperr.IsLogical(err) {
			return err
		}
		s.log.Error("validate otp failed", zap.String("user_id", userID), zap.Error(err))
		return apperr.Service("validate otp", err)
	}
	return verdict
}
