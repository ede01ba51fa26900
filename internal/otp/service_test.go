package otp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/events"
	"github.com/hongminglow/qrpay/internal/keylock"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/random"
	"github.com/hongminglow/qrpay/internal/storage/memory"
)

// sequence hands out predictable codes.
type sequence struct{ n atomic.Int64 }

func (s *sequence) Digits(int) (string, error) {
	codes := []string{"111111", "222222", "333333", "444444"}
	return codes[int(s.n.Add(1)-1)%len(codes)], nil
}

func (s *sequence) Nonce() (string, error) { return "nonce", nil }

type brokenSource struct{}

func (brokenSource) Digits(int) (string, error) { return "", errors.New("entropy exhausted") }
func (brokenSource) Nonce() (string, error)     { return "", errors.New("entropy exhausted") }

func newService(t *testing.T, src random.Source) (*Service, *clock.Manual, *events.Recorder) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	rec := &events.Recorder{}
	svc := NewService(memory.New(), keylock.New(), src, clk, rec, zap.NewNop(), Config{})
	return svc, clk, rec
}

func TestIssueAndValidateOnce(t *testing.T) {
	svc, clk, rec := newService(t, random.Crypto{})
	ctx := context.Background()

	code, err := svc.Issue(ctx, "u1", models.PurposeTransferConfirm)
	require.NoError(t, err)
	assert.Len(t, code.Code, DefaultLength)
	assert.Equal(t, clk.Now().Add(DefaultTTL), code.ExpiresAt)
	assert.False(t, code.Used)
	assert.Equal(t, []string{events.TypeOtpIssued}, rec.Types())

	require.NoError(t, svc.Validate(ctx, "u1", code.Code, models.PurposeTransferConfirm))
	err = svc.Validate(ctx, "u1", code.Code, models.PurposeTransferConfirm)
	assert.ErrorIs(t, err, apperr.ErrOtpInvalid)
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestValidateScopesByPurposeAndUser(t *testing.T) {
	svc, _, _ := newService(t, &sequence{})
	ctx := context.Background()

	code, err := svc.Issue(ctx, "u1", models.PurposeLogin)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Validate(ctx, "u1", code.Code, models.PurposeTransferConfirm), apperr.ErrOtpInvalid)
	assert.ErrorIs(t, svc.Validate(ctx, "u2", code.Code, models.PurposeLogin), apperr.ErrOtpInvalid)
	assert.ErrorIs(t, svc.Validate(ctx, "u1", "999999", models.PurposeLogin), apperr.ErrOtpInvalid)
	assert.ErrorIs(t, svc.Validate(ctx, "u1", "", models.PurposeLogin), apperr.ErrOtpInvalid)

	require.NoError(t, svc.Validate(ctx, "u1", code.Code, models.PurposeLogin))
}

func TestValidateExpiry(t *testing.T) {
	svc, clk, _ := newService(t, &sequence{})
	ctx := context.Background()

	code, err := svc.Issue(ctx, "u1", models.PurposeLogin)
	require.NoError(t, err)

	clk.Advance(DefaultTTL + time.Second)
	err = svc.Validate(ctx, "u1", code.Code, models.PurposeLogin)
	assert.ErrorIs(t, err, apperr.ErrOtpExpired)
	assert.ErrorIs(t, err, apperr.ErrExpired)

	clk.Set(code.ExpiresAt)
	assert.NoError(t, svc.Validate(ctx, "u1", code.Code, models.PurposeLogin))
}

func TestRepeatedWrongGuessesBurnCode(t *testing.T) {
	svc, _, _ := newService(t, &sequence{})
	ctx := context.Background()

	burned, err := svc.Issue(ctx, "u1", models.PurposeLogin)
	require.NoError(t, err)
	spared, err := svc.Issue(ctx, "u2", models.PurposeLogin)
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts; i++ {
		assert.ErrorIs(t, svc.Validate(ctx, "u1", "000000", models.PurposeLogin), apperr.ErrOtpInvalid)
	}
	for i := 0; i < DefaultMaxAttempts-1; i++ {
		assert.ErrorIs(t, svc.Validate(ctx, "u2", "000000", models.PurposeLogin), apperr.ErrOtpInvalid)
	}

	assert.ErrorIs(t, svc.Validate(ctx, "u1", burned.Code, models.PurposeLogin), apperr.ErrOtpInvalid)
	assert.NoError(t, svc.Validate(ctx, "u2", spared.Code, models.PurposeLogin))

	// A fresh code starts with a clean count.
	again, err := svc.Issue(ctx, "u1", models.PurposeLogin)
	require.NoError(t, err)
	assert.NoError(t, svc.Validate(ctx, "u1", again.Code, models.PurposeLogin))
}

func TestIssueInvalidatesPriorCode(t *testing.T) {
	svc, _, _ := newService(t, &sequence{})
	ctx := context.Background()

	first, err := svc.Issue(ctx, "u1", models.PurposeLogin)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "u1", models.PurposeLogin)
	require.NoError(t, err)
	require.NotEqual(t, first.Code, second.Code)

	other, err := svc.Issue(ctx, "u1", models.PurposeTransferConfirm)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Validate(ctx, "u1", first.Code, models.PurposeLogin), apperr.ErrOtpInvalid)
	assert.NoError(t, svc.Validate(ctx, "u1", second.Code, models.PurposeLogin))
	assert.NoError(t, svc.Validate(ctx, "u1", other.Code, models.PurposeTransferConfirm))
}

func TestConcurrentValidateSucceedsOnce(t *testing.T) {
	svc, _, _ := newService(t, random.Crypto{})
	ctx := context.Background()

	code, err := svc.Issue(ctx, "u1", models.PurposeTransferConfirm)
	require.NoError(t, err)

	var ok, invalid atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			err := svc.Validate(ctx, "u1", code.Code, models.PurposeTransferConfirm)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrOtpInvalid):
				invalid.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), invalid.Load())
}

func TestIssueRejectsBadInput(t *testing.T) {
	svc, _, _ := newService(t, &sequence{})
	ctx := context.Background()

	_, err := svc.Issue(ctx, "", models.PurposeLogin)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Issue(ctx, "u1", "PAYMENT")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	broken, _, rec := newService(t, brokenSource{})
	_, err = broken.Issue(ctx, "u1", models.PurposeLogin)
	assert.ErrorIs(t, err, apperr.ErrService)
	assert.Empty(t, rec.Events())
}
