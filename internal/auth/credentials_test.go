package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/events"
	"github.com/hongminglow/qrpay/internal/keylock"
	"github.com/hongminglow/qrpay/internal/ledger"
	"github.com/hongminglow/qrpay/internal/models/dto"
	"github.com/hongminglow/qrpay/internal/otp"
	"github.com/hongminglow/qrpay/internal/storage/memory"
)

type fixedSource struct{ code string }

func (f fixedSource) Digits(int) (string, error) { return f.code, nil }
func (f fixedSource) Nonce() (string, error)     { return "nonce", nil }

func newCredentials(t *testing.T) (*CredentialService, *TokenManager, *events.Recorder) {
	t.Helper()
	store := memory.New()
	clk := clock.NewManual(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	locks := keylock.New()
	rec := &events.Recorder{}
	codes := otp.NewService(store, locks, fixedSource{code: "135790"}, clk, rec, zap.NewNop(), otp.Config{})
	engine := ledger.NewEngine(store, locks, codes, rec, clk, zap.NewNop(), ledger.Config{OpeningBalance: 5000})
	tokens := NewTokenManager(store, "test-secret", "qrpay-test", 0, clk, zap.NewNop())
	return NewCredentialService(store, engine, codes, tokens, clk, zap.NewNop()), tokens, rec
}

func registration() dto.RegisterRequest {
	return dto.RegisterRequest{
		Email:       " Ana@Example.com ",
		PhoneNumber: "+639170000001",
		FullName:    "Ana Cruz",
		Password:    "correct-horse",
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, tokens, _ := newCredentials(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, registration())
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, "+639170000001", user.Phone)
	assert.Equal(t, int64(5000), user.Balance)
	assert.NotEqual(t, "correct-horse", user.PasswordHash)

	_, err = svc.Register(ctx, registration())
	assert.ErrorIs(t, err, apperr.ErrConflict)

	resp, err := svc.Login(ctx, dto.LoginRequest{Email: "ANA@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.False(t, resp.RequiresOTP)
	userID, err := tokens.Validate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "ana@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, apperr.ErrAuth)
	_, err = svc.Login(ctx, dto.LoginRequest{Email: "nobody@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, apperr.ErrAuth)

	require.NoError(t, svc.Logout(ctx, resp.Token))
	_, err = tokens.Validate(ctx, resp.Token)
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newCredentials(t)
	ctx := context.Background()

	short := registration()
	short.Password = "short"
	_, err := svc.Register(ctx, short)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	badRole := registration()
	badRole.Role = "admin"
	_, err = svc.Register(ctx, badRole)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	merchant := registration()
	merchant.Role = "merchant"
	user, err := svc.Register(ctx, merchant)
	require.NoError(t, err)
	assert.Equal(t, "MERCHANT", string(user.Role))
}

func TestTwoFactorLogin(t *testing.T) {
	svc, tokens, rec := newCredentials(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, registration())
	require.NoError(t, err)
	updated, err := svc.SetTwoFactor(ctx, user.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.TwoFactorEnabled)

	resp, err := svc.Login(ctx, dto.LoginRequest{Email: "ana@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.True(t, resp.RequiresOTP)
	assert.Empty(t, resp.Token)
	assert.Equal(t, []string{events.TypeOtpIssued}, rec.Types())

	_, err = svc.VerifyLogin(ctx, user.ID, "000000")
	assert.ErrorIs(t, err, apperr.ErrOtpInvalid)

	resp, err = svc.VerifyLogin(ctx, user.ID, "135790")
	require.NoError(t, err)
	userID, err := tokens.Validate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = svc.VerifyLogin(ctx, user.ID, "135790")
	assert.ErrorIs(t, err, apperr.ErrOtpInvalid)

	_, err = svc.SetTwoFactor(ctx, "ghost", true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateProfileAndSearch(t *testing.T) {
	svc, _, _ := newCredentials(t)
	ctx := context.Background()

	ana, err := svc.Register(ctx, registration())
	require.NoError(t, err)
	ben, err := svc.Register(ctx, dto.RegisterRequest{
		Email: "ben@example.com", Phone: "+639170000002", FullName: "Ben Reyes", Password: "battery-staple",
	})
	require.NoError(t, err)

	updated, err := svc.UpdateProfile(ctx, ana.ID, dto.UpdateProfileRequest{FullName: " Ana C. Santos "})
	require.NoError(t, err)
	assert.Equal(t, "Ana C. Santos", updated.FullName)
	assert.Equal(t, "+639170000001", updated.Phone)

	_, err = svc.UpdateProfile(ctx, ana.ID, dto.UpdateProfileRequest{Phone: ben.Phone})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = svc.UpdateProfile(ctx, ana.ID, dto.UpdateProfileRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.UpdateProfile(ctx, "ghost", dto.UpdateProfileRequest{FullName: "Nobody"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	updated, err = svc.UpdateProfile(ctx, ana.ID, dto.UpdateProfileRequest{PhoneNumber: "+639170000009"})
	require.NoError(t, err)
	assert.Equal(t, "+639170000009", updated.Phone)

	found, err := svc.SearchUsers(ctx, ben.ID, "santos")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ana.ID, found[0].ID)

	found, err = svc.SearchUsers(ctx, ana.ID, "EXAMPLE.COM")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ben.ID, found[0].ID)

	_, err = svc.SearchUsers(ctx, ana.ID, "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
