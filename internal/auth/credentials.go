package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/models/dto"
	"github.com/hongminglow/qrpay/internal/storage"
)

// UserStore is the slice of user persistence the credential service reads
// and updates directly.
type UserStore interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	SetTwoFactor(ctx context.Context, id string, enabled bool, at time.Time) error
	UpdateProfile(ctx context.Context, id, fullName, phone string, at time.Time) error
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]models.User, error)
}

// SearchLimit caps how many users one search returns.
const SearchLimit = 10

// AccountOpener creates ledger accounts.
type AccountOpener interface {
	OpenAccount(ctx context.Context, user models.User) (models.User, error)
}

// Codes issues and checks one-time codes.
type Codes interface {
	Issue(ctx context.Context, userID string, purpose models.OtpPurpose) (models.OtpCode, error)
	Validate(ctx context.Context, userID, code string, purpose models.OtpPurpose) error
}

// CredentialService handles registration, password login and the optional
// LOGIN one-time code.
type CredentialService struct {
	users    UserStore
	accounts AccountOpener
	codes    Codes
	tokens   *TokenManager
	clock    clock.Clock
	log      *zap.Logger
}

func NewCredentialService(users UserStore, accounts AccountOpener, codes Codes, tokens *TokenManager, clk clock.Clock, log *zap.Logger) *CredentialService {
	return &CredentialService{users: users, accounts: accounts, codes: codes, tokens: tokens, clock: clk, log: log}
}

// Register validates req, hashes the password and opens an account.
func (s *CredentialService) Register(ctx context.Context, req dto.RegisterRequest) (models.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return models.User{}, err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return models.User{}, apperr.Service("hash password", err)
	}
	user, err := s.accounts.OpenAccount(ctx, models.User{
		Email:        req.Email,
		Phone:        req.Phone,
		FullName:     req.FullName,
		Role:         models.Role(req.Role),
		PasswordHash: hash,
	})
	if err != nil {
		return models.User{}, err
	}
	s.log.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Login checks the password. Users with two-factor enabled get a LOGIN code
// instead of a token and finish with VerifyLogin.
func (s *CredentialService) Login(ctx context.Context, req dto.LoginRequest) (dto.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return dto.LoginResponse{}, err
	}
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, storage.ErrNotFound) {
		return dto.LoginResponse{}, apperr.Wrap(apperr.ErrAuth, "invalid credentials")
	}
	if err != nil {
		s.log.Error("find user failed", zap.Error(err))
		return dto.LoginResponse{}, apperr.Service("find user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return dto.LoginResponse{}, apperr.Wrap(apperr.ErrAuth, "invalid credentials")
	}
	if !user.Active {
		return dto.LoginResponse{}, apperr.Wrap(apperr.ErrInactiveAccount, "account is disabled")
	}

	if user.TwoFactorEnabled {
		if _, err := s.codes.Issue(ctx, user.ID, models.PurposeLogin); err != nil {
			return dto.LoginResponse{}, err
		}
		return dto.LoginResponse{RequiresOTP: true, User: user}, nil
	}
	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return dto.LoginResponse{}, err
	}
	return dto.LoginResponse{Token: token.Value, User: user}, nil
}

// VerifyLogin completes a two-factor login.
func (s *CredentialService) VerifyLogin(ctx context.Context, userID, code string) (dto.LoginResponse, error) {
	if err := s.codes.Validate(ctx, userID, code, models.PurposeLogin); err != nil {
		return dto.LoginResponse{}, err
	}
	user, err := s.user(ctx, userID)
	if err != nil {
		return dto.LoginResponse{}, err
	}
	if !user.Active {
		return dto.LoginResponse{}, apperr.Wrap(apperr.ErrInactiveAccount, "account is disabled")
	}
	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return dto.LoginResponse{}, err
	}
	return dto.LoginResponse{Token: token.Value, User: user}, nil
}

// SetTwoFactor turns the LOGIN code requirement on or off.
func (s *CredentialService) SetTwoFactor(ctx context.Context, userID string, enabled bool) (models.User, error) {
	err := storage.RetryOnce(ctx, func(ctx context.Context) error {
		return s.users.SetTwoFactor(ctx, userID, enabled, s.clock.Now())
	})
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, apperr.Wrap(apperr.ErrNotFound, "user %s", userID)
	}
	if err != nil {
		s.log.Error("set two factor failed", zap.String("user_id", userID), zap.Error(err))
		return models.User{}, apperr.Service("set two factor", err)
	}
	s.log.Info("two factor updated", zap.String("user_id", userID), zap.Bool("enabled", enabled))
	return s.user(ctx, userID)
}

// UpdateProfile changes the caller's name and phone. A phone registered to
// someone else yields ErrConflict.
func (s *CredentialService) UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest) (models.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return models.User{}, err
	}
	current, err := s.user(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if req.FullName == "" {
		req.FullName = current.FullName
	}
	if req.Phone == "" {
		req.Phone = current.Phone
	}

	err = storage.RetryOnce(ctx, func(ctx context.Context) error {
		return s.users.UpdateProfile(ctx, userID, req.FullName, req.Phone, s.clock.Now())
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return models.User{}, apperr.Wrap(apperr.ErrNotFound, "user %s", userID)
	case errors.Is(err, storage.ErrAlreadyExists):
		return models.User{}, apperr.Wrap(apperr.ErrConflict, "phone is already registered")
	case err != nil:
		s.log.Error("update profile failed", zap.String("user_id", userID), zap.Error(err))
		return models.User{}, apperr.Service("update profile", err)
	}
	s.log.Info("profile updated", zap.String("user_id", userID))
	return s.user(ctx, userID)
}

// SearchUsers finds active users other than the caller by name, email or
// phone, for picking a transfer recipient.
func (s *CredentialService) SearchUsers(ctx context.Context, userID, query string) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Wrap(apperr.ErrValidation, "search query is required")
	}
	var users []models.User
	err := storage.RetryOnce(ctx, func(ctx context.Context) error {
		var err error
		users, err = s.users.SearchUsers(ctx, query, userID, SearchLimit)
		return err
	})
	if err != nil {
		s.log.Error("search users failed", zap.Error(err))
		return nil, apperr.Service("search users", err)
	}
	return users, nil
}

// Logout revokes token.
func (s *CredentialService) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

func (s *CredentialService) user(ctx context.Context, id string) (models.User, error) {
	user, err := s.users.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, apperr.Wrap(apperr.ErrNotFound, "user %s", id)
	}
	if err != nil {
		return models.User{}, apperr.Service("load user", err)
	}
	return user, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
