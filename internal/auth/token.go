package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

const (
	DefaultTTL = 24 * time.Hour

	accessAudience = "api"
)

// SessionStore persists the server side of issued tokens.
type SessionStore interface {
	CreateSession(ctx context.Context, s models.Session) error
	GetSession(ctx context.Context, id string) (models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// TokenManager issues signed access tokens backed by a session record, so a
// token can be revoked before it expires.
type TokenManager struct {
	store  SessionStore
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
	log    *zap.Logger
}

// NewTokenManager creates a manager with the provided secret, issuer, and lifetime.
func NewTokenManager(store SessionStore, secret, issuer string, ttl time.Duration, clk clock.Clock, log *zap.Logger) *TokenManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenManager{
		store:  store,
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		clock:  clk,
		log:    log,
	}
}

// Token is a freshly issued access token.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue signs a token for userID and records its session.
func (t *TokenManager) Issue(ctx context.Context, userID string) (Token, error) {
	if strings.TrimSpace(userID) == "" {
		return Token{}, apperr.Wrap(apperr.ErrValidation, "user id is required")
	}
	now := t.clock.Now()
	sess := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(t.ttl),
		CreatedAt: now,
	}
	claims := jwt.MapClaims{
		"iss": t.issuer,
		"aud": accessAudience,
		"sub": userID,
		"jti": sess.ID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": sess.ExpiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return Token{}, apperr.Service("sign token", err)
	}
	sess.TokenHash = hashToken(signed)

	err = storage.RetryOnce(ctx, func(ctx context.Context) error {
		return t.store.CreateSession(ctx, sess)
	})
	if err != nil {
		t.log.Error("create session failed", zap.String("user_id", userID), zap.Error(err))
		return Token{}, apperr.Service("create session", err)
	}
	return Token{Value: signed, ExpiresAt: sess.ExpiresAt}, nil
}

// Validate returns the user a token belongs to. A bad signature or a
// revoked token yields ErrAuth; a token past its expiry yields
// ErrSessionExpired.
func (t *TokenManager) Validate(ctx context.Context, token string) (string, error) {
	claims, err := t.parse(token, jwt.WithTimeFunc(t.clock.Now), jwt.WithExpirationRequired(), jwt.WithLeeway(time.Second))
	if err != nil {
		return "", err
	}
	sess, err := t.session(ctx, claims)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(sess.TokenHash), []byte(hashToken(token))) != 1 {
		return "", apperr.Wrap(apperr.ErrAuth, "token does not match session")
	}
	if t.clock.Now().After(sess.ExpiresAt) {
		return "", apperr.Wrap(apperr.ErrSessionExpired, "session ended")
	}
	return sess.UserID, nil
}

// Revoke deletes the session behind token. Expired tokens can still be
// revoked; revoking twice is not an error.
func (t *TokenManager) Revoke(ctx context.Context, token string) error {
	claims, err := t.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return err
	}
	jti, _ := claims["jti"].(string)
	err = storage.RetryOnce(ctx, func(ctx context.Context) error {
		return t.store.DeleteSession(ctx, jti)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.log.Error("delete session failed", zap.Error(err))
		return apperr.Service("delete session", err)
	}
	return nil
}

// Refresh trades a valid token for a new one and revokes the old.
func (t *TokenManager) Refresh(ctx context.Context, token string) (Token, error) {
	userID, err := t.Validate(ctx, token)
	if err != nil {
		return Token{}, err
	}
	next, err := t.Issue(ctx, userID)
	if err != nil {
		return Token{}, err
	}
	if err := t.Revoke(ctx, token); err != nil {
		return Token{}, err
	}
	return next, nil
}

func (t *TokenManager) parse(token string, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Wrap(apperr.ErrAuth, "missing token")
	}
	opts = append(opts, jwt.WithIssuer(t.issuer), jwt.WithAudience(accessAudience))
	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return t.secret, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, apperr.Wrap(apperr.ErrSessionExpired, "token expired")
	}
	if err != nil || !parsed.Valid {
		return nil, apperr.Wrap(apperr.ErrAuth, "invalid token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.Wrap(apperr.ErrAuth, "invalid token claims")
	}
	if jti, _ := claims["jti"].(string); jti == "" {
		return nil, apperr.Wrap(apperr.ErrAuth, "token has no session")
	}
	return claims, nil
}

func (t *TokenManager) session(ctx context.Context, claims jwt.MapClaims) (models.Session, error) {
	jti, _ := claims["jti"].(string)
	var sess models.Session
	err := storage.RetryOnce(ctx, func(ctx context.Context) error {
		var err error
		sess, err = t.store.GetSession(ctx, jti)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Session{}, apperr.Wrap(apperr.ErrAuth, "session revoked")
	}
	if err != nil {
		t.log.Error("load session failed", zap.Error(err))
		return models.Session{}, apperr.Service("load session", err)
	}
	return sess, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
