package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/http/respond"
)

type contextKey struct{ name string }

var (
	userIDKey = contextKey{"user_id"}
	tokenKey  = contextKey{"token"}
)

// TokenValidator resolves an access token to its user.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// Authenticated rejects requests without a valid bearer token and stores
// the caller's id and raw token in the request context.
func Authenticated(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				respond.FromError(w, err)
				return
			}
			userID, err := tokens.Validate(r.Context(), token)
			if err != nil {
				respond.FromError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperr.Wrap(apperr.ErrAuth, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.Wrap(apperr.ErrAuth, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// UserID returns the authenticated caller.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Token returns the raw bearer token of the authenticated caller.
func Token(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
