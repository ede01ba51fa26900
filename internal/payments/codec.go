package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/models"
)

// payloadAudience keeps offer payloads from being accepted as access tokens
// and the other way round, even though both share a signing key.
const payloadAudience = "qr-offer"

// Codec signs and verifies the opaque string carried by an offer's QR code.
type Codec struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewCodec(secret, issuer string, clk clock.Clock) *Codec {
	return &Codec{secret: []byte(secret), issuer: issuer, clock: clk}
}

// Encode returns the signed payload for ps.
func (c *Codec) Encode(ps models.PaymentSession) (string, error) {
	claims := jwt.MapClaims{
		"iss":   c.issuer,
		"aud":   payloadAudience,
		"sid":   ps.ID,
		"rid":   ps.RecipientID,
		"amt":   ps.Amount,
		"cur":   ps.Currency,
		"nonce": ps.Nonce,
		"iat":   ps.CreatedAt.Unix(),
		"exp":   ps.ExpiresAt.Unix(),
	}
	if ps.PayerID != "" {
		claims["pid"] = ps.PayerID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign offer payload: %w", err)
	}
	return signed, nil
}

// Decoded is what a verified payload says about its offer.
type Decoded struct {
	SessionID   string
	RecipientID string
	Amount      int64
	Currency    string
	Nonce       string
	ExpiresAt   time.Time
}

// Decode verifies signature, issuer, audience and expiry.
func (c *Codec) Decode(payload string) (Decoded, error) {
	token, err := jwt.Parse(payload, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return c.secret, nil
	},
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(payloadAudience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Second),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Decoded{}, apperr.Wrap(apperr.ErrExpired, "offer payload expired")
	}
	if err != nil || !token.Valid {
		return Decoded{}, apperr.Wrap(apperr.ErrAuth, "offer payload is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Decoded{}, apperr.Wrap(apperr.ErrAuth, "offer payload claims")
	}
	sid, _ := claims["sid"].(string)
	rid, _ := claims["rid"].(string)
	cur, _ := claims["cur"].(string)
	nonce, _ := claims["nonce"].(string)
	amt, _ := claims["amt"].(float64)
	exp, err := claims.GetExpirationTime()
	if sid == "" || nonce == "" || err != nil || exp == nil {
		return Decoded{}, apperr.Wrap(apperr.ErrAuth, "offer payload is incomplete")
	}
	return Decoded{
		SessionID:   sid,
		RecipientID: rid,
		Amount:      int64(amt),
		Currency:    cur,
		Nonce:       nonce,
		ExpiresAt:   exp.Time,
	}, nil
}
