package random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Source produces the unpredictable values the core needs: numeric one-time
// codes and opaque nonces.
type Source interface {
	Digits(n int) (string, error)
	Nonce() (string, error)
}

// Crypto draws from crypto/rand.
type Crypto struct{}

var ten = big.NewInt(10)

// Digits returns n uniformly random decimal digits. Leading zeros are kept so
// every code has the same length.
func (Crypto) Digits(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("digits: length must be positive, got %d", n)
	}
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("digits: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// Nonce returns 16 random bytes hex encoded.
func (Crypto) Nonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
