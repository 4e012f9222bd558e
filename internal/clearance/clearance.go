// Package clearance issues the fingerprint-bound auth token handed to a
// visitor after an allowed verdict.
package clearance

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL = 24 * time.Hour
	issuer     = "originguard"
)

var ErrInvalidToken = errors.New("invalid clearance token")

// Claims binds a token to one fingerprint id.
type Claims struct {
	Fingerprint string `json:"fp"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies clearance tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs an HS256 token for fingerprint.
func (i *Issuer) Issue(fingerprint string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   fingerprint,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign clearance: %w", err)
	}
	return s, exp, nil
}

// Verify checks the signature, expiry and fingerprint binding of token.
func (i *Issuer) Verify(token, fingerprint string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: fingerprint mismatch", ErrInvalidToken)
	}
	return claims, nil
}
