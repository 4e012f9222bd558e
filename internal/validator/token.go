// Package validator implements the domain validation endpoint: short-lived
// domain tokens, the allow-list check, and an HTTP client for the guard.
package validator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultTokenTTL = 5 * time.Minute

// maxClockSkew bounds how far in the future a token timestamp may sit.
const maxClockSkew = time.Minute

var (
	ErrTokenMalformed      = errors.New("token malformed")
	ErrTokenDomainMismatch = errors.New("token domain mismatch")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenDigest         = errors.New("token digest mismatch")
)

// TokenIssuer mints and checks domain tokens of the form
// base64("domain:unixMillis:hex(sha256(domain|unixMillis|secret))").
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a fresh token bound to domain.
func (t *TokenIssuer) Issue(domain string) string {
	ts := strconv.FormatInt(t.now().UnixMilli(), 10)
	raw := domain + ":" + ts + ":" + t.digest(domain, ts)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Verify checks that token was issued for domain within the TTL.
func (t *TokenIssuer) Verify(token, domain string) error {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	// the domain may carry a port, so split from the right
	raw := string(decoded)
	i := strings.LastIndexByte(raw, ':')
	if i < 0 {
		return ErrTokenMalformed
	}
	sum := raw[i+1:]
	j := strings.LastIndexByte(raw[:i], ':')
	if j < 0 {
		return ErrTokenMalformed
	}
	tokenDomain, ts := raw[:j], raw[j+1:i]

	if tokenDomain != domain {
		return ErrTokenDomainMismatch
	}

	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrTokenMalformed, ts)
	}
	age := t.now().Sub(time.UnixMilli(ms))
	if age > t.ttl || age < -maxClockSkew {
		return ErrTokenExpired
	}

	if !hmac.Equal([]byte(sum), []byte(t.digest(tokenDomain, ts))) {
		return ErrTokenDigest
	}
	return nil
}

func (t *TokenIssuer) digest(domain, ts string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte("|"))
	h.Write([]byte(ts))
	h.Write([]byte("|"))
	h.Write(t.secret)
	return hex.EncodeToString(h.Sum(nil))
}
