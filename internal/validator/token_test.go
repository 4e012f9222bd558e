package validator

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedIssuer(at time.Time) *TokenIssuer {
	ti := NewTokenIssuer("test-secret", 5*time.Minute)
	ti.now = func() time.Time { return at }
	return ti
}

func TestTokenFormat(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	tok := fixedIssuer(at).Issue("shop.example")

	raw, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token is not base64: %v", err)
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 {
		t.Fatalf("token has %d fields, want 3: %q", len(parts), raw)
	}
	if parts[0] != "shop.example" || parts[1] != "1700000000000" || len(parts[2]) != 64 {
		t.Errorf("token fields = %q", parts)
	}
}

func TestTokenVerify(t *testing.T) {
	issued := time.UnixMilli(1_700_000_000_000)
	tok := fixedIssuer(issued).Issue("shop.example")

	tests := []struct {
		name    string
		token   string
		domain  string
		at      time.Time
		wantErr error
	}{
		{name: "fresh token", token: tok, domain: "shop.example", at: issued.Add(time.Minute)},
		{name: "at ttl boundary", token: tok, domain: "shop.example", at: issued.Add(5 * time.Minute)},
		{name: "expired", token: tok, domain: "shop.example", at: issued.Add(5*time.Minute + time.Millisecond), wantErr: ErrTokenExpired},
		{name: "from the future", token: tok, domain: "shop.example", at: issued.Add(-2 * time.Minute), wantErr: ErrTokenExpired},
		{name: "domain mismatch", token: tok, domain: "clone.example", at: issued, wantErr: ErrTokenDomainMismatch},
		{name: "not base64", token: "%%%", domain: "shop.example", at: issued, wantErr: ErrTokenMalformed},
		{name: "missing fields", token: base64.StdEncoding.EncodeToString([]byte("shop.example")), domain: "shop.example", at: issued, wantErr: ErrTokenMalformed},
		{name: "bad timestamp", token: base64.StdEncoding.EncodeToString([]byte("shop.example:abc:00")), domain: "shop.example", at: issued, wantErr: ErrTokenMalformed},
		{name: "forged digest", token: base64.StdEncoding.EncodeToString([]byte("shop.example:1700000000000:deadbeef")), domain: "shop.example", at: issued, wantErr: ErrTokenDigest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fixedIssuer(tt.at).Verify(tt.token, tt.domain)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Verify() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenSecretBinding(t *testing.T) {
	at := time.Now()
	tok := fixedIssuer(at).Issue("shop.example")

	other := NewTokenIssuer("another-secret", 5*time.Minute)
	other.now = func() time.Time { return at }
	if err := other.Verify(tok, "shop.example"); !errors.Is(err, ErrTokenDigest) {
		t.Errorf("Verify() with another secret = %v, want ErrTokenDigest", err)
	}
}

func TestTokenDomainWithPort(t *testing.T) {
	ti := fixedIssuer(time.Now())
	if err := ti.Verify(ti.Issue("localhost:5173"), "localhost:5173"); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}
