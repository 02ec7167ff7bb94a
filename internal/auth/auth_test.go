package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("test-secret"), Issuer: "wirecall", TTL: time.Hour}

	token, err := GenerateToken(cfg, "user-1", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("test-secret"), Issuer: "wirecall", TTL: time.Hour}
	token, err := GenerateToken(cfg, "user-1", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	bad := &JWTConfig{Secret: []byte("other-secret"), Issuer: "wirecall", TTL: time.Hour}
	if _, err := ValidateToken(bad, token); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestTokenWrongIssuerRejected(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("test-secret"), Issuer: "wirecall", TTL: time.Hour}
	token, err := GenerateToken(cfg, "user-1", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	other := &JWTConfig{Secret: []byte("test-secret"), Issuer: "someone-else", TTL: time.Hour}
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatal("token from another issuer must be rejected")
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := ComparePassword(hash, "hunter2"); err != nil {
		t.Fatalf("ComparePassword: %v", err)
	}
	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Fatal("wrong password must not match")
	}
}
