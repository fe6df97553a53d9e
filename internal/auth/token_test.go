package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", "kixikila", time.Hour)

	token, err := tm.Generate("u1", RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := tm.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != RoleAdmin {
		t.Errorf("claims mismatch: %+v", claims)
	}
}

func TestUnknownRoleCoercesToUser(t *testing.T) {
	tm := NewTokenManager("secret", "kixikila", time.Hour)

	token, err := tm.Generate("u1", Role("superuser"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := tm.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != RoleUser {
		t.Errorf("expected unknown role to coerce to user, got %s", claims.Role)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenManager("secret-a", "kixikila", time.Hour)
	verifier := NewTokenManager("secret-b", "kixikila", time.Hour)

	token, err := issuer.Generate("u1", RoleUser)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	issuer := NewTokenManager("secret", "someone-else", time.Hour)
	verifier := NewTokenManager("secret", "kixikila", time.Hour)

	token, err := issuer.Generate("u1", RoleUser)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager("secret", "kixikila", -time.Minute)

	token, err := tm.Generate("u1", RoleUser)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := tm.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	tm := NewTokenManager("secret", "kixikila", time.Hour)
	if _, err := tm.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
