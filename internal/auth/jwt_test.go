package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Hour)

	token, err := manager.Issue("user-1", "Ada")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	claims, err := manager.Verify(token)
	if err != nil {
		t.Fatalf("Failed to verify token: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("Expected user-1, got %s", claims.UserID)
	}
	if claims.Name != "Ada" {
		t.Errorf("Expected Ada, got %s", claims.Name)
	}
}

func TestExpiredToken(t *testing.T) {
	manager := NewTokenManager("test-secret", -time.Minute)

	token, err := manager.Issue("user-1", "Ada")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	if _, err := manager.Verify(token); err != ErrExpiredToken {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidToken(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Hour)

	if _, err := manager.Verify("not-a-token"); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}

	// Token signed with a different secret
	other := NewTokenManager("other-secret", time.Hour)
	token, err := other.Issue("user-1", "Ada")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if _, err := manager.Verify(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestPasswordHasher(t *testing.T) {
	hasher := NewPasswordHasher()

	hash, err := hasher.Hash("hunter22")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if hash == "hunter22" {
		t.Error("Hash should not equal the plaintext")
	}

	if !hasher.Verify("hunter22", hash) {
		t.Error("Correct password should verify")
	}
	if hasher.Verify("wrong", hash) {
		t.Error("Wrong password should not verify")
	}
}
