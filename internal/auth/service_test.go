package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/codecollab/server/internal/db"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "codecollab-auth-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(tmpDir)
	})

	tokens := NewTokenManager("test-secret", time.Hour)
	return NewService(database, tokens, zap.NewNop())
}

func TestSignupAndLogin(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	user, token, err := svc.Signup(ctx, "Ada", "Ada@Example.com", "hunter22")
	if err != nil {
		t.Fatalf("Failed to sign up: %v", err)
	}
	if user.ID == "" {
		t.Error("Signup should assign a user id")
	}
	if user.Email != "ada@example.com" {
		t.Errorf("Email should be normalized, got %s", user.Email)
	}
	if user.Color == "" {
		t.Error("Signup should assign a color")
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Signup token should verify: %v", err)
	}
	if claims.UserID != user.ID {
		t.Errorf("Token user mismatch: %s vs %s", claims.UserID, user.ID)
	}

	// Login with the right password
	got, _, err := svc.Login(ctx, "ada@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("Login returned wrong user: %s", got.ID)
	}

	// Wrong password
	if _, _, err := svc.Login(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}

	// Unknown email
	if _, _, err := svc.Login(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		userName string
		email    string
		password string
		wantErr  error
	}{
		{"missing name", "", "a@b.com", "hunter22", ErrBadInput},
		{"bad email", "Ada", "not-an-email", "hunter22", ErrBadInput},
		{"short password", "Ada", "a@b.com", "12345", ErrBadInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Signup(ctx, tt.userName, tt.email, tt.password); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "Ada", "ada@example.com", "hunter22"); err != nil {
		t.Fatalf("Failed to sign up: %v", err)
	}
	if _, _, err := svc.Signup(ctx, "Eve", "ada@example.com", "password"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}
}
