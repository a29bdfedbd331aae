package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		var req struct {
			Language string `json:"language"`
			Code     string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Language != "python" || req.Code != "print(42)" {
			t.Errorf("Unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"output": "42\n"})
	}))
	defer backend.Close()

	r := New(backend.URL, 5*time.Second)
	output, err := r.Run(context.Background(), "python", "print(42)")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if output != "42\n" {
		t.Errorf("Expected output 42, got %q", output)
	}
}

func TestRunBackendError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "SyntaxError"})
	}))
	defer backend.Close()

	r := New(backend.URL, 5*time.Second)
	_, err := r.Run(context.Background(), "python", "print(")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestRunBadStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	r := New(backend.URL, 5*time.Second)
	_, err := r.Run(context.Background(), "python", "print(42)")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer backend.Close()

	r := New(backend.URL, 50*time.Millisecond)
	_, err := r.Run(context.Background(), "python", "while True: pass")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestRunUnreachableBackend(t *testing.T) {
	r := New("http://127.0.0.1:1", time.Second)
	_, err := r.Run(context.Background(), "python", "print(42)")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}
