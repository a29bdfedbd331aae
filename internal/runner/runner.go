// Package runner calls the sandboxed code-execution backend. The backend
// is an opaque capability: given {language, code} it returns {output} or
// an error within a bounded time.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrTimeout is returned when execution exceeds the configured bound.
	ErrTimeout = errors.New("code execution timed out")
	// ErrUnavailable is returned when the execution backend fails.
	ErrUnavailable = errors.New("code execution backend unavailable")
)

type Runner struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func New(url string, timeout time.Duration) *Runner {
	return &Runner{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

type runRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type runResponse struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Run executes the code remotely and returns its output. The context
// bounds the whole call; callers must not hold any room lock while
// running, so other members can keep editing.
func (r *Runner) Run(ctx context.Context, language, code string) (string, error) {
	body, err := json.Marshal(runRequest{Language: language, Code: code})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, out.Error)
	}
	return out.Output, nil
}
