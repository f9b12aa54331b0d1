// Package httpretry is the shared bounded-retry POST helper used by the
// signer and sender HTTP clients (SPEC_FULL.md §4.7/§4.8). It factors out
// the retry-loop idiom the teacher repeats verbatim in exec/client.go's
// doRequest and execution/executor.go's executeLive into one tested path.
package httpretry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config parameterizes one bounded-retry call.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Result is the raw outcome of a successful HTTP round trip: the caller is
// responsible for interpreting StatusCode/Body against its own response
// schema.
type Result struct {
	StatusCode int
	Body       []byte
}

// PostJSON marshals body, POSTs it to url with header Content-Type:
// application/json, and makes at most cfg.MaxRetries attempts in total,
// waiting cfg.RetryDelay*attempt between attempts, retrying on transport
// errors or 5xx responses.
// A non-5xx HTTP response (including 4xx) is returned immediately without
// retry, since the caller's own error-classification logic needs the body.
func PostJSON(ctx context.Context, client *http.Client, url string, body any, cfg Config) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpretry: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		res, err := doAttempt(ctx, client, url, payload, cfg.Timeout)
		if err == nil {
			if res.StatusCode < 500 {
				return res, nil
			}
			lastErr = fmt.Errorf("httpretry: server error status %d", res.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(cfg.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("httpretry: exhausted %d attempts: %w", cfg.MaxRetries, lastErr)
}

func doAttempt(ctx context.Context, client *http.Client, url string, payload []byte, timeout time.Duration) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("httpretry: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpretry: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpretry: read body: %w", err)
	}

	return &Result{StatusCode: resp.StatusCode, Body: data}, nil
}
