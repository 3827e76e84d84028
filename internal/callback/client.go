// Package callback implements the outbound HTTP caller the execution engine
// invokes to reach an external worker, classifying failures as transient or
// permanent.
package callback

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTimeout = 30 * time.Second

// Body is the envelope sent to the external worker. JobID and PollingState
// are only populated for polling jobs.
type Body struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Payload        map[string]any `json:"payload"`
	JobID          string         `json:"job_id,omitempty"`
	PollingState   map[string]any `json:"polling_state,omitempty"`
}

// Response is the parsed 2xx reply. Raw is kept for callers that need to
// re-decode into a different shape (the engine's polling interpretation).
type Response struct {
	StatusCode int
	Raw        []byte
}

// HTTPError represents a non-2xx response from the worker.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("callback returned status %d", e.StatusCode)
}

// TransportError represents a connection, DNS, or timeout failure — the
// request never produced an HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient classifies an error returned by Call: transport failures are
// always transient; HTTP errors are transient only for 5xx, 408, and 429;
// any other non-2xx status is permanent.
func IsTransient(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		status := httpErr.StatusCode
		return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
	}
	// No HTTP response object present — treat like a transport failure.
	return true
}

// Client POSTs a JSON body to a worker callback URL: capped redirects,
// pooled idle connections, TLS 1.2 floor, explicit dial timeout.
type Client struct {
	http      *http.Client
	jwtSecret []byte
	logger    *slog.Logger
}

func New(jwtSecret []byte, logger *slog.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: defaultTimeout + 5*time.Second,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		jwtSecret: jwtSecret,
		logger:    logger.With("component", "callback_client"),
	}
}

// Call sends the envelope and returns a Response for any 2xx, *HTTPError for
// other status codes, or *TransportError if the request never got a reply.
func (c *Client) Call(ctx context.Context, url string, body Body) (*Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode callback body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if token, err := c.signToken(body.IdempotencyKey); err != nil {
		c.logger.WarnContext(ctx, "failed to sign callback jwt, sending unsigned request", "error", err)
	} else {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response body: %w", err)}
	}

	c.logger.DebugContext(ctx, "callback response",
		"url", url, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}

	return &Response{StatusCode: resp.StatusCode, Raw: raw}, nil
}

// signToken issues a short-lived HS256 JWT so the external worker can verify
// the request originated from this scheduler.
func (c *Client) signToken(subject string) (string, error) {
	if len(c.jwtSecret) == 0 {
		return "", errors.New("no callback jwt secret configured")
	}
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(2 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.jwtSecret)
}
