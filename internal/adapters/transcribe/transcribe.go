// Package transcribe is a thin client for the external speech-to-text
// service. Only the audio admitted by the quota check is ever sent.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Path is the transcription endpoint on the service.
const Path = "/v1/transcribe"

var (
	// ErrUnavailable is returned when the service is unset or unreachable.
	ErrUnavailable = errors.New("transcriber unavailable")
	// ErrRejected is returned when the service refuses the payload.
	ErrRejected = errors.New("transcriber rejected payload")
)

// Result is the service's answer.
type Result struct {
	Text string `json:"text"`
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, payload []byte, contentType string) (Result, error)
}

// Client implements Transcriber over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe posts payload and decodes the transcript.
func (c *Client) Transcribe(ctx context.Context, payload []byte, contentType string) (Result, error) {
	if c.baseURL == "" {
		return Result{}, fmt.Errorf("%w: no service configured", ErrUnavailable)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: status %d %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode transcript: %w", err)
	}
	return out, nil
}
