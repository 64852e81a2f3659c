// Package reconcile reports local usage to the reconciliation authority and
// returns its authoritative totals.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/voxmeter/internal/domain/model"
	"github.com/okian/voxmeter/pkg/logger"
	"github.com/okian/voxmeter/pkg/metrics"
)

// Path is the authority endpoint reports are posted to.
const Path = "/v1/reconcile"

const (
	defaultTimeout         = 5 * time.Second
	defaultRetries         = 3
	defaultInitialInterval = 200 * time.Millisecond
	maxInterval            = 5 * time.Second
	maxErrorBody           = 512
)

// Client posts reconciliation reports with bounded retries.
type Client struct {
	baseURL         string
	http            *http.Client
	timeout         time.Duration
	retries         uint64
	initialInterval time.Duration
	log             logger.Logger
}

// New creates a Client for the authority at baseURL. An empty baseURL yields
// a client whose reports always fail with ErrReconciliationUnavailable.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:            &http.Client{},
		timeout:         defaultTimeout,
		retries:         defaultRetries,
		initialInterval: defaultInitialInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("reconcile")
	}
	return c
}

// Enabled reports whether an authority is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// NewReport builds the wire report for an identity and its local snapshot.
func NewReport(ic model.IdentityContext, snap model.UsageSnapshot) model.ReconcileReport {
	r := model.ReconcileReport{
		ReportID:        snap.ReportID,
		IdentityKey:     ic.Key,
		Class:           ic.Class,
		VisitorID:       ic.Identity.VisitorID,
		Fingerprint:     ic.Identity.Fingerprint,
		Degraded:        ic.Identity.Degraded,
		Device:          ic.Identity.Device,
		ConsumedSeconds: snap.ConsumedSeconds,
		DeltaSeconds:    snap.DeltaSeconds,
		BaselineSeconds: snap.BaselineSeconds,
		EventCount:      snap.EventCount,
		LastEventAt:     snap.LastEventAt,
	}
	if !strings.HasPrefix(ic.Key, "guest:") {
		r.AccountKey = ic.Key
	}
	return r
}

// Report sends the local snapshot of ic and returns the authority's answer.
func (c *Client) Report(ctx context.Context, ic model.IdentityContext, snap model.UsageSnapshot) (model.ServerUsage, error) {
	start := time.Now()
	if !c.Enabled() {
		return model.ServerUsage{}, fmt.Errorf("%w: no authority configured", ErrReconciliationUnavailable)
	}
	body, err := json.Marshal(NewReport(ic, snap))
	if err != nil {
		return model.ServerUsage{}, fmt.Errorf("%w: encode report: %v", ErrReconciliationUnavailable, err)
	}

	bkoff := backoff.WithContext(c.policy(), ctx)

	var usage model.ServerUsage
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		var aerr error
		usage, aerr = c.post(ctx, body)
		if aerr != nil {
			c.log.Debug(ctx, "reconcile attempt failed",
				logger.Int("attempt", attempt),
				logger.Error(aerr),
			)
		}
		return aerr
	}, bkoff)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordReconcile("failure", latency)
		return model.ServerUsage{}, fmt.Errorf("%w: %v", ErrReconciliationUnavailable, err)
	}
	metrics.RecordReconcile("success", latency)
	return usage, nil
}

func (c *Client) policy() backoff.BackOff {
	// WithMaxRetries treats zero as unbounded.
	if c.retries == 0 {
		return &backoff.StopBackOff{}
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	eb.MaxInterval = maxInterval
	return backoff.WithMaxRetries(eb, c.retries)
}

func (c *Client) post(ctx context.Context, body []byte) (model.ServerUsage, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return model.ServerUsage{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.ServerUsage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("%w: %d %s", errUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
		// Client errors will not succeed on retry.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return model.ServerUsage{}, backoff.Permanent(err)
		}
		return model.ServerUsage{}, err
	}

	var usage model.ServerUsage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return model.ServerUsage{}, backoff.Permanent(fmt.Errorf("decode authority response: %w", err))
	}
	return usage, nil
}
