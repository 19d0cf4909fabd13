package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"vies-gateway/internal/models"
	"vies-gateway/internal/telemetry"
)

// Notifier hands a resolved async result to its client.
type Notifier interface {
	Deliver(ctx context.Context, callbackURL string, result models.Result) error
}

// Deliverer POSTs results to client callback URLs with bounded retries and
// linear backoff: the pause after attempt n is n*backoff.
type Deliverer struct {
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	log        logrus.FieldLogger
}

// NewDeliverer builds a Deliverer. timeout bounds each POST.
func NewDeliverer(attempts int, backoff, timeout time.Duration, log logrus.FieldLogger) *Deliverer {
	if attempts <= 0 {
		attempts = 5
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: timeout},
		attempts:   attempts,
		backoff:    backoff,
		log:        log,
	}
}

// Deliver returns nil on the first 2xx acknowledgment, or an error once every
// attempt has failed or ctx ends.
func (d *Deliverer) Deliver(ctx context.Context, callbackURL string, result models.Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		telemetry.Callbacks.WithLabelValues("abandoned").Inc()
		return fmt.Errorf("encode callback body: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		telemetry.CallbackAttempts.Inc()
		lastErr = d.post(ctx, callbackURL, body)
		if lastErr == nil {
			telemetry.Callbacks.WithLabelValues("delivered").Inc()
			return nil
		}
		d.log.WithError(lastErr).WithFields(logrus.Fields{
			"url":     callbackURL,
			"attempt": attempt,
		}).Warn("callback delivery failed")
		if attempt == d.attempts {
			break
		}

		wait := time.NewTimer(d.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			wait.Stop()
			telemetry.Callbacks.WithLabelValues("abandoned").Inc()
			return fmt.Errorf("callback interrupted: %w", ctx.Err())
		case <-wait.C:
		}
	}
	telemetry.Callbacks.WithLabelValues("abandoned").Inc()
	return fmt.Errorf("callback abandoned after %d attempts: %w", d.attempts, lastErr)
}

func (d *Deliverer) post(ctx context.Context, callbackURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post callback: status %d", resp.StatusCode)
	}
	return nil
}
