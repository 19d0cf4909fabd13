package vies

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"vies-gateway/internal/models"
)

const maxResponseBytes = 1 << 20

// Client talks to the VIES checkVat SOAP endpoint. It performs no caching.
type Client struct {
	endpoint   string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewClient builds a client for endpoint. Per-call timeouts come from Check.
func NewClient(endpoint string, log logrus.FieldLogger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		log:        log,
	}
}

// Check validates one number upstream. Every returned error is a *models.ErrorResult.
func (c *Client) Check(ctx context.Context, countryCode, number string, timeout time.Duration) (models.ValidationResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(EncodeRequest(countryCode, number)))
	if err != nil {
		c.log.WithError(err).Error("build vies request")
		return models.ValidationResult{}, models.NoResponse()
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("country", countryCode).Warn("vies request failed")
		return models.ValidationResult{}, models.NoResponse()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 && resp.StatusCode < 599:
		c.log.WithField("status", resp.StatusCode).Warn("vies member state unavailable")
		return models.ValidationResult{}, models.Unavailable()
	case resp.StatusCode != http.StatusOK:
		c.log.WithField("status", resp.StatusCode).Warn("unexpected vies status")
		return models.ValidationResult{}, models.NoResponse()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.log.WithError(fmt.Errorf("read vies body: %w", err)).Warn("vies response truncated")
		return models.ValidationResult{}, models.NoResponse()
	}

	result, err := DecodeResponse(body)
	if err != nil {
		c.log.WithField("body_bytes", len(body)).Warn("malformed vies response")
		return models.ValidationResult{}, err
	}
	return result, nil
}
