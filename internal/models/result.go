package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Mode selects how the caller receives its answer.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Client-visible error messages.
const (
	MsgInvalidCharacters = "Invalid characters in VAT number"
	MsgInvalidLength     = "Invalid length of VAT number"
	MsgInvalidCountry    = "Invalid country code"
	MsgInvalidCallback   = "Invalid callback URL"
	MsgNoResponse        = "No response from the VIES server"
	MsgUnavailable       = "Member State service unavailable."
	MsgMalformed         = "Invalid response from EU VIES server"
	MsgQueueFull         = "Too many pending requests"
	MsgShuttingDown      = "Service is shutting down"
)

// ValidationResult is a successful answer from the VIES service.
type ValidationResult struct {
	CountryCode string `json:"countryCode"`
	VATNumber   string `json:"vatNumber"`
	RequestDate string `json:"requestDate"`
	Valid       bool   `json:"valid"`
	Name        string `json:"name,omitempty"`
	Address     string `json:"address,omitempty"`
}

// ErrorResult is a classified failure. Code mirrors the HTTP status returned to clients.
type ErrorResult struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *ErrorResult) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// NewError builds an ErrorResult.
func NewError(code int, msg string) *ErrorResult {
	return &ErrorResult{Code: code, Message: msg}
}

// BadRequest is a 400 for input that failed validation.
func BadRequest(msg string) *ErrorResult { return NewError(http.StatusBadRequest, msg) }

// NoResponse is a 504 for an upstream that never answered.
func NoResponse() *ErrorResult { return NewError(http.StatusGatewayTimeout, MsgNoResponse) }

// Unavailable is a 503 for an upstream that answered with a server error.
func Unavailable() *ErrorResult { return NewError(http.StatusServiceUnavailable, MsgUnavailable) }

// Malformed is a 502 for an upstream body that could not be decoded.
func Malformed() *ErrorResult { return NewError(http.StatusBadGateway, MsgMalformed) }

// AsErrorResult extracts an ErrorResult from err. Anything unclassified is
// reported as a missing upstream response.
func AsErrorResult(err error) *ErrorResult {
	if err == nil {
		return nil
	}
	var er *ErrorResult
	if errors.As(err, &er) {
		return er
	}
	return NoResponse()
}

// RequestStats reports timing for a resolved job. Durations are seconds.
type RequestStats struct {
	Retries int     `json:"retries"`
	Total   float64 `json:"total"`
	Request float64 `json:"request"`
	Queued  float64 `json:"queued"`
}

// Result is the outcome of one job: exactly one of Validation or Err is set.
type Result struct {
	Validation *ValidationResult
	Err        *ErrorResult
	Stats      RequestStats
	Cached     bool
}

// Success wraps a validation result.
func Success(v ValidationResult) Result {
	return Result{Validation: &v}
}

// Failure wraps an error result.
func Failure(e *ErrorResult) Result {
	return Result{Err: e}
}

// StatusCode is the HTTP status a gateway should answer with.
func (r Result) StatusCode() int {
	if r.Err != nil {
		return r.Err.Code
	}
	return http.StatusOK
}

// MarshalJSON renders errors as {code, error} and successes as the flattened
// validation fields plus requestStats and, for cache hits, cachedResult.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(r.Err)
	}
	if r.Validation == nil {
		return nil, errors.New("result has neither validation nor error")
	}
	v := r.Validation
	return json.Marshal(struct {
		Name         string       `json:"name,omitempty"`
		CountryCode  string       `json:"countryCode"`
		VATNumber    string       `json:"vatNumber"`
		Valid        bool         `json:"valid"`
		RequestDate  string       `json:"requestDate"`
		Address      string       `json:"address,omitempty"`
		RequestStats RequestStats `json:"requestStats"`
		CachedResult bool         `json:"cachedResult,omitempty"`
	}{
		Name:         v.Name,
		CountryCode:  v.CountryCode,
		VATNumber:    v.VATNumber,
		Valid:        v.Valid,
		RequestDate:  v.RequestDate,
		Address:      v.Address,
		RequestStats: r.Stats,
		CachedResult: r.Cached,
	})
}

// CacheEntry is the last successful validation stored for a VAT number.
type CacheEntry struct {
	VATNumber string           `json:"vatNumber"`
	Date      time.Time        `json:"date"`
	Result    ValidationResult `json:"result"`
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
