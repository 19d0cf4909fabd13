package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"vies-gateway/internal/models"
	"vies-gateway/internal/telemetry"
	"vies-gateway/internal/validate"
	"vies-gateway/internal/worker"
)

// Submitter admits validation requests.
type Submitter interface {
	Submit(ctx context.Context, req worker.Request) (*worker.Handle, error)
}

// Server wires HTTP handlers for the gateway.
type Server struct {
	scheduler Submitter
	log       logrus.FieldLogger
}

// New constructs the API server.
func New(scheduler Submitter, log logrus.FieldLogger) *Server {
	return &Server{scheduler: scheduler, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/async/{vatNumber}", s.handleAsync)
	r.Get("/{vatNumber}", s.handleSync)
	return r
}

type asyncResponse struct {
	ID        string `json:"id"`
	VATNumber string `json:"vatNumber"`
	Status    string `json:"status"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	vat := vatParam(r)
	if bad := validate.Check(vat, models.ModeSync, ""); bad != nil {
		s.render(w, r, models.Failure(bad))
		return
	}

	h, err := s.scheduler.Submit(r.Context(), worker.Request{
		VATNumber: vat,
		Mode:      models.ModeSync,
		NoCache:   flag(r, "no_cache"),
		StaleOK:   flag(r, "stale_ok"),
	})
	if err != nil {
		s.submitFailed(w, r, vat, err)
		return
	}

	res, err := h.Wait(r.Context())
	if err != nil {
		s.log.WithField("vat", vat).Debug("client went away before the result")
		return
	}
	s.render(w, r, res)
}

func (s *Server) handleAsync(w http.ResponseWriter, r *http.Request) {
	vat := vatParam(r)
	callbackURL := r.URL.Query().Get("callback_url")
	if bad := validate.Check(vat, models.ModeAsync, callbackURL); bad != nil {
		writeJSON(w, bad.Code, bad)
		return
	}

	h, err := s.scheduler.Submit(r.Context(), worker.Request{
		VATNumber:   vat,
		Mode:        models.ModeAsync,
		CallbackURL: callbackURL,
		NoCache:     flag(r, "no_cache"),
		StaleOK:     flag(r, "stale_ok"),
	})
	if err != nil {
		s.submitFailed(w, r, vat, err)
		return
	}
	writeJSON(w, http.StatusAccepted, asyncResponse{ID: h.ID, VATNumber: vat, Status: "accepted"})
}

func (s *Server) submitFailed(w http.ResponseWriter, r *http.Request, vat string, err error) {
	if errors.Is(err, worker.ErrShuttingDown) {
		s.render(w, r, models.Failure(models.NewError(http.StatusServiceUnavailable, models.MsgShuttingDown)))
		return
	}
	if r.Context().Err() != nil {
		return
	}
	s.log.WithError(err).WithField("vat", vat).Error("submit failed")
	s.render(w, r, models.Failure(models.Unavailable()))
}

var jsonpCallback = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// render writes a result as JSON, or as JSONP when a valid callback name is given.
func (s *Server) render(w http.ResponseWriter, r *http.Request, res models.Result) {
	fn := r.URL.Query().Get("callback")
	if fn == "" || !jsonpCallback.MatchString(fn) {
		writeJSON(w, res.StatusCode(), res)
		return
	}
	body, err := json.Marshal(res)
	if err != nil {
		s.log.WithError(err).Error("encode result")
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fn + "("))
	_, _ = w.Write(body)
	_, _ = w.Write([]byte(");"))
}

// vatParam returns the decoded path segment. chi routes on RawPath when the
// request carried one, and only then is the segment still escaped.
func vatParam(r *http.Request) string {
	raw := chi.URLParam(r, "vatNumber")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(raw); err == nil {
			raw = unescaped
		}
	}
	return validate.Normalize(raw)
}

// flag treats a bare "?name" as true and otherwise parses a boolean.
func flag(r *http.Request, name string) bool {
	q := r.URL.Query()
	if !q.Has(name) {
		return false
	}
	v := q.Get(name)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
