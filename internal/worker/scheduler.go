package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"vies-gateway/internal/cache"
	"vies-gateway/internal/config"
	"vies-gateway/internal/models"
	"vies-gateway/internal/telemetry"
	"vies-gateway/internal/validate"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Upstream performs one validation call.
type Upstream interface {
	Check(ctx context.Context, countryCode, number string, timeout time.Duration) (models.ValidationResult, error)
}

// Limiter paces upstream calls. A false answer defers the attempt.
type Limiter interface {
	Allow(ctx context.Context) (bool, error)
}

// Options tunes the scheduler.
type Options struct {
	SyncUpstreamTimeout  time.Duration
	AsyncUpstreamTimeout time.Duration
	SyncJobTimeout       time.Duration
	// MaxRetries is exceeded when a failing job's retry count is above it.
	MaxRetries     int
	SyncBackoff    time.Duration
	AsyncBackoff   time.Duration
	SweepInterval  time.Duration
	MaxQueueLength int
	FreshDays      int
	RateLimitWait  time.Duration
	CacheTimeout   time.Duration
}

// OptionsFromConfig maps runtime configuration onto scheduler options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SyncUpstreamTimeout:  cfg.VIESSyncTimeout,
		AsyncUpstreamTimeout: cfg.VIESAsyncTimeout,
		SyncJobTimeout:       cfg.SyncJobTimeout,
		MaxRetries:           cfg.MaxRetries,
		SyncBackoff:          cfg.SyncBackoff,
		AsyncBackoff:         cfg.AsyncBackoff,
		SweepInterval:        cfg.SweepInterval,
		MaxQueueLength:       cfg.MaxQueueLength,
		FreshDays:            cfg.CacheFreshDays,
		RateLimitWait:        cfg.UpstreamRateWait,
		CacheTimeout:         2 * time.Second,
	}
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLimiter paces upstream calls through l.
func WithLimiter(l Limiter) Option {
	return func(s *Scheduler) { s.limiter = l }
}

// WithNotifier sets the callback deliverer for async jobs.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

type attemptOutcome struct {
	job    *Job
	result models.ValidationResult
	err    *models.ErrorResult
}

// Scheduler owns the sync and async queues and drives the single upstream
// worker loop. Sync jobs always go first; a failing head job is retried in
// place, blocking its class until it resolves.
type Scheduler struct {
	opts     Options
	policy   FreshnessPolicy
	upstream Upstream
	cache    cache.Cache
	limiter  Limiter
	notifier Notifier
	log      logrus.FieldLogger
	now      func() time.Time

	inbox    chan *Job
	attempts chan attemptOutcome

	mu        sync.RWMutex
	closed    bool
	quit      chan struct{}
	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}
	running   atomic.Bool

	bgCtx      context.Context
	bgCancel   context.CancelFunc
	deliveries sync.WaitGroup

	// Owned by Run.
	syncQ    jobQueue
	asyncQ   jobQueue
	inflight *Job
}

// New builds a scheduler. A nil cache disables caching.
func New(opts Options, upstream Upstream, c cache.Cache, log logrus.FieldLogger, options ...Option) *Scheduler {
	if c == nil {
		c = cache.Nop{}
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 2 * time.Second
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		opts:     opts,
		policy:   FreshnessPolicy{Days: opts.FreshDays},
		upstream: upstream,
		cache:    c,
		log:      log,
		now:      time.Now,
		inbox:    make(chan *Job, 256),
		attempts: make(chan attemptOutcome, 1),
		quit:     make(chan struct{}),
		abort:    make(chan struct{}),
		done:     make(chan struct{}),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Submit admits a request. A fresh cache hit or an invalid request resolves
// the returned handle immediately; anything else is queued for the loop.
func (s *Scheduler) Submit(ctx context.Context, req Request) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrShuttingDown
	}

	req.VATNumber = validate.Normalize(req.VATNumber)
	job := newJob(req, s.now())
	telemetry.Admissions.WithLabelValues(string(job.Mode)).Inc()
	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "vat": job.VATNumber, "mode": job.Mode})

	if bad := validate.Check(job.VATNumber, job.Mode, job.CallbackURL); bad != nil {
		job.handle.resolve(models.Failure(bad))
		return job.handle, nil
	}

	if r, ok := s.fromCache(ctx, job, log); ok {
		s.resolve(job, r, "cache")
		return job.handle, nil
	}

	select {
	case s.inbox <- job:
	case <-s.done:
		return nil, ErrShuttingDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	log.Debug("job queued")
	return job.handle, nil
}

// fromCache applies the freshness policy. A stale hit becomes the job's fallback.
func (s *Scheduler) fromCache(ctx context.Context, job *Job, log logrus.FieldLogger) (models.Result, bool) {
	if job.NoCache {
		telemetry.CacheLookups.WithLabelValues("skipped").Inc()
		return models.Result{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.CacheTimeout)
	defer cancel()

	entry, found, err := s.cache.Get(ctx, job.VATNumber)
	switch {
	case err != nil:
		telemetry.CacheLookups.WithLabelValues("error").Inc()
		log.WithError(err).Warn("cache lookup failed")
		return models.Result{}, false
	case !found:
		telemetry.CacheLookups.WithLabelValues("miss").Inc()
		return models.Result{}, false
	case job.StaleOK || s.policy.Fresh(entry, s.now()):
		telemetry.CacheLookups.WithLabelValues("fresh").Inc()
		r := models.Success(entry.Result)
		r.Cached = true
		return r, true
	default:
		telemetry.CacheLookups.WithLabelValues("stale").Inc()
		fallback := entry.Result
		job.Fallback = &fallback
		return models.Result{}, false
	}
}

var errAlreadyRunning = errors.New("scheduler already running")

// Start launches the processing loop in the background. The scheduler counts
// as running once Start returns, so a following Shutdown always drains.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	go func() {
		if err := s.loop(ctx); err != nil {
			s.log.WithError(err).Warn("scheduler loop ended")
		}
	}()
	return nil
}

// Run drives the processing loop until Shutdown drains it or ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	return s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) error {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.abort:
			cancel()
		case <-ctx.Done():
		}
	}()

	sweep := time.NewTicker(s.opts.SweepInterval)
	defer sweep.Stop()

	var (
		pause    <-chan time.Time
		quit     = s.quit
		draining bool
	)
	// asyncPause is set while pause is an async-class backoff; a sync arrival
	// cuts it down to the sync backoff counted from failedAt.
	var (
		asyncPause bool
		failedAt   time.Time
	)
	for {
		s.drainInbox()
		if asyncPause && s.syncQ.len() > 0 {
			pause = time.After(max(s.opts.SyncBackoff-time.Since(failedAt), 0))
			asyncPause = false
		}
		if draining && s.inflight == nil && s.syncQ.len() == 0 && s.asyncQ.len() == 0 {
			s.log.Info("scheduler drained")
			return nil
		}
		if s.inflight == nil && pause == nil {
			if wait := s.startNext(ctx); wait > 0 {
				pause = time.After(wait)
				asyncPause = false
			}
		}
		s.reportDepth()

		select {
		case <-ctx.Done():
			s.log.WithFields(logrus.Fields{
				"sync_pending":  s.syncQ.len(),
				"async_pending": s.asyncQ.len(),
			}).Warn("scheduler stopped with pending jobs")
			return ctx.Err()
		case <-quit:
			draining = true
			quit = nil
		case job := <-s.inbox:
			s.enqueue(job)
		case out := <-s.attempts:
			failed := s.finish(out)
			s.sweepExpired()
			if failed {
				if wait, async := s.backoff(); wait > 0 {
					pause = time.After(wait)
					asyncPause = async
					failedAt = time.Now()
				}
			}
		case <-pause:
			pause = nil
			asyncPause = false
		case <-sweep.C:
			s.sweepExpired()
		}
	}
}

func (s *Scheduler) drainInbox() {
	for {
		select {
		case job := <-s.inbox:
			s.enqueue(job)
		default:
			return
		}
	}
}

func (s *Scheduler) queueFor(mode models.Mode) *jobQueue {
	if mode == models.ModeAsync {
		return &s.asyncQ
	}
	return &s.syncQ
}

func (s *Scheduler) enqueue(job *Job) {
	q := s.queueFor(job.Mode)
	if s.opts.MaxQueueLength > 0 && q.len() >= s.opts.MaxQueueLength {
		s.resolve(job, models.Failure(models.NewError(503, models.MsgQueueFull)), "rejected")
		return
	}
	q.push(job)
}

func (s *Scheduler) head() *Job {
	if j := s.syncQ.head(); j != nil {
		return j
	}
	return s.asyncQ.head()
}

// startNext launches an upstream call for the head job. It returns a non-zero
// wait when the limiter deferred the attempt.
func (s *Scheduler) startNext(ctx context.Context) time.Duration {
	job := s.head()
	if job == nil {
		return 0
	}
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx)
		if err != nil {
			s.log.WithError(err).Warn("upstream limiter unavailable, proceeding")
		} else if !allowed {
			telemetry.RateLimitWaits.Inc()
			return s.opts.RateLimitWait
		}
	}

	if job.RequestStartedAt.IsZero() {
		job.RequestStartedAt = s.now()
	}
	s.inflight = job
	telemetry.InFlightGauge.Set(1)

	timeout := s.opts.SyncUpstreamTimeout
	if job.Mode == models.ModeAsync {
		timeout = s.opts.AsyncUpstreamTimeout
	}
	countryCode, number := validate.Split(job.VATNumber)
	go func() {
		res, err := s.upstream.Check(ctx, countryCode, number, timeout)
		s.attempts <- attemptOutcome{job: job, result: res, err: models.AsErrorResult(err)}
	}()
	return 0
}

// finish applies the outcome of the in-flight attempt and reports whether it failed.
func (s *Scheduler) finish(out attemptOutcome) bool {
	s.inflight = nil
	telemetry.InFlightGauge.Set(0)
	job := out.job
	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "vat": job.VATNumber, "retries": job.RetryCount})

	if out.err == nil {
		telemetry.UpstreamCalls.WithLabelValues("200").Inc()
		s.store(job.VATNumber, out.result, log)
		if job.resolved() {
			return false
		}
		s.queueFor(job.Mode).remove(job)
		s.resolve(job, models.Success(out.result), "success")
		return false
	}

	telemetry.UpstreamCalls.WithLabelValues(strconv.Itoa(out.err.Code)).Inc()
	log.WithField("code", out.err.Code).Warn("upstream attempt failed")
	if job.resolved() {
		return true
	}
	if job.RetryCount > s.opts.MaxRetries {
		s.queueFor(job.Mode).remove(job)
		if job.Fallback != nil {
			r := models.Success(*job.Fallback)
			r.Cached = true
			s.resolve(job, r, "stale_fallback")
		} else {
			s.resolve(job, models.Failure(out.err), "exhausted")
		}
		return true
	}
	job.RetryCount++
	job.LastFailure = out.err
	return true
}

func (s *Scheduler) store(vatNumber string, result models.ValidationResult, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CacheTimeout)
	defer cancel()
	entry := models.CacheEntry{VATNumber: vatNumber, Date: models.Day(s.now()), Result: result}
	if err := s.cache.Put(ctx, entry); err != nil {
		log.WithError(err).Warn("cache write failed")
	}
}

// sweepExpired resolves sync jobs that reached the sync timeout, whatever
// their retry state.
func (s *Scheduler) sweepExpired() {
	now := s.now()
	for _, job := range s.syncQ.snapshot() {
		if now.Sub(job.SubmittedAt) < s.opts.SyncJobTimeout {
			continue
		}
		s.syncQ.remove(job)
		telemetry.SyncTimeouts.Inc()
		switch {
		case job.Fallback != nil:
			r := models.Success(*job.Fallback)
			r.Cached = true
			s.resolve(job, r, "timeout_stale")
		case job.LastFailure != nil:
			s.resolve(job, models.Failure(job.LastFailure), "timeout")
		default:
			s.resolve(job, models.Failure(models.Unavailable()), "timeout")
		}
	}
}

// backoff picks the pause after a failed attempt and reports whether it is
// the async-class pause.
func (s *Scheduler) backoff() (time.Duration, bool) {
	if s.syncQ.len() > 0 {
		return s.opts.SyncBackoff, false
	}
	if s.asyncQ.len() > 0 {
		return s.opts.AsyncBackoff, true
	}
	return 0, false
}

func (s *Scheduler) reportDepth() {
	telemetry.QueueDepthGauge.WithLabelValues(string(models.ModeSync)).Set(float64(s.syncQ.len()))
	telemetry.QueueDepthGauge.WithLabelValues(string(models.ModeAsync)).Set(float64(s.asyncQ.len()))
}

// resolve fulfils the job's handle once and starts callback delivery for async jobs.
func (s *Scheduler) resolve(job *Job, r models.Result, outcome string) {
	r.Stats = computeStats(job, s.now())
	if !job.handle.resolve(r) {
		return
	}
	telemetry.Resolutions.WithLabelValues(string(job.Mode), outcome).Inc()
	s.log.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"vat":     job.VATNumber,
		"outcome": outcome,
		"retries": job.RetryCount,
		"total":   r.Stats.Total,
	}).Debug("job resolved")

	if job.Mode != models.ModeAsync || s.notifier == nil {
		return
	}
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		if err := s.notifier.Deliver(s.bgCtx, job.CallbackURL, r); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"job_id": job.ID,
				"url":    job.CallbackURL,
			}).Error("callback delivery abandoned")
		}
	}()
}

// Shutdown stops admissions and waits for queued jobs and pending callbacks.
// When ctx ends first the in-flight call is cancelled and remaining jobs are
// abandoned unresolved.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.quit)
	}
	s.mu.Unlock()

	// Jobs already admitted need a loop to finish them, even one that has
	// not been started yet.
	if s.running.Load() || len(s.inbox) > 0 {
		select {
		case <-s.done:
		case <-ctx.Done():
			s.abortOnce.Do(func() { close(s.abort) })
			if s.running.Load() {
				<-s.done
			}
			s.bgCancel()
			return fmt.Errorf("drain scheduler: %w", ctx.Err())
		}
	}

	delivered := make(chan struct{})
	go func() {
		s.deliveries.Wait()
		close(delivered)
	}()
	select {
	case <-delivered:
		s.bgCancel()
		return nil
	case <-ctx.Done():
		s.bgCancel()
		return fmt.Errorf("drain callbacks: %w", ctx.Err())
	}
}
