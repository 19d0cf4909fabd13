package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vies-gateway/internal/models"
)

// Request is what a gateway hands to Submit.
type Request struct {
	VATNumber   string
	Mode        models.Mode
	CallbackURL string
	// NoCache skips the cache lookup and always goes upstream.
	NoCache bool
	// StaleOK accepts a cached entry of any age as an immediate answer.
	StaleOK bool
}

// Job is one validation in flight. Once queued, only the scheduler loop
// touches its mutable fields.
type Job struct {
	ID          string
	VATNumber   string
	Mode        models.Mode
	CallbackURL string
	NoCache     bool
	StaleOK     bool

	SubmittedAt      time.Time
	RequestStartedAt time.Time
	RetryCount       int
	LastFailure      *models.ErrorResult
	Fallback         *models.ValidationResult

	handle *Handle
}

func newJob(req Request, now time.Time) *Job {
	id := uuid.New().String()
	return &Job{
		ID:          id,
		VATNumber:   req.VATNumber,
		Mode:        req.Mode,
		CallbackURL: req.CallbackURL,
		NoCache:     req.NoCache,
		StaleOK:     req.StaleOK,
		SubmittedAt: now,
		handle:      newHandle(id),
	}
}

func (j *Job) resolved() bool {
	select {
	case <-j.handle.done:
		return true
	default:
		return false
	}
}

// Handle is the single-resolution outcome slot of a job.
type Handle struct {
	ID string

	once   sync.Once
	done   chan struct{}
	result models.Result
}

func newHandle(id string) *Handle {
	return &Handle{ID: id, done: make(chan struct{})}
}

// resolve stores r unless the handle already holds a result.
func (h *Handle) resolve(r models.Result) bool {
	first := false
	h.once.Do(func() {
		h.result = r
		close(h.done)
		first = true
	})
	return first
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome if it is already known.
func (h *Handle) Result() (models.Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return models.Result{}, false
	}
}

// Wait blocks until the job resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) (models.Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return models.Result{}, ctx.Err()
	}
}

// jobQueue is a FIFO owned by the scheduler loop.
type jobQueue struct {
	jobs []*Job
}

func (q *jobQueue) push(j *Job) {
	q.jobs = append(q.jobs, j)
}

func (q *jobQueue) head() *Job {
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

func (q *jobQueue) remove(j *Job) bool {
	for i, queued := range q.jobs {
		if queued == j {
			copy(q.jobs[i:], q.jobs[i+1:])
			q.jobs[len(q.jobs)-1] = nil
			q.jobs = q.jobs[:len(q.jobs)-1]
			return true
		}
	}
	return false
}

func (q *jobQueue) len() int {
	return len(q.jobs)
}

func (q *jobQueue) snapshot() []*Job {
	return append([]*Job(nil), q.jobs...)
}
