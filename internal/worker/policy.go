package worker

import (
	"math"
	"time"

	"vies-gateway/internal/models"
)

const day = 24 * time.Hour

// FreshnessPolicy decides at read time whether a cached entry may be served
// without going upstream.
type FreshnessPolicy struct {
	Days int
}

// Fresh reports whether the calendar-day age of entry is below the window.
func (p FreshnessPolicy) Fresh(entry models.CacheEntry, now time.Time) bool {
	age := models.Day(now).Sub(models.Day(entry.Date))
	return age < time.Duration(p.Days)*day
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// computeStats measures a job at resolution. A job never sent upstream counts
// its whole life as queue time.
func computeStats(job *Job, resolvedAt time.Time) models.RequestStats {
	started := job.RequestStartedAt
	if started.IsZero() {
		started = resolvedAt
	}
	return models.RequestStats{
		Retries: job.RetryCount,
		Total:   seconds(resolvedAt.Sub(job.SubmittedAt)),
		Request: seconds(resolvedAt.Sub(started)),
		Queued:  seconds(started.Sub(job.SubmittedAt)),
	}
}
