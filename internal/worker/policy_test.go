package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vies-gateway/internal/models"
)

func TestFreshnessPolicy(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	policy := FreshnessPolicy{Days: 2}

	cases := []struct {
		name string
		date time.Time
		want bool
	}{
		{name: "same day", date: now, want: true},
		{name: "yesterday late", date: time.Date(2024, 6, 9, 23, 59, 0, 0, time.UTC), want: true},
		{name: "two days", date: time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC), want: false},
		{name: "three days", date: now.Add(-3 * day), want: false},
		{name: "future date", date: now.Add(day), want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := models.CacheEntry{Date: models.Day(tc.date)}
			assert.Equal(t, tc.want, policy.Fresh(entry, now))
		})
	}
}

func TestComputeStats(t *testing.T) {
	submitted := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	job := &Job{
		SubmittedAt:      submitted,
		RequestStartedAt: submitted.Add(1234 * time.Millisecond),
		RetryCount:       3,
	}
	stats := computeStats(job, submitted.Add(6788*time.Millisecond))

	assert.Equal(t, 3, stats.Retries)
	assert.InDelta(t, 1.23, stats.Queued, 1e-9)
	assert.InDelta(t, 5.55, stats.Request, 1e-9)
	assert.InDelta(t, 6.79, stats.Total, 1e-9)
}

func TestComputeStatsNeverStarted(t *testing.T) {
	submitted := time.Now()
	stats := computeStats(&Job{SubmittedAt: submitted}, submitted.Add(30*time.Second))

	assert.InDelta(t, 30, stats.Queued, 1e-9)
	assert.Zero(t, stats.Request)
	assert.InDelta(t, 30, stats.Total, 1e-9)
}

func TestJobQueue(t *testing.T) {
	var q jobQueue
	a, b, c := &Job{ID: "a"}, &Job{ID: "b"}, &Job{ID: "c"}
	q.push(a)
	q.push(b)
	q.push(c)

	assert.Same(t, a, q.head())
	assert.True(t, q.remove(b))
	assert.False(t, q.remove(b))
	assert.Equal(t, 2, q.len())
	assert.True(t, q.remove(a))
	assert.Same(t, c, q.head())
	assert.True(t, q.remove(c))
	assert.Nil(t, q.head())
}
