// Package ratelimit implements an in-memory sliding window limiter keyed by
// client identifier.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision describes the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Identifier string
	Count      int           // requests counted in the window after this check
	Remaining  int           // admissions left in the window
	RetryAfter time.Duration // zero when allowed
}

// Limiter admits at most max requests per identifier within window.
// Buckets are created lazily and pruned on access.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time

	decisions *prometheus.CounterVec
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithRegisterer exports admission counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Limiter) {
		if reg == nil {
			return
		}
		reg.MustRegister(l.decisions)
	}
}

// New builds a limiter. Non-positive arguments fall back to 60 per minute.
func New(max int, window time.Duration, opts ...Option) *Limiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		max:     max,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_decisions_total",
				Help: "Rate limiter admission decisions by outcome.",
			},
			[]string{"outcome"},
		),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request from identifier is admitted, recording
// it when it is.
func (l *Limiter) Allow(identifier string) bool {
	return l.Decide(identifier).Allowed
}

// Decide runs the admission check and returns the full decision. Rejected
// requests are not recorded.
func (l *Limiter) Decide(identifier string) Decision {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	bucket := l.buckets[identifier]
	drop := 0
	for drop < len(bucket) && bucket[drop].Before(cutoff) {
		drop++
	}
	bucket = bucket[drop:]

	d := Decision{Identifier: identifier}
	if len(bucket) >= l.max {
		d.Count = len(bucket)
		d.RetryAfter = bucket[0].Add(l.window).Sub(now)
		l.buckets[identifier] = bucket
		l.mu.Unlock()
		l.decisions.WithLabelValues("rejected").Inc()
		return d
	}

	bucket = append(bucket, now)
	l.buckets[identifier] = bucket
	d.Allowed = true
	d.Count = len(bucket)
	d.Remaining = l.max - len(bucket)
	l.mu.Unlock()

	l.decisions.WithLabelValues("allowed").Inc()
	return d
}

// Limit returns the configured request budget per window.
func (l *Limiter) Limit() int {
	return l.max
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}
