// Package metrics exposes prometheus collectors describing capture outcomes.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sonar"

// Persistence stages reported by PersistFailures.
const (
	StageRequest = "request"
	StageEntries = "entries"
)

// Capture counts recorded and excluded requests. A nil *Capture is a valid
// no-op recorder.
type Capture struct {
	captured        prometheus.Counter
	excluded        prometheus.Counter
	persistFailures *prometheus.CounterVec
	duration        prometheus.Histogram
}

// NewCapture creates the collectors and registers them with reg. Collectors
// already registered under the same name are reused.
func NewCapture(reg prometheus.Registerer) (*Capture, error) {
	c := &Capture{
		captured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_captured_total",
			Help:      "Requests recorded by the capture middleware.",
		}),
		excluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_excluded_total",
			Help:      "Requests skipped because their path matched an exclusion rule.",
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Capture persistence failures by stage.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Wall time of captured requests, handler included.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return c, nil
	}

	var err error
	if c.captured, err = register(reg, c.captured); err != nil {
		return nil, err
	}
	if c.excluded, err = register(reg, c.excluded); err != nil {
		return nil, err
	}
	if c.persistFailures, err = register(reg, c.persistFailures); err != nil {
		return nil, err
	}
	if c.duration, err = register(reg, c.duration); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, m T) (T, error) {
	if err := reg.Register(m); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return m, fmt.Errorf("register collector: %w", err)
	}
	return m, nil
}

// Captured records one persisted request and its duration.
func (c *Capture) Captured(d time.Duration) {
	if c == nil {
		return
	}
	c.captured.Inc()
	c.duration.Observe(d.Seconds())
}

func (c *Capture) Excluded() {
	if c == nil {
		return
	}
	c.excluded.Inc()
}

// PersistFailed records a failure at stage (StageRequest or StageEntries).
func (c *Capture) PersistFailed(stage string) {
	if c == nil {
		return
	}
	c.persistFailures.WithLabelValues(stage).Inc()
}

// Handler serves g in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
