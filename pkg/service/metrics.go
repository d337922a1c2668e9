package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/healthwatch/healthwatch-go/pkg/datatype"
	"github.com/healthwatch/healthwatch-go/pkg/relay"
)

const metricsNamespace = "healthwatch"

// Metrics holds the Prometheus collectors for the coordinator and relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Registerer

	setups        *prometheus.CounterVec
	setupDuration prometheus.Histogram
	enables       *prometheus.CounterVec
	updates       *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		setups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "setups_total",
			Help:      "Observer setup invocations by result and reason.",
		}, []string{"result", "reason"}),
		setupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "setup_duration_seconds",
			Help:      "Time from setup request to aggregate result.",
			Buckets:   prometheus.DefBuckets,
		}),
		enables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "background_delivery_enables_total",
			Help:      "Background delivery enable outcomes by data type.",
		}, []string{"type", "result"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "updates_total",
			Help:      "Update callbacks by data type and result.",
		}, []string{"type", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Relay sink deliveries by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.setups, m.setupDuration, m.enables, m.updates, m.notifications)
	}
	return m
}

// TrackQueue exposes the relay queue depth as a gauge.
func (m *Metrics) TrackQueue(depth func() int) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "relay_queue_depth",
		Help:      "Updates waiting for delivery to the sink.",
	}, func() float64 { return float64(depth()) }))
}

// ObserveDelivery records one relay delivery. It matches relay.Config.OnDelivered.
func (m *Metrics) ObserveDelivery(_ relay.Event, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(resultLabel(err == nil)).Inc()
}

func (m *Metrics) setupResolved(ok bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.setups.WithLabelValues(resultLabel(ok), reasonLabel(err)).Inc()
	m.setupDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) setupRejected(err error) {
	if m == nil {
		return
	}
	m.setups.WithLabelValues(resultLabel(false), reasonLabel(err)).Inc()
}

func (m *Metrics) enableResult(t datatype.ID, err error) {
	if m == nil {
		return
	}
	m.enables.WithLabelValues(t.String(), resultLabel(err == nil)).Inc()
}

func (m *Metrics) update(t datatype.ID, err error) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(t.String(), resultLabel(err == nil)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCapabilityUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, ErrAuthorization):
		return "authorization_error"
	case errors.Is(err, ErrSetupInProgress):
		return "in_progress"
	case errors.Is(err, ErrSetupTimeout):
		return "timeout"
	case errors.Is(err, ErrSetupIncomplete):
		return "enable_failed"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
