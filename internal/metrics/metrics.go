// Package metrics holds the Prometheus collectors for session acquisition and
// profile synchronization. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forum_session"

type Metrics struct {
	Transitions      *prometheus.CounterVec
	Resolutions      *prometheus.CounterVec
	PullAttempts     *prometheus.CounterVec
	ProfileFetches   *prometheus.CounterVec
	CacheWrites      *prometheus.CounterVec
	CachePurges      prometheus.Counter
	SignOutFailures  prometheus.Counter
	LoadingWatchdogs prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_transitions_total",
			Help:      "Acquisition state transitions by target state.",
		}, []string{"to"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_resolutions_total",
			Help:      "Which source decided the exit from acquiring.",
		}, []string{"source"}),
		PullAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pull_attempts_total",
			Help:      "Session pull attempts by outcome.",
		}, []string{"outcome"}),
		ProfileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_fetches_total",
			Help:      "Profile reads by source and outcome.",
		}, []string{"source", "outcome"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Credential cache writes by entry kind.",
		}, []string{"kind"}),
		CachePurges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_purges_total",
			Help:      "Namespace purges triggered by a tab close.",
		}),
		SignOutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_out_failures_total",
			Help:      "Provider side sign-out failures (local state is cleared regardless).",
		}),
		LoadingWatchdogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loading_watchdog_fired_total",
			Help:      "Times the loading watchdog had to force the loading flag off.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Transitions,
			m.Resolutions,
			m.PullAttempts,
			m.ProfileFetches,
			m.CacheWrites,
			m.CachePurges,
			m.SignOutFailures,
			m.LoadingWatchdogs,
		)
	}
	return m
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Resolution(source string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(source).Inc()
}

func (m *Metrics) PullAttempt(outcome string) {
	if m == nil {
		return
	}
	m.PullAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ProfileFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.ProfileFetches.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) CacheWrite(kind string) {
	if m == nil {
		return
	}
	m.CacheWrites.WithLabelValues(kind).Inc()
}

func (m *Metrics) CachePurge() {
	if m == nil {
		return
	}
	m.CachePurges.Inc()
}

func (m *Metrics) SignOutFailure() {
	if m == nil {
		return
	}
	m.SignOutFailures.Inc()
}

func (m *Metrics) LoadingWatchdog() {
	if m == nil {
		return
	}
	m.LoadingWatchdogs.Inc()
}
