package nightcap

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts password logins that committed immediately.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected logins.
	MetricLoginFailure
	// MetricLoginTwoFactorHold counts logins parked behind a second factor.
	MetricLoginTwoFactorHold
	// MetricTwoFactorSuccess counts confirmed login challenges.
	MetricTwoFactorSuccess
	// MetricTwoFactorFailure counts failed login-challenge confirmations.
	MetricTwoFactorFailure
	// MetricChallengeIssued counts issued verification challenges.
	MetricChallengeIssued
	// MetricChallengeCompleted counts redeemed verification challenges.
	MetricChallengeCompleted
	// MetricChallengeFailed counts wrong or expired code submissions.
	MetricChallengeFailed
	// MetricChallengeAttemptsExceeded counts challenges destroyed at the cap.
	MetricChallengeAttemptsExceeded
	// MetricDeviceMismatch counts step-2 requests missing their handoff.
	MetricDeviceMismatch
	// MetricSessionCreated counts session rows written.
	MetricSessionCreated
	// MetricSessionInvalidated counts session rows destroyed.
	MetricSessionInvalidated
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts sign-out-everywhere operations.
	MetricLogoutAll
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine counters. Counters are cache-line padded so the
// hot login path never false-shares.
type Metrics struct {
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}

// Name returns the stable exposition name of a counter.
func (id MetricID) Name() string {
	switch id {
	case MetricLoginSuccess:
		return "login_success"
	case MetricLoginFailure:
		return "login_failure"
	case MetricLoginTwoFactorHold:
		return "login_two_factor_hold"
	case MetricTwoFactorSuccess:
		return "two_factor_success"
	case MetricTwoFactorFailure:
		return "two_factor_failure"
	case MetricChallengeIssued:
		return "challenge_issued"
	case MetricChallengeCompleted:
		return "challenge_completed"
	case MetricChallengeFailed:
		return "challenge_failed"
	case MetricChallengeAttemptsExceeded:
		return "challenge_attempts_exceeded"
	case MetricDeviceMismatch:
		return "device_mismatch"
	case MetricSessionCreated:
		return "session_created"
	case MetricSessionInvalidated:
		return "session_invalidated"
	case MetricLogout:
		return "logout"
	case MetricLogoutAll:
		return "logout_all"
	default:
		return "unknown"
	}
}
