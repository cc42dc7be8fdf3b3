package config

import "time"

type AcquisitionConfig interface {
	GetPullTimeout() time.Duration
	GetReloadPullTimeout() time.Duration
	GetRetryDelay() time.Duration
	GetReloadRetryDelay() time.Duration
	GetAttemptTimeout() time.Duration
	GetLoadingGrace() time.Duration
}

type Acquisition struct{}

var _ AcquisitionConfig = Acquisition{}

// GetPullTimeout bounds the first pull on a fresh navigation
func (Acquisition) GetPullTimeout() time.Duration {
	return GetEnvDuration("SESSION_PULL_TIMEOUT", 1*time.Second)
}

// GetReloadPullTimeout bounds the first pull after a reload, when the provider
// has to rehydrate from the cache first
func (Acquisition) GetReloadPullTimeout() time.Duration {
	return GetEnvDuration("SESSION_RELOAD_PULL_TIMEOUT", 5*time.Second)
}

func (Acquisition) GetRetryDelay() time.Duration {
	return GetEnvDuration("SESSION_RETRY_DELAY", 1*time.Second)
}

func (Acquisition) GetReloadRetryDelay() time.Duration {
	return GetEnvDuration("SESSION_RELOAD_RETRY_DELAY", 2*time.Second)
}

// GetAttemptTimeout is the hard cap on a single pull attempt
func (Acquisition) GetAttemptTimeout() time.Duration {
	return GetEnvDuration("SESSION_ATTEMPT_TIMEOUT", 10*time.Second)
}

// GetLoadingGrace is added to the pull timeout before the loading watchdog fires
func (Acquisition) GetLoadingGrace() time.Duration {
	return GetEnvDuration("SESSION_LOADING_GRACE", 500*time.Millisecond)
}
