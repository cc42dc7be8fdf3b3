package acquisition

import (
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/config"
)

// Options bound the race between pull, push and timeout.
type Options struct {
	PullTimeout       time.Duration // First pull on a fresh navigation
	ReloadPullTimeout time.Duration // First pull after a reload
	RetryDelay        time.Duration // Wait before the first background retry
	ReloadRetryDelay  time.Duration // Wait before the extra retry granted on reload
	AttemptTimeout    time.Duration // Hard cap on any single pull
}

func DefaultOptions() Options {
	return Options{
		PullTimeout:       1 * time.Second,
		ReloadPullTimeout: 5 * time.Second,
		RetryDelay:        1 * time.Second,
		ReloadRetryDelay:  2 * time.Second,
		AttemptTimeout:    10 * time.Second,
	}
}

func OptionsFromConfig(cfg config.AcquisitionConfig) Options {
	return Options{
		PullTimeout:       cfg.GetPullTimeout(),
		ReloadPullTimeout: cfg.GetReloadPullTimeout(),
		RetryDelay:        cfg.GetRetryDelay(),
		ReloadRetryDelay:  cfg.GetReloadRetryDelay(),
		AttemptTimeout:    cfg.GetAttemptTimeout(),
	}
}

// Timeout is the bound on acquiring for the given kind of load.
func (o Options) Timeout(reload bool) time.Duration {
	if reload {
		return o.ReloadPullTimeout
	}
	return o.PullTimeout
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PullTimeout <= 0 {
		o.PullTimeout = d.PullTimeout
	}
	if o.ReloadPullTimeout <= 0 {
		o.ReloadPullTimeout = d.ReloadPullTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.ReloadRetryDelay <= 0 {
		o.ReloadRetryDelay = d.ReloadRetryDelay
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = d.AttemptTimeout
	}
	return o
}
