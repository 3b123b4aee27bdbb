package api

import (
	"sync/atomic"
	"time"
)

// HotConfig is the subset of internal/config.Config the API surface
// consults on every request, refreshed without a restart by
// config.Watcher's onApply callback.
type HotConfig struct {
	DefaultApprovalMode    string
	ReuseWindow            time.Duration
	WaitTimeout            time.Duration
	PollInterval           time.Duration
	PolicyOperatorsEnabled bool
}

// RuntimeConfig holds the live HotConfig behind an atomic pointer so the
// watcher goroutine and request goroutines never need a lock to exchange it.
type RuntimeConfig struct {
	value atomic.Pointer[HotConfig]
}

func NewRuntimeConfig(initial HotConfig) *RuntimeConfig {
	rc := &RuntimeConfig{}
	rc.Store(initial)
	return rc
}

func (rc *RuntimeConfig) Store(cfg HotConfig) {
	rc.value.Store(&cfg)
}

func (rc *RuntimeConfig) Load() HotConfig {
	if v := rc.value.Load(); v != nil {
		return *v
	}
	return HotConfig{}
}
