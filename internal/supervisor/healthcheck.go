package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks that the remote model can be reached.
type ProbeFunc func(ctx context.Context) error

// HealthChecker periodically probes the Gemini API.
type HealthChecker struct {
	probe         ProbeFunc
	checkInterval time.Duration
	timeout       time.Duration
	healthy       atomic.Bool
	lastCheck     atomic.Value // time.Time
	lastError     atomic.Value // string
	metrics       *Metrics
	logger        *slog.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewHealthChecker starts a background checker. The upstream is reported
// unhealthy until the first probe succeeds.
func NewHealthChecker(probe ProbeFunc, checkInterval, timeout time.Duration, metrics *Metrics, logger *slog.Logger) *HealthChecker {
	hc := &HealthChecker{
		probe:         probe,
		checkInterval: checkInterval,
		timeout:       timeout,
		metrics:       metrics,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
	hc.healthy.Store(false)

	go hc.run()

	return hc
}

func (hc *HealthChecker) run() {
	hc.check()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.check()
		case <-hc.stopCh:
			return
		}
	}
}

func (hc *HealthChecker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	if err := hc.probe(ctx); err != nil {
		hc.updateHealth(false, err.Error())
		return
	}
	hc.updateHealth(true, "")
}

func (hc *HealthChecker) updateHealth(healthy bool, errMsg string) {
	was := hc.healthy.Swap(healthy)
	hc.lastCheck.Store(time.Now())
	hc.lastError.Store(errMsg)

	if hc.logger != nil {
		switch {
		case errMsg != "":
			hc.logger.Warn("upstream health check failed", "err", errMsg)
		case !was:
			hc.logger.Info("upstream healthy")
		}
	}

	hc.metrics.UpdateUpstreamHealth(healthy)
}

// Healthy returns whether the upstream is currently healthy.
func (hc *HealthChecker) Healthy() bool {
	return hc.healthy.Load()
}

// LastCheck returns the time of the last health check.
func (hc *HealthChecker) LastCheck() time.Time {
	if v := hc.lastCheck.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// LastError returns the last error message, if any.
func (hc *HealthChecker) LastError() string {
	if v := hc.lastError.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Shutdown stops the health checker.
func (hc *HealthChecker) Shutdown() {
	hc.stopOnce.Do(func() { close(hc.stopCh) })
}
