package gateway

import (
	"context"
	"time"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/pkg/metrics"
)

// InstanceLister supplies the set of gateway-runtime instances currently
// tracked, decoupling Prober from the repository/lifecycle packages.
type InstanceLister interface {
	ListRunningGatewayInstances(ctx context.Context) ([]*models.PluginInstance, error)
}

// HealthUpdater persists the result of a probe against one instance.
type HealthUpdater interface {
	RecordHealthCheck(ctx context.Context, pluginID string, err error)
}

// Prober runs the Gateway Driver's periodic health-check loop.
type Prober struct {
	driver   *Driver
	lister   InstanceLister
	updater  HealthUpdater
	interval time.Duration

	tickNow chan struct{} // test-only: forces an iteration outside the timer
}

// NewProber creates a prober that checks every interval.
func NewProber(driver *Driver, lister InstanceLister, updater HealthUpdater, interval time.Duration) *Prober {
	return &Prober{
		driver:   driver,
		lister:   lister,
		updater:  updater,
		interval: interval,
		tickNow:  make(chan struct{}),
	}
}

// Run loops until ctx is cancelled, probing every interval or whenever
// TickNow is invoked.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		case <-p.tickNow:
			p.probeAll(ctx)
		}
	}
}

// TickNow forces an immediate probe round; used only by tests to avoid
// depending on wall-clock timing.
func (p *Prober) TickNow() { p.tickNow <- struct{}{} }

func (p *Prober) probeAll(ctx context.Context) {
	instances, err := p.lister.ListRunningGatewayInstances(ctx)
	if err != nil {
		return
	}
	for _, inst := range instances {
		err := p.driver.HealthCheck(ctx, inst)
		outcome := "healthy"
		if err != nil {
			outcome = "unhealthy"
		}
		metrics.GatewayHealthCheckTotal.WithLabelValues(inst.ID, outcome).Inc()
		p.updater.RecordHealthCheck(ctx, inst.ID, err)
	}
}
