package container

import (
	"context"
	"time"

	"github.com/forgehook/forgehook/internal/models"
	"github.com/forgehook/forgehook/internal/pkg/metrics"
)

// InstanceLister supplies the set of container-runtime instances
// currently tracked as running.
type InstanceLister interface {
	ListRunningContainerInstances(ctx context.Context) ([]*models.PluginInstance, error)
}

// FailureHandler is invoked once an instance accumulates 3 consecutive
// health-check failures, so the caller can flip it to failed and publish
// plugin:health-changed.
type FailureHandler interface {
	MarkUnhealthy(ctx context.Context, pluginID string, err error)
	MarkHealthy(ctx context.Context, pluginID string)
}

const consecutiveFailureThreshold = 3

// Poller runs the Container Supervisor's periodic health-poll loop.
type Poller struct {
	supervisor *Supervisor
	lister     InstanceLister
	handler    FailureHandler
	interval   time.Duration

	failures map[string]int
	tickNow  chan struct{}
}

// NewPoller creates a poller that checks every interval.
func NewPoller(supervisor *Supervisor, lister InstanceLister, handler FailureHandler, interval time.Duration) *Poller {
	return &Poller{
		supervisor: supervisor,
		lister:     lister,
		handler:    handler,
		interval:   interval,
		failures:   make(map[string]int),
		tickNow:    make(chan struct{}),
	}
}

// Run loops until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		case <-p.tickNow:
			p.pollAll(ctx)
		}
	}
}

// TickNow forces an immediate poll round; used only by tests.
func (p *Poller) TickNow() { p.tickNow <- struct{}{} }

func (p *Poller) pollAll(ctx context.Context) {
	instances, err := p.lister.ListRunningContainerInstances(ctx)
	if err != nil {
		return
	}
	for _, inst := range instances {
		err := p.supervisor.HealthCheck(ctx, inst)
		if err != nil {
			p.failures[inst.ID]++
			metrics.ContainerHealthCheckTotal.WithLabelValues(inst.ID, "unhealthy").Inc()
			if p.failures[inst.ID] >= consecutiveFailureThreshold {
				p.handler.MarkUnhealthy(ctx, inst.ID, err)
				delete(p.failures, inst.ID)
			}
			continue
		}
		metrics.ContainerHealthCheckTotal.WithLabelValues(inst.ID, "healthy").Inc()
		if p.failures[inst.ID] > 0 {
			delete(p.failures, inst.ID)
		}
		p.handler.MarkHealthy(ctx, inst.ID)
	}
}
