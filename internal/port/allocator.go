// Package port hands out host ports to container-runtime plugin
// instances from a fixed configured range.
package port

import (
	"fmt"
	"sync"

	"github.com/forgehook/forgehook/internal/pkg/metrics"
)

// ErrExhausted is returned when no port in the configured range is free.
type ErrExhausted struct {
	Start, End int
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("no ports available in range [%d,%d]", e.Start, e.End)
}

// Allocator is an in-memory set of allocated ports over [start, end].
type Allocator struct {
	mu       sync.Mutex
	start    int
	end      int
	inUse    map[int]bool
}

// NewAllocator creates an allocator over the inclusive range [start, end].
func NewAllocator(start, end int) *Allocator {
	return &Allocator{start: start, end: end, inUse: make(map[int]bool)}
}

// Seed marks ports already in use, e.g. when rebuilding allocator state
// from persisted PluginInstance rows at startup. Ports outside the
// configured range are ignored.
func (a *Allocator) Seed(ports []int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		if p >= a.start && p <= a.end {
			a.inUse[p] = true
		}
	}
	a.reportUtilizationLocked()
}

// Allocate returns the lowest free port in range, or ErrExhausted.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := a.start; p <= a.end; p++ {
		if !a.inUse[p] {
			a.inUse[p] = true
			a.reportUtilizationLocked()
			return p, nil
		}
	}
	return 0, &ErrExhausted{Start: a.start, End: a.end}
}

// Release frees port. Releasing a free or out-of-range port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
	a.reportUtilizationLocked()
}

// InUseCount returns the number of currently-allocated ports.
func (a *Allocator) InUseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

func (a *Allocator) reportUtilizationLocked() {
	total := a.end - a.start + 1
	if total <= 0 {
		return
	}
	metrics.PortAllocatorUtilization.Set(float64(len(a.inUse)) / float64(total))
}
