// Package lifecycle owns the PluginInstance state machine and serializes
// every mutating operation against a given plugin id.
package lifecycle

import "sync"

// idLocks serializes operations per plugin id: a Stop and a concurrent
// Update against the same instance cannot race, while operations against
// distinct ids proceed fully in parallel.
type idLocks struct {
	locks sync.Map // map[string]*sync.Mutex
}

func (l *idLocks) lockFor(id string) *sync.Mutex {
	actual, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// withLock runs fn while holding the per-id mutex for id.
func (l *idLocks) withLock(id string, fn func() error) error {
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
