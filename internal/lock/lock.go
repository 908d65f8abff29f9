// Package lock provides the Locker implementations used to keep periodic
// background work on a single instance.
package lock

import (
	"context"
	"sync"

	"campusvote.org/internal/election"
)

var (
	_ election.Locker = (*Local)(nil)
	_ election.Locker = (*Etcd)(nil)
)

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return false, nil
	}
	l.held[name] = struct{}{}
	return true, nil
}

func (l *Local) Unlock(_ context.Context, name string) error {
	l.mu.Lock()
	delete(l.held, name)
	l.mu.Unlock()
	return nil
}
