// Package registry holds the process-wide service registry. Handlers obtain
// capabilities through it and must tolerate "not yet ready" with a bounded
// wait.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Registry maps capability names to live service implementations. It is
// constructed once at startup and passed into constructors explicitly.
type Registry struct {
	mu       sync.RWMutex
	services map[string]any
	waiters  map[string][]chan struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		services: make(map[string]any),
		waiters:  make(map[string][]chan struct{}),
	}
}

// Register installs a service under a capability name, waking any waiters.
func (r *Registry) Register(name string, service any) {
	r.mu.Lock()
	r.services[name] = service
	pending := r.waiters[name]
	delete(r.waiters, name)
	r.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// Lookup returns the service registered under name, if any.
func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	service, ok := r.services[name]
	return service, ok
}

// WaitReady blocks until the named capability is registered, the timeout
// elapses, or ctx is cancelled.
func (r *Registry) WaitReady(ctx context.Context, name string, timeout time.Duration) error {
	r.mu.Lock()
	if _, ok := r.services[name]; ok {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	r.waiters[name] = append(r.waiters[name], ch)
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("service %q not ready after %s", name, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the service under name as type T.
func Get[T any](r *Registry, name string) (T, bool) {
	var zero T
	service, ok := r.Lookup(name)
	if !ok {
		return zero, false
	}
	typed, ok := service.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
