package kernel

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"rollcall/pkg/rollcall"
)

// ServiceRegistry is an in-memory name to singleton map safe for concurrent use.
type ServiceRegistry struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{entries: make(map[string]any)}
}

// Register binds service to name. Names are registered once.
func (r *ServiceRegistry) Register(name string, service any) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("register service: blank name")
	}
	if service == nil {
		return fmt.Errorf("register service %s: nil value", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, taken := r.entries[name]; taken {
		return fmt.Errorf("register service %s (%T): %w", name, existing, rollcall.ErrServiceAlreadyRegistered)
	}
	r.entries[name] = service

	return nil
}

// Resolve returns the service registered under name.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	r.mu.RLock()
	service, found := r.entries[name]
	r.mu.RUnlock()

	if !found {
		return nil, fmt.Errorf("resolve service %q: %w", name, rollcall.ErrServiceNotFound)
	}

	return service, nil
}

// Names lists registered service names in sorted order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	return names
}
