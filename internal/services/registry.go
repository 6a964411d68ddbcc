// Package services is the typed registry modules use to reach each
// other. A module publishes its public interface under a well-known
// name during startup; consumers resolve the name instead of importing
// the providing package, which keeps the module graph acyclic and lets
// tests substitute fakes per name.
package services

import (
	"fmt"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]interface{})
)

// RegisterService publishes a service under name. Re-registering a
// name replaces the previous value.
func RegisterService[T any](name string, service T) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = service
}

// GetService resolves name and asserts the registration satisfies T
func GetService[T any](name string) (T, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var zero T
	service, ok := registry[name]
	if !ok {
		return zero, fmt.Errorf("service '%s' not found", name)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("service '%s' has wrong type", name)
	}
	return typed, nil
}

// Get resolves name without a type assertion. The module manager uses
// it to enumerate registrations for the status endpoint.
func Get(name string) (interface{}, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	service, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("service '%s' not found", name)
	}
	return service, nil
}

// List returns the registered service names
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// UnregisterService removes a registration so tests can isolate
// registry state between cases.
func UnregisterService(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}
