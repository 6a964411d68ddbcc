// Package services provides lazy loading capabilities for service dependencies
package services

import (
	"fmt"
	"sync"
	"time"
)

// LazyService provides lazy loading for a service
type LazyService struct {
	name       string
	loader     func() (interface{}, error)
	service    interface{}
	mu         sync.RWMutex
	loaded     bool
	retryDelay time.Duration
	maxRetries int
}

// NewLazyService creates a new lazy service wrapper
func NewLazyService(name string, loader func() (interface{}, error)) *LazyService {
	return &LazyService{
		name:       name,
		loader:     loader,
		retryDelay: 100 * time.Millisecond,
		maxRetries: 10,
	}
}

// Get retrieves the service, loading it if necessary
func (ls *LazyService) Get() (interface{}, error) {
	// Fast path: already loaded
	ls.mu.RLock()
	if ls.loaded && ls.service != nil {
		service := ls.service
		ls.mu.RUnlock()
		return service, nil
	}
	ls.mu.RUnlock()

	// Slow path: need to load
	ls.mu.Lock()
	defer ls.mu.Unlock()

	// Double-check after acquiring write lock
	if ls.loaded && ls.service != nil {
		return ls.service, nil
	}

	// Try to load with retries
	var lastErr error
	for i := 0; i < ls.maxRetries; i++ {
		service, err := ls.loader()
		if err == nil && service != nil {
			ls.service = service
			ls.loaded = true
			return service, nil
		}

		lastErr = err

		// Wait before retry (except on last attempt)
		if i < ls.maxRetries-1 {
			time.Sleep(ls.retryDelay)
		}
	}

	return nil, fmt.Errorf("failed to load service %s after %d attempts: %w", ls.name, ls.maxRetries, lastErr)
}

// Reset clears the cached service
func (ls *LazyService) Reset() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.service = nil
	ls.loaded = false
}

// IsLoaded returns whether the service has been loaded
func (ls *LazyService) IsLoaded() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	return ls.loaded
}

// LazyServiceRegistry provides lazy loading for all services
type LazyServiceRegistry struct {
	services map[string]*LazyService
	mu       sync.RWMutex
}

// Global lazy registry
var lazyRegistry = &LazyServiceRegistry{
	services: make(map[string]*LazyService),
}

// RegisterLazy registers a lazy-loaded service
func RegisterLazy(name string, loader func() (interface{}, error)) {
	lazyRegistry.mu.Lock()
	defer lazyRegistry.mu.Unlock()

	lazyRegistry.services[name] = NewLazyService(name, loader)
}

// GetLazy retrieves a service using lazy loading
func GetLazy(name string) (interface{}, error) {
	lazyRegistry.mu.RLock()
	lazy, exists := lazyRegistry.services[name]
	lazyRegistry.mu.RUnlock()

	if !exists {
		// Fall back to regular registry
		return Get(name)
	}

	return lazy.Get()
}

// ResetLazy resets a lazy service
func ResetLazy(name string) {
	lazyRegistry.mu.RLock()
	lazy, exists := lazyRegistry.services[name]
	lazyRegistry.mu.RUnlock()

	if exists {
		lazy.Reset()
	}
}

// GetImportServiceLazy retrieves the import service with lazy loading
func GetImportServiceLazy() (ImportService, error) {
	service, err := GetLazy("import")
	if err != nil {
		return nil, err
	}

	is, ok := service.(ImportService)
	if !ok {
		return nil, fmt.Errorf("service import does not implement ImportService interface")
	}

	return is, nil
}

// GetDesignServiceLazy retrieves the design service with lazy loading
func GetDesignServiceLazy() (DesignService, error) {
	service, err := GetLazy("design")
	if err != nil {
		return nil, err
	}

	ds, ok := service.(DesignService)
	if !ok {
		return nil, fmt.Errorf("service design does not implement DesignService interface")
	}

	return ds, nil
}

// GetStorageServiceLazy retrieves the storage service with lazy loading
func GetStorageServiceLazy() (StorageService, error) {
	service, err := GetLazy("storage")
	if err != nil {
		return nil, err
	}

	ss, ok := service.(StorageService)
	if !ok {
		return nil, fmt.Errorf("service storage does not implement StorageService interface")
	}

	return ss, nil
}

// GetRenderServiceLazy retrieves the render service with lazy loading
func GetRenderServiceLazy() (RenderService, error) {
	service, err := GetLazy("render")
	if err != nil {
		return nil, err
	}

	rs, ok := service.(RenderService)
	if !ok {
		return nil, fmt.Errorf("service render does not implement RenderService interface")
	}

	return rs, nil
}

// GetAIServiceLazy retrieves the AI metadata service with lazy loading
func GetAIServiceLazy() (AIService, error) {
	service, err := GetLazy("ai")
	if err != nil {
		return nil, err
	}

	as, ok := service.(AIService)
	if !ok {
		return nil, fmt.Errorf("service ai does not implement AIService interface")
	}

	return as, nil
}

// RegisterServiceLoaders registers lazy loaders for all services
// This allows modules to retrieve services even if they haven't been registered yet
func RegisterServiceLoaders() {
	// Import service loader
	RegisterLazy("import", func() (interface{}, error) {
		return Get("import")
	})

	// Design service loader
	RegisterLazy("design", func() (interface{}, error) {
		return Get("design")
	})

	// Storage service loader
	RegisterLazy("storage", func() (interface{}, error) {
		return Get("storage")
	})

	// Render service loader
	RegisterLazy("render", func() (interface{}, error) {
		return Get("render")
	})

	// AI service loader
	RegisterLazy("ai", func() (interface{}, error) {
		return Get("ai")
	})
}

// WaitForService waits for a service to become available
func WaitForService(name string, timeout time.Duration) (interface{}, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		service, err := Get(name)
		if err == nil && service != nil {
			return service, nil
		}

		time.Sleep(50 * time.Millisecond)
	}

	return nil, fmt.Errorf("service %s not available after %v", name, timeout)
}

// WaitForAllServices waits for all required services to become available
func WaitForAllServices(services []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	pending := make(map[string]bool)
	for _, name := range services {
		pending[name] = true
	}

	for len(pending) > 0 && time.Now().Before(deadline) {
		for name := range pending {
			if _, err := Get(name); err == nil {
				delete(pending, name)
			}
		}

		if len(pending) > 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}

	if len(pending) > 0 {
		names := make([]string, 0, len(pending))
		for name := range pending {
			names = append(names, name)
		}
		return fmt.Errorf("services not available after %v: %v", timeout, names)
	}

	return nil
}
