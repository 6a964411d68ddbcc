// Package modulemanager provides interfaces for the module system
package modulemanager

// ServiceInjector is an optional interface for modules that need services injected
type ServiceInjector interface {
	// InjectServices is called after the dependency graph is built but before Init()
	// The services map contains all available services keyed by service name
	InjectServices(services map[string]interface{}) error
}

// ServiceRegistrar is an optional interface for modules that register services early
type ServiceRegistrar interface {
	// RegisterServices is called after construction but before any Init() calls
	// This allows modules to register services that other modules depend on
	RegisterServices() error
}
