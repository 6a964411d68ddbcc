package eventsmodule

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/modulemanager"
	"github.com/modelbay/modelbay/internal/services"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the events module
	ModuleID = "system.events"

	// ModuleName is the display name for the events module
	ModuleName = "Event Bus"

	// BusServiceName is the registry key for the event bus
	BusServiceName = "events.bus"
)

var instance *Module

// Module owns the event bus lifecycle and the streaming endpoints
// that fan events out to dashboards.
type Module struct {
	bus         events.EventBus
	initialized bool
}

// Register registers this module with the module system
func Register() {
	instance = &Module{}
	modulemanager.Register(instance)
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true
}

// ProvidedServices declares the services this module registers
func (m *Module) ProvidedServices() []string {
	return []string{BusServiceName}
}

// RegisterServices starts the bus and registers it early; other
// modules publish from their own Init.
func (m *Module) RegisterServices() error {
	if m.bus == nil {
		m.bus = events.NewEventBus(events.DefaultBusConfig())
		if err := m.bus.Start(context.Background()); err != nil {
			return fmt.Errorf("start event bus: %w", err)
		}
	}
	services.RegisterService(BusServiceName, m.bus)
	return nil
}

// Migrate has nothing to do; events are not persisted
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init initializes the events module
func (m *Module) Init() error {
	if m.initialized {
		return nil
	}
	if m.bus == nil {
		return fmt.Errorf("event bus was not constructed during service registration")
	}
	m.initialized = true
	m.bus.PublishAsync(events.NewSystemEvent(events.EventSystemStarted, "ModelBay started", ""))
	logger.Info("Events module initialized")
	return nil
}

// Bus returns the owned event bus
func (m *Module) Bus() events.EventBus {
	return m.bus
}

// Stop drains and stops the bus. The shutdown event is published first;
// Stop delivers whatever is already buffered before exiting.
func (m *Module) Stop(ctx context.Context) error {
	if m.bus == nil {
		return nil
	}
	m.bus.PublishAsync(events.NewSystemEvent(events.EventSystemShutdown, "ModelBay shutting down", ""))
	return m.bus.Stop(ctx)
}

// Shutdown stops the registered module instance; main calls this last
// so other modules can publish during their own shutdown.
func Shutdown(ctx context.Context) error {
	if instance == nil {
		return nil
	}
	return instance.Stop(ctx)
}
