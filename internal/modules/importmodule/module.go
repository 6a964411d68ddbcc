package importmodule

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/eventsmodule"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
	"github.com/modelbay/modelbay/internal/modules/modulemanager"
	"github.com/modelbay/modelbay/internal/services"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the import module
	ModuleID = "system.import"

	// ModuleName is the display name for the import module
	ModuleName = "Import Orchestrator"

	// ImportServiceName is the registry key for the import service
	ImportServiceName = "import"
)

var instance *Module

// Module owns the bulk import engine: the job manager, the watch
// folder service, and the import HTTP API.
type Module struct {
	db      *gorm.DB
	manager *Manager
	watcher *Watcher

	// collaborators resolved from the service registry
	bus      events.EventBus
	renderer importer.PreviewRenderer
	geometry importer.GeometryAnalyzer
	metadata importer.MetadataExtractor
	hints    importer.TextHintExtractor
	store    importer.ObjectStore

	stagingDir     string
	maxArchiveSize int64

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

// Dependencies returns the modules that must initialize first. Render
// and AI are deliberately absent: they may be disabled, and when present
// their service requirements below already order them ahead of us.
func (m *Module) Dependencies() []string {
	return []string{
		"system.database",
		"system.events",
		"system.storage",
	}
}

// ProvidedServices declares the services this module registers
func (m *Module) ProvidedServices() []string {
	return []string{ImportServiceName}
}

// RequiredServices declares the services this module consumes
func (m *Module) RequiredServices() []string {
	return []string{
		eventsmodule.BusServiceName,
		"storage",
		"render",
		"ai",
	}
}

// InjectServices resolves collaborators from the service registry.
// Render and AI are optional; their pipeline steps degrade when absent.
func (m *Module) InjectServices(serviceMap map[string]interface{}) error {
	if svc, ok := serviceMap[eventsmodule.BusServiceName]; ok {
		if bus, ok := svc.(events.EventBus); ok {
			m.bus = bus
		}
	}
	if svc, ok := serviceMap["render"]; ok {
		if renderer, ok := svc.(importer.PreviewRenderer); ok {
			m.renderer = renderer
		}
		if geometry, ok := svc.(importer.GeometryAnalyzer); ok {
			m.geometry = geometry
		}
	}
	if svc, ok := serviceMap["ai"]; ok {
		if metadata, ok := svc.(importer.MetadataExtractor); ok {
			m.metadata = metadata
		}
		if hints, ok := svc.(importer.TextHintExtractor); ok {
			m.hints = hints
		}
	}
	if svc, ok := serviceMap["storage"]; ok {
		if store, ok := svc.(importer.ObjectStore); ok {
			m.store = store
		}
	}
	return nil
}

// Migrate creates the import and design library tables
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&database.ImportJob{},
		&database.ImportItem{},
		&database.DetectedProject{},
		&database.WatchFolder{},
		&database.Design{},
		&database.DesignFile{},
		&database.Tag{},
	)
}

// Init builds the manager and watcher, runs crash recovery, and
// registers the import service.
func (m *Module) Init() error {
	if m.initialized {
		return nil
	}
	if m.db == nil {
		m.db = database.GetDB()
		if m.db == nil {
			return fmt.Errorf("database connection is not available")
		}
	}
	if m.store == nil {
		return fmt.Errorf("storage service is not available")
	}
	if m.bus == nil {
		return fmt.Errorf("event bus service is not available")
	}

	cfg := config.Get()
	m.stagingDir = cfg.Import.StagingDir
	m.maxArchiveSize = cfg.Import.MaxArchiveSize

	m.manager = NewManager(m.db, cfg, ManagerDeps{
		Renderer: m.renderer,
		Geometry: m.geometry,
		Metadata: m.metadata,
		Hints:    m.hints,
		Store:    m.store,
		Bus:      m.bus,
	})
	if err := m.manager.Start(); err != nil {
		return fmt.Errorf("start import manager: %w", err)
	}

	watcher, err := NewWatcher(m.db, m.manager, m.bus, cfg.Import.WatchDebounce)
	if err != nil {
		return fmt.Errorf("create watch service: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("start watch service: %w", err)
	}
	m.watcher = watcher

	services.RegisterService(ImportServiceName, NewServiceAdapter(m.manager))

	m.initialized = true
	logger.Info("Import module initialized")
	return nil
}

// Stop shuts down the watcher and drains running jobs
func (m *Module) Stop(ctx context.Context) error {
	if !m.initialized {
		return nil
	}
	var firstErr error
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			firstErr = err
		}
	}
	if m.manager != nil {
		if err := m.manager.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.initialized = false
	return firstErr
}

// Shutdown stops the registered module instance; main calls this during
// graceful shutdown.
func Shutdown(ctx context.Context) error {
	if instance == nil {
		return nil
	}
	return instance.Stop(ctx)
}
