package designmodule

import (
	"errors"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/base"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/modulemanager"
	"github.com/modelbay/modelbay/internal/services"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the design module
	ModuleID = "system.design"

	// ModuleName is the display name for the design module
	ModuleName = "Design Catalog"

	// DesignServiceName is the registry key for the catalog service
	DesignServiceName = "design"
)

// Module owns the design catalog service and its HTTP API
type Module struct {
	*base.BaseModule
	service *Service
}

// Register registers this module with the module system
func Register() {
	modulemanager.Register(&Module{
		BaseModule: base.NewBaseModule(ModuleID, ModuleName, "1.0.0", true),
	})
}

// Dependencies declares which modules must initialize first
func (m *Module) Dependencies() []string {
	return []string{"system.database"}
}

// ProvidedServices declares the services this module registers
func (m *Module) ProvidedServices() []string {
	return []string{DesignServiceName}
}

// Migrate has nothing to do; the import module migrates the catalog
// tables it populates.
func (m *Module) Migrate(db *gorm.DB) error {
	m.SetDB(db)
	return nil
}

// Init builds the catalog service and registers it
func (m *Module) Init() error {
	if m.IsInitialized() {
		return nil
	}
	db := m.GetDB()
	if db == nil {
		db = database.GetDB()
		m.SetDB(db)
	}
	if db == nil {
		return errors.New("database is not available")
	}

	m.service = NewService(db)
	services.RegisterService(DesignServiceName, m.service)

	m.SetInitialized(true)
	logger.Info("Design module initialized")
	return nil
}

// Service returns the owned catalog service
func (m *Module) Service() *Service {
	return m.service
}
