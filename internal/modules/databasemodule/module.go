// Package databasemodule anchors the shared database connection in the
// module system. Domain tables are owned and migrated by the modules
// that use them; this module exists so they have a dependency to order
// themselves behind and a health probe for the connection itself.
package databasemodule

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/base"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the database module
	ModuleID = "system.database"

	// ModuleName is the display name for the database module
	ModuleName = "Database Manager"
)

// Module owns the database connection lifecycle
type Module struct {
	*base.BaseModule
}

// Register registers this module with the module system
func Register() {
	// Created without a connection; Init resolves it from the database package
	modulemanager.Register(&Module{
		BaseModule: base.NewBaseModule(ModuleID, ModuleName, "1.0.0", true),
	})
}

// Migrate records the handle so the health probe can ping it. Domain
// tables are migrated by their owning modules.
func (m *Module) Migrate(db *gorm.DB) error {
	m.SetDB(db)
	return nil
}

// Init verifies the connection the server opened before module loading
func (m *Module) Init() error {
	if m.IsInitialized() {
		return nil
	}

	if m.GetDB() == nil {
		db := database.GetDB()
		if db == nil {
			return fmt.Errorf("database connection is not available")
		}
		m.SetDB(db)
	}

	m.SetInitialized(true)
	logger.Info("Database module initialized")
	return nil
}
