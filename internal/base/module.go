// Package base carries the scaffolding every module would otherwise
// duplicate: identity accessors, initialization state, and a
// database-backed health check.
package base

import (
	"sync"

	"gorm.io/gorm"
)

// BaseModule holds the common identity and lifecycle state of a
// module. Embed it and implement Migrate/Init on top; the module
// manager sees the promoted accessors.
type BaseModule struct {
	id          string
	name        string
	version     string
	core        bool
	initialized bool
	db          *gorm.DB
	mu          sync.RWMutex
}

// NewBaseModule creates the embedded core of a module
func NewBaseModule(id, name, version string, core bool) *BaseModule {
	return &BaseModule{
		id:      id,
		name:    name,
		version: version,
		core:    core,
	}
}

// ID returns the unique module identifier
func (m *BaseModule) ID() string {
	return m.id
}

// Name returns the module display name
func (m *BaseModule) Name() string {
	return m.name
}

// Version returns the module version
func (m *BaseModule) Version() string {
	return m.version
}

// Core returns whether this is a core module
func (m *BaseModule) Core() bool {
	return m.core
}

// IsInitialized reports whether Init has completed
func (m *BaseModule) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// SetInitialized marks the module as initialized
func (m *BaseModule) SetInitialized(initialized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = initialized
}

// SetDB hands the module its database connection
func (m *BaseModule) SetDB(db *gorm.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db = db
}

// GetDB returns the database connection, nil when the module owns no
// tables
func (m *BaseModule) GetDB() *gorm.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// HealthCheck reports whether the module is ready to serve. Modules
// holding a database connection also verify it responds.
func (m *BaseModule) HealthCheck() error {
	if !m.IsInitialized() {
		return ErrModuleNotInitialized
	}

	if db := m.GetDB(); db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			return ErrDatabaseConnection
		}
		if err := sqlDB.Ping(); err != nil {
			return ErrDatabasePing
		}
	}

	return nil
}

// Common errors
var (
	ErrModuleNotInitialized = &ModuleError{Code: "MODULE_NOT_INITIALIZED", Message: "module is not initialized"}
	ErrDatabaseConnection   = &ModuleError{Code: "DATABASE_CONNECTION", Message: "failed to get database connection"}
	ErrDatabasePing         = &ModuleError{Code: "DATABASE_PING", Message: "database ping failed"}
)

// ModuleError is a module lifecycle error with a stable code
type ModuleError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ModuleError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ModuleError) Unwrap() error {
	return e.Cause
}
