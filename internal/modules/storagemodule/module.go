package storagemodule

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/apiroutes"
	"github.com/modelbay/modelbay/internal/base"
	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/modulemanager"
	"github.com/modelbay/modelbay/internal/services"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the storage module
	ModuleID = "system.storage"

	// ModuleName is the display name for the storage module
	ModuleName = "Object Storage"

	// StorageServiceName is the registry key for the object store
	StorageServiceName = "storage"
)

// Module owns the local object store and the file serving route
type Module struct {
	*base.BaseModule
	store *LocalStore
}

// Register registers this module with the module system
func Register() {
	modulemanager.Register(&Module{
		BaseModule: base.NewBaseModule(ModuleID, ModuleName, "1.0.0", true),
	})
}

// ProvidedServices declares the services this module registers
func (m *Module) ProvidedServices() []string {
	return []string{StorageServiceName}
}

// RegisterServices builds the store and registers it early so the
// import module can consume it during injection.
func (m *Module) RegisterServices() error {
	if m.store == nil {
		m.store = NewLocalStore(config.Get().Storage)
	}
	services.RegisterService(StorageServiceName, m.store)
	return nil
}

// Migrate has nothing to do; objects live on disk, not in the database
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init ensures the store root exists
func (m *Module) Init() error {
	if m.IsInitialized() {
		return nil
	}
	if m.store == nil {
		m.store = NewLocalStore(config.Get().Storage)
	}
	if err := os.MkdirAll(m.store.Root(), 0o755); err != nil {
		return fmt.Errorf("create storage root %s: %w", m.store.Root(), err)
	}
	m.SetInitialized(true)
	logger.Info("Storage module initialized at %s", m.store.Root())
	return nil
}

// RegisterRoutes registers the object serving route
func (m *Module) RegisterRoutes(router *gin.Engine) {
	router.GET("/files/*path", m.serveObject)
	apiroutes.Register("/files/*path", "GET", "Serve a stored object by store path.")
}

// serveObject serves a stored object. Objects are content-addressed,
// so clients may cache them forever.
func (m *Module) serveObject(c *gin.Context) {
	path := c.Param("path")
	full, err := m.store.resolve(path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object path"})
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(full)
}

// Store returns the owned object store
func (m *Module) Store() *LocalStore {
	return m.store
}
