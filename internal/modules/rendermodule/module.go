package rendermodule

import (
	"context"
	"time"

	"gorm.io/gorm"

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
	// ModuleID is the unique identifier for the render module
	ModuleID = "system.render"

	// ModuleName is the display name for the render module
	ModuleName = "Render Client"

	// RenderServiceName is the registry key for the render client
	RenderServiceName = "render"
)

// Module owns the HTTP client for the external render service
type Module struct {
	*base.BaseModule
	client *Client
}

// Register registers this module with the module system. The module is
// not core: installs without a render backend can disable it and the
// import pipeline skips previews and geometry.
func Register() {
	modulemanager.Register(&Module{
		BaseModule: base.NewBaseModule(ModuleID, ModuleName, "1.0.0", false),
	})
}

// ProvidedServices declares the services this module registers
func (m *Module) ProvidedServices() []string {
	return []string{RenderServiceName}
}

// RegisterServices builds the client and registers it early so the
// import module can consume it during injection.
func (m *Module) RegisterServices() error {
	if m.client == nil {
		m.client = NewClient(config.Get().Render)
	}
	services.RegisterService(RenderServiceName, m.client)
	return nil
}

// Migrate has nothing to do; the render service owns no tables
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init probes the render service. An unreachable service is logged,
// not fatal: previews and geometry degrade per item until it returns.
func (m *Module) Init() error {
	if m.IsInitialized() {
		return nil
	}
	if m.client == nil {
		m.client = NewClient(config.Get().Render)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Healthy(ctx); err != nil {
		logger.Warn("⚠️ Render service at %s is not responding: %v (previews will degrade until it recovers)", m.client.baseURL, err)
	} else {
		logger.Info("Render module initialized against %s", m.client.baseURL)
	}

	m.SetInitialized(true)
	return nil
}

// Client returns the owned render client
func (m *Module) Client() *Client {
	return m.client
}
