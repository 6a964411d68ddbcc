package aimodule

import (
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
	// ModuleID is the unique identifier for the AI module
	ModuleID = "system.ai"

	// ModuleName is the display name for the AI module
	ModuleName = "AI Metadata Client"

	// AIServiceName is the registry key for the AI client
	AIServiceName = "ai"
)

// Module owns the HTTP client for the AI metadata backend
type Module struct {
	*base.BaseModule
	client *Client
}

// Register registers this module with the module system. The module is
// not core: installs without an AI backend can disable it and imports
// fall back to filename-derived metadata.
func Register() {
	modulemanager.Register(&Module{
		BaseModule: base.NewBaseModule(ModuleID, ModuleName, "1.0.0", false),
	})
}

// ProvidedServices declares the services this module registers
func (m *Module) ProvidedServices() []string {
	return []string{AIServiceName}
}

// RegisterServices builds the client and registers it early so the
// import module can consume it during injection.
func (m *Module) RegisterServices() error {
	if m.client == nil {
		m.client = NewClient(config.Get().AI)
	}
	services.RegisterService(AIServiceName, m.client)
	return nil
}

// Migrate has nothing to do; the AI client owns no tables
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init logs the configured backend. No startup probe: metadata
// extraction degrades per item, and local backends are often started
// after the server.
func (m *Module) Init() error {
	if m.IsInitialized() {
		return nil
	}
	if m.client == nil {
		m.client = NewClient(config.Get().AI)
	}
	if m.client.apiKey == "" {
		logger.Debug("AI service API key is not set; requests will be unauthenticated")
	}
	m.SetInitialized(true)
	logger.Info("AI module initialized against %s (model %s)", m.client.baseURL, m.client.model)
	return nil
}

// Client returns the owned AI client
func (m *Module) Client() *Client {
	return m.client
}
