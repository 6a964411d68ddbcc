package server

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/modelbay/modelbay/internal/api"
	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/middleware"
	"github.com/modelbay/modelbay/internal/modules/modulemanager"
)

var moduleInitialized bool

// SetupRouter builds the gin engine, loads every registered module and
// wires the module routes plus the system endpoints.
func SetupRouter(cfg *config.Config) (*gin.Engine, error) {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorLogger())
	r.Use(api.ErrorMiddleware())
	if cfg.Server.EnableCORS {
		r.Use(corsMiddleware())
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			return nil, fmt.Errorf("configure trusted proxies: %w", err)
		}
	}

	if err := initializeModules(); err != nil {
		return nil, fmt.Errorf("initialize modules: %w", err)
	}

	registerSystemRoutes(r)

	// Module-owned routes (import API, watch folders, events, designs,
	// file serving)
	modulemanager.RegisterRoutes(r)

	return r, nil
}

// corsMiddleware applies the permissive development CORS policy
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// initializeModules sets up the module system and loads all modules
func initializeModules() error {
	if moduleInitialized {
		return nil
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database must be initialized before the module system")
	}

	if err := modulemanager.LoadAll(db); err != nil {
		return err
	}

	moduleInitialized = true
	logModuleStatus()
	return nil
}

// logModuleStatus logs the loaded modules
func logModuleStatus() {
	modules := modulemanager.ListModules()

	logger.Info("✅ Module system initialized with %d modules", len(modules))

	logger.Info("┌────────────────────────────────────────────────────────────────┐")
	logger.Info("│ %-20s │ %-25s │ %-8s │", "MODULE NAME", "MODULE ID", "CORE")
	logger.Info("├────────────────────────────────────────────────────────────────┤")

	for _, module := range modules {
		coreStatus := "No"
		if module.Core() {
			coreStatus = "Yes"
		}
		logger.Info("│ %-20s │ %-25s │ %-8s │",
			truncate(module.Name(), 20),
			truncate(module.ID(), 25),
			coreStatus)
	}

	logger.Info("└────────────────────────────────────────────────────────────────┘")
}

// truncate shortens a string to the given length, adding ... if needed
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
