// Package server builds the HTTP shell: the gin engine, the shared
// middleware chain, and the system endpoints that do not belong to any
// single module.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/modelbay/modelbay/internal/apiroutes"
	"github.com/modelbay/modelbay/internal/server/handlers"
)

// registerSystemRoutes configures the health, discovery and
// configuration endpoints
func registerSystemRoutes(r *gin.Engine) {
	r.GET("/health", handlers.HandleHealthCheck)
	apiroutes.Register("/health", "GET", "Liveness check with database ping.")

	// Root discovery endpoint listing every registered route
	r.GET("/api", handlers.ApiRootHandler)
	apiroutes.Register("/api", "GET", "Lists all available API endpoints.")

	api := r.Group("/api")
	{
		api.GET("/system/status", handlers.HandleSystemStatus)
		apiroutes.Register(api.BasePath()+"/system/status", "GET", "Runtime status: uptime, modules, database pool.")

		// Configuration management routes
		config := api.Group("/config")
		{
			config.GET("/", handlers.GetConfig)
			apiroutes.Register(config.BasePath()+"/", "GET", "Get full configuration (sensitive data redacted).")

			config.GET("/:section", handlers.GetConfigSection)
			apiroutes.Register(config.BasePath()+"/:section", "GET", "Get specific configuration section.")

			config.GET("/defaults", handlers.GetConfigDefaults)
			apiroutes.Register(config.BasePath()+"/defaults", "GET", "Get default configuration values.")

			config.POST("/reload", handlers.ReloadConfig)
			apiroutes.Register(config.BasePath()+"/reload", "POST", "Reload configuration from file.")
		}
	}
}
