// Package handlers holds the system-level HTTP handlers: health,
// discovery, runtime status and configuration. Domain endpoints live
// with their modules.
package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelbay/modelbay/internal/apiroutes"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/modules/modulemanager"
)

var processStart = time.Now()

// HandleHealthCheck reports liveness. The database ping is the one
// dependency worth failing the probe over.
func HandleHealthCheck(c *gin.Context) {
	if err := database.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "modelbay",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSystemStatus returns uptime, the loaded modules and database
// connection pool statistics.
func HandleSystemStatus(c *gin.Context) {
	status := gin.H{
		"service": "modelbay",
		"uptime":  time.Since(processStart).Round(time.Second).String(),
	}

	if db := database.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			stats := sqlDB.Stats()
			status["database"] = gin.H{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
				"wait_count":       stats.WaitCount,
			}
		}
	}

	modules := modulemanager.ListModules()
	moduleList := make([]gin.H, 0, len(modules))
	for _, m := range modules {
		entry := gin.H{
			"id":   m.ID(),
			"name": m.Name(),
			"core": m.Core(),
		}
		if modulemanager.IsDisabled(m.ID()) {
			entry["health"] = "disabled"
		} else if hc, ok := m.(interface{ HealthCheck() error }); ok {
			if err := hc.HealthCheck(); err != nil {
				entry["health"] = err.Error()
			} else {
				entry["health"] = "ok"
			}
		}
		moduleList = append(moduleList, entry)
	}
	sort.Slice(moduleList, func(i, j int) bool {
		return moduleList[i]["id"].(string) < moduleList[j]["id"].(string)
	})
	status["modules"] = moduleList

	c.JSON(http.StatusOK, status)
}

// ApiRootHandler lists every registered API route for discovery
func ApiRootHandler(c *gin.Context) {
	routes := apiroutes.Get()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})

	c.JSON(http.StatusOK, gin.H{
		"service": "modelbay",
		"routes":  routes,
	})
}
