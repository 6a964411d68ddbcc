package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelbay/modelbay/internal/config"
)

// GetConfig returns the full active configuration. Secret fields carry
// json:"-" tags, so marshaling redacts them.
func GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"config": config.Get(),
	})
}

// GetConfigSection returns a single top-level configuration section
func GetConfigSection(c *gin.Context) {
	cfg := config.Get()
	section := c.Param("section")

	var payload interface{}
	switch section {
	case "server":
		payload = cfg.Server
	case "database":
		payload = cfg.Database
	case "storage":
		payload = cfg.Storage
	case "import":
		payload = cfg.Import
	case "render":
		payload = cfg.Render
	case "ai":
		payload = cfg.AI
	case "logging":
		payload = cfg.Logging
	case "performance":
		payload = cfg.Performance
	default:
		c.JSON(http.StatusNotFound, gin.H{
			"error": "unknown configuration section: " + section,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"section": section,
		"config":  payload,
	})
}

// GetConfigDefaults returns the built-in default configuration
func GetConfigDefaults(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"config": config.DefaultConfig(),
	})
}

// ReloadConfig re-runs the file and environment pipeline. Modules keep
// the section values they captured at init; later config.Get() calls
// see the new values.
func ReloadConfig(c *gin.Context) {
	if err := config.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "configuration reload failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "configuration reloaded",
	})
}
