package designmodule

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelbay/modelbay/internal/api"
	"github.com/modelbay/modelbay/internal/apiroutes"
	"github.com/modelbay/modelbay/internal/types"
	"github.com/modelbay/modelbay/internal/utils"
)

// RegisterRoutes registers the design catalog HTTP API
func (m *Module) RegisterRoutes(router *gin.Engine) {
	designs := router.Group("/api/designs")
	{
		designs.GET("", m.listDesigns)
		apiroutes.Register(designs.BasePath(), "GET", "List designs with filtering and pagination.")

		designs.GET("/:id", m.getDesign)
		apiroutes.Register(designs.BasePath()+"/:id", "GET", "Get a design by id.")

		designs.GET("/:id/files", m.getDesignFiles)
		apiroutes.Register(designs.BasePath()+"/:id/files", "GET", "List a design's stored files.")

		designs.DELETE("/:id", m.deleteDesign)
		apiroutes.Register(designs.BasePath()+"/:id", "DELETE", "Soft-delete a design.")

		designs.GET("/slug/:slug", m.getDesignBySlug)
		apiroutes.Register(designs.BasePath()+"/slug/:slug", "GET", "Get a design by slug.")

		designs.GET("/files/by-hash/:hash", m.findFileByHash)
		apiroutes.Register(designs.BasePath()+"/files/by-hash/:hash", "GET", "Look up a stored file by SHA256 content hash.")
	}
}

func (m *Module) listDesigns(c *gin.Context) {
	filter, ok := filterFromQuery(c)
	if !ok {
		return
	}

	designs, err := m.service.ListDesigns(c.Request.Context(), filter)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"designs": designs, "count": len(designs)})
}

func (m *Module) getDesign(c *gin.Context) {
	design, err := m.service.GetDesign(c.Request.Context(), c.Param("id"))
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"design": design})
}

func (m *Module) getDesignBySlug(c *gin.Context) {
	design, err := m.service.GetDesignBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"design": design})
}

// findFileByHash answers the pre-import dedup check: clients hash a
// file locally and ask whether the library already holds it.
func (m *Module) findFileByHash(c *gin.Context) {
	hash := c.Param("hash")
	if !utils.ValidateHash(hash) {
		api.RespondWithValidationError(c, "invalid content hash, expected 64 hex characters")
		return
	}
	file, err := m.service.FindFileByContentHash(c.Request.Context(), hash)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": file})
}

func (m *Module) getDesignFiles(c *gin.Context) {
	files, err := m.service.GetDesignFiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

func (m *Module) deleteDesign(c *gin.Context) {
	id := c.Param("id")
	if err := m.service.DeleteDesign(c.Request.Context(), id); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "design deleted", "id": id})
}

// filterFromQuery builds a DesignFilter from list query parameters,
// answering 400 itself on malformed input.
func filterFromQuery(c *gin.Context) (types.DesignFilter, bool) {
	filter := types.DesignFilter{
		Tags:      c.QueryArray("tag"),
		FileType:  c.Query("file_type"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("order"),
		Metadata:  map[string]string{},
	}

	for _, key := range []string{"q", "category", "complexity", "published"} {
		if v := c.Query(key); v != "" {
			filter.Metadata[key] = v
		}
	}

	var ok bool
	if filter.Limit, ok = queryInt(c, "limit"); !ok {
		return filter, false
	}
	if filter.Offset, ok = queryInt(c, "offset"); !ok {
		return filter, false
	}
	if filter.MinSize, ok = queryInt64(c, "min_size"); !ok {
		return filter, false
	}
	if filter.MaxSize, ok = queryInt64(c, "max_size"); !ok {
		return filter, false
	}
	if filter.AddedAfter, ok = queryTime(c, "added_after"); !ok {
		return filter, false
	}
	if filter.AddedBefore, ok = queryTime(c, "added_before"); !ok {
		return filter, false
	}
	return filter, true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		api.RespondWithValidationError(c, "invalid "+key+" parameter")
		return 0, false
	}
	return v, true
}

func queryInt64(c *gin.Context, key string) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		api.RespondWithValidationError(c, "invalid "+key+" parameter")
		return 0, false
	}
	return v, true
}

func queryTime(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		api.RespondWithValidationError(c, "invalid "+key+" parameter, expected RFC3339")
		return nil, false
	}
	return &v, true
}

// respondError maps catalog errors onto HTTP statuses
func (m *Module) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDesignNotFound):
		api.RespondWithAppError(c, types.ErrorCodeNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrFileNotFound):
		api.RespondWithAppError(c, types.ErrorCodeNotFound, err.Error(), http.StatusNotFound)
	default:
		api.RespondWithError(c, err)
	}
}
