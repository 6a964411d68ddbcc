package importmodule

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelbay/modelbay/internal/api"
	"github.com/modelbay/modelbay/internal/apiroutes"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
	"github.com/modelbay/modelbay/internal/types"
)

// RegisterRoutes registers the import module routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	jobs := router.Group("/api/import/jobs")
	{
		jobs.POST("", m.createJob)
		apiroutes.Register(jobs.BasePath(), "POST", "Create and start an import job.")

		jobs.POST("/upload", m.uploadArchive)
		apiroutes.Register(jobs.BasePath()+"/upload", "POST", "Upload an archive and import its contents.")

		jobs.GET("", m.listJobs)
		apiroutes.Register(jobs.BasePath(), "GET", "List import jobs.")

		jobs.GET("/:id", m.getJob)
		apiroutes.Register(jobs.BasePath()+"/:id", "GET", "Get an import job with progress, ETA and item counts.")

		jobs.GET("/:id/items", m.listItems)
		apiroutes.Register(jobs.BasePath()+"/:id/items", "GET", "List a job's import items.")

		jobs.GET("/:id/failed", m.listFailedItems)
		apiroutes.Register(jobs.BasePath()+"/:id/failed", "GET", "List a job's failed items with error details.")

		jobs.GET("/:id/projects", m.listProjects)
		apiroutes.Register(jobs.BasePath()+"/:id/projects", "GET", "List the design projects a job created.")

		jobs.GET("/:id/report", m.downloadReport)
		apiroutes.Register(jobs.BasePath()+"/:id/report", "GET", "Download a job report workbook.")

		jobs.GET("/:id/events", m.streamJobEvents)
		apiroutes.Register(jobs.BasePath()+"/:id/events", "GET", "Stream one job's events over SSE.")

		jobs.POST("/:id/pause", m.pauseJob)
		apiroutes.Register(jobs.BasePath()+"/:id/pause", "POST", "Pause a running import job.")

		jobs.POST("/:id/resume", m.resumeJob)
		apiroutes.Register(jobs.BasePath()+"/:id/resume", "POST", "Resume a paused import job.")

		jobs.POST("/:id/cancel", m.cancelJob)
		apiroutes.Register(jobs.BasePath()+"/:id/cancel", "POST", "Cancel an import job.")

		jobs.POST("/:id/retry", m.retryJob)
		apiroutes.Register(jobs.BasePath()+"/:id/retry", "POST", "Clone a job's failed items into a new retry job.")
	}

	watch := router.Group("/api/import/watch-folders")
	{
		watch.GET("", m.listWatchFolders)
		apiroutes.Register(watch.BasePath(), "GET", "List watch folders.")

		watch.POST("", m.createWatchFolder)
		apiroutes.Register(watch.BasePath(), "POST", "Register a folder for automatic imports.")

		watch.PATCH("/:id", m.updateWatchFolder)
		apiroutes.Register(watch.BasePath()+"/:id", "PATCH", "Enable or disable a watch folder.")

		watch.DELETE("/:id", m.deleteWatchFolder)
		apiroutes.Register(watch.BasePath()+"/:id", "DELETE", "Remove a watch folder.")
	}
}

// createJobRequest is the POST /jobs body. The three enrichment flags
// are pointers so an absent field defaults on, while an explicit false
// survives to the job row.
type createJobRequest struct {
	SourceType string `json:"source_type" binding:"required"`
	SourcePath string `json:"source_path" binding:"required"`

	Concurrency         int    `json:"concurrency"`
	CheckpointInterval  int    `json:"checkpoint_interval"`
	GeneratePreviews    *bool  `json:"generate_previews"`
	GenerateAIMetadata  *bool  `json:"generate_ai_metadata"`
	DetectDuplicates    *bool  `json:"detect_duplicates"`
	ExactDuplicatesOnly bool   `json:"exact_duplicates_only"`
	AutoPublish         bool   `json:"auto_publish"`
	SimilarityThreshold int    `json:"similarity_threshold"`
	PreviewTypePriority string `json:"preview_type_priority"`
	AdaptiveThrottle    bool   `json:"adaptive_throttle"`
}

func (m *Module) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "invalid request body", err.Error())
		return
	}
	if req.SourceType == importer.SourceTypeRetry {
		api.RespondWithValidationError(c, "retry jobs are created through POST /api/import/jobs/:id/retry")
		return
	}

	job := &database.ImportJob{
		SourceType: req.SourceType,
		SourcePath: req.SourcePath,

		Concurrency:         req.Concurrency,
		CheckpointInterval:  req.CheckpointInterval,
		GeneratePreviews:    boolOr(req.GeneratePreviews, true),
		GenerateAIMetadata:  boolOr(req.GenerateAIMetadata, true),
		DetectDuplicates:    boolOr(req.DetectDuplicates, true),
		ExactDuplicatesOnly: req.ExactDuplicatesOnly,
		AutoPublish:         req.AutoPublish,
		SimilarityThreshold: req.SimilarityThreshold,
		PreviewTypePriority: req.PreviewTypePriority,
		AdaptiveThrottle:    req.AdaptiveThrottle,
	}
	if err := m.manager.StartJob(job); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (m *Module) listJobs(c *gin.Context) {
	status := c.Query("status")
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	jobs, total, err := m.manager.ListJobs(status, limit, offset)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (m *Module) getJob(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	job, err := m.manager.GetJob(jobID)
	if err != nil {
		m.respondError(c, err)
		return
	}
	counts, err := m.manager.ItemCounts(jobID)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job":      job,
		"progress": importer.Progress(job),
		"eta":      importer.ComputeETA(job),
		"counts":   counts,
		"running":  m.manager.Running(jobID),
	})
}

func (m *Module) listItems(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	status := c.Query("status")
	limit := queryInt(c, "limit", 100)
	offset := queryInt(c, "offset", 0)

	items, total, err := m.manager.ListItems(jobID, status, limit, offset)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (m *Module) listFailedItems(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	items, err := m.manager.FailedItems(jobID)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (m *Module) listProjects(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	projects, err := m.manager.Projects(jobID)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

func (m *Module) pauseJob(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	if err := m.manager.Pause(jobID); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pause requested", "job_id": jobID})
}

func (m *Module) resumeJob(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	if err := m.manager.Resume(jobID); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "resume requested", "job_id": jobID})
}

func (m *Module) cancelJob(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	if err := m.manager.Cancel(jobID); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancel requested", "job_id": jobID})
}

func (m *Module) retryJob(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	retry, err := m.manager.Retry(jobID)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": retry, "source_job_id": jobID})
}

func (m *Module) downloadReport(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	report, err := m.buildReport(jobID)
	if err != nil {
		m.respondError(c, err)
		return
	}
	defer report.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="import-job-%d.xlsx"`, jobID))
	if err := report.Write(c.Writer); err != nil {
		logger.Error("Could not write report for job %d: %v", jobID, err)
	}
}

// streamJobEvents pushes one job's typed events over SSE. Slow clients
// drop events instead of blocking the bus.
func (m *Module) streamJobEvents(c *gin.Context) {
	jobID, ok := pathJobID(c)
	if !ok {
		return
	}
	if _, err := m.manager.GetJob(jobID); err != nil {
		m.respondError(c, err)
		return
	}

	eventChan := make(chan events.Event, 32)
	unsubscribe, err := m.manager.Subscribe(jobID, func(event events.Event) error {
		select {
		case eventChan <- event:
		default:
		}
		return nil
	})
	if err != nil {
		api.RespondWithInternalError(c, "could not subscribe to job events", err)
		return
	}
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.SSEvent("connected", gin.H{"job_id": jobID, "time": time.Now()})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case event := <-eventChan:
			c.SSEvent(string(event.Type), event)
			return true
		case <-time.After(15 * time.Second):
			c.SSEvent("heartbeat", gin.H{"time": time.Now()})
			return true
		case <-clientGone:
			return false
		}
	})
}

// Watch folder CRUD

type createWatchFolderRequest struct {
	Path    string `json:"path" binding:"required"`
	Enabled *bool  `json:"enabled"`
}

type updateWatchFolderRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (m *Module) listWatchFolders(c *gin.Context) {
	folders, err := m.watcher.Folders()
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folders": folders, "count": len(folders)})
}

func (m *Module) createWatchFolder(c *gin.Context) {
	var req createWatchFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "invalid request body", err.Error())
		return
	}
	folder, err := m.watcher.AddFolder(req.Path, boolOr(req.Enabled, true))
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"folder": folder})
}

func (m *Module) updateWatchFolder(c *gin.Context) {
	folderID, ok := pathJobID(c)
	if !ok {
		return
	}
	var req updateWatchFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondWithValidationError(c, "invalid request body", err.Error())
		return
	}
	folder, err := m.watcher.SetEnabled(folderID, *req.Enabled)
	if err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"folder": folder})
}

func (m *Module) deleteWatchFolder(c *gin.Context) {
	folderID, ok := pathJobID(c)
	if !ok {
		return
	}
	if err := m.watcher.RemoveFolder(folderID); err != nil {
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "watch folder removed", "id": folderID})
}

// respondError maps the module's typed errors onto HTTP statuses; what
// it does not recognize falls through to the shared API mapper.
func (m *Module) respondError(c *gin.Context, err error) {
	var (
		validationErr *importer.ValidationError
		transitionErr *importer.InvalidTransitionError
	)
	switch {
	case errors.Is(err, importer.ErrJobNotFound):
		api.RespondWithAppError(c, types.ErrorCodeImportJobNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, importer.ErrItemNotFound):
		api.RespondWithAppError(c, types.ErrorCodeImportItemNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrWatchFolderNotFound):
		api.RespondWithAppError(c, types.ErrorCodeNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrJobNotRunning):
		api.RespondWithAppError(c, types.ErrorCodeConflict, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrTooManyJobs):
		api.RespondWithAppError(c, types.ErrorCodeResourceExhausted, err.Error(), http.StatusTooManyRequests)
	case errors.As(err, &validationErr):
		api.RespondWithValidationError(c, validationErr.Error())
	case errors.As(err, &transitionErr):
		api.RespondWithAppError(c, types.ErrorCodeImportBadTransition, transitionErr.Error(), http.StatusConflict)
	default:
		api.RespondWithError(c, err)
	}
}

// pathJobID parses the :id path parameter, answering 400 itself on bad
// input.
func pathJobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		api.RespondWithValidationError(c, "invalid id parameter")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
