package importmodule

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/modelbay/modelbay/internal/api"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/importmodule/importer"
)

// uploadArchive accepts a multipart ZIP and starts an archive job on
// the staged copy. Options ride along as ordinary form fields.
func (m *Module) uploadArchive(c *gin.Context) {
	if m.maxArchiveSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, m.maxArchiveSize)
	}
	file, header, err := c.Request.FormFile("archive")
	if err != nil {
		api.RespondWithValidationError(c, "multipart field 'archive' with a ZIP file is required", err.Error())
		return
	}
	defer file.Close()

	staged, err := m.stageUpload(file, header)
	if err != nil {
		m.respondError(c, err)
		return
	}

	job := &database.ImportJob{
		SourceType: importer.SourceTypeArchive,
		SourcePath: staged,

		GeneratePreviews:    formBool(c, "generate_previews", true),
		GenerateAIMetadata:  formBool(c, "generate_ai_metadata", true),
		DetectDuplicates:    formBool(c, "detect_duplicates", true),
		ExactDuplicatesOnly: formBool(c, "exact_duplicates_only", false),
		AutoPublish:         formBool(c, "auto_publish", false),
		AdaptiveThrottle:    formBool(c, "adaptive_throttle", false),
	}
	if raw := c.PostForm("concurrency"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			job.Concurrency = n
		}
	}

	if err := m.manager.StartJob(job); err != nil {
		if removeErr := os.Remove(staged); removeErr != nil {
			logger.Warn("Could not remove staged archive %s: %v", staged, removeErr)
		}
		m.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// stageUpload copies the upload into the staging area. The job owns the
// staged file from then on; it is removed only if the job never starts.
func (m *Module) stageUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".zip") {
		return "", importer.NewValidationError("archive", "only ZIP archives are supported")
	}
	if m.maxArchiveSize > 0 && header.Size > m.maxArchiveSize {
		return "", importer.NewValidationError("archive",
			fmt.Sprintf("archive exceeds the %d byte limit", m.maxArchiveSize))
	}

	dir := filepath.Join(m.stagingDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &importer.IOError{Op: "create staging directory", Path: dir, Err: err}
	}
	staged := filepath.Join(dir, fmt.Sprintf("%s-%s", uuid.NewString()[:8], name))
	if err := atomic.WriteFile(staged, file); err != nil {
		return "", &importer.IOError{Op: "stage upload", Path: staged, Err: err}
	}
	logger.Debug("Staged uploaded archive %s (%d bytes)", staged, header.Size)
	return staged, nil
}

func formBool(c *gin.Context, key string, fallback bool) bool {
	raw := c.PostForm(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
