package importer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/utils"
)

// Scanner expands a job's source into import items and detected
// projects before processing starts.
type Scanner struct {
	db         *gorm.DB
	jobs       *JobStore
	items      *ItemStore
	stagingDir string
}

// NewScanner creates a scanner. stagingDir holds extracted archives.
func NewScanner(db *gorm.DB, jobs *JobStore, items *ItemStore, stagingDir string) *Scanner {
	return &Scanner{db: db, jobs: jobs, items: items, stagingDir: stagingDir}
}

// discovered is one importable file found during the scan
type discovered struct {
	path     string
	name     string
	fileType string
	size     int64
}

// Scan expands the job source. Returns the number of items created.
func (s *Scanner) Scan(ctx context.Context, job *database.ImportJob) (int, error) {
	switch job.SourceType {
	case SourceTypeFolder, SourceTypeWatch:
		return s.scanFolder(ctx, job, job.SourcePath)
	case SourceTypeArchive:
		return s.scanArchive(ctx, job)
	case SourceTypeRetry:
		return s.scanRetry(ctx, job)
	default:
		return 0, NewValidationError("source_type", "unknown source type "+job.SourceType)
	}
}

// scanFolder walks the tree, skipping hidden entries and types the
// pipeline cannot import. Access errors on single entries are logged
// and skipped, not fatal.
func (s *Scanner) scanFolder(ctx context.Context, job *database.ImportJob, root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, &IOError{Op: "stat", Path: root, Err: err}
	}
	if !info.IsDir() {
		return 0, NewValidationError("source_path", "not a directory: "+root)
	}

	var files []discovered
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logger.Warn("Cannot access %s during scan: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if path != root && utils.IsHiddenName(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if utils.IsHiddenName(d.Name()) || !utils.IsImportableFile(path) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			logger.Warn("Cannot stat %s during scan: %v", path, err)
			return nil
		}
		files = append(files, discovered{
			path:     path,
			name:     d.Name(),
			fileType: utils.NormalizeFileType(path),
			size:     fi.Size(),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	return s.persistDiscovered(job, root, files)
}

// scanArchive extracts the uploaded ZIP into a per-job staging
// directory, then scans it like a folder.
func (s *Scanner) scanArchive(ctx context.Context, job *database.ImportJob) (int, error) {
	dest := filepath.Join(s.stagingDir, fmt.Sprintf("job-%d", job.ID))
	if err := s.extractArchive(ctx, job.SourcePath, dest); err != nil {
		return 0, err
	}
	logger.Info("📦 Extracted archive %s for job %d", filepath.Base(job.SourcePath), job.ID)
	return s.scanFolder(ctx, job, dest)
}

// extractArchive unpacks a ZIP, rejecting entries that would escape
// the destination directory.
func (s *Scanner) extractArchive(ctx context.Context, archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return &IOError{Op: "open archive", Path: archivePath, Err: err}
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &IOError{Op: "create staging dir", Path: dest, Err: err}
	}

	for _, entry := range reader.File {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := filepath.Clean(entry.Name)
		if !filepath.IsLocal(name) {
			return &IOError{Op: "extract", Path: entry.Name,
				Err: fmt.Errorf("archive entry escapes extraction directory")}
		}
		target := filepath.Join(dest, name)

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &IOError{Op: "extract", Path: target, Err: err}
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &IOError{Op: "extract", Path: target, Err: err}
		}
		if err := s.extractEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) extractEntry(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return &IOError{Op: "extract", Path: entry.Name, Err: err}
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &IOError{Op: "extract", Path: target, Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &IOError{Op: "extract", Path: target, Err: err}
	}
	return nil
}

// scanRetry clones the failed items of a terminal source job into
// fresh pending items, preserving project grouping.
func (s *Scanner) scanRetry(ctx context.Context, job *database.ImportJob) (int, error) {
	sourceID, err := strconv.ParseUint(job.SourcePath, 10, 32)
	if err != nil {
		return 0, NewValidationError("source_path", "retry jobs reference the source job id")
	}
	sourceJob, err := s.jobs.Get(uint(sourceID))
	if err != nil {
		return 0, err
	}
	if !JobStatus(sourceJob.Status).IsTerminal() {
		return 0, NewValidationError("source_path",
			fmt.Sprintf("source job %d is still %s", sourceJob.ID, sourceJob.Status))
	}

	failed, err := s.items.FailedByJob(sourceJob.ID)
	if err != nil {
		return 0, err
	}
	if len(failed) == 0 {
		return 0, nil
	}

	// Re-create the detected projects the failed items referenced so
	// bundles stay bundles on the retry run.
	projectMap := make(map[uint]uint)
	clones := make([]database.ImportItem, 0, len(failed))
	for _, item := range failed {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		var projectID *uint
		if item.DetectedProjectID != nil {
			newID, err := s.cloneProject(job.ID, *item.DetectedProjectID, projectMap)
			if err != nil {
				return 0, err
			}
			if newID != 0 {
				projectID = &newID
			}
		}
		clones = append(clones, database.ImportItem{
			JobID:             job.ID,
			SourcePath:        item.SourcePath,
			Filename:          item.Filename,
			FileType:          item.FileType,
			FileSize:          item.FileSize,
			ContentHash:       item.ContentHash,
			Status:            string(ItemStatusPending),
			DetectedProjectID: projectID,
			ProjectRole:       item.ProjectRole,
		})
	}

	if err := s.items.CreateBatch(clones); err != nil {
		return 0, err
	}
	logger.Info("🔁 Retry job %d adopted %d failed items from job %d", job.ID, len(clones), sourceJob.ID)
	return len(clones), nil
}

func (s *Scanner) cloneProject(jobID, oldProjectID uint, projectMap map[uint]uint) (uint, error) {
	if newID, ok := projectMap[oldProjectID]; ok {
		return newID, nil
	}
	var old database.DetectedProject
	if err := s.db.First(&old, oldProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			projectMap[oldProjectID] = 0
			return 0, nil
		}
		return 0, &DatabaseError{Op: "load detected project", Err: err}
	}
	clone := database.DetectedProject{
		JobID:     jobID,
		Name:      old.Name,
		MergeHint: old.MergeHint,
	}
	if err := s.db.Create(&clone).Error; err != nil {
		return 0, &DatabaseError{Op: "clone detected project", Err: err}
	}
	projectMap[oldProjectID] = clone.ID
	return clone.ID, nil
}

// persistDiscovered groups files into detected projects and bulk
// creates the items. Grouping rules: a directory holding exactly one
// model file plus companions becomes one project (hint "directory");
// otherwise files sharing a filename stem inside one directory become
// a project (hint "stem").
func (s *Scanner) persistDiscovered(job *database.ImportJob, root string, files []discovered) (int, error) {
	byDir := make(map[string][]int)
	for i, f := range files {
		dir := filepath.Dir(f.path)
		byDir[dir] = append(byDir[dir], i)
	}

	// projectKey -> project; assignment maps file index -> key
	type projectSpec struct {
		name string
		hint string
	}
	specs := make(map[string]projectSpec)
	assignment := make(map[int]string)

	for dir, idxs := range byDir {
		if dir != root && dirIsOneDesign(files, idxs) {
			key := "dir:" + dir
			specs[key] = projectSpec{name: filepath.Base(dir), hint: "directory"}
			for _, i := range idxs {
				assignment[i] = key
			}
			continue
		}
		byStem := make(map[string][]int)
		for _, i := range idxs {
			stem := utils.FileStem(files[i].name)
			byStem[stem] = append(byStem[stem], i)
		}
		for stem, group := range byStem {
			if len(group) < 2 {
				continue
			}
			key := "stem:" + dir + "/" + stem
			specs[key] = projectSpec{name: stem, hint: "stem"}
			for _, i := range group {
				assignment[i] = key
			}
		}
	}

	// Persist projects first so items can reference them
	projectIDs := make(map[string]uint, len(specs))
	for key, spec := range specs {
		project := database.DetectedProject{
			JobID:     job.ID,
			Name:      spec.name,
			MergeHint: spec.hint,
		}
		if err := s.db.Create(&project).Error; err != nil {
			return 0, &DatabaseError{Op: "create detected project", Err: err}
		}
		projectIDs[key] = project.ID
	}

	items := make([]database.ImportItem, 0, len(files))
	for i, f := range files {
		item := database.ImportItem{
			JobID:      job.ID,
			SourcePath: f.path,
			Filename:   f.name,
			FileType:   f.fileType,
			FileSize:   f.size,
			Status:     string(ItemStatusPending),
		}
		if key, ok := assignment[i]; ok {
			id := projectIDs[key]
			item.DetectedProjectID = &id
		}
		items = append(items, item)
	}
	if err := s.items.CreateBatch(items); err != nil {
		return 0, err
	}

	logger.Info("🔍 Scan for job %d discovered %d files (%d projects)", job.ID, len(items), len(specs))
	return len(items), nil
}

// dirIsOneDesign reports whether a directory's importable files look
// like a single design: exactly one model file plus companion images
// or documents.
func dirIsOneDesign(files []discovered, idxs []int) bool {
	if len(idxs) < 2 {
		return false
	}
	models := 0
	for _, i := range idxs {
		if utils.IsModelType(files[i].fileType) {
			models++
		}
	}
	return models == 1
}
