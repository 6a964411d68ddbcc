package importer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
)

func newTestScanner(t *testing.T, db *gorm.DB) *Scanner {
	t.Helper()
	return NewScanner(db, NewJobStore(db), NewItemStore(db), t.TempDir())
}

func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, content, 0o644))
	}
}

func TestScanFolder_DiscoversAndGroups(t *testing.T) {
	db := setupTestDB(t)
	scanner := newTestScanner(t, db)
	root := t.TempDir()
	writeTree(t, root, map[string][]byte{
		"solo.stl":          []byte("solid solo"),
		"pair.stl":          []byte("solid pair"),
		"pair.jpg":          []byte("jpeg"),
		"kit/model.stl":     []byte("solid model"),
		"kit/photo.jpg":     []byte("jpeg"),
		"kit/readme.pdf":    []byte("%PDF"),
		"mixed/a.stl":       []byte("solid a"),
		"mixed/b.stl":       []byte("solid b"),
		".hidden/spy.stl":   []byte("solid spy"),
		".DS_Store":         []byte("junk"),
		"notes.txt":         []byte("not importable"),
		"backup.stl.bak":    []byte("stale"),
		"mixed/.thumbs.jpg": []byte("hidden file"),
	})
	job := createTestJob(t, db, func(j *database.ImportJob) { j.SourcePath = root })

	total, err := scanner.Scan(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 8, total)

	var items []database.ImportItem
	require.NoError(t, db.Where("job_id = ?", job.ID).Find(&items).Error)
	require.Len(t, items, 8)
	byName := make(map[string]database.ImportItem, len(items))
	for _, item := range items {
		byName[item.Filename] = item
	}
	assert.NotContains(t, byName, "spy.stl", "hidden directories are pruned")
	assert.NotContains(t, byName, "notes.txt", "unimportable types are skipped")

	var projects []database.DetectedProject
	require.NoError(t, db.Where("job_id = ?", job.ID).Find(&projects).Error)
	require.Len(t, projects, 2)
	byProjectName := make(map[string]database.DetectedProject, len(projects))
	for _, p := range projects {
		byProjectName[p.Name] = p
	}

	kit, ok := byProjectName["kit"]
	require.True(t, ok)
	assert.Equal(t, "directory", kit.MergeHint, "one model plus companions groups the whole directory")
	for _, name := range []string{"model.stl", "photo.jpg", "readme.pdf"} {
		require.NotNil(t, byName[name].DetectedProjectID, name)
		assert.Equal(t, kit.ID, *byName[name].DetectedProjectID, name)
	}

	pair, ok := byProjectName["pair"]
	require.True(t, ok)
	assert.Equal(t, "stem", pair.MergeHint, "same-stem files group inside a directory")
	for _, name := range []string{"pair.stl", "pair.jpg"} {
		require.NotNil(t, byName[name].DetectedProjectID, name)
		assert.Equal(t, pair.ID, *byName[name].DetectedProjectID, name)
	}

	assert.Nil(t, byName["solo.stl"].DetectedProjectID)
	assert.Nil(t, byName["a.stl"].DetectedProjectID, "two models in one directory stay independent")
	assert.Nil(t, byName["b.stl"].DetectedProjectID)

	assert.Equal(t, "stl", byName["solo.stl"].FileType)
	assert.Equal(t, "image", byName["photo.jpg"].FileType)
	assert.Equal(t, "pdf", byName["readme.pdf"].FileType)
}

func TestScanFolder_SourceMustBeDirectory(t *testing.T) {
	db := setupTestDB(t)
	scanner := newTestScanner(t, db)
	root := t.TempDir()
	file := filepath.Join(root, "lone.stl")
	require.NoError(t, os.WriteFile(file, []byte("solid"), 0o644))

	job := createTestJob(t, db, func(j *database.ImportJob) { j.SourcePath = file })
	_, err := scanner.Scan(context.Background(), job)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))

	job = createTestJob(t, db, func(j *database.ImportJob) {
		j.SourcePath = filepath.Join(root, "missing")
	})
	_, err = scanner.Scan(context.Background(), job)
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
}

func writeZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(out)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())
}

func TestScanArchive_ExtractsAndScans(t *testing.T) {
	db := setupTestDB(t)
	scanner := newTestScanner(t, db)
	archive := filepath.Join(t.TempDir(), "upload.zip")
	writeZip(t, archive, map[string][]byte{
		"inner/dragon.stl": []byte("solid dragon"),
		"inner/dragon.jpg": []byte("jpeg"),
		"manifest.txt":     []byte("not importable"),
	})

	job := createTestJob(t, db, func(j *database.ImportJob) {
		j.SourceType = SourceTypeArchive
		j.SourcePath = archive
	})

	total, err := scanner.Scan(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	var items []database.ImportItem
	require.NoError(t, db.Where("job_id = ?", job.ID).Find(&items).Error)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.FileExists(t, item.SourcePath, "items point into the staging directory")
		assert.Contains(t, item.SourcePath, fmt.Sprintf("job-%d", job.ID))
	}

	var projects int64
	require.NoError(t, db.Model(&database.DetectedProject{}).Where("job_id = ?", job.ID).Count(&projects).Error)
	assert.Equal(t, int64(1), projects, "extracted directory groups like a folder scan")
}

func TestScanArchive_RejectsEscapingEntries(t *testing.T) {
	db := setupTestDB(t)
	scanner := newTestScanner(t, db)
	archive := filepath.Join(t.TempDir(), "evil.zip")
	writeZip(t, archive, map[string][]byte{
		"../evil.stl": []byte("solid evil"),
	})

	job := createTestJob(t, db, func(j *database.ImportJob) {
		j.SourceType = SourceTypeArchive
		j.SourcePath = archive
	})

	_, err := scanner.Scan(context.Background(), job)
	require.Error(t, err)
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Contains(t, err.Error(), "escapes")

	var items int64
	require.NoError(t, db.Model(&database.ImportItem{}).Where("job_id = ?", job.ID).Count(&items).Error)
	assert.Zero(t, items)
}

func TestScanRetry_ClonesFailedItems(t *testing.T) {
	db := setupTestDB(t)
	scanner := newTestScanner(t, db)
	store := NewItemStore(db)

	source := createTestJob(t, db, nil)
	bundledA := createTestItem(t, db, source.ID, "kit.stl", func(i *database.ImportItem) {
		i.ProjectRole = database.RolePrimary
		i.ContentHash = "hash-kit"
	})
	bundledB := createTestItem(t, db, source.ID, "kit.pdf", func(i *database.ImportItem) {
		i.FileType = "pdf"
		i.ProjectRole = database.RoleComponent
	})
	oldProject := createTestProject(t, db, source.ID, "kit", bundledA, bundledB)
	loner := createTestItem(t, db, source.ID, "loner.stl", nil)
	survivor := createTestItem(t, db, source.ID, "fine.stl", nil)

	for _, item := range []*database.ImportItem{bundledA, bundledB, loner} {
		require.NoError(t, store.Claim(item.ID))
		require.NoError(t, store.MarkFailed(item.ID, "boom", true))
	}
	require.NoError(t, store.Claim(survivor.ID))
	require.NoError(t, store.MarkCompleted(survivor.ID, CompletedResult{DesignID: "d"}))
	require.NoError(t, db.Model(source).Update("status", string(JobStatusCompleted)).Error)

	retry := createTestJob(t, db, func(j *database.ImportJob) {
		j.SourceType = SourceTypeRetry
		j.SourcePath = fmt.Sprint(source.ID)
	})

	total, err := scanner.Scan(context.Background(), retry)
	require.NoError(t, err)
	assert.Equal(t, 3, total, "only failed items are adopted")

	var clones []database.ImportItem
	require.NoError(t, db.Where("job_id = ?", retry.ID).Order("id").Find(&clones).Error)
	require.Len(t, clones, 3)
	for _, clone := range clones {
		assert.Equal(t, string(ItemStatusPending), clone.Status)
		assert.Zero(t, clone.RetryCount, "clones start with a fresh budget")
	}
	assert.Equal(t, "hash-kit", clones[0].ContentHash, "known hashes carry over")
	assert.Equal(t, database.RolePrimary, clones[0].ProjectRole)

	// The bundle's project was cloned once onto the new job.
	var projects []database.DetectedProject
	require.NoError(t, db.Where("job_id = ?", retry.ID).Find(&projects).Error)
	require.Len(t, projects, 1)
	assert.NotEqual(t, oldProject.ID, projects[0].ID)
	assert.Equal(t, "kit", projects[0].Name)
	require.NotNil(t, clones[0].DetectedProjectID)
	assert.Equal(t, projects[0].ID, *clones[0].DetectedProjectID)
	require.NotNil(t, clones[1].DetectedProjectID)
	assert.Equal(t, projects[0].ID, *clones[1].DetectedProjectID)
	assert.Nil(t, clones[2].DetectedProjectID)
}

func TestScanRetry_GuardsSource(t *testing.T) {
	db := setupTestDB(t)
	scanner := newTestScanner(t, db)

	t.Run("source job must be terminal", func(t *testing.T) {
		source := createTestJob(t, db, nil)
		require.NoError(t, db.Model(source).Update("status", string(JobStatusProcessing)).Error)
		retry := createTestJob(t, db, func(j *database.ImportJob) {
			j.SourceType = SourceTypeRetry
			j.SourcePath = fmt.Sprint(source.ID)
		})

		_, err := scanner.Scan(context.Background(), retry)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
	})

	t.Run("source reference must be a job id", func(t *testing.T) {
		retry := createTestJob(t, db, func(j *database.ImportJob) {
			j.SourceType = SourceTypeRetry
			j.SourcePath = "not-a-job-id"
		})

		_, err := scanner.Scan(context.Background(), retry)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
	})

	t.Run("nothing failed means nothing to do", func(t *testing.T) {
		source := createTestJob(t, db, nil)
		require.NoError(t, db.Model(source).Update("status", string(JobStatusCompleted)).Error)
		retry := createTestJob(t, db, func(j *database.ImportJob) {
			j.SourceType = SourceTypeRetry
			j.SourcePath = fmt.Sprint(source.ID)
		})

		total, err := scanner.Scan(context.Background(), retry)
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}
