package importer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
)

func newTestBundler(db *gorm.DB) *Bundler {
	return NewBundler(db, NewItemStore(db), DefaultMaxRetries)
}

func TestOrderBundleItems(t *testing.T) {
	priority := []string{"stl", "3mf", "obj", "gltf", "glb", "ply", "image"}
	items := []database.ImportItem{
		{ID: 1, Filename: "readme.pdf", FileType: "pdf"},
		{ID: 2, Filename: "photo.jpg", FileType: "image"},
		{ID: 3, Filename: "dragon.3mf", FileType: "3mf"},
		{ID: 4, Filename: "dragon.stl", FileType: "stl"},
	}

	OrderBundleItems(items, priority)

	got := make([]string, len(items))
	for i, item := range items {
		got[i] = item.Filename
	}
	assert.Equal(t, []string{"dragon.stl", "dragon.3mf", "photo.jpg", "readme.pdf"}, got)
}

func TestOrderBundleItems_ModelsBeforeImagesOffList(t *testing.T) {
	// Types missing from the priority list still order models first,
	// then stable by id.
	priority := []string{"stl"}
	items := []database.ImportItem{
		{ID: 1, Filename: "turntable.jpg", FileType: "image"},
		{ID: 2, Filename: "hull.ply", FileType: "ply"},
		{ID: 3, Filename: "deck.ply", FileType: "ply"},
	}

	OrderBundleItems(items, priority)

	assert.Equal(t, "hull.ply", items[0].Filename)
	assert.Equal(t, "deck.ply", items[1].Filename)
	assert.Equal(t, "turntable.jpg", items[2].Filename)
}

func TestNextUnits_SingletonsAndWindowLimit(t *testing.T) {
	db := setupTestDB(t)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	first := createTestItem(t, db, job.ID, "a.stl", nil)
	second := createTestItem(t, db, job.ID, "b.stl", nil)
	createTestItem(t, db, job.ID, "c.stl", nil)

	units, err := bundler.NextUnits(job, 2)
	require.NoError(t, err)
	require.Len(t, units, 2, "window limit bounds the batch")

	assert.Nil(t, units[0].Project)
	assert.Equal(t, first.ID, units[0].Primary().ID)
	assert.Equal(t, second.ID, units[1].Primary().ID)
	assert.Equal(t, 1, units[0].Size())
}

func TestNextUnits_EmptyWhenNothingPending(t *testing.T) {
	db := setupTestDB(t)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	units, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestNextUnits_ProjectBundlePullsWholeProject(t *testing.T) {
	db := setupTestDB(t)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	model := createTestItem(t, db, job.ID, "dragon.stl", nil)
	variant := createTestItem(t, db, job.ID, "dragon.jpg", func(i *database.ImportItem) {
		i.FileType = "image"
	})
	doc := createTestItem(t, db, job.ID, "instructions.pdf", func(i *database.ImportItem) {
		i.FileType = "pdf"
	})
	project := createTestProject(t, db, job.ID, "dragon", model, variant, doc)
	loose := createTestItem(t, db, job.ID, "loose.stl", nil)

	// Window of 2 sees the first project item and the loose item, but
	// the bundle is completed with every pending project member.
	units, err := bundler.NextUnits(job, 2)
	require.NoError(t, err)
	require.Len(t, units, 2)

	bundle := units[0]
	require.NotNil(t, bundle.Project)
	assert.Equal(t, project.ID, bundle.Project.ID)
	assert.Equal(t, 3, bundle.Size())
	assert.Nil(t, bundle.Resume)
	assert.Equal(t, model.ID, bundle.Primary().ID, "model file fronts the bundle")

	assert.Equal(t, loose.ID, units[1].Primary().ID)

	// Roles persisted: primary for the model, variant for the same
	// stem, component for the rest.
	assertRole := func(id uint, want database.ProjectRole) {
		var item database.ImportItem
		require.NoError(t, db.First(&item, id).Error)
		assert.Equal(t, want, item.ProjectRole)
	}
	assertRole(model.ID, database.RolePrimary)
	assertRole(variant.ID, database.RoleVariant)
	assertRole(doc.ID, database.RoleComponent)
}

func TestNextUnits_OneBundlePerProjectInWindow(t *testing.T) {
	db := setupTestDB(t)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	a := createTestItem(t, db, job.ID, "a.stl", nil)
	b := createTestItem(t, db, job.ID, "b.stl", nil)
	createTestProject(t, db, job.ID, "pair", a, b)

	units, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)
	require.Len(t, units, 1, "both window entries belong to the same bundle")
	assert.Equal(t, 2, units[0].Size())
}

func TestNextUnits_RolesStableAcrossRetry(t *testing.T) {
	db := setupTestDB(t)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	model := createTestItem(t, db, job.ID, "boat.stl", nil)
	photo := createTestItem(t, db, job.ID, "boat.jpg", func(i *database.ImportItem) {
		i.FileType = "image"
	})
	createTestProject(t, db, job.ID, "boat", model, photo)

	_, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)

	// Same assembly again, as after a retry sweep returned the whole
	// bundle to pending.
	units, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, model.ID, units[0].Primary().ID)

	var item database.ImportItem
	require.NoError(t, db.First(&item, model.ID).Error)
	assert.Equal(t, database.RolePrimary, item.ProjectRole)
}

// settlePrimary drives a project's primary into a terminal state the
// way the pipeline would, leaving the members pending.
func settlePrimary(t *testing.T, db *gorm.DB, store *ItemStore, primary *database.ImportItem, settle func()) {
	t.Helper()
	require.NoError(t, db.Model(primary).Update("project_role", string(database.RolePrimary)).Error)
	require.NoError(t, store.Claim(primary.ID))
	settle()
}

func TestNextUnits_ResumeAfterPrimaryCompleted(t *testing.T) {
	db := setupTestDB(t)
	store := NewItemStore(db)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	design := &database.Design{ID: uuid.NewString(), Title: "Dragon", Slug: "dragon"}
	require.NoError(t, db.Create(design).Error)

	primary := createTestItem(t, db, job.ID, "dragon.stl", nil)
	member := createTestItem(t, db, job.ID, "dragon-wing.stl", nil)
	createTestProject(t, db, job.ID, "dragon", primary, member)

	settlePrimary(t, db, store, primary, func() {
		require.NoError(t, store.MarkCompleted(primary.ID, CompletedResult{DesignID: design.ID}))
	})

	units, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)
	require.Len(t, units, 1)

	bundle := units[0]
	require.NotNil(t, bundle.Resume)
	assert.Equal(t, ItemStatusCompleted, bundle.Resume.PrimaryStatus)
	assert.Equal(t, "dragon.stl", bundle.Resume.PrimaryFilename)
	assert.Equal(t, design.ID, bundle.Resume.DesignID)
	assert.Equal(t, "Dragon", bundle.Resume.Title)
	require.Equal(t, 1, bundle.Size(), "only the pending member rides the resumed bundle")
	assert.Equal(t, member.ID, bundle.Items[0].ID)

	// Resume never re-elects a primary.
	var got database.ImportItem
	require.NoError(t, db.First(&got, member.ID).Error)
	assert.NotEqual(t, database.RolePrimary, got.ProjectRole)
}

func TestNextUnits_ResumeAfterPrimaryDuplicate(t *testing.T) {
	db := setupTestDB(t)
	store := NewItemStore(db)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	existing := &database.Design{ID: uuid.NewString(), Title: "Benchy", Slug: "benchy"}
	require.NoError(t, db.Create(existing).Error)

	primary := createTestItem(t, db, job.ID, "benchy.stl", nil)
	member := createTestItem(t, db, job.ID, "benchy-photo.jpg", func(i *database.ImportItem) {
		i.FileType = "image"
	})
	createTestProject(t, db, job.ID, "benchy", primary, member)

	settlePrimary(t, db, store, primary, func() {
		require.NoError(t, store.MarkDuplicate(primary.ID, existing.ID, 93.75))
	})

	units, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)
	require.Len(t, units, 1)

	resume := units[0].Resume
	require.NotNil(t, resume)
	assert.Equal(t, ItemStatusDuplicate, resume.PrimaryStatus)
	assert.Equal(t, existing.ID, resume.DesignID)
	assert.Equal(t, "Benchy", resume.Title)
	assert.Equal(t, 93.75, resume.Similarity)
}

func TestNextUnits_ResumeAfterPrimarySkipped(t *testing.T) {
	db := setupTestDB(t)
	store := NewItemStore(db)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	primary := createTestItem(t, db, job.ID, "husk.stl", nil)
	member := createTestItem(t, db, job.ID, "husk.jpg", func(i *database.ImportItem) {
		i.FileType = "image"
	})
	createTestProject(t, db, job.ID, "husk", primary, member)

	settlePrimary(t, db, store, primary, func() {
		require.NoError(t, store.MarkSkipped(primary.ID, "file vanished before processing"))
	})

	units, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)
	require.Len(t, units, 1)

	resume := units[0].Resume
	require.NotNil(t, resume)
	assert.Equal(t, ItemStatusSkipped, resume.PrimaryStatus)
	assert.Empty(t, resume.DesignID, "skipped primary leaves members on their own")
}

func TestNextUnits_WholeBundleGoesAroundWhileFailedPrimaryHasBudget(t *testing.T) {
	db := setupTestDB(t)
	store := NewItemStore(db)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	primary := createTestItem(t, db, job.ID, "cursed.stl", nil)
	member := createTestItem(t, db, job.ID, "cursed.pdf", func(i *database.ImportItem) {
		i.FileType = "pdf"
	})
	createTestProject(t, db, job.ID, "cursed", primary, member)

	// First attempt: the primary fails on its own, the member fails
	// derivatively, and the retry sweep returns both to pending.
	settlePrimary(t, db, store, primary, func() {
		require.NoError(t, store.MarkFailed(primary.ID, "mesh parser crashed", true))
	})
	require.NoError(t, store.Claim(member.ID))
	require.NoError(t, store.MarkFailed(member.ID, "bundle primary failed", false))

	n, err := store.ResetRetryable(job.ID, DefaultMaxRetries)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	units, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Nil(t, units[0].Resume, "retryable primary means no resume")
	assert.Equal(t, 2, units[0].Size())
	assert.Equal(t, primary.ID, units[0].Primary().ID, "original primary keeps its seat")
}

func TestNextUnits_ResumeAfterPrimaryExhaustedRetries(t *testing.T) {
	db := setupTestDB(t)
	bundler := newTestBundler(db)
	job := createTestJob(t, db, nil)

	primary := createTestItem(t, db, job.ID, "cursed.stl", func(i *database.ImportItem) {
		i.ProjectRole = database.RolePrimary
	})
	member := createTestItem(t, db, job.ID, "cursed.pdf", func(i *database.ImportItem) {
		i.FileType = "pdf"
	})
	createTestProject(t, db, job.ID, "cursed", primary, member)
	require.NoError(t, db.Model(&database.ImportItem{}).Where("id = ?", primary.ID).
		Updates(map[string]interface{}{
			"status":        string(ItemStatusFailed),
			"error_message": "mesh parser crashed",
			"retry_count":   DefaultMaxRetries,
		}).Error)

	units, err := bundler.NextUnits(job, 5)
	require.NoError(t, err)
	require.Len(t, units, 1)

	resume := units[0].Resume
	require.NotNil(t, resume)
	assert.Equal(t, ItemStatusFailed, resume.PrimaryStatus)
	assert.Equal(t, "cursed.stl", resume.PrimaryFilename)
	assert.Equal(t, "mesh parser crashed", resume.Reason)
	require.Equal(t, 1, units[0].Size())
	assert.Equal(t, member.ID, units[0].Items[0].ID)
}
