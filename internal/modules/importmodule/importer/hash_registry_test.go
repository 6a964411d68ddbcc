package importer

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
)

func createStoredDesign(t *testing.T, db *gorm.DB, title string, contentHash, perceptualHash string, createdAt time.Time) *database.Design {
	t.Helper()
	design := &database.Design{
		ID:    uuid.NewString(),
		Title: title,
		Slug:  fmt.Sprintf("%s-%s", title, uuid.NewString()[:8]),
	}
	require.NoError(t, db.Create(design).Error)

	file := &database.DesignFile{
		ID:             uuid.NewString(),
		DesignID:       design.ID,
		Role:           database.RolePrimary,
		OriginalName:   title + ".stl",
		FileType:       "stl",
		SizeBytes:      128,
		ContentHash:    contentHash,
		PerceptualHash: perceptualHash,
		StoragePath:    "designs/" + design.ID,
		CreatedAt:      createdAt,
	}
	require.NoError(t, db.Create(file).Error)
	return design
}

func TestRebuild_LoadsStoredHashes(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	first := createStoredDesign(t, db, "benchy", "hash-1", FormatPerceptualHash(0xAAAA), now.Add(-2*time.Hour))
	second := createStoredDesign(t, db, "dragon", "hash-2", FormatPerceptualHash(0xBBBB), now.Add(-time.Hour))

	registry := NewHashRegistry()
	require.NoError(t, registry.Rebuild(db))

	exact, perceptual := registry.Size()
	assert.Equal(t, 2, exact)
	assert.Equal(t, 2, perceptual)

	id, ok := registry.LookupExact("hash-1")
	require.True(t, ok)
	assert.Equal(t, first.ID, id)

	entries := registry.Perceptual()
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].DesignID, "oldest file first")
	assert.Equal(t, "benchy", entries[0].Title)
	assert.Equal(t, second.ID, entries[1].DesignID)
}

func TestRebuild_SkipsUnparseableAndDeleted(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	kept := createStoredDesign(t, db, "kept", "hash-kept", "not-hex!", now)
	deleted := createStoredDesign(t, db, "deleted", "hash-deleted", FormatPerceptualHash(0xCCCC), now)
	require.NoError(t, db.Delete(&database.Design{}, "id = ?", deleted.ID).Error)

	registry := NewHashRegistry()
	require.NoError(t, registry.Rebuild(db))

	exact, perceptual := registry.Size()
	assert.Equal(t, 1, exact, "soft-deleted designs stay out of the registry")
	assert.Zero(t, perceptual, "unparseable perceptual values are skipped")

	_, ok := registry.LookupExact("hash-deleted")
	assert.False(t, ok)
	id, ok := registry.LookupExact("hash-kept")
	require.True(t, ok)
	assert.Equal(t, kept.ID, id)
}

func TestRegisterExact_FirstWriterWins(t *testing.T) {
	registry := NewHashRegistry()
	registry.RegisterExact("hash-x", "design-1")
	registry.RegisterExact("hash-x", "design-2")
	registry.RegisterExact("", "design-3")

	id, ok := registry.LookupExact("hash-x")
	require.True(t, ok)
	assert.Equal(t, "design-1", id)

	exact, _ := registry.Size()
	assert.Equal(t, 1, exact, "empty hashes are never registered")
}

func TestRegisterPerceptual_DedupesAndKeepsOrder(t *testing.T) {
	registry := NewHashRegistry()
	registry.RegisterPerceptual(0x1, "design-1", "One")
	registry.RegisterPerceptual(0x2, "design-2", "Two")
	registry.RegisterPerceptual(0x1, "design-3", "Dup")

	entries := registry.Perceptual()
	require.Len(t, entries, 2)
	assert.Equal(t, "design-1", entries[0].DesignID)
	assert.Equal(t, "design-2", entries[1].DesignID)
}

func TestFormatPerceptualHash(t *testing.T) {
	assert.Equal(t, "00000000deadbeef", FormatPerceptualHash(0xDEADBEEF))
	assert.Equal(t, "ffffffffffffffff", FormatPerceptualHash(^uint64(0)))
	assert.Equal(t, "0000000000000000", FormatPerceptualHash(0))
}
