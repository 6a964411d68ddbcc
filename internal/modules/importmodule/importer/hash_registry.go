package importer

import (
	"fmt"
	"strconv"
	"sync"

	"gorm.io/gorm"
)

// PerceptualEntry is one known preview hash with the design it belongs to
type PerceptualEntry struct {
	Hash     uint64
	DesignID string
	Title    string
}

// HashRegistry is the per-job duplicate lookup cache: a content-hash map
// for exact matches and an insertion-ordered list of perceptual hashes
// for near matches. It is rebuilt from persisted design files at job
// start and owned by that job's control loop; the loop registers new
// hashes between batches, workers only read. The insertion order is
// load-bearing: near-duplicate ties resolve to the earliest entry.
type HashRegistry struct {
	mu         sync.RWMutex
	exact      map[string]string // content hash -> design id
	perceptual []PerceptualEntry
	seen       map[uint64]bool // dedupe of perceptual entries
}

// NewHashRegistry creates an empty registry
func NewHashRegistry() *HashRegistry {
	return &HashRegistry{
		exact: make(map[string]string),
		seen:  make(map[uint64]bool),
	}
}

// Rebuild loads every stored design file's hashes, oldest first so the
// perceptual list reflects library insertion order. Soft-deleted
// designs are excluded.
func (r *HashRegistry) Rebuild(db *gorm.DB) error {
	var rows []struct {
		ContentHash    string
		PerceptualHash string
		DesignID       string
		Title          string
	}
	err := db.Table("design_files").
		Select("design_files.content_hash, design_files.perceptual_hash, design_files.design_id, designs.title").
		Joins("JOIN designs ON designs.id = design_files.design_id AND designs.deleted_at IS NULL").
		Order("design_files.created_at ASC, design_files.id ASC").
		Scan(&rows).Error
	if err != nil {
		return &DatabaseError{Op: "rebuild hash registry", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact = make(map[string]string, len(rows))
	r.perceptual = r.perceptual[:0]
	r.seen = make(map[uint64]bool, len(rows))
	for _, row := range rows {
		if row.ContentHash != "" {
			if _, ok := r.exact[row.ContentHash]; !ok {
				r.exact[row.ContentHash] = row.DesignID
			}
		}
		if row.PerceptualHash != "" {
			hash, err := strconv.ParseUint(row.PerceptualHash, 16, 64)
			if err != nil {
				continue // unparseable legacy value, skip
			}
			r.registerPerceptualLocked(hash, row.DesignID, row.Title)
		}
	}
	return nil
}

// LookupExact returns the design owning an identical content hash
func (r *HashRegistry) LookupExact(contentHash string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.exact[contentHash]
	return id, ok
}

// Perceptual returns the known perceptual entries in insertion order.
// Callers must not mutate the returned slice.
func (r *HashRegistry) Perceptual() []PerceptualEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perceptual
}

// RegisterExact records a newly persisted content hash. First writer
// wins; later identical hashes keep pointing at the first design.
func (r *HashRegistry) RegisterExact(contentHash, designID string) {
	if contentHash == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exact[contentHash]; !ok {
		r.exact[contentHash] = designID
	}
}

// RegisterPerceptual appends a newly persisted perceptual hash
func (r *HashRegistry) RegisterPerceptual(hash uint64, designID, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerPerceptualLocked(hash, designID, title)
}

func (r *HashRegistry) registerPerceptualLocked(hash uint64, designID, title string) {
	if r.seen[hash] {
		return
	}
	r.seen[hash] = true
	r.perceptual = append(r.perceptual, PerceptualEntry{
		Hash:     hash,
		DesignID: designID,
		Title:    title,
	})
}

// Size returns the exact and perceptual entry counts
func (r *HashRegistry) Size() (exact int, perceptual int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact), len(r.perceptual)
}

// FormatPerceptualHash renders a 64-bit hash the way design_files
// stores it.
func FormatPerceptualHash(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}
