package importer

import (
	"math/bits"

	"github.com/modelbay/modelbay/internal/database"
)

// OutcomeKind classifies the duplicate check result
type OutcomeKind string

const (
	OutcomeUnique         OutcomeKind = "unique"
	OutcomeExactDuplicate OutcomeKind = "exact_duplicate"
	OutcomeNearDuplicate  OutcomeKind = "near_duplicate"
)

// Outcome is the duplicate check result. Duplicates are a first-class
// outcome of the pipeline, never an error.
type Outcome struct {
	Kind       OutcomeKind
	DesignID   string  // existing design for duplicate outcomes
	Title      string  // existing design title, near matches only
	Similarity float64 // 100 for exact, derived from distance for near
}

// IsDuplicate reports whether the outcome points at an existing design
func (o Outcome) IsDuplicate() bool {
	return o.Kind == OutcomeExactDuplicate || o.Kind == OutcomeNearDuplicate
}

// Detector classifies items against a job's hash registry using that
// job's duplicate options.
type Detector struct {
	registry  *HashRegistry
	detect    bool
	exactOnly bool
	threshold int
}

// NewDetector builds a detector for one job run
func NewDetector(registry *HashRegistry, job *database.ImportJob) *Detector {
	return &Detector{
		registry:  registry,
		detect:    job.DetectDuplicates,
		exactOnly: job.ExactDuplicatesOnly,
		threshold: job.SimilarityThreshold,
	}
}

// MaxHammingDistance converts a similarity threshold (0-100) into the
// largest bit distance still considered a near duplicate. Integer
// floor: threshold 85 over a 64-bit hash allows distance 9.
func MaxHammingDistance(threshold int) int {
	return (100 - threshold) * 64 / 100
}

// HammingDistance counts differing bits between two perceptual hashes
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// SimilarityFromDistance maps a bit distance back onto the 0-100 scale
func SimilarityFromDistance(distance int) float64 {
	return 100 * float64(64-distance) / 64
}

// Check classifies one item. The exact map is consulted first and wins
// at similarity 100 regardless of ExactDuplicatesOnly; the perceptual
// scan runs only when allowed and a hash is available. Ties on equal
// distance resolve to the earliest registry entry.
func (d *Detector) Check(contentHash string, perceptualHash uint64, hasPerceptual bool) Outcome {
	if !d.detect {
		return Outcome{Kind: OutcomeUnique}
	}

	if designID, ok := d.registry.LookupExact(contentHash); ok {
		return Outcome{
			Kind:       OutcomeExactDuplicate,
			DesignID:   designID,
			Similarity: 100,
		}
	}

	if d.exactOnly || !hasPerceptual {
		return Outcome{Kind: OutcomeUnique}
	}

	maxDistance := MaxHammingDistance(d.threshold)
	bestDistance := -1
	var best PerceptualEntry
	for _, entry := range d.registry.Perceptual() {
		distance := HammingDistance(perceptualHash, entry.Hash)
		if distance > maxDistance {
			continue
		}
		if bestDistance == -1 || distance < bestDistance {
			bestDistance = distance
			best = entry
		}
	}
	if bestDistance >= 0 {
		return Outcome{
			Kind:       OutcomeNearDuplicate,
			DesignID:   best.DesignID,
			Title:      best.Title,
			Similarity: SimilarityFromDistance(bestDistance),
		}
	}

	return Outcome{Kind: OutcomeUnique}
}
