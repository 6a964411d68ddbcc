package importer

import (
	"errors"
	"sort"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/utils"
)

// Bundle is one unit of work for the scheduler: either a full detected
// project or a single projectless item. For project bundles the items
// are ordered and Items[0] is the primary, unless Resume is set.
type Bundle struct {
	Project *database.DetectedProject // nil for singleton units
	Items   []database.ImportItem
	// Resume is set when the project's primary already reached a
	// terminal state in an earlier batch; the remaining items are
	// re-dispatched against that outcome instead of electing a new
	// primary.
	Resume *ResumeState
}

// ResumeState captures the terminal outcome of a bundle's primary so
// members retried after the primary settled attach to the right design
// (or inherit the right failure) instead of re-defining the bundle.
type ResumeState struct {
	PrimaryStatus   ItemStatus
	PrimaryFilename string
	Reason          string  // primary's error message when failed
	DesignID        string  // design the additions attach to
	Title           string
	Similarity      float64 // primary's similarity when it was a duplicate
}

// Primary returns the bundle's defining item
func (b *Bundle) Primary() *database.ImportItem {
	return &b.Items[0]
}

// Size returns the number of items in the bundle
func (b *Bundle) Size() int {
	return len(b.Items)
}

// Bundler groups pending items into dispatch units. When a detected
// project appears in the batch window it pulls in all of that project's
// pending items so the bundle is always processed whole.
type Bundler struct {
	db         *gorm.DB
	items      *ItemStore
	maxRetries int
}

// NewBundler creates a bundler over the given stores. maxRetries must
// match the scheduler's retry budget; it decides when a failed primary
// counts as settled.
func NewBundler(db *gorm.DB, items *ItemStore, maxRetries int) *Bundler {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &Bundler{db: db, items: items, maxRetries: maxRetries}
}

// NextUnits assembles up to limit dispatch units from the job's pending
// items. Project bundles are completed with every pending item of their
// project, ordered, and role-assigned; projectless items become
// singleton units.
func (b *Bundler) NextUnits(job *database.ImportJob, limit int) ([]Bundle, error) {
	if limit < 1 {
		limit = 1
	}
	window, err := b.items.NextPending(job.ID, limit)
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return nil, nil
	}

	priority := PreviewPriority(job)
	units := make([]Bundle, 0, len(window))
	seenProjects := make(map[uint]bool)

	for _, item := range window {
		if len(units) >= limit {
			break
		}
		if item.DetectedProjectID == nil {
			units = append(units, Bundle{Items: []database.ImportItem{item}})
			continue
		}

		projectID := *item.DetectedProjectID
		if seenProjects[projectID] {
			continue
		}
		seenProjects[projectID] = true

		bundle, err := b.assembleProject(job, projectID, priority)
		if err != nil {
			return nil, err
		}
		if bundle != nil {
			units = append(units, *bundle)
		}
	}
	return units, nil
}

// assembleProject pulls every pending item of the project, orders them,
// and persists role assignments. When the project's primary already
// settled in an earlier batch the roles are left untouched and the
// primary's outcome rides along as resume state.
func (b *Bundler) assembleProject(job *database.ImportJob, projectID uint, priority []string) (*Bundle, error) {
	items, err := b.items.PendingForProject(job.ID, projectID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	OrderBundleItems(items, priority)

	project, err := b.getProject(projectID)
	if err != nil {
		return nil, err
	}

	resume, err := b.resumeState(job.ID, projectID)
	if err != nil {
		return nil, err
	}
	if resume != nil {
		return &Bundle{Project: project, Items: items, Resume: resume}, nil
	}

	if err := b.assignRoles(items); err != nil {
		return nil, err
	}

	return &Bundle{Project: project, Items: items}, nil
}

// resumeState looks for a primary of this project that already settled.
// A failed primary counts only once its retry budget is spent; before
// that the whole bundle goes around again together. Returns nil when
// the bundle has not been dispatched yet.
func (b *Bundler) resumeState(jobID, projectID uint) (*ResumeState, error) {
	var primary database.ImportItem
	err := b.db.
		Where("job_id = ? AND detected_project_id = ? AND project_role = ?",
			jobID, projectID, database.RolePrimary).
		Where("(status IN ? OR (status = ? AND retry_count >= ?))",
			[]string{
				string(ItemStatusCompleted),
				string(ItemStatusDuplicate),
				string(ItemStatusSkipped),
			},
			string(ItemStatusFailed), b.maxRetries).
		First(&primary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &DatabaseError{Op: "find settled primary", Err: err}
	}

	state := &ResumeState{
		PrimaryStatus:   ItemStatus(primary.Status),
		PrimaryFilename: primary.Filename,
		Reason:          primary.ErrorMessage,
	}
	switch state.PrimaryStatus {
	case ItemStatusCompleted:
		if primary.DesignID != nil {
			state.DesignID = *primary.DesignID
		}
	case ItemStatusDuplicate:
		if primary.DuplicateOfID != nil {
			state.DesignID = *primary.DuplicateOfID
		}
		if primary.SimilarityScore != nil {
			state.Similarity = *primary.SimilarityScore
		}
	}
	if state.DesignID != "" {
		state.Title = b.designTitle(state.DesignID)
	}
	return state, nil
}

// designTitle is a best-effort lookup for registry bookkeeping.
func (b *Bundler) designTitle(designID string) string {
	var design database.Design
	if err := b.db.Select("id", "title").First(&design, "id = ?", designID).Error; err != nil {
		return ""
	}
	return design.Title
}

func (b *Bundler) getProject(projectID uint) (*database.DetectedProject, error) {
	var project database.DetectedProject
	if err := b.db.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // orphaned reference, treat as projectless
		}
		return nil, &DatabaseError{Op: "get detected project", Err: err}
	}
	return &project, nil
}

// assignRoles marks the first item primary, same-stem items variant,
// and everything else component. Assignments are written back so roles
// survive a retry of the same bundle.
func (b *Bundler) assignRoles(items []database.ImportItem) error {
	primaryStem := utils.FileStem(items[0].Filename)
	for i := range items {
		role := database.RoleComponent
		switch {
		case i == 0:
			role = database.RolePrimary
		case utils.FileStem(items[i].Filename) == primaryStem:
			role = database.RoleVariant
		}
		if items[i].ProjectRole == role {
			continue
		}
		if err := b.items.AssignRole(items[i].ID, role); err != nil {
			return err
		}
		items[i].ProjectRole = role
	}
	return nil
}

// OrderBundleItems sorts a bundle deterministically: file types on the
// job's preview priority list first (in list order), then model files
// before image-only files, then stable by id.
func OrderBundleItems(items []database.ImportItem, priority []string) {
	rank := func(item *database.ImportItem) (int, int) {
		prio := len(priority)
		for i, t := range priority {
			if item.FileType == t {
				prio = i
				break
			}
		}
		modelRank := 1
		if utils.IsModelType(item.FileType) {
			modelRank = 0
		}
		return prio, modelRank
	}

	sort.SliceStable(items, func(i, j int) bool {
		pi, mi := rank(&items[i])
		pj, mj := rank(&items[j])
		if pi != pj {
			return pi < pj
		}
		if mi != mj {
			return mi < mj
		}
		return items[i].ID < items[j].ID
	})
}
