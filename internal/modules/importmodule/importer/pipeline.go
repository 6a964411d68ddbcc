package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/types"
	"github.com/modelbay/modelbay/internal/utils"
)

// Pipeline step names emitted as item-step events
const (
	StepRead     = "read"
	StepHash     = "hash"
	StepDedupe   = "dedupe"
	StepPreview  = "preview"
	StepAI       = "ai_metadata"
	StepGeometry = "geometry"
	StepPersist  = "persist"
	StepUpload   = "upload"
	StepFinalize = "finalize"
)

// TextHintExtractor pulls contextual text out of local documents
// (printing instructions PDFs) for the AI request. Never fails;
// returns "" when nothing useful is available.
type TextHintExtractor interface {
	TextHint(path string) string
}

// ItemOutcome is what one processed item reports back to the control
// loop. Hashes ride along so the loop can register them in the job's
// hash registry after the batch settles.
type ItemOutcome struct {
	ItemID         uint
	Filename       string
	Status         ItemStatus
	DesignID       string
	DesignTitle    string
	ContentHash    string
	PerceptualHash uint64
	HasPerceptual  bool
	Err            error
	// RetryCount is the item's attempt count after this outcome was
	// recorded; the control loop compares it to the retry budget.
	RetryCount int
	// Derivative marks failures inherited from the bundle primary;
	// they never consume the item's own retry budget.
	Derivative bool
}

// Pipeline runs one item (or one bundle) through read, hash, duplicate
// check, enrichment, persistence, and upload. All collaborator
// failures follow §degradation rules: preview and AI problems degrade,
// IO and database problems fail the item.
type Pipeline struct {
	db       *gorm.DB
	items    *ItemStore
	store    ObjectStore
	renderer PreviewRenderer
	geometry GeometryAnalyzer
	metadata MetadataExtractor
	hints    TextHintExtractor
	bus      events.EventBus
}

// NewPipeline wires a pipeline. Everything except db, items, and store
// may be nil; missing collaborators simply disable their step.
func NewPipeline(db *gorm.DB, items *ItemStore, store ObjectStore, renderer PreviewRenderer,
	geometry GeometryAnalyzer, metadata MetadataExtractor, hints TextHintExtractor,
	bus events.EventBus) *Pipeline {
	return &Pipeline{
		db:       db,
		items:    items,
		store:    store,
		renderer: renderer,
		geometry: geometry,
		metadata: metadata,
		hints:    hints,
		bus:      bus,
	}
}

// additionTarget describes the design a non-primary bundle item
// attaches its file to.
type additionTarget struct {
	DesignID   string
	Title      string
	ToExisting bool    // primary was a duplicate of an existing design
	Similarity float64 // primary's similarity, recorded on converted additions
}

// ProcessBundle runs a dispatch unit. Items[0] is the primary and is
// processed first; the remaining items become file-additions to the
// design it produced or matched. A hard primary failure fails the
// whole bundle with a reason referencing the primary.
func (p *Pipeline) ProcessBundle(ctx context.Context, job *database.ImportJob, bundle Bundle, detector *Detector) []ItemOutcome {
	outcomes := make([]ItemOutcome, 0, bundle.Size())

	textHint := p.bundleTextHint(bundle)
	folderHint := bundleFolderHint(bundle)

	if bundle.Resume != nil {
		return p.resumeBundle(ctx, job, bundle, detector, textHint, folderHint)
	}

	primary := bundle.Items[0]
	primaryOutcome := p.processItem(ctx, job, &primary, detector, nil, textHint, folderHint)
	outcomes = append(outcomes, primaryOutcome)

	rest := bundle.Items[1:]
	if len(rest) == 0 {
		return outcomes
	}

	switch primaryOutcome.Status {
	case ItemStatusCompleted:
		target := &additionTarget{DesignID: primaryOutcome.DesignID, Title: primaryOutcome.DesignTitle}
		for i := range rest {
			outcomes = append(outcomes, p.processItem(ctx, job, &rest[i], detector, target, textHint, folderHint))
		}

	case ItemStatusDuplicate:
		// Primary matched an existing design: the rest become
		// file-additions to that design. Additions that error or
		// duplicate are marked duplicate against the same design,
		// never independently failed.
		target := &additionTarget{
			DesignID:   primaryOutcome.DesignID,
			Title:      primaryOutcome.DesignTitle,
			ToExisting: true,
			Similarity: similarityOf(&primary),
		}
		for i := range rest {
			outcomes = append(outcomes, p.processItem(ctx, job, &rest[i], detector, target, textHint, folderHint))
		}

	case ItemStatusFailed:
		reason := fmt.Sprintf("bundle primary %q failed: %s", primary.Filename, primary.ErrorMessage)
		for i := range rest {
			outcomes = append(outcomes, p.failBundleMember(job, &rest[i], reason))
		}

	default:
		// Primary skipped: remaining items proceed independently.
		for i := range rest {
			outcomes = append(outcomes, p.processItem(ctx, job, &rest[i], detector, nil, textHint, folderHint))
		}
	}

	return outcomes
}

// resumeBundle re-dispatches members of a bundle whose primary already
// settled: they attach to the design the primary produced or matched,
// inherit its failure, or proceed on their own after a skip.
func (p *Pipeline) resumeBundle(ctx context.Context, job *database.ImportJob, bundle Bundle,
	detector *Detector, textHint, folderHint string) []ItemOutcome {

	outcomes := make([]ItemOutcome, 0, bundle.Size())
	resume := bundle.Resume

	switch resume.PrimaryStatus {
	case ItemStatusCompleted:
		target := &additionTarget{DesignID: resume.DesignID, Title: resume.Title}
		for i := range bundle.Items {
			outcomes = append(outcomes, p.processItem(ctx, job, &bundle.Items[i], detector, target, textHint, folderHint))
		}

	case ItemStatusDuplicate:
		target := &additionTarget{
			DesignID:   resume.DesignID,
			Title:      resume.Title,
			ToExisting: true,
			Similarity: resume.Similarity,
		}
		for i := range bundle.Items {
			outcomes = append(outcomes, p.processItem(ctx, job, &bundle.Items[i], detector, target, textHint, folderHint))
		}

	case ItemStatusFailed:
		reason := fmt.Sprintf("bundle primary %q failed: %s", resume.PrimaryFilename, resume.Reason)
		for i := range bundle.Items {
			outcomes = append(outcomes, p.failBundleMember(job, &bundle.Items[i], reason))
		}

	default:
		// Primary was skipped: members proceed independently.
		for i := range bundle.Items {
			outcomes = append(outcomes, p.processItem(ctx, job, &bundle.Items[i], detector, nil, textHint, folderHint))
		}
	}

	return outcomes
}

// failBundleMember marks an unprocessed bundle item failed because its
// primary failed. The retry budget is not consumed; resetting the
// bundle is the primary's call.
func (p *Pipeline) failBundleMember(job *database.ImportJob, item *database.ImportItem, reason string) ItemOutcome {
	if err := p.items.Claim(item.ID); err != nil && err != ErrItemNotClaimed {
		return ItemOutcome{ItemID: item.ID, Filename: item.Filename, Err: err}
	}
	if err := p.items.MarkFailed(item.ID, reason, false); err != nil {
		return ItemOutcome{ItemID: item.ID, Filename: item.Filename, Err: err}
	}
	item.ErrorMessage = reason
	p.emitItemFailed(job.ID, item, reason)
	return ItemOutcome{
		ItemID:     item.ID,
		Filename:   item.Filename,
		Status:     ItemStatusFailed,
		Err:        fmt.Errorf("%s", reason),
		RetryCount: item.RetryCount,
		Derivative: true,
	}
}

// processItem runs the per-item pipeline. addition is nil for primary
// and singleton items.
func (p *Pipeline) processItem(ctx context.Context, job *database.ImportJob, item *database.ImportItem,
	detector *Detector, addition *additionTarget, textHint, folderHint string) ItemOutcome {

	outcome := ItemOutcome{ItemID: item.ID, Filename: item.Filename}

	if err := p.items.Claim(item.ID); err != nil {
		outcome.Err = err
		return outcome
	}
	p.publish(job.ID, events.ItemStartedPayload{ItemID: item.ID, Filename: item.Filename})

	// Read
	p.emitStep(job.ID, item, StepRead)
	data, err := os.ReadFile(item.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return p.finishSkipped(job, item, &outcome, "source file disappeared before processing")
		}
		return p.finishFailed(job, item, &outcome, &IOError{Op: "read", Path: item.SourcePath, Err: err}, addition)
	}
	if len(data) == 0 {
		return p.finishSkipped(job, item, &outcome, "empty file")
	}

	// Hash
	p.emitStep(job.ID, item, StepHash)
	contentHash := utils.HashBytes(data)
	outcome.ContentHash = contentHash
	if err := p.items.SetContentHash(item.ID, contentHash, int64(len(data))); err != nil {
		return p.finishFailed(job, item, &outcome, err, addition)
	}

	// Exact duplicate check; the near check runs after the preview
	// render once a perceptual hash exists.
	p.emitStep(job.ID, item, StepDedupe)
	if dup := detector.Check(contentHash, 0, false); dup.IsDuplicate() {
		return p.finishDuplicate(job, item, &outcome, dup, addition)
	}

	// Preview render + perceptual hash
	var preview *types.PreviewResult
	if job.GeneratePreviews && p.renderer != nil {
		p.emitStep(job.ID, item, StepPreview)
		preview, err = p.renderPreview(ctx, item, data)
		if err != nil {
			logger.Warn("⚠️ Preview render failed for %s, continuing without: %v", item.Filename, err)
			preview = nil
		}
	}
	if preview != nil && preview.PerceptualHash != 0 {
		outcome.PerceptualHash = preview.PerceptualHash
		outcome.HasPerceptual = true
		if dup := detector.Check(contentHash, preview.PerceptualHash, true); dup.IsDuplicate() {
			return p.finishDuplicate(job, item, &outcome, dup, addition)
		}
	}

	// AI metadata, only for items that define a design
	requested := false
	aiResult := &types.AIMetadataResult{}
	if addition == nil && job.GenerateAIMetadata && p.metadata != nil {
		requested = true
		p.emitStep(job.ID, item, StepAI)
		aiResult = p.extractMetadata(ctx, job, item, data, preview, textHint, folderHint)
	}

	// Geometry analysis for model formats, never fatal
	var stats *types.GeometryStats
	if addition == nil && utils.IsModelType(item.FileType) && p.geometry != nil {
		p.emitStep(job.ID, item, StepGeometry)
		stats, err = p.geometry.AnalyzeGeometry(ctx, data, item.FileType)
		if err != nil {
			logger.Warn("⚠️ Geometry analysis failed for %s: %v", item.Filename, err)
			stats = nil
		}
	}

	// Design record
	var design *database.Design
	createdDesign := false
	if addition == nil {
		p.emitStep(job.ID, item, StepPersist)
		design, err = p.createDesign(job, item, contentHash, aiResult, stats)
		if err != nil {
			return p.finishFailed(job, item, &outcome, err, addition)
		}
		createdDesign = true
	} else {
		design = &database.Design{ID: addition.DesignID, Title: addition.Title}
	}

	// Upload original and preview
	p.emitStep(job.ID, item, StepUpload)
	originalPath := objectPath("originals", contentHash, filepath.Ext(item.Filename))
	uploaded := []string{}
	if err := p.store.Put(ctx, originalPath, data, utils.GetContentType(item.Filename)); err != nil {
		p.compensate(ctx, design, createdDesign, uploaded)
		return p.finishFailed(job, item, &outcome, &IOError{Op: "upload", Path: originalPath, Err: err}, addition)
	}
	uploaded = append(uploaded, originalPath)

	previewPath := ""
	perceptualHex := ""
	if preview != nil {
		previewPath = objectPath("previews", contentHash, ".webp")
		if err := p.store.Put(ctx, previewPath, preview.Image, "image/webp"); err != nil {
			p.compensate(ctx, design, createdDesign, uploaded)
			return p.finishFailed(job, item, &outcome, &IOError{Op: "upload", Path: previewPath, Err: err}, addition)
		}
		uploaded = append(uploaded, previewPath)
		perceptualHex = FormatPerceptualHash(preview.PerceptualHash)
	}
	if createdDesign && previewPath != "" {
		if err := p.db.Model(design).Update("preview_path", previewPath).Error; err != nil {
			p.compensate(ctx, design, createdDesign, uploaded)
			return p.finishFailed(job, item, &outcome, &DatabaseError{Op: "set preview path", Err: err}, addition)
		}
	}

	// Design file record
	p.emitStep(job.ID, item, StepFinalize)
	role := item.ProjectRole
	if role == "" {
		role = database.RolePrimary
	}
	file := &database.DesignFile{
		ID:             utils.GenerateUUID(),
		DesignID:       design.ID,
		Role:           role,
		OriginalName:   item.Filename,
		FileType:       item.FileType,
		SizeBytes:      int64(len(data)),
		ContentHash:    contentHash,
		PerceptualHash: perceptualHex,
		StoragePath:    originalPath,
	}
	if err := p.db.Create(file).Error; err != nil {
		p.compensate(ctx, design, createdDesign, uploaded)
		return p.finishFailed(job, item, &outcome, &DatabaseError{Op: "create design file", Err: err}, addition)
	}

	result := CompletedResult{
		DesignID:            design.ID,
		DesignFileID:        file.ID,
		AIMetadataRequested: requested,
		AIMetadataGenerated: aiResult.Generated,
	}
	if err := p.items.MarkCompleted(item.ID, result); err != nil {
		return p.finishFailed(job, item, &outcome, err, addition)
	}

	outcome.Status = ItemStatusCompleted
	outcome.DesignID = design.ID
	outcome.DesignTitle = design.Title
	logger.Debug("Imported %s as design %s", item.Filename, design.ID)
	return outcome
}

// renderPreview asks the render service for a preview image and
// perceptual hash, wrapping failures as dependency errors.
func (p *Pipeline) renderPreview(ctx context.Context, item *database.ImportItem, data []byte) (*types.PreviewResult, error) {
	preview, err := p.renderer.RenderPreview(ctx, data, item.FileType)
	if err != nil {
		return nil, &DependencyError{Service: "render", Err: err}
	}
	return preview, nil
}

// extractMetadata builds the AI request with the best available image
// and contextual hints. Never fails; the extractor returns a fallback
// result on any backend problem.
func (p *Pipeline) extractMetadata(ctx context.Context, job *database.ImportJob, item *database.ImportItem,
	data []byte, preview *types.PreviewResult, textHint, folderHint string) *types.AIMetadataResult {

	var image []byte
	imageFormat := ""
	if utils.IsModelType(item.FileType) && p.renderer != nil {
		// A multi-angle composite describes a 3D shape far better
		// than the single preview angle.
		composite, err := p.renderer.RenderMultiView(ctx, data, item.FileType)
		if err == nil && len(composite) > 0 {
			image = composite
			imageFormat = "png"
		}
	}
	if image == nil && preview != nil {
		image = preview.Image
		imageFormat = preview.Format
	}
	if image == nil && item.FileType == "image" {
		image = data
		imageFormat = strings.TrimPrefix(strings.ToLower(filepath.Ext(item.Filename)), ".")
	}

	req := types.AIMetadataRequest{
		PreviewImage: image,
		ImageFormat:  imageFormat,
		FilenameHint: item.Filename,
		FolderHint:   folderHint,
		TextHint:     textHint,
		FileType:     item.FileType,
	}
	return p.metadata.Extract(ctx, image, req)
}

// createDesign persists the design row together with its tags
func (p *Pipeline) createDesign(job *database.ImportJob, item *database.ImportItem, contentHash string,
	aiResult *types.AIMetadataResult, stats *types.GeometryStats) (*database.Design, error) {

	title := aiResult.Title
	if title == "" {
		title = DeriveTitle(item.Filename)
	}
	slug, err := p.uniqueSlug(Slugify(title) + "-" + contentHash[:8])
	if err != nil {
		return nil, err
	}

	design := &database.Design{
		ID:          utils.GenerateUUID(),
		Title:       title,
		Slug:        slug,
		Description: aiResult.Description,
		Category:    aiResult.Category,
		Published:   job.AutoPublish,
		AIGenerated: aiResult.Generated,
	}
	applyGeometry(design, stats)

	err = p.db.Transaction(func(tx *gorm.DB) error {
		tags, err := ensureTags(tx, aiResult.Tags)
		if err != nil {
			return err
		}
		design.Tags = tags
		return tx.Create(design).Error
	})
	if err != nil {
		return nil, &DatabaseError{Op: "create design", Err: err}
	}
	return design, nil
}

// compensate undoes a partially imported item: the design row created
// for it and any objects already uploaded. Best effort on the object
// side; the store's orphan sweep handles leftovers.
func (p *Pipeline) compensate(ctx context.Context, design *database.Design, createdDesign bool, uploaded []string) {
	if createdDesign && design != nil {
		if err := p.db.Model(design).Association("Tags").Clear(); err != nil {
			logger.Warn("Failed to clear tags while rolling back design %s: %v", design.ID, err)
		}
		if err := p.db.Unscoped().Delete(design).Error; err != nil {
			logger.Error("Failed to roll back design %s: %v", design.ID, err)
		}
	}
	for _, path := range uploaded {
		if err := p.store.Delete(ctx, path); err != nil {
			logger.Warn("Failed to remove uploaded object %s during rollback: %v", path, err)
		}
	}
}

func (p *Pipeline) finishSkipped(job *database.ImportJob, item *database.ImportItem, outcome *ItemOutcome, reason string) ItemOutcome {
	if err := p.items.MarkSkipped(item.ID, reason); err != nil {
		outcome.Err = err
		return *outcome
	}
	outcome.Status = ItemStatusSkipped
	logger.Debug("Skipped %s: %s", item.Filename, reason)
	return *outcome
}

func (p *Pipeline) finishFailed(job *database.ImportJob, item *database.ImportItem, outcome *ItemOutcome,
	cause error, addition *additionTarget) ItemOutcome {

	// Additions to an existing design never fail independently; they
	// are recorded as duplicates of that design.
	if addition != nil && addition.ToExisting {
		if err := p.items.MarkDuplicate(item.ID, addition.DesignID, addition.Similarity); err != nil {
			outcome.Err = err
			return *outcome
		}
		outcome.Status = ItemStatusDuplicate
		outcome.DesignID = addition.DesignID
		return *outcome
	}

	if err := p.items.MarkFailed(item.ID, cause.Error(), true); err != nil {
		outcome.Err = err
		return *outcome
	}
	item.ErrorMessage = cause.Error()
	item.RetryCount++
	outcome.Status = ItemStatusFailed
	outcome.Err = cause
	outcome.RetryCount = item.RetryCount
	p.emitItemFailed(job.ID, item, cause.Error())
	logger.Warn("❌ Item %s failed: %v", item.Filename, cause)
	return *outcome
}

// finishDuplicate records a duplicate outcome against the design the
// detector matched. An addition member that matches a design other
// than its bundle's target keeps that real match; only addition
// *errors* are folded into the target design (finishFailed).
func (p *Pipeline) finishDuplicate(job *database.ImportJob, item *database.ImportItem, outcome *ItemOutcome,
	dup Outcome, addition *additionTarget) ItemOutcome {

	if err := p.items.MarkDuplicate(item.ID, dup.DesignID, dup.Similarity); err != nil {
		outcome.Err = err
		return *outcome
	}
	item.DuplicateOfID = &dup.DesignID
	item.SimilarityScore = &dup.Similarity
	outcome.Status = ItemStatusDuplicate
	outcome.DesignID = dup.DesignID
	outcome.DesignTitle = dup.Title
	logger.Debug("Duplicate %s of design %s (similarity %.1f)", item.Filename, dup.DesignID, dup.Similarity)
	return *outcome
}

// bundleTextHint extracts instruction text from the first PDF in the
// bundle, if a hint extractor is available.
func (p *Pipeline) bundleTextHint(bundle Bundle) string {
	if p.hints == nil {
		return ""
	}
	for i := range bundle.Items {
		if bundle.Items[i].FileType == "pdf" {
			return p.hints.TextHint(bundle.Items[i].SourcePath)
		}
	}
	return ""
}

// bundleFolderHint names the bundle for the AI request: the detected
// project name, or the parent directory.
func bundleFolderHint(bundle Bundle) string {
	if bundle.Project != nil {
		return bundle.Project.Name
	}
	return filepath.Base(filepath.Dir(bundle.Items[0].SourcePath))
}

func similarityOf(item *database.ImportItem) float64 {
	if item.SimilarityScore != nil {
		return *item.SimilarityScore
	}
	return 0
}

// uniqueSlug resolves slug collisions with a numeric suffix. The hash
// suffix in the base makes real collisions rare.
func (p *Pipeline) uniqueSlug(base string) (string, error) {
	slug := base
	for i := 2; i <= 50; i++ {
		var n int64
		err := p.db.Model(&database.Design{}).Where("slug = ?", slug).Count(&n).Error
		if err != nil {
			return "", &DatabaseError{Op: "check slug", Err: err}
		}
		if n == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
	return base + "-" + utils.GenerateUUID()[:8], nil
}

// ensureTags upserts tag rows by name, lowercased and deduplicated
func ensureTags(tx *gorm.DB, names []string) ([]database.Tag, error) {
	seen := make(map[string]bool, len(names))
	tags := make([]database.Tag, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		var tag database.Tag
		if err := tx.Where(database.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// applyGeometry copies analyzer stats onto the design row
func applyGeometry(design *database.Design, stats *types.GeometryStats) {
	if stats == nil {
		return
	}
	design.WidthMM = &stats.WidthMM
	design.HeightMM = &stats.HeightMM
	design.DepthMM = &stats.DepthMM
	design.VolumeCm3 = &stats.VolumeCM3
	design.SurfaceCm2 = &stats.SurfaceCM2
	design.TriangleCount = &stats.TriangleCount
	design.Complexity = complexityFor(stats.TriangleCount)
}

// complexityFor buckets triangle counts for the catalog's filter facet
func complexityFor(triangles int) string {
	switch {
	case triangles <= 0:
		return ""
	case triangles < 50000:
		return "low"
	case triangles < 500000:
		return "medium"
	default:
		return "high"
	}
}

// objectPath builds the hash-sharded storage path for an object
func objectPath(kind, contentHash, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", kind, contentHash[:2], contentHash, strings.ToLower(ext))
}

// DeriveTitle turns a filename into a presentable title:
// "dragon_knight-v2.stl" becomes "Dragon Knight V2".
func DeriveTitle(filename string) string {
	stem := utils.FileStem(filename)
	stem = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r == '.' {
			return ' '
		}
		return r
	}, stem)
	words := strings.Fields(stem)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return "Untitled Design"
	}
	return strings.Join(words, " ")
}

// Slugify lowercases and strips a title down to URL-safe characters
func Slugify(title string) string {
	var b strings.Builder
	lastDash := true // suppress leading dashes
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "design"
	}
	return slug
}

func (p *Pipeline) publish(jobID uint, payload events.Payload) {
	if p.bus == nil {
		return
	}
	p.bus.PublishAsync(events.NewEvent(jobID, payload))
}

func (p *Pipeline) emitStep(jobID uint, item *database.ImportItem, step string) {
	p.publish(jobID, events.ItemStepPayload{ItemID: item.ID, Filename: item.Filename, Step: step})
}

func (p *Pipeline) emitItemFailed(jobID uint, item *database.ImportItem, reason string) {
	p.publish(jobID, events.ItemFailedPayload{
		ItemID:   item.ID,
		Filename: item.Filename,
		Reason:   reason,
		Retry:    item.RetryCount,
	})
}
