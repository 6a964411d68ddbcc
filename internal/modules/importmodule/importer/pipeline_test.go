package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/events"
	"github.com/modelbay/modelbay/internal/types"
	"github.com/modelbay/modelbay/internal/utils"
)

type fakeRenderer struct {
	mu           sync.Mutex
	preview      *types.PreviewResult
	previewErr   error
	multiView    []byte
	multiViewErr error
	previewCalls int
	multiCalls   int
}

func (f *fakeRenderer) RenderPreview(ctx context.Context, data []byte, fileType string) (*types.PreviewResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewCalls++
	if f.previewErr != nil {
		return nil, f.previewErr
	}
	return f.preview, nil
}

func (f *fakeRenderer) RenderMultiView(ctx context.Context, data []byte, fileType string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multiCalls++
	if f.multiViewErr != nil {
		return nil, f.multiViewErr
	}
	return f.multiView, nil
}

type fakeGeometry struct {
	mu    sync.Mutex
	stats *types.GeometryStats
	err   error
	calls int
}

func (f *fakeGeometry) AnalyzeGeometry(ctx context.Context, data []byte, fileType string) (*types.GeometryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

type fakeMetadata struct {
	mu       sync.Mutex
	result   *types.AIMetadataResult
	requests []types.AIMetadataRequest
}

func (f *fakeMetadata) Extract(ctx context.Context, image []byte, req types.AIMetadataRequest) *types.AIMetadataResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.result != nil {
		return f.result
	}
	return &types.AIMetadataResult{Generated: false}
}

type fakeStore struct {
	mu              sync.Mutex
	objects         map[string][]byte
	deleted         []string
	failAll         bool
	failContentType string // Put fails for uploads of this content type
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || (f.failContentType != "" && contentType == f.failContentType) {
		return errors.New("storage backend unavailable")
	}
	f.objects[path] = data
	return nil
}

func (f *fakeStore) Get(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return data, nil
}

func (f *fakeStore) PublicURL(path string) string { return "/files/" + path }

func (f *fakeStore) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeStore) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok
}

func (f *fakeStore) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeHints struct {
	mu    sync.Mutex
	hint  string
	paths []string
}

func (f *fakeHints) TextHint(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return f.hint
}

// pipelineFixture wires a pipeline over a real database and fake
// collaborators preloaded with successful results.
type pipelineFixture struct {
	db       *gorm.DB
	items    *ItemStore
	store    *fakeStore
	renderer *fakeRenderer
	geometry *fakeGeometry
	metadata *fakeMetadata
	hints    *fakeHints
	bus      *recorderBus
	pipeline *Pipeline
	registry *HashRegistry
	dir      string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &pipelineFixture{
		db:    db,
		items: NewItemStore(db),
		store: newFakeStore(),
		renderer: &fakeRenderer{
			preview: &types.PreviewResult{
				Image:          []byte("webp-preview-bytes"),
				Format:         "webp",
				Width:          512,
				Height:         512,
				PerceptualHash: 0xF0F0F0F0F0F0F0F0,
			},
			multiView: []byte("composite-png-bytes"),
		},
		geometry: &fakeGeometry{
			stats: &types.GeometryStats{
				TriangleCount: 120000,
				WidthMM:       42, HeightMM: 30, DepthMM: 18,
				VolumeCM3: 12.5, SurfaceCM2: 88.25,
				Watertight: true,
			},
		},
		metadata: &fakeMetadata{},
		hints:    &fakeHints{},
		bus:      &recorderBus{},
		registry: NewHashRegistry(),
		dir:      t.TempDir(),
	}
	f.pipeline = NewPipeline(db, f.items, f.store, f.renderer, f.geometry, f.metadata, f.hints, f.bus)
	return f
}

func (f *pipelineFixture) detector(job *database.ImportJob) *Detector {
	return NewDetector(f.registry, job)
}

func singleton(item *database.ImportItem) Bundle {
	return Bundle{Items: []database.ImportItem{*item}}
}

func enableAllSteps(j *database.ImportJob) {
	j.GeneratePreviews = true
	j.GenerateAIMetadata = true
	j.DetectDuplicates = true
}

func TestProcessBundle_SingletonHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, enableAllSteps)
	item := createTestItem(t, f.db, job.ID, "dragon_knight-v2.stl", nil)
	content := []byte("solid dragon knight mesh data")
	writeSourceFile(t, f.db, f.dir, item, content)

	f.metadata.result = &types.AIMetadataResult{
		Title:       "Dragon Knight",
		Description: "Armored dragon-riding knight",
		Tags:        []string{"Fantasy", "fantasy", " DRAGONS "},
		Category:    "miniatures",
		Generated:   true,
	}

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	outcome := outcomes[0]
	require.NoError(t, outcome.Err)
	assert.Equal(t, ItemStatusCompleted, outcome.Status)
	require.NotEmpty(t, outcome.DesignID)
	assert.Equal(t, "Dragon Knight", outcome.DesignTitle)

	contentHash := utils.HashBytes(content)
	assert.Equal(t, contentHash, outcome.ContentHash)
	assert.True(t, outcome.HasPerceptual)
	assert.Equal(t, uint64(0xF0F0F0F0F0F0F0F0), outcome.PerceptualHash)

	// Design row with AI metadata and geometry stats applied.
	var design database.Design
	require.NoError(t, f.db.Preload("Tags").First(&design, "id = ?", outcome.DesignID).Error)
	assert.Equal(t, "Dragon Knight", design.Title)
	assert.Equal(t, "dragon-knight-"+contentHash[:8], design.Slug)
	assert.Equal(t, "miniatures", design.Category)
	assert.True(t, design.AIGenerated)
	assert.False(t, design.Published, "AutoPublish off keeps the design private")
	require.NotNil(t, design.TriangleCount)
	assert.Equal(t, 120000, *design.TriangleCount)
	assert.Equal(t, "medium", design.Complexity)
	require.Len(t, design.Tags, 2, "tags lowercased and deduplicated")

	// Objects stored under hash-sharded paths, preview path recorded.
	originalPath := fmt.Sprintf("originals/%s/%s.stl", contentHash[:2], contentHash)
	previewPath := fmt.Sprintf("previews/%s/%s.webp", contentHash[:2], contentHash)
	assert.True(t, f.store.has(originalPath))
	assert.True(t, f.store.has(previewPath))
	assert.Equal(t, previewPath, design.PreviewPath)

	// Design file row carries both hashes.
	var file database.DesignFile
	require.NoError(t, f.db.First(&file, "design_id = ?", design.ID).Error)
	assert.Equal(t, database.RolePrimary, file.Role)
	assert.Equal(t, contentHash, file.ContentHash)
	assert.Equal(t, FormatPerceptualHash(0xF0F0F0F0F0F0F0F0), file.PerceptualHash)
	assert.Equal(t, originalPath, file.StoragePath)

	// Item row closed out with references and AI bookkeeping.
	got, err := f.items.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, ItemStatusCompleted, ItemStatus(got.Status))
	assert.True(t, got.AIMetadataRequested)
	assert.True(t, got.AIMetadataGenerated)
	require.NotNil(t, got.DesignID)
	assert.Equal(t, design.ID, *got.DesignID)
	assert.Equal(t, contentHash, got.ContentHash)

	// The AI request preferred the multi-angle composite.
	require.Len(t, f.metadata.requests, 1)
	req := f.metadata.requests[0]
	assert.Equal(t, []byte("composite-png-bytes"), req.PreviewImage)
	assert.Equal(t, "png", req.ImageFormat)
	assert.Equal(t, "dragon_knight-v2.stl", req.FilenameHint)

	assert.Len(t, f.bus.byType(events.EventItemStarted), 1)
	steps := f.bus.byType(events.EventItemStep)
	var names []string
	for _, e := range steps {
		names = append(names, e.Payload.(events.ItemStepPayload).Step)
	}
	assert.Equal(t, []string{StepRead, StepHash, StepDedupe, StepPreview, StepAI, StepGeometry, StepPersist, StepUpload, StepFinalize}, names)
	assert.Empty(t, f.bus.byType(events.EventItemFailed))
}

func TestProcessBundle_EmptyFileSkipped(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, enableAllSteps)
	item := createTestItem(t, f.db, job.ID, "hollow.stl", nil)
	writeSourceFile(t, f.db, f.dir, item, []byte{})

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	assert.Equal(t, ItemStatusSkipped, outcomes[0].Status)

	got, err := f.items.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "empty file", got.ErrorMessage)
	assert.Zero(t, f.store.size(), "nothing uploaded for skips")
}

func TestProcessBundle_VanishedFileSkipped(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, enableAllSteps)
	item := createTestItem(t, f.db, job.ID, "ghost.stl", func(i *database.ImportItem) {
		i.SourcePath = f.dir + "/does-not-exist.stl"
	})

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	assert.Equal(t, ItemStatusSkipped, outcomes[0].Status)
	assert.Equal(t, ItemStatusSkipped, itemStatus(t, f.db, item.ID))
}

func TestProcessBundle_PreviewFailureDegrades(t *testing.T) {
	f := newPipelineFixture(t)
	f.renderer.previewErr = errors.New("render service down")
	f.renderer.multiViewErr = errors.New("render service down")
	job := createTestJob(t, f.db, enableAllSteps)
	item := createTestItem(t, f.db, job.ID, "boat.stl", nil)
	writeSourceFile(t, f.db, f.dir, item, []byte("solid boat"))

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	outcome := outcomes[0]
	require.NoError(t, outcome.Err)
	assert.Equal(t, ItemStatusCompleted, outcome.Status, "preview problems never fail an item")
	assert.False(t, outcome.HasPerceptual)

	var design database.Design
	require.NoError(t, f.db.First(&design, "id = ?", outcome.DesignID).Error)
	assert.Empty(t, design.PreviewPath)
	assert.Equal(t, 1, f.store.size(), "only the original was uploaded")
}

func TestProcessBundle_AIFallbackDerivesTitle(t *testing.T) {
	f := newPipelineFixture(t)
	f.metadata.result = &types.AIMetadataResult{Generated: false}
	job := createTestJob(t, f.db, enableAllSteps)
	item := createTestItem(t, f.db, job.ID, "phone_stand-v3.stl", nil)
	writeSourceFile(t, f.db, f.dir, item, []byte("solid stand"))

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "Phone Stand V3", outcomes[0].DesignTitle)

	got, err := f.items.Get(item.ID)
	require.NoError(t, err)
	assert.True(t, got.AIMetadataRequested)
	assert.False(t, got.AIMetadataGenerated)

	var design database.Design
	require.NoError(t, f.db.First(&design, "id = ?", outcomes[0].DesignID).Error)
	assert.False(t, design.AIGenerated)
}

func TestProcessBundle_GeometryFailureDegrades(t *testing.T) {
	f := newPipelineFixture(t)
	f.geometry.err = errors.New("mesh parser overflow")
	job := createTestJob(t, f.db, enableAllSteps)
	item := createTestItem(t, f.db, job.ID, "blob.stl", nil)
	writeSourceFile(t, f.db, f.dir, item, []byte("solid blob"))

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	assert.Equal(t, ItemStatusCompleted, outcomes[0].Status)

	var design database.Design
	require.NoError(t, f.db.First(&design, "id = ?", outcomes[0].DesignID).Error)
	assert.Nil(t, design.TriangleCount)
	assert.Empty(t, design.Complexity)
}

func TestProcessBundle_ExactDuplicate(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, enableAllSteps)
	content := []byte("solid twin")
	f.registry.RegisterExact(utils.HashBytes(content), "design-original")

	item := createTestItem(t, f.db, job.ID, "twin.stl", nil)
	writeSourceFile(t, f.db, f.dir, item, content)

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	outcome := outcomes[0]
	assert.Equal(t, ItemStatusDuplicate, outcome.Status)
	assert.Equal(t, "design-original", outcome.DesignID)

	got, err := f.items.Get(item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DuplicateOfID)
	assert.Equal(t, "design-original", *got.DuplicateOfID)
	require.NotNil(t, got.SimilarityScore)
	assert.Equal(t, 100.0, *got.SimilarityScore)

	assert.Zero(t, f.store.size(), "duplicates upload nothing")
	var n int64
	require.NoError(t, f.db.Model(&database.Design{}).Count(&n).Error)
	assert.Zero(t, n, "duplicates create no design")
	assert.Zero(t, f.renderer.previewCalls, "exact match short-circuits before rendering")
}

func TestProcessBundle_NearDuplicateAfterRender(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, enableAllSteps)

	base := f.renderer.preview.PerceptualHash
	f.registry.RegisterPerceptual(withBits(base, 0, 1), "design-near", "Benchy")

	item := createTestItem(t, f.db, job.ID, "benchy-remix.stl", nil)
	writeSourceFile(t, f.db, f.dir, item, []byte("solid remix"))

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	outcome := outcomes[0]
	assert.Equal(t, ItemStatusDuplicate, outcome.Status)
	assert.Equal(t, "design-near", outcome.DesignID)
	assert.Equal(t, "Benchy", outcome.DesignTitle)

	got, err := f.items.Get(item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SimilarityScore)
	assert.InDelta(t, SimilarityFromDistance(2), *got.SimilarityScore, 0.0001)
}

func TestProcessBundle_UploadFailureCompensates(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.failContentType = "image/webp" // original succeeds, preview upload fails
	job := createTestJob(t, f.db, enableAllSteps)
	item := createTestItem(t, f.db, job.ID, "doomed.stl", nil)
	content := []byte("solid doomed")
	writeSourceFile(t, f.db, f.dir, item, content)

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	outcome := outcomes[0]
	assert.Equal(t, ItemStatusFailed, outcome.Status)
	require.Error(t, outcome.Err)
	var ioErr *IOError
	assert.True(t, errors.As(outcome.Err, &ioErr))
	assert.Equal(t, 1, outcome.RetryCount)

	// The created design row was rolled back and the uploaded original
	// removed again.
	var n int64
	require.NoError(t, f.db.Model(&database.Design{}).Count(&n).Error)
	assert.Zero(t, n)
	contentHash := utils.HashBytes(content)
	originalPath := fmt.Sprintf("originals/%s/%s.stl", contentHash[:2], contentHash)
	assert.Contains(t, f.store.deleted, originalPath)
	assert.Zero(t, f.store.size())

	failedEvents := f.bus.byType(events.EventItemFailed)
	require.Len(t, failedEvents, 1)
	assert.Equal(t, 1, failedEvents[0].Payload.(events.ItemFailedPayload).Retry)
}

func TestProcessBundle_SlugCollisionGetsSuffix(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, enableAllSteps)
	f.metadata.result = &types.AIMetadataResult{Title: "Benchy", Generated: true}

	content := []byte("solid benchy clone")
	contentHash := utils.HashBytes(content)
	taken := &database.Design{ID: utils.GenerateUUID(), Title: "Benchy", Slug: "benchy-" + contentHash[:8]}
	require.NoError(t, f.db.Create(taken).Error)

	item := createTestItem(t, f.db, job.ID, "benchy.stl", nil)
	writeSourceFile(t, f.db, f.dir, item, content)

	outcomes := f.pipeline.ProcessBundle(context.Background(), job, singleton(item), f.detector(job))
	require.Len(t, outcomes, 1)
	require.Equal(t, ItemStatusCompleted, outcomes[0].Status)

	var design database.Design
	require.NoError(t, f.db.First(&design, "id = ?", outcomes[0].DesignID).Error)
	assert.Equal(t, "benchy-"+contentHash[:8]+"-2", design.Slug)
}

func TestProcessBundle_MembersAttachToPrimaryDesign(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, enableAllSteps)

	primary := createTestItem(t, f.db, job.ID, "dragon.stl", nil)
	photo := createTestItem(t, f.db, job.ID, "dragon.jpg", func(i *database.ImportItem) {
		i.FileType = "image"
		i.ProjectRole = database.RoleVariant
	})
	instructions := createTestItem(t, f.db, job.ID, "instructions.pdf", func(i *database.ImportItem) {
		i.FileType = "pdf"
		i.ProjectRole = database.RoleComponent
	})
	project := createTestProject(t, f.db, job.ID, "dragon", primary, photo, instructions)
	writeSourceFile(t, f.db, f.dir, primary, []byte("solid dragon"))
	writeSourceFile(t, f.db, f.dir, photo, []byte("jpeg bytes"))
	writeSourceFile(t, f.db, f.dir, instructions, []byte("%PDF-1.4 print at 0.2mm"))
	f.hints.hint = "print at 0.2mm layer height"

	bundle := Bundle{Project: project, Items: []database.ImportItem{*primary, *photo, *instructions}}
	outcomes := f.pipeline.ProcessBundle(context.Background(), job, bundle, f.detector(job))
	require.Len(t, outcomes, 3)

	for _, outcome := range outcomes {
		require.NoError(t, outcome.Err)
		assert.Equal(t, ItemStatusCompleted, outcome.Status)
		assert.Equal(t, outcomes[0].DesignID, outcome.DesignID, "members attach to the primary's design")
	}

	var files []database.DesignFile
	require.NoError(t, f.db.Where("design_id = ?", outcomes[0].DesignID).Order("id").Find(&files).Error)
	require.Len(t, files, 3)
	roles := map[database.ProjectRole]bool{}
	for _, file := range files {
		roles[file.Role] = true
	}
	assert.True(t, roles[database.RolePrimary])
	assert.True(t, roles[database.RoleVariant])
	assert.True(t, roles[database.RoleComponent])

	var n int64
	require.NoError(t, f.db.Model(&database.Design{}).Count(&n).Error)
	assert.Equal(t, int64(1), n, "one design for the whole bundle")

	// AI ran once, for the primary, fed with the bundle's hints.
	require.Len(t, f.metadata.requests, 1)
	assert.Equal(t, "dragon", f.metadata.requests[0].FolderHint)
	assert.Equal(t, "print at 0.2mm layer height", f.metadata.requests[0].TextHint)
	require.Len(t, f.hints.paths, 1)
	assert.Equal(t, instructions.SourcePath, f.hints.paths[0])

	assert.Equal(t, 1, f.geometry.calls, "geometry only for the design-defining item")
}

func TestProcessBundle_PrimaryDuplicateConvertsMembers(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, func(j *database.ImportJob) {
		j.DetectDuplicates = true // no previews: keeps the member flow minimal
	})

	existing := &database.Design{ID: utils.GenerateUUID(), Title: "Benchy", Slug: "benchy"}
	require.NoError(t, f.db.Create(existing).Error)

	primaryContent := []byte("solid benchy")
	f.registry.RegisterExact(utils.HashBytes(primaryContent), existing.ID)

	primary := createTestItem(t, f.db, job.ID, "benchy.stl", nil)
	okMember := createTestItem(t, f.db, job.ID, "benchy.jpg", func(i *database.ImportItem) {
		i.FileType = "image"
		i.ProjectRole = database.RoleVariant
	})
	badMember := createTestItem(t, f.db, job.ID, "benchy-hull.obj", func(i *database.ImportItem) {
		i.ProjectRole = database.RoleComponent
	})
	project := createTestProject(t, f.db, job.ID, "benchy", primary, okMember, badMember)
	writeSourceFile(t, f.db, f.dir, primary, primaryContent)
	writeSourceFile(t, f.db, f.dir, okMember, []byte("jpeg bytes"))
	writeSourceFile(t, f.db, f.dir, badMember, []byte("obj mesh"))

	f.store.failContentType = "model/obj" // the hull upload fails

	bundle := Bundle{Project: project, Items: []database.ImportItem{*primary, *okMember, *badMember}}
	outcomes := f.pipeline.ProcessBundle(context.Background(), job, bundle, f.detector(job))
	require.Len(t, outcomes, 3)

	assert.Equal(t, ItemStatusDuplicate, outcomes[0].Status)
	assert.Equal(t, existing.ID, outcomes[0].DesignID)

	// The healthy member lands as a file-addition on the existing design.
	assert.Equal(t, ItemStatusCompleted, outcomes[1].Status)
	assert.Equal(t, existing.ID, outcomes[1].DesignID)
	var files []database.DesignFile
	require.NoError(t, f.db.Where("design_id = ?", existing.ID).Find(&files).Error)
	require.Len(t, files, 1)
	assert.Equal(t, "benchy.jpg", files[0].OriginalName)

	// The failing member converts to a duplicate of the same design
	// instead of failing independently.
	assert.Equal(t, ItemStatusDuplicate, outcomes[2].Status)
	assert.Equal(t, existing.ID, outcomes[2].DesignID)
	got, err := f.items.Get(badMember.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DuplicateOfID)
	assert.Equal(t, existing.ID, *got.DuplicateOfID)
	require.NotNil(t, got.SimilarityScore)
	assert.Equal(t, 100.0, *got.SimilarityScore, "conversion inherits the primary's similarity")
	assert.Zero(t, got.RetryCount, "converted members never burn retries")
}

func TestProcessBundle_PrimaryFailureFailsMembers(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.failAll = true
	job := createTestJob(t, f.db, nil)

	primary := createTestItem(t, f.db, job.ID, "broken.stl", nil)
	member := createTestItem(t, f.db, job.ID, "broken.pdf", func(i *database.ImportItem) {
		i.FileType = "pdf"
	})
	project := createTestProject(t, f.db, job.ID, "broken", primary, member)
	writeSourceFile(t, f.db, f.dir, primary, []byte("solid broken"))
	writeSourceFile(t, f.db, f.dir, member, []byte("%PDF"))

	bundle := Bundle{Project: project, Items: []database.ImportItem{*primary, *member}}
	outcomes := f.pipeline.ProcessBundle(context.Background(), job, bundle, f.detector(job))
	require.Len(t, outcomes, 2)

	assert.Equal(t, ItemStatusFailed, outcomes[0].Status)
	assert.Equal(t, 1, outcomes[0].RetryCount)
	assert.False(t, outcomes[0].Derivative)

	assert.Equal(t, ItemStatusFailed, outcomes[1].Status)
	assert.True(t, outcomes[1].Derivative)
	assert.Zero(t, outcomes[1].RetryCount, "derivative failures keep their budget")

	got, err := f.items.Get(member.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, `bundle primary "broken.stl" failed`)
	assert.Zero(t, got.RetryCount)
}

func TestProcessBundle_PrimarySkippedMembersProceedAlone(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, nil)

	primary := createTestItem(t, f.db, job.ID, "husk.stl", nil)
	member := createTestItem(t, f.db, job.ID, "standalone.stl", nil)
	project := createTestProject(t, f.db, job.ID, "husk", primary, member)
	writeSourceFile(t, f.db, f.dir, primary, []byte{}) // empty: primary skips
	writeSourceFile(t, f.db, f.dir, member, []byte("solid standalone"))

	bundle := Bundle{Project: project, Items: []database.ImportItem{*primary, *member}}
	outcomes := f.pipeline.ProcessBundle(context.Background(), job, bundle, f.detector(job))
	require.Len(t, outcomes, 2)

	assert.Equal(t, ItemStatusSkipped, outcomes[0].Status)
	assert.Equal(t, ItemStatusCompleted, outcomes[1].Status)
	assert.NotEmpty(t, outcomes[1].DesignID, "member defines its own design after a skip")
}

func TestResumeBundle_MembersAttachToSettledPrimary(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, nil)

	existing := &database.Design{ID: utils.GenerateUUID(), Title: "Dragon", Slug: "dragon"}
	require.NoError(t, f.db.Create(existing).Error)

	member := createTestItem(t, f.db, job.ID, "dragon-wing.stl", func(i *database.ImportItem) {
		i.ProjectRole = database.RoleComponent
	})
	writeSourceFile(t, f.db, f.dir, member, []byte("solid wing"))

	bundle := Bundle{
		Items: []database.ImportItem{*member},
		Resume: &ResumeState{
			PrimaryStatus:   ItemStatusCompleted,
			PrimaryFilename: "dragon.stl",
			DesignID:        existing.ID,
			Title:           "Dragon",
		},
	}
	outcomes := f.pipeline.ProcessBundle(context.Background(), job, bundle, f.detector(job))
	require.Len(t, outcomes, 1)
	assert.Equal(t, ItemStatusCompleted, outcomes[0].Status)
	assert.Equal(t, existing.ID, outcomes[0].DesignID)

	var files []database.DesignFile
	require.NoError(t, f.db.Where("design_id = ?", existing.ID).Find(&files).Error)
	require.Len(t, files, 1)
	assert.Equal(t, database.RoleComponent, files[0].Role)

	var n int64
	require.NoError(t, f.db.Model(&database.Design{}).Count(&n).Error)
	assert.Equal(t, int64(1), n, "no second design on resume")
}

func TestResumeBundle_MembersInheritExhaustedPrimaryFailure(t *testing.T) {
	f := newPipelineFixture(t)
	job := createTestJob(t, f.db, nil)

	member := createTestItem(t, f.db, job.ID, "cursed.pdf", func(i *database.ImportItem) {
		i.FileType = "pdf"
	})
	writeSourceFile(t, f.db, f.dir, member, []byte("%PDF"))

	bundle := Bundle{
		Items: []database.ImportItem{*member},
		Resume: &ResumeState{
			PrimaryStatus:   ItemStatusFailed,
			PrimaryFilename: "cursed.stl",
			Reason:          "mesh parser crashed",
		},
	}
	outcomes := f.pipeline.ProcessBundle(context.Background(), job, bundle, f.detector(job))
	require.Len(t, outcomes, 1)
	assert.Equal(t, ItemStatusFailed, outcomes[0].Status)
	assert.True(t, outcomes[0].Derivative)

	got, err := f.items.Get(member.ID)
	require.NoError(t, err)
	assert.Equal(t, `bundle primary "cursed.stl" failed: mesh parser crashed`, got.ErrorMessage)
}

func TestDeriveTitle(t *testing.T) {
	cases := map[string]string{
		"dragon_knight-v2.stl": "Dragon Knight V2",
		"benchy.stl":           "Benchy",
		"low.poly.fox.obj":     "Low Poly Fox",
		"_.stl":                "Untitled Design",
	}
	for filename, want := range cases {
		assert.Equal(t, want, DeriveTitle(filename), filename)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Dragon Knight V2":   "dragon-knight-v2",
		"  Benchy!  (2024) ": "benchy-2024",
		"Ä":                  "design",
		"--a--":              "a",
	}
	for title, want := range cases {
		assert.Equal(t, want, Slugify(title), title)
	}
}

func TestComplexityBuckets(t *testing.T) {
	assert.Equal(t, "", complexityFor(0))
	assert.Equal(t, "low", complexityFor(49999))
	assert.Equal(t, "medium", complexityFor(50000))
	assert.Equal(t, "medium", complexityFor(499999))
	assert.Equal(t, "high", complexityFor(500000))
}
