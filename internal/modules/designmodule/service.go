package designmodule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/services"
	"github.com/modelbay/modelbay/internal/types"
)

var (
	// ErrDesignNotFound is returned when a design id or slug matches nothing
	ErrDesignNotFound = errors.New("design not found")

	// ErrFileNotFound is returned when no stored file matches a content hash
	ErrFileNotFound = errors.New("design file not found")
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Service is the catalog read/delete layer over the designs the import
// pipeline creates.
type Service struct {
	db *gorm.DB
}

var _ services.DesignService = (*Service)(nil)

// NewService creates a design catalog service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetDesign loads one design with its tags
func (s *Service) GetDesign(ctx context.Context, id string) (*database.Design, error) {
	var design database.Design
	err := s.db.WithContext(ctx).Preload("Tags").First(&design, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDesignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load design %s: %w", id, err)
	}
	return &design, nil
}

// GetDesignBySlug loads one design by its URL slug
func (s *Service) GetDesignBySlug(ctx context.Context, slug string) (*database.Design, error) {
	var design database.Design
	err := s.db.WithContext(ctx).Preload("Tags").First(&design, "slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDesignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load design by slug %s: %w", slug, err)
	}
	return &design, nil
}

// ListDesigns returns designs matching the filter, newest first unless
// the filter says otherwise. Recognized metadata keys: q (title
// substring), category, complexity, published.
func (s *Service) ListDesigns(ctx context.Context, filter types.DesignFilter) ([]*database.Design, error) {
	q := s.db.WithContext(ctx).Model(&database.Design{}).Preload("Tags")

	if len(filter.Tags) > 0 {
		q = q.Joins("JOIN design_tags ON design_tags.design_id = designs.id").
			Joins("JOIN tags ON tags.id = design_tags.tag_id").
			Where("tags.name IN ?", filter.Tags).
			Group("designs.id")
	}

	if filter.FileType != "" || filter.MinSize > 0 || filter.MaxSize > 0 {
		files := s.db.Model(&database.DesignFile{}).Select("design_id")
		if filter.FileType != "" {
			files = files.Where("file_type = ?", filter.FileType)
		}
		if filter.MinSize > 0 {
			files = files.Where("size_bytes >= ?", filter.MinSize)
		}
		if filter.MaxSize > 0 {
			files = files.Where("size_bytes <= ?", filter.MaxSize)
		}
		q = q.Where("designs.id IN (?)", files)
	}

	if filter.AddedAfter != nil {
		q = q.Where("designs.created_at >= ?", *filter.AddedAfter)
	}
	if filter.AddedBefore != nil {
		q = q.Where("designs.created_at <= ?", *filter.AddedBefore)
	}

	if term := filter.Metadata["q"]; term != "" {
		q = q.Where("designs.title LIKE ?", "%"+term+"%")
	}
	if category := filter.Metadata["category"]; category != "" {
		q = q.Where("designs.category = ?", category)
	}
	if complexity := filter.Metadata["complexity"]; complexity != "" {
		q = q.Where("designs.complexity = ?", complexity)
	}
	if raw := filter.Metadata["published"]; raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid published filter %q", raw)
		}
		q = q.Where("designs.published = ?", published)
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var designs []*database.Design
	err := q.Order(orderClause(filter.SortBy, filter.SortOrder)).
		Limit(limit).Offset(offset).
		Find(&designs).Error
	if err != nil {
		return nil, fmt.Errorf("list designs: %w", err)
	}
	return designs, nil
}

// DeleteDesign soft-deletes a design. Its stored files and objects are
// kept; reclaiming storage is an offline concern.
func (s *Service) DeleteDesign(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&database.Design{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete design %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDesignNotFound
	}
	return nil
}

// GetDesignFiles lists the stored files of one design in upload order
func (s *Service) GetDesignFiles(ctx context.Context, designID string) ([]*database.DesignFile, error) {
	err := s.db.WithContext(ctx).Select("id").First(&database.Design{}, "id = ?", designID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDesignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load design %s: %w", designID, err)
	}

	var files []*database.DesignFile
	err = s.db.WithContext(ctx).
		Where("design_id = ?", designID).
		Order("created_at ASC, id ASC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("list files for design %s: %w", designID, err)
	}
	return files, nil
}

// FindFileByContentHash returns the oldest stored file with the given
// content hash, mirroring the import pipeline's first-wins rule.
func (s *Service) FindFileByContentHash(ctx context.Context, hash string) (*database.DesignFile, error) {
	var file database.DesignFile
	err := s.db.WithContext(ctx).
		Where("content_hash = ?", hash).
		Order("created_at ASC, id ASC").
		First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find file by content hash: %w", err)
	}
	return &file, nil
}

// orderClause whitelists sortable columns; anything unknown falls back
// to creation time.
func orderClause(by, order string) string {
	col := "created_at"
	switch by {
	case "title":
		col = "title"
	case "updated_at":
		col = "updated_at"
	}
	dir := "DESC"
	if strings.EqualFold(order, "asc") {
		dir = "ASC"
	}
	return "designs." + col + " " + dir
}
