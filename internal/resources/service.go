package resources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/auth"
	"github.com/ssaucsd/ssaucsd-org/internal/database"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"github.com/ssaucsd/ssaucsd-org/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opListResources  = "resources.list"
	opListTags       = "resources.list_tags"
	opCreateResource = "resources.create"
	opUpdateResource = "resources.update"
	opDeleteResource = "resources.delete"
	opCreateTag      = "resources.create_tag"
	opUpdateTag      = "resources.update_tag"
	opDeleteTag      = "resources.delete_tag"
)

// ServiceConfig describes the dependencies required for resource management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider models.IDProvider
	Logger     *zap.Logger
}

// Service lists shared resources and tags and lets admins manage them.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider models.IDProvider
	logger     *zap.Logger
}

// NewService constructs the resource service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("resources: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("resources: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// ListResources returns every resource, pinned first, then by name.
func (s *Service) ListResources(ctx context.Context) ([]ResourceView, error) {
	records, err := s.loadResources(ctx, false)
	if err != nil {
		return nil, s.fail(opListResources, "query_failed", err)
	}
	return toResourceViews(records), nil
}

// ListPinned returns pinned resources by name.
func (s *Service) ListPinned(ctx context.Context) ([]ResourceView, error) {
	records, err := s.loadResources(ctx, true)
	if err != nil {
		return nil, s.fail(opListResources, "query_failed", err)
	}
	return toResourceViews(records), nil
}

// ListResourcesWithTags returns every resource with its tags.
func (s *Service) ListResourcesWithTags(ctx context.Context) ([]ResourceWithTags, error) {
	records, err := s.loadResources(ctx, false)
	if err != nil {
		return nil, s.fail(opListResources, "query_failed", err)
	}
	return s.attachTags(ctx, records)
}

// ListPinnedWithTags returns pinned resources with their tags.
func (s *Service) ListPinnedWithTags(ctx context.Context) ([]ResourceWithTags, error) {
	records, err := s.loadResources(ctx, true)
	if err != nil {
		return nil, s.fail(opListResources, "query_failed", err)
	}
	return s.attachTags(ctx, records)
}

// ListTags returns every tag by display order, then name.
func (s *Service) ListTags(ctx context.Context) ([]TagView, error) {
	var tags []models.Tag
	if err := s.db.WithContext(ctx).Find(&tags).Error; err != nil {
		return nil, s.fail(opListTags, "query_failed", err)
	}
	sortTags(tags)
	views := make([]TagView, 0, len(tags))
	for _, tag := range tags {
		views = append(views, newTagView(tag))
	}
	return views, nil
}

// CreateResource inserts a resource linked to the given tags. Admin only.
func (s *Service) CreateResource(ctx context.Context, caller *auth.Caller, input ResourceInput) (ResourceView, error) {
	var record models.Resource
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if err := validateResource(input); err != nil {
			return err
		}
		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		now := s.timestamp()
		record = models.Resource{
			ID:          id,
			Name:        strings.TrimSpace(input.Name),
			Link:        strings.TrimSpace(input.Link),
			Description: trimmedPtr(input.Description),
			IsPinned:    input.IsPinned,
			CreatedAt:   now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return s.linkTags(tx, record.ID, input.TagIDs, now)
	})
	if err != nil {
		return ResourceView{}, s.fail(opCreateResource, "insert_failed", err)
	}
	return newResourceView(record), nil
}

// UpdateResource overwrites a resource and replaces its tag links. Admin only.
func (s *Service) UpdateResource(ctx context.Context, caller *auth.Caller, id string, input ResourceInput) (ResourceView, error) {
	var record models.Resource
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if err := validateResource(input); err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NotFound("resource", id)
			}
			return err
		}
		updates := map[string]interface{}{
			"name":        strings.TrimSpace(input.Name),
			"link":        strings.TrimSpace(input.Link),
			"description": trimmedPtr(input.Description),
			"is_pinned":   input.IsPinned,
		}
		if err := tx.Model(&models.Resource{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("resource_id = ?", id).Delete(&models.ResourceTag{}).Error; err != nil {
			return err
		}
		if err := s.linkTags(tx, id, input.TagIDs, s.timestamp()); err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&record).Error
	})
	if err != nil {
		return ResourceView{}, s.fail(opUpdateResource, "update_failed", err, zap.String("resource_id", id))
	}
	return newResourceView(record), nil
}

// DeleteResource removes a resource and its tag links. Admin only.
func (s *Service) DeleteResource(ctx context.Context, caller *auth.Caller, id string) error {
	return s.cascadeDelete(ctx, caller, database.ResourceCascade, opDeleteResource, id)
}

// CreateTag inserts a tag at the end of the display order. Names that slug to
// an existing tag's slug are rejected. Admin only.
func (s *Service) CreateTag(ctx context.Context, caller *auth.Caller, name string) (TagView, error) {
	var (
		record models.Tag
		slug   string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.RequireAdmin(tx, caller); err != nil {
			return err
		}
		trimmed, tagSlug, err := validateTagName(name)
		if err != nil {
			return err
		}
		slug = tagSlug
		if err := ensureSlugFree(tx, slug, ""); err != nil {
			return err
		}
		var maxOrder int
		if err := tx.Model(&models.Tag{}).Select("COALESCE(MAX(display_order), 0)").Scan(&maxOrder).Error; err != nil {
			return err
		}
		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		record = models.Tag{
			ID:           id,
			Name:         trimmed,
			Slug:         slug,
			DisplayOrder: maxOrder + 1,
			CreatedAt:    s.timestamp(),
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return TagView{}, s.fail(opCreateTag, "insert_failed", err, zap.String("slug", slug))
	}
	return newTagView(record), nil
}

// UpdateTag renames a tag and recomputes its slug. Admin only.
func (s *Service) UpdateTag(ctx context.Context, caller *auth.Caller, id, name string) (TagView, error) {
	var record models.Tag
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.RequireAdmin(tx, caller); err != nil {
			return err
		}
		trimmed, slug, err := validateTagName(name)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NotFound("tag", id)
			}
			return err
		}
		if err := ensureSlugFree(tx, slug, id); err != nil {
			return err
		}
		if err := tx.Model(&models.Tag{}).Where("id = ?", id).
			Updates(map[string]interface{}{"name": trimmed, "slug": slug}).Error; err != nil {
			return err
		}
		record.Name = trimmed
		record.Slug = slug
		return nil
	})
	if err != nil {
		return TagView{}, s.fail(opUpdateTag, "update_failed", err, zap.String("tag_id", id))
	}
	return newTagView(record), nil
}

// DeleteTag removes a tag and its resource links. Admin only.
func (s *Service) DeleteTag(ctx context.Context, caller *auth.Caller, id string) error {
	return s.cascadeDelete(ctx, caller, database.TagCascade, opDeleteTag, id)
}

func (s *Service) cascadeDelete(ctx context.Context, caller *auth.Caller, plan database.CascadePlan, operation, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.RequireAdmin(tx, caller); err != nil {
			return err
		}
		_, err := plan.Delete(tx, id, s.timestamp())
		return err
	})
	if err != nil {
		return s.fail(operation, "delete_failed", err, zap.String("id", id))
	}
	return nil
}

// linkTags links the resource to each distinct tag id; unknown tags are NotFound.
func (s *Service) linkTags(tx *gorm.DB, resourceID string, tagIDs []string, now time.Time) error {
	distinct := make([]string, 0, len(tagIDs))
	seen := make(map[string]struct{}, len(tagIDs))
	for _, tagID := range tagIDs {
		tagID = strings.TrimSpace(tagID)
		if tagID == "" {
			continue
		}
		if _, ok := seen[tagID]; ok {
			continue
		}
		seen[tagID] = struct{}{}
		distinct = append(distinct, tagID)
	}
	if len(distinct) == 0 {
		return nil
	}

	var known []string
	if err := tx.Model(&models.Tag{}).Where("id IN ?", distinct).Pluck("id", &known).Error; err != nil {
		return err
	}
	if len(known) != len(distinct) {
		found := make(map[string]struct{}, len(known))
		for _, id := range known {
			found[id] = struct{}{}
		}
		for _, id := range distinct {
			if _, ok := found[id]; !ok {
				return apperror.NotFound("tag", id)
			}
		}
	}

	for _, tagID := range distinct {
		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		if err := tx.Create(&models.ResourceTag{ID: id, ResourceID: resourceID, TagID: tagID, CreatedAt: now}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) loadResources(ctx context.Context, pinnedOnly bool) ([]models.Resource, error) {
	query := s.db.WithContext(ctx)
	if pinnedOnly {
		query = query.Where("is_pinned = ?", true)
	}
	var records []models.Resource
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].IsPinned != records[j].IsPinned {
			return records[i].IsPinned
		}
		return compareNames(records[i].Name, records[j].Name) < 0
	})
	return records, nil
}

func (s *Service) attachTags(ctx context.Context, records []models.Resource) ([]ResourceWithTags, error) {
	views := make([]ResourceWithTags, 0, len(records))
	if len(records) == 0 {
		return views, nil
	}
	resourceIDs := make([]string, 0, len(records))
	for _, record := range records {
		resourceIDs = append(resourceIDs, record.ID)
	}

	db := s.db.WithContext(ctx)
	var links []models.ResourceTag
	if err := db.Where("resource_id IN ?", resourceIDs).Find(&links).Error; err != nil {
		return nil, s.fail(opListResources, "link_query_failed", err)
	}
	var tags []models.Tag
	if err := db.Find(&tags).Error; err != nil {
		return nil, s.fail(opListResources, "tag_query_failed", err)
	}
	tagsByID := make(map[string]models.Tag, len(tags))
	for _, tag := range tags {
		tagsByID[tag.ID] = tag
	}
	tagsByResource := make(map[string][]models.Tag, len(records))
	for _, link := range links {
		tag, ok := tagsByID[link.TagID]
		if !ok {
			continue
		}
		tagsByResource[link.ResourceID] = append(tagsByResource[link.ResourceID], tag)
	}

	for _, record := range records {
		resourceTags := tagsByResource[record.ID]
		sortTags(resourceTags)
		tagViews := make([]TagView, 0, len(resourceTags))
		for _, tag := range resourceTags {
			tagViews = append(tagViews, newTagView(tag))
		}
		views = append(views, ResourceWithTags{ResourceView: newResourceView(record), Tags: tagViews})
	}
	return views, nil
}

func ensureSlugFree(tx *gorm.DB, slug, selfID string) error {
	var holder models.Tag
	err := tx.Where("slug = ?", slug).Take(&holder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if holder.ID == selfID {
		return nil
	}
	return apperror.Conflict("tag", "slug "+slug)
}

func validateTagName(name string) (string, string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", "", apperror.ValidationFailed("name", "name is required")
	}
	slug := Slug(trimmed)
	if slug == "" {
		return "", "", apperror.ValidationFailed("name", "name must contain a letter or digit")
	}
	return trimmed, slug, nil
}

func validateResource(input ResourceInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return apperror.ValidationFailed("name", "name is required")
	}
	if strings.TrimSpace(input.Link) == "" {
		return apperror.ValidationFailed("link", "link is required")
	}
	return nil
}

func sortTags(tags []models.Tag) {
	sort.SliceStable(tags, func(i, j int) bool {
		if tags[i].DisplayOrder != tags[j].DisplayOrder {
			return tags[i].DisplayOrder < tags[j].DisplayOrder
		}
		return compareNames(tags[i].Name, tags[j].Name) < 0
	})
}

func compareNames(a, b string) int {
	if folded := strings.Compare(strings.ToLower(a), strings.ToLower(b)); folded != 0 {
		return folded
	}
	return strings.Compare(a, b)
}

func toResourceViews(records []models.Resource) []ResourceView {
	views := make([]ResourceView, 0, len(records))
	for _, record := range records {
		views = append(views, newResourceView(record))
	}
	return views
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	if apperror.IsTyped(err) {
		return err
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("resources service error", append(attrs, fields...)...)
	return apperror.Wrap(operation, reason, err)
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	return models.StringPtr(*value)
}
