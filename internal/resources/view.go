package resources

import (
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/models"
)

// ResourceView is the resource shape exposed to clients.
type ResourceView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Link        string    `json:"link"`
	Description *string   `json:"description"`
	IsPinned    bool      `json:"is_pinned"`
	CreatedAt   time.Time `json:"created_at"`
}

// TagView is the tag shape exposed to clients.
type TagView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResourceWithTags is a resource with its tags in display order.
type ResourceWithTags struct {
	ResourceView
	Tags []TagView `json:"tags"`
}

// ResourceInput carries the admin-editable resource fields.
type ResourceInput struct {
	Name        string
	Link        string
	Description *string
	IsPinned    bool
	TagIDs      []string
}

func newResourceView(resource models.Resource) ResourceView {
	return ResourceView{
		ID:          resource.ID,
		Name:        resource.Name,
		Link:        resource.Link,
		Description: resource.Description,
		IsPinned:    resource.IsPinned,
		CreatedAt:   resource.CreatedAt.UTC(),
	}
}

func newTagView(tag models.Tag) TagView {
	return TagView{
		ID:           tag.ID,
		Name:         tag.Name,
		Slug:         tag.Slug,
		DisplayOrder: tag.DisplayOrder,
		CreatedAt:    tag.CreatedAt.UTC(),
	}
}
