package legacy

import (
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/migrations"
)

type eventRow struct {
	ID          string
	Title       *string
	Description *string
	Location    *string
	StartTime   *time.Time
	EndTime     *time.Time
	ImageURL    *string
	IsAllDay    *bool
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
}

func (r eventRow) toLegacy() migrations.LegacyEvent {
	return migrations.LegacyEvent{
		ID:          migrations.LegacyID(r.ID),
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		StartTime:   formatTime(r.StartTime),
		EndTime:     formatTime(r.EndTime),
		ImageURL:    r.ImageURL,
		IsAllDay:    r.IsAllDay,
		CreatedAt:   formatTime(r.CreatedAt),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
}

type resourceRow struct {
	ID          string
	Name        *string
	Link        *string
	Description *string
	IsPinned    *bool
	CreatedAt   *time.Time
}

func (r resourceRow) toLegacy() migrations.LegacyResource {
	return migrations.LegacyResource{
		ID:          migrations.LegacyID(r.ID),
		Name:        r.Name,
		Link:        r.Link,
		Description: r.Description,
		IsPinned:    r.IsPinned,
		CreatedAt:   formatTime(r.CreatedAt),
	}
}

type tagRow struct {
	ID           string
	Name         *string
	Slug         *string
	DisplayOrder *int
	CreatedAt    *time.Time
}

func (r tagRow) toLegacy() migrations.LegacyTag {
	return migrations.LegacyTag{
		ID:           migrations.LegacyID(r.ID),
		Name:         r.Name,
		Slug:         r.Slug,
		DisplayOrder: r.DisplayOrder,
		CreatedAt:    formatTime(r.CreatedAt),
	}
}

type resourceTagRow struct {
	ResourceID string
	TagID      string
	CreatedAt  *time.Time
}

func (r resourceTagRow) toLegacy() migrations.LegacyResourceTag {
	return migrations.LegacyResourceTag{
		ResourceID: migrations.LegacyID(r.ResourceID),
		TagID:      migrations.LegacyID(r.TagID),
		CreatedAt:  formatTime(r.CreatedAt),
	}
}

type rsvpRow struct {
	ID        string
	UserID    string
	EventID   string
	Status    *string
	CreatedAt *time.Time
}

func (r rsvpRow) toLegacy() migrations.LegacyRsvp {
	return migrations.LegacyRsvp{
		ID:        migrations.LegacyID(r.ID),
		UserID:    migrations.LegacyID(r.UserID),
		EventID:   migrations.LegacyID(r.EventID),
		Status:    r.Status,
		CreatedAt: formatTime(r.CreatedAt),
	}
}

// formatTime renders a timestamp the way the snapshot document stores it.
func formatTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(time.RFC3339Nano)
	return &formatted
}
