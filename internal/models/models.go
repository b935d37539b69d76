package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role enumerates member roles.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// RsvpStatus enumerates the answers a member can give for an event.
type RsvpStatus string

const (
	RsvpGoing    RsvpStatus = "going"
	RsvpMaybe    RsvpStatus = "maybe"
	RsvpNotGoing RsvpStatus = "not_going"
)

// ErrInvalidRsvpStatus indicates an unknown rsvp status value.
var ErrInvalidRsvpStatus = errors.New("models: invalid rsvp status")

// ParseRsvpStatus validates raw input and returns an RsvpStatus.
func ParseRsvpStatus(raw string) (RsvpStatus, error) {
	switch RsvpStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case RsvpGoing:
		return RsvpGoing, nil
	case RsvpMaybe:
		return RsvpMaybe, nil
	case RsvpNotGoing:
		return RsvpNotGoing, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRsvpStatus, raw)
	}
}

// User is a member profile. ExternalSubject is set once and never rewritten.
type User struct {
	ID              string    `gorm:"column:id;primaryKey;size:64"`
	ExternalSubject *string   `gorm:"column:external_subject;size:190;uniqueIndex:idx_users_external_subject"`
	LegacyID        *string   `gorm:"column:legacy_id;size:190;index:idx_users_legacy_id"`
	Email           string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	FirstName       string    `gorm:"column:first_name;size:190;not null"`
	LastName        string    `gorm:"column:last_name;size:190;not null;default:''"`
	PreferredName   *string   `gorm:"column:preferred_name;size:190"`
	Instrument      *string   `gorm:"column:instrument;size:190"`
	Role            Role      `gorm:"column:role;size:16;not null;default:user;index:idx_users_role"`
	Major           *string   `gorm:"column:major;size:190"`
	GraduationYear  *int      `gorm:"column:graduation_year"`
	IsOnboarded     bool      `gorm:"column:is_onboarded;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Event is an organization event. GoingCount is derived from rsvps and owned by the ledger.
type Event struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	LegacyID    *string   `gorm:"column:legacy_id;size:190;index:idx_events_legacy_id"`
	Title       string    `gorm:"column:title;size:320;not null"`
	Description *string   `gorm:"column:description;type:text"`
	Location    string    `gorm:"column:location;size:320;not null"`
	StartTime   time.Time `gorm:"column:start_time;not null;index:idx_events_start_time"`
	EndTime     time.Time `gorm:"column:end_time;not null;index:idx_events_end_time"`
	ImageURL    string    `gorm:"column:image_url;size:1024;not null;default:''"`
	IsAllDay    bool      `gorm:"column:is_all_day;not null;default:false"`
	GoingCount  int       `gorm:"column:going_count;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// Resource is a link shared with members.
type Resource struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	LegacyID    *string   `gorm:"column:legacy_id;size:190;index:idx_resources_legacy_id"`
	Name        string    `gorm:"column:name;size:320;not null;index:idx_resources_name"`
	Link        string    `gorm:"column:link;size:1024;not null"`
	Description *string   `gorm:"column:description;type:text"`
	IsPinned    bool      `gorm:"column:is_pinned;not null;default:false;index:idx_resources_is_pinned"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Resource) TableName() string {
	return "resources"
}

// Tag labels resources. Slug is derived from Name and unique.
type Tag struct {
	ID           string    `gorm:"column:id;primaryKey;size:64"`
	LegacyID     *string   `gorm:"column:legacy_id;size:190;index:idx_tags_legacy_id"`
	Name         string    `gorm:"column:name;size:190;not null"`
	Slug         string    `gorm:"column:slug;size:190;not null;uniqueIndex:idx_tags_slug"`
	DisplayOrder int       `gorm:"column:display_order;not null;default:0;index:idx_tags_display_order"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// ResourceTag links a resource to a tag.
type ResourceTag struct {
	ID         string    `gorm:"column:id;primaryKey;size:64"`
	ResourceID string    `gorm:"column:resource_id;size:64;not null;uniqueIndex:idx_resource_tags_pair,priority:1"`
	TagID      string    `gorm:"column:tag_id;size:64;not null;uniqueIndex:idx_resource_tags_pair,priority:2;index:idx_resource_tags_tag_id"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (ResourceTag) TableName() string {
	return "resource_tags"
}

// Rsvp is a member's answer for an event. At most one exists per (user, event).
type Rsvp struct {
	ID        string     `gorm:"column:id;primaryKey;size:64"`
	LegacyID  *string    `gorm:"column:legacy_id;size:190;index:idx_rsvps_legacy_id"`
	UserID    string     `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_rsvps_user_event,priority:1"`
	EventID   string     `gorm:"column:event_id;size:64;not null;uniqueIndex:idx_rsvps_user_event,priority:2;index:idx_rsvps_event_id"`
	Status    RsvpStatus `gorm:"column:status;size:16;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Rsvp) TableName() string {
	return "rsvps"
}

// All lists every persisted model in parent-to-child order.
func All() []any {
	return []any{&User{}, &Event{}, &Resource{}, &Tag{}, &ResourceTag{}, &Rsvp{}}
}

// StringPtr returns nil for blank input and a pointer to the trimmed value otherwise.
func StringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// StringValue dereferences value, returning "" for nil.
func StringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
