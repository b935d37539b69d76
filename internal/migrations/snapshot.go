package migrations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LegacyID is an identifier from the legacy schema. It decodes from a JSON
// string or number so integer and uuid keys both survive.
type LegacyID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *LegacyID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return err
		}
		*id = LegacyID(strings.TrimSpace(value))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return fmt.Errorf("legacy id: %w", err)
	}
	*id = LegacyID(number.String())
	return nil
}

// String returns the identifier text.
func (id LegacyID) String() string {
	return string(id)
}

func (id LegacyID) ptr() *string {
	if id == "" {
		return nil
	}
	value := string(id)
	return &value
}

// Snapshot is a point-in-time export of the legacy relational schema.
type Snapshot struct {
	Profiles     []LegacyProfile     `json:"profiles"`
	Events       []LegacyEvent       `json:"events"`
	Resources    []LegacyResource    `json:"resources"`
	Tags         []LegacyTag         `json:"tags"`
	ResourceTags []LegacyResourceTag `json:"resource_tags"`
	Rsvps        []LegacyRsvp        `json:"rsvps"`
}

// LegacyProfile is a row of the legacy profiles table.
type LegacyProfile struct {
	ID             LegacyID `json:"id"`
	Email          *string  `json:"email"`
	FirstName      *string  `json:"first_name"`
	LastName       *string  `json:"last_name"`
	PreferredName  *string  `json:"preferred_name"`
	Instrument     *string  `json:"instrument"`
	Role           *string  `json:"role"`
	Major          *string  `json:"major"`
	GraduationYear *int     `json:"graduation_year"`
	IsOnboarded    *bool    `json:"is_onboarded"`
}

// LegacyEvent is a row of the legacy events table.
type LegacyEvent struct {
	ID          LegacyID `json:"id"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Location    *string  `json:"location"`
	StartTime   *string  `json:"start_time"`
	EndTime     *string  `json:"end_time"`
	ImageURL    *string  `json:"image_url"`
	IsAllDay    *bool    `json:"is_all_day"`
	CreatedAt   *string  `json:"created_at"`
	UpdatedAt   *string  `json:"updated_at"`
}

// LegacyResource is a row of the legacy resources table.
type LegacyResource struct {
	ID          LegacyID `json:"id"`
	Name        *string  `json:"name"`
	Link        *string  `json:"link"`
	Description *string  `json:"description"`
	IsPinned    *bool    `json:"is_pinned"`
	CreatedAt   *string  `json:"created_at"`
}

// LegacyTag is a row of the legacy tags table.
type LegacyTag struct {
	ID           LegacyID `json:"id"`
	Name         *string  `json:"name"`
	Slug         *string  `json:"slug"`
	DisplayOrder *int     `json:"display_order"`
	CreatedAt    *string  `json:"created_at"`
}

// LegacyResourceTag is a row of the legacy resource_tags join table.
type LegacyResourceTag struct {
	ResourceID LegacyID `json:"resource_id"`
	TagID      LegacyID `json:"tag_id"`
	CreatedAt  *string  `json:"created_at"`
}

// LegacyRsvp is a row of the legacy rsvps table.
type LegacyRsvp struct {
	ID        LegacyID `json:"id"`
	UserID    LegacyID `json:"user_id"`
	EventID   LegacyID `json:"event_id"`
	Status    *string  `json:"status"`
	CreatedAt *string  `json:"created_at"`
}

// DecodeSnapshot parses a snapshot document. Missing arrays decode as empty.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseLegacyTime parses a legacy timestamp, falling back to now when it is
// missing or unparsable.
func parseLegacyTime(raw *string, now time.Time) time.Time {
	if raw == nil {
		return now
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return now
	}
	for _, layout := range legacyTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return now
}
