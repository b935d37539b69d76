package events

import (
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"github.com/ssaucsd/ssaucsd-org/internal/users"
)

// View is the event shape exposed to clients.
type View struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	ImageURL    string    `json:"image_url"`
	IsAllDay    bool      `json:"is_all_day"`
	GoingCount  int       `json:"going_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewView projects a stored event into a View.
func NewView(event models.Event) View {
	return View{
		ID:          event.ID,
		Title:       event.Title,
		Description: event.Description,
		Location:    event.Location,
		StartTime:   event.StartTime.UTC(),
		EndTime:     event.EndTime.UTC(),
		ImageURL:    event.ImageURL,
		IsAllDay:    event.IsAllDay,
		GoingCount:  event.GoingCount,
		CreatedAt:   event.CreatedAt.UTC(),
		UpdatedAt:   event.UpdatedAt.UTC(),
	}
}

// ViewWithRsvp annotates an event with the caller's rsvp.
type ViewWithRsvp struct {
	View
	RsvpStatus *models.RsvpStatus `json:"rsvp_status"`
	RsvpCount  int                `json:"rsvp_count"`
}

// NewViewWithRsvp annotates event with status; the rsvp count is the going count.
func NewViewWithRsvp(event models.Event, status *models.RsvpStatus) ViewWithRsvp {
	return ViewWithRsvp{View: NewView(event), RsvpStatus: status, RsvpCount: event.GoingCount}
}

// Input carries the admin-editable event fields.
type Input struct {
	Title       string
	Description *string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
	ImageURL    string
	IsAllDay    bool
}

// AdminRsvp is one rsvp row in the admin attendee list.
type AdminRsvp struct {
	UserID    string            `json:"user_id"`
	Status    models.RsvpStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	Profile   *users.Profile    `json:"profile"`
}

// AdminRsvpList is the attendee list of one event, newest first, plus the
// same rows grouped by status for display.
type AdminRsvpList struct {
	Rsvps    []AdminRsvp                       `json:"rsvps"`
	ByStatus map[models.RsvpStatus][]AdminRsvp `json:"by_status"`
}
