package events

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
	opGetAll              = "events.get_all"
	opGetUpcoming         = "events.get_upcoming"
	opGetUpcomingWithRsvp = "events.get_upcoming_with_rsvp"
	opGetByID             = "events.get_by_id"
	opCreate              = "events.create"
	opUpdate              = "events.update"
	opDelete              = "events.delete"
	opGetRsvpsForAdmin    = "events.get_rsvps_for_admin"
)

// ServiceConfig describes the dependencies required for event management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider models.IDProvider
	Logger     *zap.Logger
}

// Service lists events and lets admins manage them.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider models.IDProvider
	logger     *zap.Logger
}

// NewService constructs the event service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("events: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("events: id provider required")
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

// GetAll returns every event ordered by start time.
func (s *Service) GetAll(ctx context.Context) ([]View, error) {
	records, err := s.loadOrdered(ctx)
	if err != nil {
		return nil, s.fail(opGetAll, "query_failed", err)
	}
	return toViews(records), nil
}

// GetUpcoming returns events that have not ended, ordered by start time.
func (s *Service) GetUpcoming(ctx context.Context) ([]View, error) {
	records, err := s.upcoming(ctx)
	if err != nil {
		return nil, s.fail(opGetUpcoming, "query_failed", err)
	}
	return toViews(records), nil
}

// GetForWeb returns upcoming events for the public site, truncated to limit when positive.
func (s *Service) GetForWeb(ctx context.Context, limit int) ([]View, error) {
	views, err := s.GetUpcoming(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

// GetUpcomingWithRsvp returns upcoming events annotated with the caller's rsvp status.
// Anonymous callers get a nil status on every event.
func (s *Service) GetUpcomingWithRsvp(ctx context.Context, caller *auth.Caller) ([]ViewWithRsvp, error) {
	db := s.db.WithContext(ctx)
	records, err := s.upcoming(ctx)
	if err != nil {
		return nil, s.fail(opGetUpcomingWithRsvp, "query_failed", err)
	}

	statuses := map[string]models.RsvpStatus{}
	user, err := users.FindByCaller(db, caller)
	if err != nil {
		return nil, s.fail(opGetUpcomingWithRsvp, "lookup_failed", err)
	}
	if user != nil {
		var rsvps []models.Rsvp
		if err := db.Where("user_id = ?", user.ID).Find(&rsvps).Error; err != nil {
			return nil, s.fail(opGetUpcomingWithRsvp, "rsvp_query_failed", err)
		}
		for _, rsvp := range rsvps {
			statuses[rsvp.EventID] = rsvp.Status
		}
	}

	views := make([]ViewWithRsvp, 0, len(records))
	for _, record := range records {
		var status *models.RsvpStatus
		if value, ok := statuses[record.ID]; ok {
			status = &value
		}
		views = append(views, NewViewWithRsvp(record, status))
	}
	return views, nil
}

// GetByID returns the event or nil when it does not exist.
func (s *Service) GetByID(ctx context.Context, id string) (*View, error) {
	var record models.Event
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(opGetByID, "query_failed", err, zap.String("event_id", id))
	}
	view := NewView(record)
	return &view, nil
}

// Create inserts a new event with a zero going count. Admin only.
func (s *Service) Create(ctx context.Context, caller *auth.Caller, input Input) (View, error) {
	var record models.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if err := validateInput(input); err != nil {
			return err
		}
		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		now := s.timestamp()
		record = models.Event{
			ID:          id,
			Title:       strings.TrimSpace(input.Title),
			Description: trimmedPtr(input.Description),
			Location:    strings.TrimSpace(input.Location),
			StartTime:   input.StartTime.UTC(),
			EndTime:     input.EndTime.UTC(),
			ImageURL:    strings.TrimSpace(input.ImageURL),
			IsAllDay:    input.IsAllDay,
			GoingCount:  0,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return View{}, s.fail(opCreate, "insert_failed", err)
	}
	return NewView(record), nil
}

// Update overwrites the editable fields of an event. The going count is left alone. Admin only.
func (s *Service) Update(ctx context.Context, caller *auth.Caller, id string, input Input) (View, error) {
	var record models.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.RequireAdmin(tx, caller); err != nil {
			return err
		}
		if err := validateInput(input); err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NotFound("event", id)
			}
			return err
		}
		updates := map[string]interface{}{
			"title":       strings.TrimSpace(input.Title),
			"description": trimmedPtr(input.Description),
			"location":    strings.TrimSpace(input.Location),
			"start_time":  input.StartTime.UTC(),
			"end_time":    input.EndTime.UTC(),
			"image_url":   strings.TrimSpace(input.ImageURL),
			"is_all_day":  input.IsAllDay,
			"updated_at":  s.timestamp(),
		}
		if err := tx.Model(&models.Event{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&record).Error
	})
	if err != nil {
		return View{}, s.fail(opUpdate, "update_failed", err, zap.String("event_id", id))
	}
	return NewView(record), nil
}

// Delete removes an event and every rsvp referencing it. Admin only.
func (s *Service) Delete(ctx context.Context, caller *auth.Caller, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.RequireAdmin(tx, caller); err != nil {
			return err
		}
		_, err := database.EventCascade.Delete(tx, id, s.timestamp())
		return err
	})
	if err != nil {
		return s.fail(opDelete, "delete_failed", err, zap.String("event_id", id))
	}
	return nil
}

// GetRsvpsForAdmin lists every rsvp of an event with the member profile, newest first. Admin only.
func (s *Service) GetRsvpsForAdmin(ctx context.Context, caller *auth.Caller, eventID string) (AdminRsvpList, error) {
	db := s.db.WithContext(ctx)
	if _, err := users.RequireAdmin(db, caller); err != nil {
		return AdminRsvpList{}, s.fail(opGetRsvpsForAdmin, "admin_check_failed", err)
	}

	var exists int64
	if err := db.Model(&models.Event{}).Where("id = ?", eventID).Count(&exists).Error; err != nil {
		return AdminRsvpList{}, s.fail(opGetRsvpsForAdmin, "event_query_failed", err, zap.String("event_id", eventID))
	}
	if exists == 0 {
		return AdminRsvpList{}, apperror.NotFound("event", eventID)
	}

	var rsvps []models.Rsvp
	if err := db.Where("event_id = ?", eventID).Find(&rsvps).Error; err != nil {
		return AdminRsvpList{}, s.fail(opGetRsvpsForAdmin, "rsvp_query_failed", err, zap.String("event_id", eventID))
	}

	userIDs := make([]string, 0, len(rsvps))
	for _, rsvp := range rsvps {
		userIDs = append(userIDs, rsvp.UserID)
	}
	profiles := map[string]users.Profile{}
	if len(userIDs) > 0 {
		var members []models.User
		if err := db.Where("id IN ?", userIDs).Find(&members).Error; err != nil {
			return AdminRsvpList{}, s.fail(opGetRsvpsForAdmin, "profile_query_failed", err, zap.String("event_id", eventID))
		}
		for _, member := range members {
			profiles[member.ID] = users.NewProfile(member)
		}
	}

	list := AdminRsvpList{
		Rsvps:    make([]AdminRsvp, 0, len(rsvps)),
		ByStatus: map[models.RsvpStatus][]AdminRsvp{},
	}
	for _, rsvp := range rsvps {
		entry := AdminRsvp{UserID: rsvp.UserID, Status: rsvp.Status, CreatedAt: rsvp.CreatedAt.UTC()}
		if profile, ok := profiles[rsvp.UserID]; ok {
			entry.Profile = &profile
		}
		list.Rsvps = append(list.Rsvps, entry)
	}
	sort.SliceStable(list.Rsvps, func(i, j int) bool {
		return list.Rsvps[i].CreatedAt.After(list.Rsvps[j].CreatedAt)
	})
	for _, entry := range list.Rsvps {
		list.ByStatus[entry.Status] = append(list.ByStatus[entry.Status], entry)
	}
	return list, nil
}

func (s *Service) loadOrdered(ctx context.Context) ([]models.Event, error) {
	var records []models.Event
	if err := s.db.WithContext(ctx).Order("start_time ASC").Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) upcoming(ctx context.Context) ([]models.Event, error) {
	records, err := s.loadOrdered(ctx)
	if err != nil {
		return nil, err
	}
	return FilterUpcoming(records, s.timestamp()), nil
}

// FilterUpcoming keeps events whose end time is at or after now.
func FilterUpcoming(records []models.Event, now time.Time) []models.Event {
	upcoming := make([]models.Event, 0, len(records))
	for _, record := range records {
		if !record.EndTime.Before(now) {
			upcoming = append(upcoming, record)
		}
	}
	return upcoming
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
	s.logger.Error("events service error", append(attrs, fields...)...)
	return apperror.Wrap(operation, reason, err)
}

func validateInput(input Input) error {
	if strings.TrimSpace(input.Title) == "" {
		return apperror.ValidationFailed("title", "title is required")
	}
	if strings.TrimSpace(input.Location) == "" {
		return apperror.ValidationFailed("location", "location is required")
	}
	if input.StartTime.IsZero() || input.EndTime.IsZero() {
		return apperror.ValidationFailed("start_time", "start_time and end_time are required")
	}
	if input.EndTime.Before(input.StartTime) {
		return apperror.ValidationFailed("end_time", "end_time must not be before start_time")
	}
	return nil
}

func toViews(records []models.Event) []View {
	views := make([]View, 0, len(records))
	for _, record := range records {
		views = append(views, NewView(record))
	}
	return views
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	return models.StringPtr(*value)
}
