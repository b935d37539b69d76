// Package rsvps keeps each member's answer for an event together with the
// event's going count.
package rsvps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/analytics"
	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/auth"
	"github.com/ssaucsd/ssaucsd-org/internal/events"
	"github.com/ssaucsd/ssaucsd-org/internal/ledger"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"github.com/ssaucsd/ssaucsd-org/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opUpsert                = "rsvps.upsert"
	opRemove                = "rsvps.remove"
	opCurrent               = "rsvps.get_current"
	opListCurrentUserEvents = "rsvps.list_current_user_events"
)

// ServiceConfig describes the dependencies required for the rsvp ledger.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider models.IDProvider
	Logger     *zap.Logger
	Analytics  analytics.Sink
	Notifier   ledger.Notifier
}

// Service records rsvps and keeps events.going_count in step with them.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider models.IDProvider
	logger     *zap.Logger
	analytics  analytics.Sink
	notifier   ledger.Notifier
}

// NewService constructs the rsvp ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("rsvps: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("rsvps: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := cfg.Analytics
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		analytics:  sink,
		notifier:   cfg.Notifier,
	}, nil
}

// Upsert records the caller's status for an event, creating the caller's
// profile when needed. The event's going count moves by the status delta.
func (s *Service) Upsert(ctx context.Context, caller *auth.Caller, eventID string, status models.RsvpStatus) error {
	if caller == nil {
		return apperror.AuthenticationRequired()
	}
	parsed, err := models.ParseRsvpStatus(string(status))
	if err != nil {
		return apperror.ValidationFailed("status", "status must be going, maybe or not_going")
	}

	var (
		userID   string
		previous *models.RsvpStatus
		change   *ledger.Change
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.timestamp()
		user, err := users.Resolve(tx, caller, users.Fallback{}, s.idProvider, now)
		if err != nil {
			return err
		}
		userID = user.ID

		event, err := ledger.Lock(tx, eventID)
		if err != nil {
			return err
		}
		existing, err := findRsvp(tx, user.ID, eventID)
		if err != nil {
			return err
		}
		if existing != nil {
			value := existing.Status
			previous = &value
		}

		delta := ledger.Delta(previous, parsed)
		count, err := ledger.Apply(tx, event, delta, now)
		if err != nil {
			return err
		}
		if delta != 0 {
			change = &ledger.Change{EventID: eventID, GoingCount: count}
		}

		if existing != nil {
			if existing.Status == parsed {
				return nil
			}
			return tx.Model(&models.Rsvp{}).Where("id = ?", existing.ID).Update("status", parsed).Error
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		return tx.Create(&models.Rsvp{
			ID:        id,
			UserID:    user.ID,
			EventID:   eventID,
			Status:    parsed,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		return s.fail(opUpsert, "write_failed", err, zap.String("event_id", eventID))
	}

	s.publish(change)
	properties := map[string]any{"event_id": eventID, "status": string(parsed)}
	if previous != nil {
		properties["previous_status"] = string(*previous)
	}
	s.analytics.Capture(ctx, analytics.Event{Name: analytics.EventRsvpUpdated, DistinctID: userID, Properties: properties})
	return nil
}

// Remove withdraws the caller's rsvp. A caller without a profile or without
// an rsvp for the event is a no-op.
func (s *Service) Remove(ctx context.Context, caller *auth.Caller, eventID string) error {
	if caller == nil {
		return apperror.AuthenticationRequired()
	}

	var (
		removed *models.Rsvp
		change  *ledger.Change
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := users.FindByCaller(tx, caller)
		if err != nil || user == nil {
			return err
		}
		event, lockErr := ledger.Lock(tx, eventID)
		if lockErr != nil && !errors.Is(lockErr, apperror.ErrNotFound) {
			return lockErr
		}
		existing, err := findRsvp(tx, user.ID, eventID)
		if err != nil || existing == nil {
			return err
		}

		// An rsvp whose event is gone is still removed.
		if lockErr == nil {
			delta := -ledger.IsGoing(existing.Status)
			count, err := ledger.Apply(tx, event, delta, s.timestamp())
			if err != nil {
				return err
			}
			if delta != 0 {
				change = &ledger.Change{EventID: eventID, GoingCount: count}
			}
		}

		if err := tx.Where("id = ?", existing.ID).Delete(&models.Rsvp{}).Error; err != nil {
			return err
		}
		removed = existing
		return nil
	})
	if err != nil {
		return s.fail(opRemove, "write_failed", err, zap.String("event_id", eventID))
	}
	if removed == nil {
		return nil
	}

	s.publish(change)
	s.analytics.Capture(ctx, analytics.Event{
		Name:       analytics.EventRsvpRemoved,
		DistinctID: removed.UserID,
		Properties: map[string]any{"event_id": eventID, "previous_status": string(removed.Status)},
	})
	return nil
}

// Current returns the caller's status for an event, or nil when the caller is
// anonymous, has no profile, or has not answered.
func (s *Service) Current(ctx context.Context, caller *auth.Caller, eventID string) (*models.RsvpStatus, error) {
	db := s.db.WithContext(ctx)
	user, err := users.FindByCaller(db, caller)
	if err != nil {
		return nil, s.fail(opCurrent, "lookup_failed", err)
	}
	if user == nil {
		return nil, nil
	}
	existing, err := findRsvp(db, user.ID, eventID)
	if err != nil {
		return nil, s.fail(opCurrent, "query_failed", err, zap.String("event_id", eventID))
	}
	if existing == nil {
		return nil, nil
	}
	status := existing.Status
	return &status, nil
}

// ListCurrentUserEvents returns the events the caller is going to or might
// attend that have not ended, ordered by start time.
func (s *Service) ListCurrentUserEvents(ctx context.Context, caller *auth.Caller) ([]events.ViewWithRsvp, error) {
	db := s.db.WithContext(ctx)
	user, err := users.FindByCaller(db, caller)
	if err != nil {
		return nil, s.fail(opListCurrentUserEvents, "lookup_failed", err)
	}
	if user == nil {
		return []events.ViewWithRsvp{}, nil
	}

	var rsvps []models.Rsvp
	if err := db.Where("user_id = ? AND status IN ?", user.ID, []models.RsvpStatus{models.RsvpGoing, models.RsvpMaybe}).
		Find(&rsvps).Error; err != nil {
		return nil, s.fail(opListCurrentUserEvents, "rsvp_query_failed", err)
	}
	if len(rsvps) == 0 {
		return []events.ViewWithRsvp{}, nil
	}

	statusByEvent := make(map[string]models.RsvpStatus, len(rsvps))
	eventIDs := make([]string, 0, len(rsvps))
	for _, rsvp := range rsvps {
		statusByEvent[rsvp.EventID] = rsvp.Status
		eventIDs = append(eventIDs, rsvp.EventID)
	}

	var records []models.Event
	if err := db.Where("id IN ?", eventIDs).Find(&records).Error; err != nil {
		return nil, s.fail(opListCurrentUserEvents, "event_query_failed", err)
	}
	records = events.FilterUpcoming(records, s.timestamp())
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})

	views := make([]events.ViewWithRsvp, 0, len(records))
	for _, record := range records {
		status := statusByEvent[record.ID]
		views = append(views, events.NewViewWithRsvp(record, &status))
	}
	return views, nil
}

func findRsvp(tx *gorm.DB, userID, eventID string) (*models.Rsvp, error) {
	var rsvp models.Rsvp
	err := tx.Where("user_id = ? AND event_id = ?", userID, eventID).Take(&rsvp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rsvp, nil
}

func (s *Service) publish(change *ledger.Change) {
	if change == nil {
		return
	}
	ledger.Publish(s.notifier, *change)
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
	s.logger.Error("rsvps service error", append(attrs, fields...)...)
	return apperror.Wrap(operation, reason, err)
}
