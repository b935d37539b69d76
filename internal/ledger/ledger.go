// Package ledger owns the going-count kept on each event. Every write to
// events.going_count goes through Apply, ApplyDelta or Recount.
package ledger

import (
	"errors"
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Change is a going count committed for one event.
type Change struct {
	EventID    string
	GoingCount int
}

// Notifier is told about committed going-count changes.
type Notifier interface {
	PublishGoingCount(eventID string, goingCount int)
}

// Publish hands changes to notifier. Call it only after the transaction that
// produced them has committed. A nil notifier drops them.
func Publish(notifier Notifier, changes ...Change) {
	if notifier == nil {
		return
	}
	for _, change := range changes {
		notifier.PublishGoingCount(change.EventID, change.GoingCount)
	}
}

// IsGoing returns 1 when status counts toward the going count and 0 otherwise.
func IsGoing(status models.RsvpStatus) int {
	if status == models.RsvpGoing {
		return 1
	}
	return 0
}

// Delta is the going-count change caused by moving from previous to next.
// A nil previous means the rsvp did not exist.
func Delta(previous *models.RsvpStatus, next models.RsvpStatus) int {
	if previous == nil {
		return IsGoing(next)
	}
	return IsGoing(next) - IsGoing(*previous)
}

// Lock reads the event row under an update lock. Callers that read an rsvp
// and then move the event's going count take the lock first.
func Lock(tx *gorm.DB, eventID string) (models.Event, error) {
	var event models.Event
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", eventID).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Event{}, apperror.NotFound("event", eventID)
	}
	if err != nil {
		return models.Event{}, err
	}
	return event, nil
}

// ApplyDelta locks the event and adds delta to its going count, clamped at
// zero, returning the resulting count.
func ApplyDelta(tx *gorm.DB, eventID string, delta int, now time.Time) (int, error) {
	event, err := Lock(tx, eventID)
	if err != nil {
		return 0, err
	}
	return Apply(tx, event, delta, now)
}

// Apply adds delta to the going count of an event already locked by Lock.
func Apply(tx *gorm.DB, event models.Event, delta int, now time.Time) (int, error) {
	if delta == 0 {
		return event.GoingCount, nil
	}

	next := event.GoingCount + delta
	if next < 0 {
		next = 0
	}
	if err := tx.Model(&models.Event{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"going_count": next,
			"updated_at":  now,
		}).Error; err != nil {
		return 0, err
	}
	return next, nil
}

// CountGoing returns the number of going rsvps per event for the provided
// events, or for every event when none are given.
func CountGoing(tx *gorm.DB, eventIDs ...string) (map[string]int, error) {
	type row struct {
		EventID string
		Total   int
	}
	query := tx.Model(&models.Rsvp{}).
		Select("event_id AS event_id, COUNT(*) AS total").
		Where("status = ?", models.RsvpGoing)
	if len(eventIDs) > 0 {
		query = query.Where("event_id IN ?", eventIDs)
	}
	var rows []row
	if err := query.Group("event_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.EventID] = r.Total
	}
	return counts, nil
}

// Recount recomputes the going count of the given events from their rsvps and
// patches only events whose stored count differs. It returns the patched
// events with their new counts. Unknown event ids are ignored.
func Recount(tx *gorm.DB, now time.Time, eventIDs ...string) ([]Change, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var events []models.Event
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", eventIDs).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return recountEvents(tx, events, now, eventIDs...)
}

// RecountAll recomputes the going count of every event.
func RecountAll(tx *gorm.DB, now time.Time) ([]Change, error) {
	var events []models.Event
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Find(&events).Error; err != nil {
		return nil, err
	}
	return recountEvents(tx, events, now)
}

func recountEvents(tx *gorm.DB, events []models.Event, now time.Time, eventIDs ...string) ([]Change, error) {
	counts, err := CountGoing(tx, eventIDs...)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for _, event := range events {
		next := counts[event.ID]
		if event.GoingCount == next {
			continue
		}
		if err := tx.Model(&models.Event{}).
			Where("id = ?", event.ID).
			Updates(map[string]interface{}{
				"going_count": next,
				"updated_at":  now,
			}).Error; err != nil {
			return changes, err
		}
		changes = append(changes, Change{EventID: event.ID, GoingCount: next})
	}
	return changes, nil
}

// Drift describes an event whose stored going count disagrees with its rsvps.
type Drift struct {
	EventID  string
	Stored   int
	Expected int
}

// Verify checks every event's stored going count against a full recount
// without writing anything.
func Verify(tx *gorm.DB) ([]Drift, error) {
	var events []models.Event
	if err := tx.Find(&events).Error; err != nil {
		return nil, err
	}
	counts, err := CountGoing(tx)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, event := range events {
		if expected := counts[event.ID]; expected != event.GoingCount {
			drifts = append(drifts, Drift{EventID: event.ID, Stored: event.GoingCount, Expected: expected})
		}
	}
	return drifts, nil
}
