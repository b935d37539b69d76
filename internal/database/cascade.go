package database

import (
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/ledger"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"gorm.io/gorm"
)

type childLink struct {
	model  func() any
	column string
}

// CascadePlan describes how deleting one parent row fans out to its children.
type CascadePlan struct {
	resource     string
	parent       func() any
	children     []childLink
	recountGoing string
}

// CascadeResult reports what a cascade removed.
type CascadeResult struct {
	RemovedChildren int64
	Recounted       []ledger.Change
}

var (
	// EventCascade removes an event with its rsvps.
	EventCascade = CascadePlan{
		resource: "event",
		parent:   func() any { return &models.Event{} },
		children: []childLink{{model: func() any { return &models.Rsvp{} }, column: "event_id"}},
	}
	// UserCascade removes a user with their rsvps and recounts the events
	// where those rsvps were counted as going.
	UserCascade = CascadePlan{
		resource:     "user",
		parent:       func() any { return &models.User{} },
		children:     []childLink{{model: func() any { return &models.Rsvp{} }, column: "user_id"}},
		recountGoing: "user_id",
	}
	// ResourceCascade removes a resource with its tag links.
	ResourceCascade = CascadePlan{
		resource: "resource",
		parent:   func() any { return &models.Resource{} },
		children: []childLink{{model: func() any { return &models.ResourceTag{} }, column: "resource_id"}},
	}
	// TagCascade removes a tag with its resource links.
	TagCascade = CascadePlan{
		resource: "tag",
		parent:   func() any { return &models.Tag{} },
		children: []childLink{{model: func() any { return &models.ResourceTag{} }, column: "tag_id"}},
	}
)

// Delete removes the parent row identified by id and its children inside tx.
// A missing parent yields a NotFound error and writes nothing.
func (p CascadePlan) Delete(tx *gorm.DB, id string, now time.Time) (CascadeResult, error) {
	var result CascadeResult

	var parents int64
	if err := tx.Model(p.parent()).Where("id = ?", id).Count(&parents).Error; err != nil {
		return result, err
	}
	if parents == 0 {
		return result, apperror.NotFound(p.resource, id)
	}

	var affectedEvents []string
	if p.recountGoing != "" {
		if err := tx.Model(&models.Rsvp{}).
			Where(p.recountGoing+" = ? AND status = ?", id, models.RsvpGoing).
			Distinct("event_id").
			Pluck("event_id", &affectedEvents).Error; err != nil {
			return result, err
		}
	}

	for _, child := range p.children {
		deleted := tx.Where(child.column+" = ?", id).Delete(child.model())
		if deleted.Error != nil {
			return result, deleted.Error
		}
		result.RemovedChildren += deleted.RowsAffected
	}

	if err := tx.Where("id = ?", id).Delete(p.parent()).Error; err != nil {
		return result, err
	}

	if len(affectedEvents) > 0 {
		recounted, err := ledger.Recount(tx, now, affectedEvents...)
		if err != nil {
			return result, err
		}
		result.Recounted = recounted
	}
	return result, nil
}
