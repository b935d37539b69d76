package database

import (
	"errors"
	"testing"

	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/ledger"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"gorm.io/gorm"
)

func countRows(testContext *testing.T, db *gorm.DB, model any, where string, args ...any) int64 {
	testContext.Helper()
	var total int64
	if err := db.Model(model).Where(where, args...).Count(&total).Error; err != nil {
		testContext.Fatalf("failed to count rows: %v", err)
	}
	return total
}

func TestEventCascadeRemovesRsvps(testContext *testing.T) {
	db := openTestDatabase(testContext)
	seedEvent(testContext, db, "event-1", 5)
	seedEvent(testContext, db, "event-2", 1)
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		seedUser(testContext, db, id, id+"@ucsd.edu")
		seedRsvp(testContext, db, "rsvp-"+id, id, "event-1", models.RsvpGoing)
	}
	seedRsvp(testContext, db, "rsvp-other", "u1", "event-2", models.RsvpGoing)

	var result CascadeResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = EventCascade.Delete(tx, "event-1", testNow)
		return err
	})
	if err != nil {
		testContext.Fatalf("cascade failed: %v", err)
	}
	if result.RemovedChildren != 5 {
		testContext.Fatalf("expected 5 rsvps removed, got %d", result.RemovedChildren)
	}
	if remaining := countRows(testContext, db, &models.Rsvp{}, "event_id = ?", "event-1"); remaining != 0 {
		testContext.Fatalf("expected no rsvps for deleted event, got %d", remaining)
	}
	if remaining := countRows(testContext, db, &models.Event{}, "id = ?", "event-1"); remaining != 0 {
		testContext.Fatalf("expected event to be removed")
	}
	if remaining := countRows(testContext, db, &models.Rsvp{}, "event_id = ?", "event-2"); remaining != 1 {
		testContext.Fatalf("expected unrelated rsvp to survive, got %d", remaining)
	}
}

func TestUserCascadeRecountsAffectedEvents(testContext *testing.T) {
	db := openTestDatabase(testContext)
	seedEvent(testContext, db, "event-1", 2)
	seedEvent(testContext, db, "event-2", 0)
	seedUser(testContext, db, "u1", "a@ucsd.edu")
	seedUser(testContext, db, "u2", "b@ucsd.edu")
	seedRsvp(testContext, db, "r1", "u1", "event-1", models.RsvpGoing)
	seedRsvp(testContext, db, "r2", "u2", "event-1", models.RsvpGoing)
	seedRsvp(testContext, db, "r3", "u1", "event-2", models.RsvpMaybe)

	var result CascadeResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = UserCascade.Delete(tx, "u1", testNow)
		return err
	})
	if err != nil {
		testContext.Fatalf("cascade failed: %v", err)
	}
	if result.RemovedChildren != 2 || len(result.Recounted) != 1 {
		testContext.Fatalf("unexpected cascade result %#v", result)
	}
	if count := loadEvent(testContext, db, "event-1").GoingCount; count != 1 {
		testContext.Fatalf("expected going count 1 after user removal, got %d", count)
	}
	drifts, err := ledger.Verify(db)
	if err != nil {
		testContext.Fatalf("verify failed: %v", err)
	}
	if len(drifts) != 0 {
		testContext.Fatalf("unexpected drift %#v", drifts)
	}
}

func TestResourceAndTagCascadesRemoveLinks(testContext *testing.T) {
	db := openTestDatabase(testContext)
	records := []any{
		&models.Resource{ID: "res-1", Name: "Sheet music", Link: "https://example.com/a", CreatedAt: testNow},
		&models.Resource{ID: "res-2", Name: "Recordings", Link: "https://example.com/b", CreatedAt: testNow},
		&models.Tag{ID: "tag-1", Name: "Jazz", Slug: "jazz", CreatedAt: testNow},
		&models.Tag{ID: "tag-2", Name: "Choir", Slug: "choir", CreatedAt: testNow},
		&models.ResourceTag{ID: "link-1", ResourceID: "res-1", TagID: "tag-1", CreatedAt: testNow},
		&models.ResourceTag{ID: "link-2", ResourceID: "res-1", TagID: "tag-2", CreatedAt: testNow},
		&models.ResourceTag{ID: "link-3", ResourceID: "res-2", TagID: "tag-1", CreatedAt: testNow},
	}
	for _, record := range records {
		if err := db.Create(record).Error; err != nil {
			testContext.Fatalf("failed to seed: %v", err)
		}
	}

	if _, err := ResourceCascade.Delete(db, "res-1", testNow); err != nil {
		testContext.Fatalf("resource cascade failed: %v", err)
	}
	if remaining := countRows(testContext, db, &models.ResourceTag{}, "1 = 1"); remaining != 1 {
		testContext.Fatalf("expected 1 link after resource cascade, got %d", remaining)
	}

	if _, err := TagCascade.Delete(db, "tag-1", testNow); err != nil {
		testContext.Fatalf("tag cascade failed: %v", err)
	}
	if remaining := countRows(testContext, db, &models.ResourceTag{}, "1 = 1"); remaining != 0 {
		testContext.Fatalf("expected no links after tag cascade, got %d", remaining)
	}
}

func TestCascadeMissingParentIsNotFound(testContext *testing.T) {
	db := openTestDatabase(testContext)
	_, err := EventCascade.Delete(db, "missing", testNow)
	if !errors.Is(err, apperror.ErrNotFound) {
		testContext.Fatalf("expected not found, got %v", err)
	}
}
