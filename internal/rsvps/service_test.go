package rsvps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/analytics"
	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/auth"
	"github.com/ssaucsd/ssaucsd-org/internal/database"
	"github.com/ssaucsd/ssaucsd-org/internal/ledger"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%04d", p.next), nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) PublishGoingCount(eventID string, goingCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, fmt.Sprintf("%s=%d", eventID, goingCount))
}

type recordingSink struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingSink) Capture(_ context.Context, event analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, event.Name)
}

type fixture struct {
	service  *Service
	db       *gorm.DB
	notifier *recordingNotifier
	sink     *recordingSink
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "rsvps.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	notifier := &recordingNotifier{}
	sink := &recordingSink{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return testNow },
		IDProvider: &sequentialIDs{},
		Analytics:  sink,
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return fixture{service: service, db: db, notifier: notifier, sink: sink}
}

func (f fixture) seedEvent(t *testing.T, id string, start time.Time, goingCount int) {
	t.Helper()
	event := models.Event{
		ID:         id,
		Title:      "Event " + id,
		Location:   "Price Center",
		StartTime:  start,
		EndTime:    start.Add(2 * time.Hour),
		GoingCount: goingCount,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	if err := f.db.Create(&event).Error; err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
}

func (f fixture) goingCount(t *testing.T, eventID string) int {
	t.Helper()
	var event models.Event
	if err := f.db.Where("id = ?", eventID).Take(&event).Error; err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	return event.GoingCount
}

func (f fixture) rsvpRows(t *testing.T, eventID string) int64 {
	t.Helper()
	var total int64
	if err := f.db.Model(&models.Rsvp{}).Where("event_id = ?", eventID).Count(&total).Error; err != nil {
		t.Fatalf("failed to count rsvps: %v", err)
	}
	return total
}

func (f fixture) requireConsistent(t *testing.T) {
	t.Helper()
	drifts, err := ledger.Verify(f.db)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("going counts drifted from rsvps: %#v", drifts)
	}
}

func member(name string) *auth.Caller {
	return &auth.Caller{Subject: "subject-" + name, Email: name + "@ucsd.edu", Name: name}
}

func TestUpsertTwiceCountsOnce(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "event-x", testNow.Add(time.Hour), 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.service.Upsert(ctx, member("ada"), "event-x", models.RsvpGoing); err != nil {
			t.Fatalf("upsert %d failed: %v", i, err)
		}
	}
	if count := f.goingCount(t, "event-x"); count != 1 {
		t.Fatalf("expected going count 1, got %d", count)
	}
	if rows := f.rsvpRows(t, "event-x"); rows != 1 {
		t.Fatalf("expected exactly one rsvp row, got %d", rows)
	}
	if len(f.notifier.messages) != 1 {
		t.Fatalf("expected a single count notification, got %v", f.notifier.messages)
	}
	f.requireConsistent(t)
}

func TestStatusChangeAppliesDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEvent(t, "event-e", testNow.Add(time.Hour), 0)
	for _, name := range []string{"a", "b", "c"} {
		if err := f.service.Upsert(ctx, member(name), "event-e", models.RsvpGoing); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	if err := f.service.Upsert(ctx, member("u"), "event-e", models.RsvpMaybe); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if count := f.goingCount(t, "event-e"); count != 3 {
		t.Fatalf("expected going count 3, got %d", count)
	}

	if err := f.service.Upsert(ctx, member("u"), "event-e", models.RsvpGoing); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if count := f.goingCount(t, "event-e"); count != 4 {
		t.Fatalf("expected going count 4, got %d", count)
	}

	if err := f.service.Upsert(ctx, member("u"), "event-e", models.RsvpNotGoing); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if count := f.goingCount(t, "event-e"); count != 3 {
		t.Fatalf("expected going count 3, got %d", count)
	}
	f.requireConsistent(t)
}

func TestRemoveWithoutRsvpIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEvent(t, "event-1", testNow.Add(time.Hour), 0)
	if err := f.service.Upsert(ctx, member("a"), "event-1", models.RsvpGoing); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := f.service.Remove(ctx, member("stranger"), "event-1"); err != nil {
		t.Fatalf("remove for unknown user should be a no-op, got %v", err)
	}
	if _, err := f.service.Current(ctx, member("stranger"), "event-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.service.Upsert(ctx, member("b"), "event-2-missing", models.RsvpGoing); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found for missing event, got %v", err)
	}
	if err := f.service.Remove(ctx, member("a"), "other-event"); err != nil {
		t.Fatalf("remove without rsvp should be a no-op, got %v", err)
	}
	if count := f.goingCount(t, "event-1"); count != 1 {
		t.Fatalf("expected going count unchanged at 1, got %d", count)
	}
	f.requireConsistent(t)
}

func TestRemoveDecrementsGoingCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEvent(t, "event-1", testNow.Add(time.Hour), 0)
	if err := f.service.Upsert(ctx, member("a"), "event-1", models.RsvpGoing); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := f.service.Remove(ctx, member("a"), "event-1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if count := f.goingCount(t, "event-1"); count != 0 {
		t.Fatalf("expected going count 0, got %d", count)
	}
	if rows := f.rsvpRows(t, "event-1"); rows != 0 {
		t.Fatalf("expected rsvp row to be deleted, got %d", rows)
	}
	if fmt.Sprint(f.sink.names) != "[rsvp_updated rsvp_removed]" {
		t.Fatalf("unexpected analytics events %v", f.sink.names)
	}
	if err := f.service.Remove(ctx, nil, "event-1"); !errors.Is(err, apperror.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication required, got %v", err)
	}
}

func TestUpsertRequiresIdentityAndValidStatus(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "event-1", testNow.Add(time.Hour), 0)
	ctx := context.Background()

	if err := f.service.Upsert(ctx, nil, "event-1", models.RsvpGoing); !errors.Is(err, apperror.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication required, got %v", err)
	}
	if err := f.service.Upsert(ctx, &auth.Caller{Subject: "no-email"}, "event-1", models.RsvpGoing); !errors.Is(err, apperror.ErrMissingEmail) {
		t.Fatalf("expected missing email, got %v", err)
	}
	if err := f.service.Upsert(ctx, member("a"), "event-1", "interested"); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var users int64
	if err := f.db.Model(&models.User{}).Count(&users).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if users != 0 {
		t.Fatalf("expected failed upserts to leave no profile behind, got %d", users)
	}
}

func TestCurrentAndListCurrentUserEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEvent(t, "later", testNow.Add(48*time.Hour), 0)
	f.seedEvent(t, "sooner", testNow.Add(time.Hour), 0)
	f.seedEvent(t, "declined", testNow.Add(2*time.Hour), 0)
	f.seedEvent(t, "finished", testNow.Add(-5*time.Hour), 0)

	caller := member("ada")
	answers := map[string]models.RsvpStatus{
		"later":    models.RsvpMaybe,
		"sooner":   models.RsvpGoing,
		"declined": models.RsvpNotGoing,
		"finished": models.RsvpGoing,
	}
	for eventID, status := range answers {
		if err := f.service.Upsert(ctx, caller, eventID, status); err != nil {
			t.Fatalf("upsert %s failed: %v", eventID, err)
		}
	}

	status, err := f.service.Current(ctx, caller, "declined")
	if err != nil || status == nil || *status != models.RsvpNotGoing {
		t.Fatalf("unexpected current status %v %v", status, err)
	}
	status, err = f.service.Current(ctx, nil, "declined")
	if err != nil || status != nil {
		t.Fatalf("expected nil status for anonymous caller, got %v %v", status, err)
	}

	listed, err := f.service.ListCurrentUserEvents(ctx, caller)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "sooner" || listed[1].ID != "later" {
		t.Fatalf("unexpected listed events %#v", listed)
	}
	if *listed[0].RsvpStatus != models.RsvpGoing || listed[0].RsvpCount != 1 {
		t.Fatalf("unexpected annotation %#v", listed[0])
	}

	anonymous, err := f.service.ListCurrentUserEvents(ctx, nil)
	if err != nil || len(anonymous) != 0 {
		t.Fatalf("expected empty list for anonymous caller, got %v %v", anonymous, err)
	}
}

func TestEndToEndScenarioNeedsNoBackfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEvent(t, "event-x", testNow.Add(time.Hour), 0)

	if err := f.service.Upsert(ctx, member("a"), "event-x", models.RsvpGoing); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if count := f.goingCount(t, "event-x"); count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	if err := f.service.Upsert(ctx, member("b"), "event-x", models.RsvpMaybe); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if count := f.goingCount(t, "event-x"); count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	if err := f.service.Upsert(ctx, member("a"), "event-x", models.RsvpNotGoing); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if count := f.goingCount(t, "event-x"); count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}

	changes, err := ledger.RecountAll(f.db, testNow)
	if err != nil {
		t.Fatalf("recount failed: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected backfill to patch nothing, patched %#v", changes)
	}
}

// Serialization here comes from the single sqlite connection; the event row
// lock that serializes writers on mysql is covered by
// TestWritesLockEventBeforeReadingRsvp.
func TestConcurrentUpsertsKeepCountConsistent(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "event-1", testNow.Add(time.Hour), 0)
	ctx := context.Background()

	const members = 12
	var wg sync.WaitGroup
	errs := make(chan error, members*2)
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			caller := member(fmt.Sprintf("m%02d", index))
			errs <- f.service.Upsert(ctx, caller, "event-1", models.RsvpGoing)
			if index%3 == 0 {
				errs <- f.service.Upsert(ctx, caller, "event-1", models.RsvpMaybe)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert failed: %v", err)
		}
	}

	if count := f.goingCount(t, "event-1"); count != members-4 {
		t.Fatalf("expected %d going, got %d", members-4, count)
	}
	f.requireConsistent(t)
}

func TestWritesLockEventBeforeReadingRsvp(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "event-1", testNow.Add(time.Hour), 0)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		reads []string
	)
	err := f.db.Callback().Query().Before("gorm:query").Register("test:record_reads", func(tx *gorm.DB) {
		_, locked := tx.Statement.Clauses["FOR"]
		mu.Lock()
		defer mu.Unlock()
		reads = append(reads, fmt.Sprintf("%s:%t", tx.Statement.Table, locked))
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}
	position := func(read string) int {
		mu.Lock()
		defer mu.Unlock()
		for index, value := range reads {
			if value == read {
				return index
			}
		}
		return -1
	}
	reset := func() {
		mu.Lock()
		defer mu.Unlock()
		reads = nil
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"first upsert", func() error { return f.service.Upsert(ctx, member("a"), "event-1", models.RsvpMaybe) }},
		{"status change", func() error { return f.service.Upsert(ctx, member("a"), "event-1", models.RsvpGoing) }},
		{"remove", func() error { return f.service.Remove(ctx, member("a"), "event-1") }},
	}
	for _, step := range steps {
		reset()
		if err := step.run(); err != nil {
			t.Fatalf("%s failed: %v", step.name, err)
		}
		lockedEvent := position("events:true")
		rsvpRead := position("rsvps:false")
		if lockedEvent < 0 || rsvpRead < 0 || lockedEvent > rsvpRead {
			t.Fatalf("%s: expected locked event read before rsvp read, got %v", step.name, reads)
		}
	}
	if count := f.goingCount(t, "event-1"); count != 0 {
		t.Fatalf("expected going count 0, got %d", count)
	}
	f.requireConsistent(t)
}
