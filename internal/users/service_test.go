package users

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

var testNow = time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%03d", p.next), nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recordingSink) Capture(_ context.Context, event analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingSink) {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "users.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sink := &recordingSink{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return testNow },
		IDProvider: &sequentialIDs{},
		Analytics:  sink,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db, sink
}

func seedAdmin(t *testing.T, db *gorm.DB) *auth.Caller {
	t.Helper()
	subject := "admin-subject"
	admin := models.User{
		ID:              "admin-1",
		ExternalSubject: &subject,
		Email:           "admin@ucsd.edu",
		FirstName:       "Ada",
		LastName:        "Admin",
		Role:            models.RoleAdmin,
		IsOnboarded:     true,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
	if err := db.Create(&admin).Error; err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}
	return &auth.Caller{Subject: subject, Email: admin.Email}
}

func countUsers(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var total int64
	if err := db.Model(&models.User{}).Count(&total).Error; err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	return total
}

func TestSyncCreatesProfileOnFirstContact(t *testing.T) {
	service, db, _ := newTestService(t)
	caller := &auth.Caller{Subject: "user_abc", Email: " Member@UCSD.edu ", Name: "Grace Brewster Hopper"}

	profile, err := service.Sync(context.Background(), caller, Fallback{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if profile.Email != "member@ucsd.edu" {
		t.Fatalf("expected normalized email, got %q", profile.Email)
	}
	if profile.FirstName != "Grace" || profile.LastName != "Brewster Hopper" {
		t.Fatalf("unexpected parsed names %q %q", profile.FirstName, profile.LastName)
	}
	if profile.Role != models.RoleUser || profile.IsOnboarded {
		t.Fatalf("unexpected defaults %#v", profile)
	}

	again, err := service.Sync(context.Background(), caller, Fallback{})
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if again.ID != profile.ID {
		t.Fatalf("expected stable id, got %s and %s", profile.ID, again.ID)
	}
	if total := countUsers(t, db); total != 1 {
		t.Fatalf("expected one user, got %d", total)
	}
}

func TestSyncDoesNotWriteWhenNothingChanged(t *testing.T) {
	service, db, _ := newTestService(t)
	caller := &auth.Caller{Subject: "user_abc", Email: "member@ucsd.edu"}
	if _, err := service.Sync(context.Background(), caller, Fallback{}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	later := testNow.Add(time.Hour)
	service.now = func() time.Time { return later }
	if _, err := service.Sync(context.Background(), caller, Fallback{}); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	var stored models.User
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if !stored.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected no write, updated_at moved to %s", stored.UpdatedAt)
	}
}

func TestSyncBackfillsSubjectOnEmailMatch(t *testing.T) {
	service, db, _ := newTestService(t)
	legacy := models.User{
		ID:        "legacy-user",
		Email:     "member@ucsd.edu",
		FirstName: "Imported",
		Role:      models.RoleUser,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	profile, err := service.Sync(context.Background(), &auth.Caller{Subject: "new-provider-subject", Email: "MEMBER@ucsd.edu"}, Fallback{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if profile.ID != legacy.ID || profile.FirstName != "Imported" {
		t.Fatalf("expected the imported profile, got %#v", profile)
	}

	var stored models.User
	if err := db.Where("id = ?", legacy.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if models.StringValue(stored.ExternalSubject) != "new-provider-subject" {
		t.Fatalf("expected subject to be backfilled, got %v", stored.ExternalSubject)
	}
	if total := countUsers(t, db); total != 1 {
		t.Fatalf("expected no duplicate user, got %d", total)
	}
}

func TestSyncErrors(t *testing.T) {
	service, _, _ := newTestService(t)

	if _, err := service.Sync(context.Background(), nil, Fallback{}); !errors.Is(err, apperror.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication required, got %v", err)
	}
	if _, err := service.Sync(context.Background(), &auth.Caller{Subject: "no-email"}, Fallback{}); !errors.Is(err, apperror.ErrMissingEmail) {
		t.Fatalf("expected missing email, got %v", err)
	}
}

func TestSyncWithoutEmailFindsExistingSubject(t *testing.T) {
	service, _, _ := newTestService(t)
	created, err := service.Sync(context.Background(), &auth.Caller{Subject: "user_abc", Email: "member@ucsd.edu"}, Fallback{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	found, err := service.Sync(context.Background(), &auth.Caller{Subject: "user_abc"}, Fallback{})
	if err != nil {
		t.Fatalf("expected subject match without email to succeed: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected same profile")
	}
}

func TestSyncUsesFallbackAndNameClaims(t *testing.T) {
	service, _, _ := newTestService(t)

	fromFallback, err := service.Sync(context.Background(), &auth.Caller{Subject: "s1"}, Fallback{
		Email:     "fallback@ucsd.edu",
		FirstName: "Fall",
		LastName:  "Back",
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if fromFallback.Email != "fallback@ucsd.edu" || fromFallback.FirstName != "Fall" || fromFallback.LastName != "Back" {
		t.Fatalf("expected fallback values, got %#v", fromFallback)
	}

	fromClaims, err := service.Sync(context.Background(), &auth.Caller{
		Subject:    "s2",
		Email:      "claims@ucsd.edu",
		Name:       "Display Name",
		GivenName:  "Given",
		FamilyName: "Family",
	}, Fallback{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if fromClaims.FirstName != "Given" || fromClaims.LastName != "Family" {
		t.Fatalf("expected given/family claims to win, got %#v", fromClaims)
	}

	placeholder, err := service.Sync(context.Background(), &auth.Caller{Subject: "s3", Email: "anon@ucsd.edu"}, Fallback{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if placeholder.FirstName != "Member" || placeholder.LastName != "" {
		t.Fatalf("expected placeholder names, got %#v", placeholder)
	}
}

func TestSyncRejectsEmailTakenByAnotherProfile(t *testing.T) {
	service, _, _ := newTestService(t)
	if _, err := service.Sync(context.Background(), &auth.Caller{Subject: "s1", Email: "one@ucsd.edu"}, Fallback{}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if _, err := service.Sync(context.Background(), &auth.Caller{Subject: "s2", Email: "two@ucsd.edu"}, Fallback{}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	_, err := service.Sync(context.Background(), &auth.Caller{Subject: "s1", Email: "two@ucsd.edu"}, Fallback{})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestQueriesReturnEmptyValuesWhenAnonymous(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	profile, err := service.CurrentProfile(ctx, nil)
	if err != nil || profile != nil {
		t.Fatalf("expected nil profile, got %v %v", profile, err)
	}
	firstName, err := service.FirstName(ctx, nil)
	if err != nil || firstName != nil {
		t.Fatalf("expected nil first name, got %v %v", firstName, err)
	}
	isAdmin, err := service.IsAdmin(ctx, nil)
	if err != nil || isAdmin {
		t.Fatalf("expected false, got %v %v", isAdmin, err)
	}
	state, err := service.OnboardingState(ctx, nil)
	if err != nil || state != (OnboardingState{}) {
		t.Fatalf("expected zero onboarding state, got %#v %v", state, err)
	}

	state, err = service.OnboardingState(ctx, &auth.Caller{Subject: "unknown", Email: "new@ucsd.edu"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.Authenticated || state.ProfileExists {
		t.Fatalf("unexpected state for unknown caller %#v", state)
	}
}

func TestCompleteOnboarding(t *testing.T) {
	service, _, sink := newTestService(t)
	caller := &auth.Caller{Subject: "user_abc", Email: "member@ucsd.edu", Name: "Grace Hopper"}

	_, err := service.CompleteOnboarding(context.Background(), caller, OnboardingInput{
		PreferredName:  "Grace",
		Instrument:     " ",
		Major:          "Math",
		GraduationYear: 2027,
	})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Field != "instrument" {
		t.Fatalf("expected instrument validation error, got %v", err)
	}

	_, err = service.CompleteOnboarding(context.Background(), caller, OnboardingInput{
		PreferredName:  "Grace",
		Instrument:     "Violin",
		Major:          "Math",
		GraduationYear: 1999,
	})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected graduation year validation error, got %v", err)
	}

	profile, err := service.CompleteOnboarding(context.Background(), caller, OnboardingInput{
		PreferredName:  " Gracie ",
		Instrument:     "Violin",
		Major:          "Math",
		GraduationYear: 2027,
	})
	if err != nil {
		t.Fatalf("onboarding failed: %v", err)
	}
	if !profile.IsOnboarded || models.StringValue(profile.PreferredName) != "Gracie" {
		t.Fatalf("unexpected onboarded profile %#v", profile)
	}
	if len(sink.events) != 1 || sink.events[0].Name != analytics.EventOnboardingCompleted {
		t.Fatalf("expected onboarding analytics event, got %#v", sink.events)
	}

	firstName, err := service.FirstName(context.Background(), caller)
	if err != nil || firstName == nil || *firstName != "Gracie" {
		t.Fatalf("expected preferred name, got %v %v", firstName, err)
	}
}

func TestUpdateCurrentProfileClearsBlankFields(t *testing.T) {
	service, _, _ := newTestService(t)
	caller := &auth.Caller{Subject: "user_abc", Email: "member@ucsd.edu"}

	profile, err := service.UpdateCurrentProfile(context.Background(), caller, ProfileUpdate{
		PreferredName:  "  ",
		Major:          "Physics",
		GraduationYear: 2028,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if profile.PreferredName != nil {
		t.Fatalf("expected blank preferred name to be cleared")
	}
	if models.StringValue(profile.Major) != "Physics" || profile.GraduationYear == nil || *profile.GraduationYear != 2028 {
		t.Fatalf("unexpected profile %#v", profile)
	}
}

func TestAdminOperationsRequireAdminRole(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()
	member := &auth.Caller{Subject: "member", Email: "member@ucsd.edu"}
	if _, err := service.Sync(ctx, member, Fallback{}); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if _, err := service.ListProfiles(ctx, nil); !errors.Is(err, apperror.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication required, got %v", err)
	}
	if _, err := service.ListProfiles(ctx, member); !errors.Is(err, apperror.ErrAuthorizationDenied) {
		t.Fatalf("expected authorization denied, got %v", err)
	}
	if err := service.DeleteProfile(ctx, member, "whatever"); !errors.Is(err, apperror.ErrAuthorizationDenied) {
		t.Fatalf("expected authorization denied, got %v", err)
	}
}

func TestListProfilesSortsByFullName(t *testing.T) {
	service, db, _ := newTestService(t)
	admin := seedAdmin(t, db)
	ctx := context.Background()
	for _, caller := range []*auth.Caller{
		{Subject: "z", Email: "z@ucsd.edu", Name: "Zed Alpha"},
		{Subject: "b", Email: "b@ucsd.edu", Name: "bea Zulu"},
		{Subject: "b2", Email: "b2@ucsd.edu", Name: "Bea Adams"},
	} {
		if _, err := service.Sync(ctx, caller, Fallback{}); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
	}

	profiles, err := service.ListProfiles(ctx, admin)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var names []string
	for _, profile := range profiles {
		names = append(names, profile.FirstName+" "+profile.LastName)
	}
	expected := []string{"Ada Admin", "Bea Adams", "bea Zulu", "Zed Alpha"}
	if fmt.Sprint(names) != fmt.Sprint(expected) {
		t.Fatalf("unexpected order %v", names)
	}
}

func TestUpdateProfileByAdmin(t *testing.T) {
	service, db, _ := newTestService(t)
	admin := seedAdmin(t, db)
	ctx := context.Background()
	member, err := service.Sync(ctx, &auth.Caller{Subject: "m", Email: "m@ucsd.edu"}, Fallback{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	instrument := " Cello "
	year := 2026
	err = service.UpdateProfileByAdmin(ctx, admin, member.ID, AdminProfileUpdate{
		FirstName:      "Yo-Yo",
		LastName:       "Ma",
		Instrument:     &instrument,
		Role:           models.RoleAdmin,
		GraduationYear: &year,
	})
	if err != nil {
		t.Fatalf("admin update failed: %v", err)
	}

	var stored models.User
	if err := db.Where("id = ?", member.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if stored.FirstName != "Yo-Yo" || models.StringValue(stored.Instrument) != "Cello" || stored.Role != models.RoleAdmin {
		t.Fatalf("unexpected stored profile %#v", stored)
	}

	err = service.UpdateProfileByAdmin(ctx, admin, "missing", AdminProfileUpdate{FirstName: "X", Role: models.RoleUser})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	err = service.UpdateProfileByAdmin(ctx, admin, member.ID, AdminProfileUpdate{FirstName: "X", Role: "owner"})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected role validation error, got %v", err)
	}
	err = service.UpdateProfileByAdmin(ctx, nil, member.ID, AdminProfileUpdate{Role: "owner"})
	if !errors.Is(err, apperror.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication required before validation, got %v", err)
	}
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

func TestDeleteProfileRecountsGoingCounts(t *testing.T) {
	_, db, _ := newTestService(t)
	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return testNow },
		IDProvider: &sequentialIDs{},
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	admin := seedAdmin(t, db)
	ctx := context.Background()

	member, err := service.Sync(ctx, &auth.Caller{Subject: "m", Email: "m@ucsd.edu"}, Fallback{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	event := models.Event{
		ID:         "event-1",
		Title:      "Rehearsal",
		Location:   "Conrad Prebys",
		StartTime:  testNow,
		EndTime:    testNow.Add(time.Hour),
		GoingCount: 1,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
	rsvp := models.Rsvp{ID: "rsvp-1", UserID: member.ID, EventID: event.ID, Status: models.RsvpGoing, CreatedAt: testNow}
	if err := db.Create(&rsvp).Error; err != nil {
		t.Fatalf("failed to seed rsvp: %v", err)
	}

	if err := service.DeleteProfile(ctx, admin, member.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if total := countUsers(t, db); total != 1 {
		t.Fatalf("expected only the admin to remain, got %d users", total)
	}
	drifts, err := ledger.Verify(db)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected consistent going counts, got %#v", drifts)
	}
	if fmt.Sprint(notifier.messages) != "[event-1=0]" {
		t.Fatalf("expected recounted going count to be published, got %v", notifier.messages)
	}

	if err := service.DeleteProfile(ctx, admin, member.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
