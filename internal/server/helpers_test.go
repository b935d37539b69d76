package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ssaucsd/ssaucsd-org/internal/auth"
	"github.com/ssaucsd/ssaucsd-org/internal/database"
	"github.com/ssaucsd/ssaucsd-org/internal/events"
	"github.com/ssaucsd/ssaucsd-org/internal/migrations"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"github.com/ssaucsd/ssaucsd-org/internal/resources"
	"github.com/ssaucsd/ssaucsd-org/internal/rsvps"
	"github.com/ssaucsd/ssaucsd-org/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret   = "server-test-secret"
	testCookieName      = "ssa_session"
	testMigrationSecret = "maintenance"
)

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

type stubVerifier struct {
	caller auth.Caller
	err    error
}

func (s stubVerifier) Verify(context.Context, string) (auth.Caller, error) {
	return s.caller, s.err
}

type testStack struct {
	handler    http.Handler
	db         *gorm.DB
	issuer     *auth.SessionIssuer
	dispatcher *RealtimeDispatcher
	now        time.Time
}

func newTestStack(t *testing.T, verifier IdentityVerifier) testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Now().UTC()
	clock := func() time.Time { return now }
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "server.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ids := &sequentialIDs{}
	dispatcher := NewRealtimeDispatcher()
	t.Cleanup(dispatcher.Close)

	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{SigningSecret: []byte(testSigningSecret), TTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock, IDProvider: ids, Notifier: dispatcher})
	if err != nil {
		t.Fatalf("users service: %v", err)
	}
	eventsService, err := events.NewService(events.ServiceConfig{Database: db, Clock: clock, IDProvider: ids})
	if err != nil {
		t.Fatalf("events service: %v", err)
	}
	rsvpsService, err := rsvps.NewService(rsvps.ServiceConfig{Database: db, Clock: clock, IDProvider: ids, Notifier: dispatcher})
	if err != nil {
		t.Fatalf("rsvps service: %v", err)
	}
	resourcesService, err := resources.NewService(resources.ServiceConfig{Database: db, Clock: clock, IDProvider: ids})
	if err != nil {
		t.Fatalf("resources service: %v", err)
	}
	migrationsService, err := migrations.NewService(migrations.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: ids,
		Secret:     testMigrationSecret,
		Notifier:   dispatcher,
	})
	if err != nil {
		t.Fatalf("migrations service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		IdentityVerifier: verifier,
		SessionIssuer:    issuer,
		SessionValidator: validator,
		Users:            usersService,
		Events:           eventsService,
		Rsvps:            rsvpsService,
		Resources:        resourcesService,
		Migrations:       migrationsService,
		Realtime:         dispatcher,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testStack{handler: handler, db: db, issuer: issuer, dispatcher: dispatcher, now: now}
}

func (s testStack) token(t *testing.T, caller auth.Caller) string {
	t.Helper()
	token, _, err := s.issuer.Issue(context.Background(), caller)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}
	return token
}

func (s testStack) seedEvent(t *testing.T, id string) {
	t.Helper()
	event := models.Event{
		ID:        id,
		Title:     "Fall Concert",
		Location:  "Conrad Prebys",
		StartTime: s.now.Add(24 * time.Hour),
		EndTime:   s.now.Add(26 * time.Hour),
		CreatedAt: s.now,
		UpdatedAt: s.now,
	}
	if err := s.db.Create(&event).Error; err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
}

func (s testStack) seedAdmin(t *testing.T, subject, email string) {
	t.Helper()
	user := models.User{
		ID:              "admin-" + subject,
		ExternalSubject: &subject,
		Email:           email,
		FirstName:       "Admin",
		Role:            models.RoleAdmin,
		IsOnboarded:     true,
		CreatedAt:       s.now,
		UpdatedAt:       s.now,
	}
	if err := s.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}
}
