// Package migrations holds the secret-gated maintenance operations: the
// going-count backfill, the legacy snapshot import and table counts.
package migrations

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/ledger"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"github.com/ssaucsd/ssaucsd-org/internal/resources"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opBackfill    = "migrations.backfill_going_counts"
	opImport      = "migrations.import_snapshot"
	opTableCounts = "migrations.table_counts"

	defaultFirstName    = "Member"
	defaultEventTitle   = "Untitled Event"
	defaultLocation     = "TBD"
	defaultResourceName = "Untitled Resource"
	defaultTagName      = "Untitled Tag"
	defaultTagSlug      = "untitled-tag"
)

// ServiceConfig describes the dependencies of the maintenance operations.
// Secret is the shared secret callers must present; an empty secret rejects every call.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider models.IDProvider
	Logger     *zap.Logger
	Secret     string
	Notifier   ledger.Notifier
}

// Service runs maintenance operations.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider models.IDProvider
	logger     *zap.Logger
	secret     []byte
	notifier   ledger.Notifier
}

// BackfillResult reports how many events had their going count corrected.
type BackfillResult struct {
	Updated int `json:"updated"`
}

// Counts holds one number per collection.
type Counts struct {
	Users        int `json:"users"`
	Events       int `json:"events"`
	Resources    int `json:"resources"`
	Tags         int `json:"tags"`
	ResourceTags int `json:"resource_tags"`
	Rsvps        int `json:"rsvps"`
}

// NewService constructs the maintenance service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("migrations: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("migrations: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		secret:     []byte(strings.TrimSpace(cfg.Secret)),
		notifier:   cfg.Notifier,
	}, nil
}

// BackfillGoingCounts recomputes every event's going count from its rsvps,
// patching only events whose stored count differs.
func (s *Service) BackfillGoingCounts(ctx context.Context, secret string) (BackfillResult, error) {
	if err := s.checkSecret(secret); err != nil {
		return BackfillResult{}, err
	}
	var changes []ledger.Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		changes, err = ledger.RecountAll(tx, s.timestamp())
		return err
	})
	if err != nil {
		return BackfillResult{}, s.fail(opBackfill, "recount_failed", err)
	}
	ledger.Publish(s.notifier, changes...)
	s.logger.Info("going counts backfilled", zap.Int("updated", len(changes)))
	return BackfillResult{Updated: len(changes)}, nil
}

// TableCounts returns the row count of every collection.
func (s *Service) TableCounts(ctx context.Context, secret string) (Counts, error) {
	if err := s.checkSecret(secret); err != nil {
		return Counts{}, err
	}
	counts, err := countTables(s.db.WithContext(ctx))
	if err != nil {
		return Counts{}, s.fail(opTableCounts, "count_failed", err)
	}
	return counts, nil
}

// ImportSnapshot translates a legacy snapshot into the current schema. Each
// record is written in its own transaction; the closing recount runs in one.
// Users, events, resources and tags are reported as input lengths; resource
// tags and rsvps as rows inserted.
func (s *Service) ImportSnapshot(ctx context.Context, secret string, snapshot Snapshot, clearExisting bool) (Counts, error) {
	if err := s.checkSecret(secret); err != nil {
		return Counts{}, err
	}
	db := s.db.WithContext(ctx)

	if clearExisting {
		if err := db.Transaction(clearTables); err != nil {
			return Counts{}, s.fail(opImport, "clear_failed", err)
		}
	}

	run := importRun{
		service:   s,
		db:        db,
		users:     map[LegacyID]string{},
		events:    map[LegacyID]string{},
		resources: map[LegacyID]string{},
		tags:      map[LegacyID]string{},
	}
	counts := Counts{
		Users:     len(snapshot.Profiles),
		Events:    len(snapshot.Events),
		Resources: len(snapshot.Resources),
		Tags:      len(snapshot.Tags),
	}

	for _, profile := range snapshot.Profiles {
		if err := run.importProfile(profile); err != nil {
			return Counts{}, s.fail(opImport, "profile_failed", err, zap.String("legacy_id", profile.ID.String()))
		}
	}
	for _, event := range snapshot.Events {
		if err := run.importEvent(event); err != nil {
			return Counts{}, s.fail(opImport, "event_failed", err, zap.String("legacy_id", event.ID.String()))
		}
	}
	for _, resource := range snapshot.Resources {
		if err := run.importResource(resource); err != nil {
			return Counts{}, s.fail(opImport, "resource_failed", err, zap.String("legacy_id", resource.ID.String()))
		}
	}
	for _, tag := range snapshot.Tags {
		if err := run.importTag(tag); err != nil {
			return Counts{}, s.fail(opImport, "tag_failed", err, zap.String("legacy_id", tag.ID.String()))
		}
	}
	for _, link := range snapshot.ResourceTags {
		inserted, err := run.importResourceTag(link)
		if err != nil {
			return Counts{}, s.fail(opImport, "resource_tag_failed", err)
		}
		if inserted {
			counts.ResourceTags++
		}
	}
	for _, rsvp := range snapshot.Rsvps {
		inserted, err := run.importRsvp(rsvp)
		if err != nil {
			return Counts{}, s.fail(opImport, "rsvp_failed", err, zap.String("legacy_id", rsvp.ID.String()))
		}
		if inserted {
			counts.Rsvps++
		}
	}

	var recounted []ledger.Change
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		recounted, err = ledger.RecountAll(tx, s.timestamp())
		return err
	})
	if err != nil {
		return Counts{}, s.fail(opImport, "recount_failed", err)
	}
	ledger.Publish(s.notifier, recounted...)

	s.logger.Info("legacy snapshot imported",
		zap.Int("users", counts.Users),
		zap.Int("events", counts.Events),
		zap.Int("resources", counts.Resources),
		zap.Int("tags", counts.Tags),
		zap.Int("resource_tags", counts.ResourceTags),
		zap.Int("rsvps", counts.Rsvps),
		zap.Int("recounted_events", len(recounted)),
		zap.Bool("cleared", clearExisting))
	return counts, nil
}

func (s *Service) checkSecret(presented string) error {
	if len(s.secret) == 0 {
		return apperror.InvalidSecret()
	}
	if subtle.ConstantTimeCompare(s.secret, []byte(strings.TrimSpace(presented))) != 1 {
		return apperror.InvalidSecret()
	}
	return nil
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
	s.logger.Error("migrations service error", append(attrs, fields...)...)
	return apperror.Wrap(operation, reason, err)
}

// clearTables empties every collection, children before parents.
func clearTables(tx *gorm.DB) error {
	for _, model := range []any{&models.Rsvp{}, &models.ResourceTag{}, &models.Tag{}, &models.Resource{}, &models.Event{}, &models.User{}} {
		if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

func countTables(db *gorm.DB) (Counts, error) {
	var counts Counts
	targets := []struct {
		model any
		dest  *int
	}{
		{&models.User{}, &counts.Users},
		{&models.Event{}, &counts.Events},
		{&models.Resource{}, &counts.Resources},
		{&models.Tag{}, &counts.Tags},
		{&models.ResourceTag{}, &counts.ResourceTags},
		{&models.Rsvp{}, &counts.Rsvps},
	}
	for _, target := range targets {
		var total int64
		if err := db.Model(target.model).Count(&total).Error; err != nil {
			return Counts{}, err
		}
		*target.dest = int(total)
	}
	return counts, nil
}

type importRun struct {
	service   *Service
	db        *gorm.DB
	users     map[LegacyID]string
	events    map[LegacyID]string
	resources map[LegacyID]string
	tags      map[LegacyID]string
}

func (r *importRun) newID() (string, error) {
	return r.service.idProvider.NewID()
}

func (r *importRun) mapUser(legacyID LegacyID, id string) {
	if legacyID != "" {
		r.users[legacyID] = id
	}
}

// importProfile merges the profile into the user with the same email, or
// inserts a new user. Profiles without an email are skipped.
func (r *importRun) importProfile(profile LegacyProfile) error {
	email := models.NormalizeEmail(stringOr(profile.Email, ""))
	if email == "" {
		return nil
	}
	now := r.service.timestamp()
	role := models.RoleUser
	if strings.EqualFold(strings.TrimSpace(stringOr(profile.Role, "")), string(models.RoleAdmin)) {
		role = models.RoleAdmin
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Where("email = ?", email).Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			updates := map[string]interface{}{
				"legacy_id":       profile.ID.ptr(),
				"first_name":      stringOr(profile.FirstName, defaultFirstName),
				"last_name":       stringOr(profile.LastName, ""),
				"preferred_name":  optional(profile.PreferredName),
				"instrument":      optional(profile.Instrument),
				"role":            role,
				"major":           optional(profile.Major),
				"graduation_year": profile.GraduationYear,
				"is_onboarded":    boolOr(profile.IsOnboarded),
				"updated_at":      now,
			}
			if err := tx.Model(&models.User{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return err
			}
			r.mapUser(profile.ID, existing.ID)
			return nil
		}

		id, err := r.newID()
		if err != nil {
			return err
		}
		user := models.User{
			ID:             id,
			LegacyID:       profile.ID.ptr(),
			Email:          email,
			FirstName:      stringOr(profile.FirstName, defaultFirstName),
			LastName:       stringOr(profile.LastName, ""),
			PreferredName:  optional(profile.PreferredName),
			Instrument:     optional(profile.Instrument),
			Role:           role,
			Major:          optional(profile.Major),
			GraduationYear: profile.GraduationYear,
			IsOnboarded:    boolOr(profile.IsOnboarded),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		r.mapUser(profile.ID, id)
		return nil
	})
}

func (r *importRun) importEvent(legacy LegacyEvent) error {
	now := r.service.timestamp()
	id, err := r.newID()
	if err != nil {
		return err
	}
	event := models.Event{
		ID:          id,
		LegacyID:    legacy.ID.ptr(),
		Title:       stringOr(legacy.Title, defaultEventTitle),
		Description: optional(legacy.Description),
		Location:    stringOr(legacy.Location, defaultLocation),
		StartTime:   parseLegacyTime(legacy.StartTime, now),
		EndTime:     parseLegacyTime(legacy.EndTime, now),
		ImageURL:    stringOr(legacy.ImageURL, ""),
		IsAllDay:    boolOr(legacy.IsAllDay),
		GoingCount:  0,
		CreatedAt:   parseLegacyTime(legacy.CreatedAt, now),
		UpdatedAt:   parseLegacyTime(legacy.UpdatedAt, now),
	}
	if err := r.db.Create(&event).Error; err != nil {
		return err
	}
	if legacy.ID != "" {
		r.events[legacy.ID] = id
	}
	return nil
}

func (r *importRun) importResource(legacy LegacyResource) error {
	now := r.service.timestamp()
	id, err := r.newID()
	if err != nil {
		return err
	}
	resource := models.Resource{
		ID:          id,
		LegacyID:    legacy.ID.ptr(),
		Name:        stringOr(legacy.Name, defaultResourceName),
		Link:        stringOr(legacy.Link, ""),
		Description: optional(legacy.Description),
		IsPinned:    boolOr(legacy.IsPinned),
		CreatedAt:   parseLegacyTime(legacy.CreatedAt, now),
	}
	if err := r.db.Create(&resource).Error; err != nil {
		return err
	}
	if legacy.ID != "" {
		r.resources[legacy.ID] = id
	}
	return nil
}

// importTag inserts the tag, or maps it onto the existing tag with the same slug.
func (r *importRun) importTag(legacy LegacyTag) error {
	now := r.service.timestamp()
	name := stringOr(legacy.Name, defaultTagName)
	slug := resources.Slug(stringOr(legacy.Slug, name))
	if slug == "" {
		slug = defaultTagSlug
	}
	displayOrder := 0
	if legacy.DisplayOrder != nil {
		displayOrder = *legacy.DisplayOrder
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Tag
		err := tx.Where("slug = ?", slug).Take(&existing).Error
		if err == nil {
			if legacy.ID != "" {
				r.tags[legacy.ID] = existing.ID
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		id, err := r.newID()
		if err != nil {
			return err
		}
		tag := models.Tag{
			ID:           id,
			LegacyID:     legacy.ID.ptr(),
			Name:         name,
			Slug:         slug,
			DisplayOrder: displayOrder,
			CreatedAt:    parseLegacyTime(legacy.CreatedAt, now),
		}
		if err := tx.Create(&tag).Error; err != nil {
			return err
		}
		if legacy.ID != "" {
			r.tags[legacy.ID] = id
		}
		return nil
	})
}

// importResourceTag links the translated pair unless either side is unmapped
// or the pair already exists. It reports whether a row was inserted.
func (r *importRun) importResourceTag(legacy LegacyResourceTag) (bool, error) {
	resourceID, ok := r.resources[legacy.ResourceID]
	if !ok {
		return false, nil
	}
	tagID, ok := r.tags[legacy.TagID]
	if !ok {
		return false, nil
	}
	now := r.service.timestamp()

	inserted := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.ResourceTag{}).
			Where("resource_id = ? AND tag_id = ?", resourceID, tagID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		id, err := r.newID()
		if err != nil {
			return err
		}
		if err := tx.Create(&models.ResourceTag{
			ID:         id,
			ResourceID: resourceID,
			TagID:      tagID,
			CreatedAt:  parseLegacyTime(legacy.CreatedAt, now),
		}).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// importRsvp patches the status of an existing translated pair or inserts a
// new rsvp. Unmapped sides are skipped. It reports whether a row was inserted.
func (r *importRun) importRsvp(legacy LegacyRsvp) (bool, error) {
	userID, ok := r.users[legacy.UserID]
	if !ok {
		return false, nil
	}
	eventID, ok := r.events[legacy.EventID]
	if !ok {
		return false, nil
	}
	status := legacyStatus(legacy.Status)
	now := r.service.timestamp()

	inserted := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Rsvp
		err := tx.Where("user_id = ? AND event_id = ?", userID, eventID).Take(&existing).Error
		if err == nil {
			return tx.Model(&models.Rsvp{}).Where("id = ?", existing.ID).Update("status", status).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		id, err := r.newID()
		if err != nil {
			return err
		}
		if err := tx.Create(&models.Rsvp{
			ID:        id,
			LegacyID:  legacy.ID.ptr(),
			UserID:    userID,
			EventID:   eventID,
			Status:    status,
			CreatedAt: parseLegacyTime(legacy.CreatedAt, now),
		}).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func legacyStatus(raw *string) models.RsvpStatus {
	status, err := models.ParseRsvpStatus(stringOr(raw, ""))
	if err != nil {
		return models.RsvpGoing
	}
	return status
}

func stringOr(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func optional(value *string) *string {
	if value == nil {
		return nil
	}
	return models.StringPtr(*value)
}

func boolOr(value *bool) bool {
	return value != nil && *value
}
