package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
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

const (
	opSync                 = "users.sync"
	opCurrentProfile       = "users.current_profile"
	opOnboardingState      = "users.onboarding_state"
	opCompleteOnboarding   = "users.complete_onboarding"
	opUpdateCurrentProfile = "users.update_current_profile"
	opListProfiles         = "users.list_profiles"
	opUpdateProfileByAdmin = "users.update_profile_by_admin"
	opDeleteProfile        = "users.delete_profile"

	minGraduationYear = 2000
	maxGraduationYear = 2100
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies required for profile management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider models.IDProvider
	Logger     *zap.Logger
	Analytics  analytics.Sink
	Notifier   ledger.Notifier
}

// Service resolves callers to member profiles and manages those profiles.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider models.IDProvider
	logger     *zap.Logger
	analytics  analytics.Sink
	notifier   ledger.Notifier
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
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

// Sync resolves the caller, creating the profile on first contact.
func (s *Service) Sync(ctx context.Context, caller *auth.Caller, fallback Fallback) (Profile, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = Resolve(tx, caller, fallback, s.idProvider, s.timestamp())
		return err
	})
	if err != nil {
		return Profile{}, s.fail(opSync, "resolve_failed", err)
	}
	return NewProfile(user), nil
}

// CurrentProfile returns the caller's profile, or nil when there is none.
func (s *Service) CurrentProfile(ctx context.Context, caller *auth.Caller) (*Profile, error) {
	user, err := FindByCaller(s.db.WithContext(ctx), caller)
	if err != nil {
		return nil, s.fail(opCurrentProfile, "lookup_failed", err)
	}
	if user == nil {
		return nil, nil
	}
	profile := NewProfile(*user)
	return &profile, nil
}

// FirstName returns the caller's preferred name, else their first name.
func (s *Service) FirstName(ctx context.Context, caller *auth.Caller) (*string, error) {
	profile, err := s.CurrentProfile(ctx, caller)
	if err != nil || profile == nil {
		return nil, err
	}
	if profile.PreferredName != nil && *profile.PreferredName != "" {
		return profile.PreferredName, nil
	}
	firstName := profile.FirstName
	return &firstName, nil
}

// IsAdmin reports whether the caller holds the admin role.
func (s *Service) IsAdmin(ctx context.Context, caller *auth.Caller) (bool, error) {
	profile, err := s.CurrentProfile(ctx, caller)
	if err != nil || profile == nil {
		return false, err
	}
	return profile.Role == models.RoleAdmin, nil
}

// OnboardingState reports whether the caller is signed in, has a profile, and finished onboarding.
func (s *Service) OnboardingState(ctx context.Context, caller *auth.Caller) (OnboardingState, error) {
	if caller == nil {
		return OnboardingState{}, nil
	}
	user, err := FindByCaller(s.db.WithContext(ctx), caller)
	if err != nil {
		return OnboardingState{}, s.fail(opOnboardingState, "lookup_failed", err)
	}
	state := OnboardingState{Authenticated: true}
	if user != nil {
		state.ProfileExists = true
		state.IsOnboarded = user.IsOnboarded
	}
	return state, nil
}

// CompleteOnboarding fills in the member fields and marks the profile onboarded.
func (s *Service) CompleteOnboarding(ctx context.Context, caller *auth.Caller, input OnboardingInput) (Profile, error) {
	if caller == nil {
		return Profile{}, apperror.AuthenticationRequired()
	}
	required := map[string]string{
		"preferred_name": input.PreferredName,
		"instrument":     input.Instrument,
		"major":          input.Major,
	}
	for _, field := range []string{"preferred_name", "instrument", "major"} {
		if strings.TrimSpace(required[field]) == "" {
			return Profile{}, apperror.ValidationFailed(field, field+" is required")
		}
	}
	if err := validateGraduationYear(input.GraduationYear); err != nil {
		return Profile{}, err
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.timestamp()
		resolved, err := Resolve(tx, caller, input.Fallback, s.idProvider, now)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"preferred_name":  strings.TrimSpace(input.PreferredName),
			"instrument":      strings.TrimSpace(input.Instrument),
			"major":           strings.TrimSpace(input.Major),
			"graduation_year": input.GraduationYear,
			"is_onboarded":    true,
			"updated_at":      now,
		}
		if err := tx.Model(&models.User{}).Where("id = ?", resolved.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", resolved.ID).Take(&user).Error
	})
	if err != nil {
		return Profile{}, s.fail(opCompleteOnboarding, "update_failed", err)
	}

	s.analytics.Capture(ctx, analytics.Event{
		Name:       analytics.EventOnboardingCompleted,
		DistinctID: user.ID,
		Properties: map[string]any{
			"instrument":      models.StringValue(user.Instrument),
			"major":           models.StringValue(user.Major),
			"graduation_year": input.GraduationYear,
		},
	})
	return NewProfile(user), nil
}

// UpdateCurrentProfile edits the caller's preferred name, major and graduation year.
func (s *Service) UpdateCurrentProfile(ctx context.Context, caller *auth.Caller, update ProfileUpdate) (Profile, error) {
	if caller == nil {
		return Profile{}, apperror.AuthenticationRequired()
	}
	if err := validateGraduationYear(update.GraduationYear); err != nil {
		return Profile{}, err
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.timestamp()
		resolved, err := Resolve(tx, caller, Fallback{}, s.idProvider, now)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"preferred_name":  models.StringPtr(update.PreferredName),
			"major":           models.StringPtr(update.Major),
			"graduation_year": update.GraduationYear,
			"updated_at":      now,
		}
		if err := tx.Model(&models.User{}).Where("id = ?", resolved.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", resolved.ID).Take(&user).Error
	})
	if err != nil {
		return Profile{}, s.fail(opUpdateCurrentProfile, "update_failed", err)
	}
	return NewProfile(user), nil
}

// ListProfiles returns every profile sorted by full name. Admin only.
func (s *Service) ListProfiles(ctx context.Context, caller *auth.Caller) ([]Profile, error) {
	db := s.db.WithContext(ctx)
	if _, err := RequireAdmin(db, caller); err != nil {
		return nil, s.fail(opListProfiles, "admin_check_failed", err)
	}
	var records []models.User
	if err := db.Find(&records).Error; err != nil {
		return nil, s.fail(opListProfiles, "query_failed", err)
	}
	profiles := make([]Profile, 0, len(records))
	for _, record := range records {
		profiles = append(profiles, NewProfile(record))
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		return fullNameKey(profiles[i]) < fullNameKey(profiles[j])
	})
	return profiles, nil
}

// UpdateProfileByAdmin overwrites the editable fields of any profile. Admin only.
func (s *Service) UpdateProfileByAdmin(ctx context.Context, caller *auth.Caller, userID string, update AdminProfileUpdate) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := RequireAdmin(tx, caller); err != nil {
			return err
		}
		if err := validateAdminUpdate(update); err != nil {
			return err
		}
		var existing models.User
		if err := tx.Where("id = ?", userID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NotFound("user", userID)
			}
			return err
		}
		updates := map[string]interface{}{
			"first_name":      strings.TrimSpace(update.FirstName),
			"last_name":       strings.TrimSpace(update.LastName),
			"preferred_name":  trimmedPtr(update.PreferredName),
			"instrument":      trimmedPtr(update.Instrument),
			"role":            update.Role,
			"major":           trimmedPtr(update.Major),
			"graduation_year": update.GraduationYear,
			"updated_at":      s.timestamp(),
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
	})
	if err != nil {
		return s.fail(opUpdateProfileByAdmin, "update_failed", err, zap.String("user_id", userID))
	}
	return nil
}

// DeleteProfile removes a profile and its rsvps, recounting the events those
// rsvps counted toward. Admin only.
func (s *Service) DeleteProfile(ctx context.Context, caller *auth.Caller, userID string) error {
	var result database.CascadeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := RequireAdmin(tx, caller); err != nil {
			return err
		}
		var err error
		result, err = database.UserCascade.Delete(tx, userID, s.timestamp())
		return err
	})
	if err != nil {
		return s.fail(opDeleteProfile, "delete_failed", err, zap.String("user_id", userID))
	}
	ledger.Publish(s.notifier, result.Recounted...)
	return nil
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// fail logs unexpected failures and wraps them; typed failures pass through.
func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	if apperror.IsTyped(err) {
		return err
	}
	s.logError(operation, reason, err, fields...)
	return apperror.Wrap(operation, reason, err)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}

func validateAdminUpdate(update AdminProfileUpdate) error {
	if strings.TrimSpace(update.FirstName) == "" {
		return apperror.ValidationFailed("first_name", "first_name is required")
	}
	if update.Role != models.RoleAdmin && update.Role != models.RoleUser {
		return apperror.ValidationFailed("role", "role must be admin or user")
	}
	if update.GraduationYear != nil {
		return validateGraduationYear(*update.GraduationYear)
	}
	return nil
}

func validateGraduationYear(year int) error {
	if year < minGraduationYear || year > maxGraduationYear {
		return apperror.ValidationFailed("graduation_year",
			fmt.Sprintf("graduation_year must be between %d and %d", minGraduationYear, maxGraduationYear))
	}
	return nil
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	return models.StringPtr(*value)
}

func fullNameKey(profile Profile) string {
	return strings.ToLower(profile.FirstName + " " + profile.LastName)
}
