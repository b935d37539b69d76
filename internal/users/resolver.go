package users

import (
	"errors"
	"strings"
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/auth"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"gorm.io/gorm"
)

const placeholderFirstName = "Member"

// Fallback carries profile defaults used when the caller descriptor lacks them.
type Fallback struct {
	Email     string
	FirstName string
	LastName  string
}

// FindByCaller returns the user matching the caller by subject, then by email.
// It returns nil without error when the caller is absent or unmatched.
func FindByCaller(tx *gorm.DB, caller *auth.Caller) (*models.User, error) {
	if caller == nil {
		return nil, nil
	}
	return findUser(tx, strings.TrimSpace(caller.Subject), resolveEmail(caller.Email))
}

// Resolve maps the caller to exactly one user, creating it on first contact.
// A user found by email only gets the caller's subject written onto it.
func Resolve(tx *gorm.DB, caller *auth.Caller, fallback Fallback, ids models.IDProvider, now time.Time) (models.User, error) {
	if caller == nil {
		return models.User{}, apperror.AuthenticationRequired()
	}
	subject := strings.TrimSpace(caller.Subject)
	email := resolveEmail(caller.Email, fallback.Email)

	existing, err := findUser(tx, subject, email)
	if err != nil {
		return models.User{}, err
	}
	if existing != nil {
		return patchIdentity(tx, *existing, subject, email, now)
	}

	if email == "" {
		return models.User{}, apperror.MissingEmail()
	}

	id, err := ids.NewID()
	if err != nil {
		return models.User{}, err
	}
	firstName, lastName := initialNames(caller, fallback)
	user := models.User{
		ID:              id,
		ExternalSubject: models.StringPtr(subject),
		Email:           email,
		FirstName:       firstName,
		LastName:        lastName,
		Role:            models.RoleUser,
		IsOnboarded:     false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.Create(&user).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

// RequireAdmin resolves the caller without creating a profile and demands the admin role.
func RequireAdmin(tx *gorm.DB, caller *auth.Caller) (models.User, error) {
	if caller == nil {
		return models.User{}, apperror.AuthenticationRequired()
	}
	user, err := FindByCaller(tx, caller)
	if err != nil {
		return models.User{}, err
	}
	if user == nil {
		return models.User{}, apperror.AuthorizationDenied("user profile not found")
	}
	if user.Role != models.RoleAdmin {
		return models.User{}, apperror.AuthorizationDenied("admin access required")
	}
	return *user, nil
}

func findUser(tx *gorm.DB, subject, email string) (*models.User, error) {
	if subject != "" {
		var user models.User
		err := tx.Where("external_subject = ?", subject).Take(&user).Error
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if email == "" {
		return nil, nil
	}
	var user models.User
	err := tx.Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func patchIdentity(tx *gorm.DB, user models.User, subject, email string, now time.Time) (models.User, error) {
	updates := map[string]interface{}{}
	if user.ExternalSubject == nil && subject != "" {
		updates["external_subject"] = subject
	}
	if email != "" && email != user.Email {
		var holders int64
		if err := tx.Model(&models.User{}).
			Where("email = ? AND id <> ?", email, user.ID).
			Count(&holders).Error; err != nil {
			return models.User{}, err
		}
		if holders > 0 {
			return models.User{}, apperror.Conflict("user", "email")
		}
		updates["email"] = email
	}
	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_at"] = now
	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return models.User{}, err
	}
	var reloaded models.User
	if err := tx.Where("id = ?", user.ID).Take(&reloaded).Error; err != nil {
		return models.User{}, err
	}
	return reloaded, nil
}

func resolveEmail(candidates ...string) string {
	for _, candidate := range candidates {
		normalized := models.NormalizeEmail(candidate)
		if normalized != "" && strings.Contains(normalized, "@") {
			return normalized
		}
	}
	return ""
}

// initialNames picks names for a new profile: explicit given/family claims,
// then the split display name, then the fallback, then the placeholder.
func initialNames(caller *auth.Caller, fallback Fallback) (string, string) {
	parsedFirst, parsedLast := splitName(caller.Name)
	if parsedFirst == "" {
		parsedFirst = strings.TrimSpace(fallback.FirstName)
		parsedLast = strings.TrimSpace(fallback.LastName)
	}
	if parsedFirst == "" {
		parsedFirst = placeholderFirstName
		parsedLast = ""
	}

	firstName := strings.TrimSpace(caller.GivenName)
	if firstName == "" {
		firstName = parsedFirst
	}
	lastName := strings.TrimSpace(caller.FamilyName)
	if lastName == "" {
		lastName = parsedLast
	}
	return firstName, lastName
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
