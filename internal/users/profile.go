package users

import "github.com/ssaucsd/ssaucsd-org/internal/models"

// Profile is the member profile exposed to clients.
type Profile struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	FirstName      string      `json:"first_name"`
	LastName       string      `json:"last_name"`
	PreferredName  *string     `json:"preferred_name"`
	Instrument     *string     `json:"instrument"`
	Role           models.Role `json:"role"`
	Major          *string     `json:"major"`
	GraduationYear *int        `json:"graduation_year"`
	IsOnboarded    bool        `json:"is_onboarded"`
}

// NewProfile projects a stored user into a Profile.
func NewProfile(user models.User) Profile {
	return Profile{
		ID:             user.ID,
		Email:          user.Email,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		PreferredName:  user.PreferredName,
		Instrument:     user.Instrument,
		Role:           user.Role,
		Major:          user.Major,
		GraduationYear: user.GraduationYear,
		IsOnboarded:    user.IsOnboarded,
	}
}

// OnboardingState summarizes where the caller is in the onboarding flow.
type OnboardingState struct {
	Authenticated bool `json:"authenticated"`
	ProfileExists bool `json:"profile_exists"`
	IsOnboarded   bool `json:"is_onboarded"`
}

// OnboardingInput completes a member profile.
type OnboardingInput struct {
	PreferredName  string
	Instrument     string
	Major          string
	GraduationYear int
	Fallback       Fallback
}

// ProfileUpdate edits the caller's own profile.
type ProfileUpdate struct {
	PreferredName  string
	Major          string
	GraduationYear int
}

// AdminProfileUpdate edits any profile.
type AdminProfileUpdate struct {
	FirstName      string
	LastName       string
	PreferredName  *string
	Instrument     *string
	Role           models.Role
	Major          *string
	GraduationYear *int
}
