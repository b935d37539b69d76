package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"github.com/ssaucsd/ssaucsd-org/internal/users"
)

type fallbackPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (p fallbackPayload) fallback() users.Fallback {
	return users.Fallback{Email: p.Email, FirstName: p.FirstName, LastName: p.LastName}
}

type onboardingPayload struct {
	fallbackPayload
	PreferredName  string `json:"preferred_name"`
	Instrument     string `json:"instrument"`
	Major          string `json:"major"`
	GraduationYear int    `json:"graduation_year"`
}

type profileUpdatePayload struct {
	PreferredName  string `json:"preferred_name"`
	Major          string `json:"major"`
	GraduationYear int    `json:"graduation_year"`
}

type adminProfilePayload struct {
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	PreferredName  *string `json:"preferred_name"`
	Instrument     *string `json:"instrument"`
	Role           string  `json:"role"`
	Major          *string `json:"major"`
	GraduationYear *int    `json:"graduation_year"`
}

func (h *httpHandler) handleCurrentProfile(c *gin.Context) {
	profile, err := h.users.CurrentProfile(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleSyncProfile(c *gin.Context) {
	var request fallbackPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			respondInvalidRequest(c)
			return
		}
	}
	profile, err := h.users.Sync(c.Request.Context(), callerFrom(c), request.fallback())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleUpdateCurrentProfile(c *gin.Context) {
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	profile, err := h.users.UpdateCurrentProfile(c.Request.Context(), callerFrom(c), users.ProfileUpdate{
		PreferredName:  request.PreferredName,
		Major:          request.Major,
		GraduationYear: request.GraduationYear,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleOnboardingState(c *gin.Context) {
	state, err := h.users.OnboardingState(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleCompleteOnboarding(c *gin.Context) {
	var request onboardingPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	profile, err := h.users.CompleteOnboarding(c.Request.Context(), callerFrom(c), users.OnboardingInput{
		PreferredName:  request.PreferredName,
		Instrument:     request.Instrument,
		Major:          request.Major,
		GraduationYear: request.GraduationYear,
		Fallback:       request.fallback(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleFirstName(c *gin.Context) {
	firstName, err := h.users.FirstName(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"first_name": firstName})
}

func (h *httpHandler) handleIsAdmin(c *gin.Context) {
	isAdmin, err := h.users.IsAdmin(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_admin": isAdmin})
}

func (h *httpHandler) handleListProfiles(c *gin.Context) {
	profiles, err := h.users.ListProfiles(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *httpHandler) handleAdminUpdateProfile(c *gin.Context) {
	var request adminProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	err := h.users.UpdateProfileByAdmin(c.Request.Context(), callerFrom(c), c.Param("id"), users.AdminProfileUpdate{
		FirstName:      request.FirstName,
		LastName:       request.LastName,
		PreferredName:  request.PreferredName,
		Instrument:     request.Instrument,
		Role:           models.Role(request.Role),
		Major:          request.Major,
		GraduationYear: request.GraduationYear,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteProfile(c *gin.Context) {
	if err := h.users.DeleteProfile(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
