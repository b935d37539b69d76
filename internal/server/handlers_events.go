package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"github.com/ssaucsd/ssaucsd-org/internal/events"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
)

type eventPayload struct {
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	ImageURL    string    `json:"image_url"`
	IsAllDay    bool      `json:"is_all_day"`
}

func (p eventPayload) input() events.Input {
	return events.Input{
		Title:       p.Title,
		Description: p.Description,
		Location:    p.Location,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		ImageURL:    p.ImageURL,
		IsAllDay:    p.IsAllDay,
	}
}

type rsvpPayload struct {
	Status string `json:"status"`
}

type rsvpStatusPayload struct {
	Status *models.RsvpStatus `json:"status"`
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	views, err := h.events.GetAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleUpcomingEvents(c *gin.Context) {
	views, err := h.events.GetUpcoming(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleUpcomingEventsWithRsvp(c *gin.Context) {
	views, err := h.events.GetUpcomingWithRsvp(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleWebEvents(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondInvalidRequest(c)
			return
		}
		limit = parsed
	}
	views, err := h.events.GetForWeb(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGetEvent(c *gin.Context) {
	id := c.Param("id")
	view, err := h.events.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if view == nil {
		h.respondError(c, apperror.NotFound("event", id))
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleGetRsvp(c *gin.Context) {
	status, err := h.rsvps.Current(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rsvpStatusPayload{Status: status})
}

func (h *httpHandler) handleUpsertRsvp(c *gin.Context) {
	var request rsvpPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	if err := h.rsvps.Upsert(c.Request.Context(), callerFrom(c), c.Param("id"), models.RsvpStatus(request.Status)); err != nil {
		h.respondError(c, err)
		return
	}
	status, _ := models.ParseRsvpStatus(request.Status)
	c.JSON(http.StatusOK, rsvpStatusPayload{Status: &status})
}

func (h *httpHandler) handleRemoveRsvp(c *gin.Context) {
	if err := h.rsvps.Remove(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCurrentUserEvents(c *gin.Context) {
	views, err := h.rsvps.ListCurrentUserEvents(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	var request eventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	view, err := h.events.Create(c.Request.Context(), callerFrom(c), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleUpdateEvent(c *gin.Context) {
	var request eventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	view, err := h.events.Update(c.Request.Context(), callerFrom(c), c.Param("id"), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	if err := h.events.Delete(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAdminEventRsvps(c *gin.Context) {
	list, err := h.events.GetRsvpsForAdmin(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
