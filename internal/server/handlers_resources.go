package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ssaucsd/ssaucsd-org/internal/resources"
)

type resourcePayload struct {
	Name        string   `json:"name"`
	Link        string   `json:"link"`
	Description *string  `json:"description"`
	IsPinned    bool     `json:"is_pinned"`
	TagIDs      []string `json:"tag_ids"`
}

func (p resourcePayload) input() resources.ResourceInput {
	return resources.ResourceInput{
		Name:        p.Name,
		Link:        p.Link,
		Description: p.Description,
		IsPinned:    p.IsPinned,
		TagIDs:      p.TagIDs,
	}
}

type tagPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleListResources(c *gin.Context) {
	views, err := h.resources.ListResources(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleListPinnedResources(c *gin.Context) {
	views, err := h.resources.ListPinned(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleListTaggedResources(c *gin.Context) {
	views, err := h.resources.ListResourcesWithTags(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleListPinnedTaggedResources(c *gin.Context) {
	views, err := h.resources.ListPinnedWithTags(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	tags, err := h.resources.ListTags(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (h *httpHandler) handleCreateResource(c *gin.Context) {
	var request resourcePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	view, err := h.resources.CreateResource(c.Request.Context(), callerFrom(c), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleUpdateResource(c *gin.Context) {
	var request resourcePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	view, err := h.resources.UpdateResource(c.Request.Context(), callerFrom(c), c.Param("id"), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteResource(c *gin.Context) {
	if err := h.resources.DeleteResource(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreateTag(c *gin.Context) {
	var request tagPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	tag, err := h.resources.CreateTag(c.Request.Context(), callerFrom(c), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

func (h *httpHandler) handleUpdateTag(c *gin.Context) {
	var request tagPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	tag, err := h.resources.UpdateTag(c.Request.Context(), callerFrom(c), c.Param("id"), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tag)
}

func (h *httpHandler) handleDeleteTag(c *gin.Context) {
	if err := h.resources.DeleteTag(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
