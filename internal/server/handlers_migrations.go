package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ssaucsd/ssaucsd-org/internal/migrations"
)

const migrationSecretHeader = "X-Migration-Secret"

type importRequestPayload struct {
	ClearExisting bool                `json:"clear_existing"`
	Snapshot      migrations.Snapshot `json:"snapshot"`
}

func (h *httpHandler) handleBackfillGoingCounts(c *gin.Context) {
	result, err := h.migrations.BackfillGoingCounts(c.Request.Context(), c.GetHeader(migrationSecretHeader))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleImportSnapshot(c *gin.Context) {
	var request importRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	counts, err := h.migrations.ImportSnapshot(c.Request.Context(), c.GetHeader(migrationSecretHeader), request.Snapshot, request.ClearExisting)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *httpHandler) handleTableCounts(c *gin.Context) {
	counts, err := h.migrations.TableCounts(c.Request.Context(), c.GetHeader(migrationSecretHeader))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}
