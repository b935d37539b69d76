package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ssaucsd/ssaucsd-org/internal/users"
	"go.uber.org/zap"
)

type sessionRequestPayload struct {
	IDToken string `json:"id_token"`
}

type sessionResponsePayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	TokenType   string        `json:"token_type"`
	Profile     users.Profile `json:"profile"`
}

// handleCreateSession exchanges an identity provider ID token for a backend
// session and makes sure the member profile exists.
func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		respondInvalidRequest(c)
		return
	}

	caller, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	profile, err := h.users.Sync(c.Request.Context(), &caller, users.Fallback{})
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, expiresIn, err := h.issuer.Issue(c.Request.Context(), caller)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(expiresIn), "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Profile:     profile,
	})
}

func (h *httpHandler) handleDeleteSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", c.Request.TLS != nil, true)
	c.Status(http.StatusNoContent)
}
