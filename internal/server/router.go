package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ssaucsd/ssaucsd-org/internal/auth"
	"github.com/ssaucsd/ssaucsd-org/internal/events"
	"github.com/ssaucsd/ssaucsd-org/internal/migrations"
	"github.com/ssaucsd/ssaucsd-org/internal/resources"
	"github.com/ssaucsd/ssaucsd-org/internal/rsvps"
	"github.com/ssaucsd/ssaucsd-org/internal/users"
	"go.uber.org/zap"
)

const callerContextKey = "ssa_caller"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingSessionIssuer    = errors.New("session issuer dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingEventsService    = errors.New("events service dependency required")
	errMissingRsvpsService     = errors.New("rsvps service dependency required")
	errMissingResourcesService = errors.New("resources service dependency required")
	errMissingMigrations       = errors.New("migrations service dependency required")
)

// IdentityVerifier verifies identity provider ID tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.Caller, error)
}

// SessionIssuer mints backend session tokens.
type SessionIssuer interface {
	Issue(ctx context.Context, caller auth.Caller) (string, int64, error)
}

// SessionValidator authenticates requests carrying a backend session.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// Dependencies wires the HTTP surface. IdentityVerifier and Realtime are
// optional; without them the session exchange and the stream are not routed.
type Dependencies struct {
	IdentityVerifier IdentityVerifier
	SessionIssuer    SessionIssuer
	SessionValidator SessionValidator
	Users            *users.Service
	Events           *events.Service
	Rsvps            *rsvps.Service
	Resources        *resources.Service
	Migrations       *migrations.Service
	Realtime         *RealtimeDispatcher
	AllowedOrigins   []string
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.SessionValidator == nil:
		return nil, errMissingSessionValidator
	case deps.SessionIssuer == nil:
		return nil, errMissingSessionIssuer
	case deps.Users == nil:
		return nil, errMissingUsersService
	case deps.Events == nil:
		return nil, errMissingEventsService
	case deps.Rsvps == nil:
		return nil, errMissingRsvpsService
	case deps.Resources == nil:
		return nil, errMissingResourcesService
	case deps.Migrations == nil:
		return nil, errMissingMigrations
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		verifier:          deps.IdentityVerifier,
		issuer:            deps.SessionIssuer,
		sessions:          deps.SessionValidator,
		users:             deps.Users,
		events:            deps.Events,
		rsvps:             deps.Rsvps,
		resources:         deps.Resources,
		migrations:        deps.Migrations,
		realtime:          deps.Realtime,
		logger:            logger,
		heartbeatInterval: defaultHeartbeatInterval,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if handler.verifier != nil {
		router.POST("/auth/session", handler.handleCreateSession)
	}
	router.DELETE("/auth/session", handler.handleDeleteSession)

	migrationRoutes := router.Group("/migrations")
	migrationRoutes.POST("/backfill-going-counts", handler.handleBackfillGoingCounts)
	migrationRoutes.POST("/import", handler.handleImportSnapshot)
	migrationRoutes.GET("/table-counts", handler.handleTableCounts)

	if handler.realtime != nil {
		router.GET("/events/stream", handler.handleGoingCountStream)
	}

	api := router.Group("/")
	api.Use(handler.authenticateRequest)

	api.GET("/me", handler.handleCurrentProfile)
	api.PUT("/me", handler.handleUpdateCurrentProfile)
	api.POST("/me/sync", handler.handleSyncProfile)
	api.GET("/me/onboarding", handler.handleOnboardingState)
	api.POST("/me/onboarding", handler.handleCompleteOnboarding)
	api.GET("/me/first-name", handler.handleFirstName)
	api.GET("/me/admin", handler.handleIsAdmin)
	api.GET("/me/rsvps", handler.handleCurrentUserEvents)

	api.GET("/events", handler.handleListEvents)
	api.GET("/events/upcoming", handler.handleUpcomingEvents)
	api.GET("/events/upcoming/rsvp", handler.handleUpcomingEventsWithRsvp)
	api.GET("/events/web", handler.handleWebEvents)
	api.GET("/events/:id", handler.handleGetEvent)
	api.GET("/events/:id/rsvp", handler.handleGetRsvp)
	api.PUT("/events/:id/rsvp", handler.handleUpsertRsvp)
	api.DELETE("/events/:id/rsvp", handler.handleRemoveRsvp)

	api.GET("/resources", handler.handleListResources)
	api.GET("/resources/pinned", handler.handleListPinnedResources)
	api.GET("/resources/tagged", handler.handleListTaggedResources)
	api.GET("/resources/pinned/tagged", handler.handleListPinnedTaggedResources)
	api.GET("/tags", handler.handleListTags)

	admin := api.Group("/admin")
	admin.POST("/events", handler.handleCreateEvent)
	admin.PUT("/events/:id", handler.handleUpdateEvent)
	admin.DELETE("/events/:id", handler.handleDeleteEvent)
	admin.GET("/events/:id/rsvps", handler.handleAdminEventRsvps)
	admin.GET("/users", handler.handleListProfiles)
	admin.PUT("/users/:id", handler.handleAdminUpdateProfile)
	admin.DELETE("/users/:id", handler.handleDeleteProfile)
	admin.POST("/resources", handler.handleCreateResource)
	admin.PUT("/resources/:id", handler.handleUpdateResource)
	admin.DELETE("/resources/:id", handler.handleDeleteResource)
	admin.POST("/tags", handler.handleCreateTag)
	admin.PUT("/tags/:id", handler.handleUpdateTag)
	admin.DELETE("/tags/:id", handler.handleDeleteTag)

	return router, nil
}

type httpHandler struct {
	verifier          IdentityVerifier
	issuer            SessionIssuer
	sessions          SessionValidator
	users             *users.Service
	events            *events.Service
	rsvps             *rsvps.Service
	resources         *resources.Service
	migrations        *migrations.Service
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", migrationSecretHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		if origin == "*" {
			wildcard = true
			break
		}
		origins = append(origins, origin)
	}
	if wildcard {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

// authenticateRequest attaches the session caller when a credential is
// present. Requests without one continue anonymously.
func (h *httpHandler) authenticateRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSessionToken) {
			c.Next()
			return
		}
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	caller := claims.Caller()
	c.Set(callerContextKey, &caller)
	c.Next()
}

// callerFrom returns the authenticated caller, or nil for anonymous requests.
func callerFrom(c *gin.Context) *auth.Caller {
	value, ok := c.Get(callerContextKey)
	if !ok {
		return nil
	}
	caller, _ := value.(*auth.Caller)
	return caller
}
