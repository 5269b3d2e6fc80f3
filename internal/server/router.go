package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/auth"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/notes"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/realtime"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/rooms"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "notesmary_user_id"
	userEmailContextKey = "notesmary_user_email"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingProfileResolver  = errors.New("profile resolver dependency required")
	errMissingRoomStore        = errors.New("room store dependency required")
	errMissingNotesService     = errors.New("notes service dependency required")
	errMissingTransport        = errors.New("realtime transport dependency required")
)

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// ProfileResolver upserts the caller's profile from session claims.
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, claims auth.SessionClaims) (users.Profile, error)
}

// RoomStore is the row store behind the room endpoints.
type RoomStore interface {
	rooms.Backend
	CreateRoom(ctx context.Context, input rooms.RoomInput, creatorID string) (rooms.Room, error)
	JoinRoom(ctx context.Context, roomID, userID, password string) (rooms.Member, error)
	PostMessage(ctx context.Context, roomID, userID, content string) (rooms.Message, error)
	RemoveMemberAsAdmin(ctx context.Context, roomID, adminID, userID string) (int64, error)
}

type Dependencies struct {
	SessionValidator SessionValidator
	Profiles         ProfileResolver
	Rooms            RoomStore
	NotesService     *notes.Service
	Transport        realtime.Transport
	// AllowedOrigins lists browser origins trusted with credentialed requests and websocket upgrades.
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileResolver
	}
	if deps.Rooms == nil {
		return nil, errMissingRoomStore
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.Transport == nil {
		return nil, errMissingTransport
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origins := newOriginPolicy(deps.AllowedOrigins)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(origins.corsMiddleware())

	handler := &httpHandler{
		sessions:     deps.SessionValidator,
		profiles:     deps.Profiles,
		rooms:        deps.Rooms,
		notesService: deps.NotesService,
		transport:    deps.Transport,
		origins:      origins,
		upgrader:     origins.upgrader(),
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.POST("/rooms", handler.handleCreateRoom)
	protected.GET("/rooms/:id", handler.handleGetRoom)
	protected.POST("/rooms/:id/join", handler.handleJoinRoom)
	protected.POST("/rooms/:id/messages", handler.handlePostMessage)
	protected.DELETE("/rooms/:id/members/me", handler.handleLeaveRoom)
	protected.DELETE("/rooms/:id/members/:userId", handler.handleRemoveMember)
	protected.DELETE("/rooms/:id", handler.handleDeleteRoom)
	protected.GET("/rooms/:id/live", handler.handleRoomLive)

	protected.POST("/notes", handler.handleUploadNote)
	protected.GET("/notes", handler.handleListNotes)
	protected.GET("/notes/search", handler.handleSearchNotes)
	protected.GET("/notes/drafts", handler.handleListDrafts)
	protected.GET("/notes/recent", handler.handleRecentNotes)
	protected.POST("/notes/sync", handler.handleSyncNotes)
	protected.GET("/notes/:id", handler.handleGetNote)

	protected.GET("/realtime", handler.handleRealtime)

	return router, nil
}

type httpHandler struct {
	sessions     SessionValidator
	profiles     ProfileResolver
	rooms        RoomStore
	notesService *notes.Service
	transport    realtime.Transport
	origins      originPolicy
	upgrader     *websocket.Upgrader
	logger       *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if carriesAmbientCredentials(c.Request) && !h.origins.allows(c.Request) {
		h.logger.Warn("cross-origin cookie request refused", zap.String("origin", c.Request.Header.Get("Origin")))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin_not_allowed"})
		return
	}
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	profile, err := h.profiles.ResolveProfile(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("profile resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "profile_unavailable"})
		return
	}
	c.Set(userIDContextKey, profile.ID)
	c.Set(userEmailContextKey, profile.Email)
	c.Next()
}

func currentUser(c *gin.Context) *rooms.User {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		return nil
	}
	return &rooms.User{ID: userID, Email: c.GetString(userEmailContextKey)}
}
