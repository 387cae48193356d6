package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tavernfolk/tavern/internal/access"
	"github.com/tavernfolk/tavern/internal/dice"
	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/identity"
	"github.com/tavernfolk/tavern/internal/initiative"
	"github.com/tavernfolk/tavern/internal/membership"
	"github.com/tavernfolk/tavern/internal/notes"
	"github.com/tavernfolk/tavern/internal/tables"
	"go.uber.org/zap"
)

const userIDContextKey = "tavern_user_id"

var (
	errMissingTokenManager      = errors.New("token manager dependency required")
	errMissingIdentityService   = errors.New("identity service dependency required")
	errMissingTablesService     = errors.New("tables service dependency required")
	errMissingMembershipService = errors.New("membership service dependency required")
	errMissingNotesService      = errors.New("notes service dependency required")
	errMissingAccessService     = errors.New("access service dependency required")
	errMissingDiceService       = errors.New("dice service dependency required")
	errMissingInitiativeService = errors.New("initiative service dependency required")
	errInvalidAuthorization     = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens guarding every
// route below /auth.
type TokenManager interface {
	IssueToken(subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager      TokenManager
	IdentityService   *identity.Service
	TablesService     *tables.Service
	MembershipService *membership.Service
	NotesService      *notes.Service
	AccessService     *access.Service
	DiceService       *dice.Service
	InitiativeService *initiative.Service
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.IdentityService == nil {
		return nil, errMissingIdentityService
	}
	if deps.TablesService == nil {
		return nil, errMissingTablesService
	}
	if deps.MembershipService == nil {
		return nil, errMissingMembershipService
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.AccessService == nil {
		return nil, errMissingAccessService
	}
	if deps.DiceService == nil {
		return nil, errMissingDiceService
	}
	if deps.InitiativeService == nil {
		return nil, errMissingInitiativeService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		identity:   deps.IdentityService,
		tables:     deps.TablesService,
		members:    deps.MembershipService,
		notes:      deps.NotesService,
		access:     deps.AccessService,
		dice:       deps.DiceService,
		initiative: deps.InitiativeService,
		logger:     logger,
	}

	router.POST("/auth/signup", handler.handleSignup)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/tables", handler.handleListTables)
	protected.POST("/tables", handler.handleCreateTable)
	protected.POST("/tables/join", handler.handleJoinTable)
	protected.GET("/tables/:table_id", handler.handleGetTable)
	protected.DELETE("/tables/:table_id", handler.handleDeleteTable)
	protected.POST("/tables/:table_id/leave", handler.handleLeaveTable)
	protected.GET("/tables/:table_id/members", handler.handleListMembers)
	protected.DELETE("/tables/:table_id/members/:user_id", handler.handleRemoveMember)
	protected.PUT("/tables/:table_id/members/:user_id/visibility", handler.handleSetDefaultVisibility)

	protected.GET("/tables/:table_id/notes", handler.handleListNotes)
	protected.POST("/tables/:table_id/notes", handler.handleCreateNote)
	protected.GET("/notes/:note_id", handler.handleGetNote)
	protected.PUT("/notes/:note_id", handler.handleEditNote)
	protected.DELETE("/notes/:note_id", handler.handleDeleteNote)
	protected.POST("/notes/:note_id/duplicate", handler.handleDuplicateNote)
	protected.GET("/notes/:note_id/access", handler.handleResolveAccess)
	protected.PUT("/notes/:note_id/overrides/:user_id", handler.handleSetOverride)
	protected.DELETE("/notes/:note_id/overrides/:user_id", handler.handleClearOverride)

	protected.POST("/dice/roll", handler.handleDiceRoll)
	protected.GET("/dice/history", handler.handleDiceHistory)
	protected.GET("/tables/:table_id/dice/history", handler.handleTableDiceHistory)

	protected.POST("/tables/:table_id/initiative/sessions", handler.handleStartSession)
	protected.GET("/tables/:table_id/initiative/sessions/active", handler.handleActiveSession)
	protected.GET("/initiative/sessions/:session_id/entries", handler.handleSortedEntries)
	protected.POST("/initiative/sessions/:session_id/entries", handler.handleAddEntry)
	protected.POST("/initiative/sessions/:session_id/next-turn", handler.handleNextTurn)
	protected.POST("/initiative/sessions/:session_id/end", handler.handleEndSession)
	protected.PUT("/initiative/entries/:entry_id", handler.handleUpdateEntry)
	protected.DELETE("/initiative/entries/:entry_id", handler.handleRemoveEntry)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	identity   *identity.Service
	tables     *tables.Service
	members    *membership.Service
	notes      *notes.Service
	access     *access.Service
	dice       *dice.Service
	initiative *initiative.Service
	logger     *zap.Logger
}

type credentialsPayload struct {
	Handle   string `json:"handle"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponsePayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

type userPayload struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Email  string `json:"email"`
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.identity.Register(c.Request.Context(), request.Handle, request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondSession(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.identity.Authenticate(c.Request.Context(), request.Handle, request.Password)
	if err != nil {
		if fault.IsKind(err, fault.KindAuthorization) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": fault.CodeOf(err)})
			return
		}
		h.respondError(c, err)
		return
	}
	h.respondSession(c, http.StatusOK, user)
}

func (h *httpHandler) respondSession(c *gin.Context, status int, user identity.User) {
	token, expiresIn, err := h.tokens.IssueToken(user.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        userPayload{ID: user.ID, Handle: user.Handle, Email: user.Email},
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) actorID(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

// respondError translates a service fault into a transport status. The
// dotted code travels with the response so clients can branch without
// parsing messages.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind, ok := fault.KindOf(err)
	if !ok {
		h.logger.Error("unclassified error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case fault.KindValidation:
		status = http.StatusBadRequest
	case fault.KindAuthorization:
		status = http.StatusForbidden
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindStorage:
		h.logger.Error("storage error", zap.Error(err))
	}

	c.JSON(status, gin.H{"error": string(kind), "code": fault.CodeOf(err)})
}
