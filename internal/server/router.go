package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/basketwire/backend/internal/auth"
	"github.com/basketwire/backend/internal/family"
	"github.com/basketwire/backend/internal/grocery"
	"github.com/basketwire/backend/internal/realtime"
	"github.com/basketwire/backend/internal/session"
	"github.com/basketwire/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userContextKey = "basketwire_user"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingFamilyStore    = errors.New("family store dependency required")
	errMissingGroceryService = errors.New("grocery service dependency required")
	errMissingHub            = errors.New("realtime hub dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates session tokens.
type TokenManager interface {
	IssueSessionToken(ctx context.Context, user session.User) (string, int64, error)
	ValidateSessionToken(token string) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenManager   TokenManager
	UserService    *users.Service
	FamilyStore    *family.Store
	GroceryService *grocery.Service
	Hub            *realtime.Hub
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router for the sync backend.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.FamilyStore == nil {
		return nil, errMissingFamilyStore
	}
	if deps.GroceryService == nil {
		return nil, errMissingGroceryService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:  deps.TokenManager,
		users:   deps.UserService,
		family:  deps.FamilyStore,
		grocery: deps.GroceryService,
		hub:     deps.Hub,
		logger:  logger,
	}

	router.POST("/auth/session", handler.handleCreateSession)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/realtime/stream", handler.handleRealtimeStream)
	protected.POST("/realtime/publish", handler.handleRealtimePublish)
	protected.GET("/family/list", handler.handleFamilyListLoad)
	protected.POST("/family/list", handler.handleFamilyListSave)
	protected.GET("/family/invitations", handler.handleFamilyInvitationsList)
	protected.POST("/family/invitations", handler.handleFamilyInvite)
	protected.GET("/lists", handler.handleSavedListsList)
	protected.POST("/lists", handler.handleSavedListCreate)

	return router, nil
}

type httpHandler struct {
	tokens  TokenManager
	users   *users.Service
	family  *family.Store
	grocery *grocery.Service
	hub     *realtime.Hub
	logger  *zap.Logger
}

type sessionRequestPayload struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user := session.User{
		ID:          strings.TrimSpace(request.UserID),
		Email:       request.Email,
		DisplayName: request.DisplayName,
		Avatar:      request.Avatar,
	}

	if h.users != nil {
		if _, err := h.users.Remember(user); err != nil {
			h.logger.Warn("failed to record user identity", zap.Error(err))
		}
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), user)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type familyListSavePayload struct {
	Name  string         `json:"name"`
	Items []grocery.Item `json:"items"`
}

func (h *httpHandler) handleFamilyListSave(c *gin.Context) {
	user := h.currentUser(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request familyListSavePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		name = "Family Shopping List"
	}

	encoded, err := json.Marshal(request.Items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_items"})
		return
	}

	row := family.ShoppingList{
		ListID:        newRowID(),
		FamilyID:      familyIDFor(user.ID),
		Name:          name,
		ItemsJSON:     string(encoded),
		CreatedBy:     user.ID,
		CreatedByName: user.Name(),
	}
	if err := h.family.AppendList(c.Request.Context(), row); err != nil {
		h.logger.Error("failed to save family list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"list_id": row.ListID, "item_count": len(request.Items)})
}

func (h *httpHandler) handleFamilyListLoad(c *gin.Context) {
	user := h.currentUser(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	row, found, err := h.family.LatestList(c.Request.Context(), familyIDFor(user.ID))
	if err != nil {
		h.logger.Error("failed to load family list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"items": []grocery.Item{}})
		return
	}

	var items []grocery.Item
	if err := json.Unmarshal([]byte(row.ItemsJSON), &items); err != nil {
		h.logger.Error("failed to decode family list items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"list_id":    row.ListID,
		"name":       row.Name,
		"created_by": row.CreatedBy,
		"items":      items,
	})
}

type invitePayload struct {
	Email string `json:"email"`
}

func (h *httpHandler) handleFamilyInvite(c *gin.Context) {
	user := h.currentUser(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request invitePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	invitation := family.Invitation{
		InvitationID:  newRowID(),
		FamilyID:      familyIDFor(user.ID),
		InvitedBy:     user.ID,
		InvitedByName: user.Name(),
		InvitedEmail:  strings.TrimSpace(request.Email),
		Status:        family.InvitationPending,
	}
	if err := h.family.CreateInvitation(c.Request.Context(), invitation); err != nil {
		h.logger.Error("failed to create invitation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invite_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invitation_id": invitation.InvitationID, "status": invitation.Status})
}

func (h *httpHandler) handleFamilyInvitationsList(c *gin.Context) {
	user := h.currentUser(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	invitations, err := h.family.ListInvitations(c.Request.Context(), familyIDFor(user.ID))
	if err != nil {
		h.logger.Error("failed to list invitations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	type invitationPayload struct {
		InvitationID string    `json:"invitation_id"`
		InvitedEmail string    `json:"invited_email"`
		Status       string    `json:"status"`
		CreatedAt    time.Time `json:"created_at"`
	}
	response := make([]invitationPayload, 0, len(invitations))
	for _, invitation := range invitations {
		response = append(response, invitationPayload{
			InvitationID: invitation.InvitationID,
			InvitedEmail: invitation.InvitedEmail,
			Status:       string(invitation.Status),
			CreatedAt:    invitation.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"invitations": response})
}

type savedListPayload struct {
	Name   string         `json:"name"`
	Source string         `json:"source"`
	Items  []grocery.Item `json:"items"`
}

func (h *httpHandler) handleSavedListCreate(c *gin.Context) {
	user := h.currentUser(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request savedListPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	row, err := h.grocery.SaveList(c.Request.Context(), user.ID, request.Name, request.Source, request.Items)
	if err != nil {
		h.logger.Error("failed to save shopping list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"list_id": row.ListID, "item_count": row.ItemCount})
}

func (h *httpHandler) handleSavedListsList(c *gin.Context) {
	user := h.currentUser(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	rows, err := h.grocery.ListLists(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list shopping lists", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	type listPayload struct {
		ListID    string    `json:"list_id"`
		Name      string    `json:"name"`
		Source    string    `json:"source,omitempty"`
		ItemCount int       `json:"item_count"`
		CreatedAt time.Time `json:"created_at"`
	}
	response := make([]listPayload, 0, len(rows))
	for _, row := range rows {
		response = append(response, listPayload{
			ListID:    row.ListID,
			Name:      row.Name,
			Source:    row.Source,
			ItemCount: row.ItemCount,
			CreatedAt: row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"lists": response})
}

// authorizeRequest accepts a Bearer header or, for EventSource clients that
// cannot set headers, an access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.tokens.ValidateSessionToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userContextKey, claims.User())
	c.Next()
}

func (h *httpHandler) currentUser(c *gin.Context) session.User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return session.User{}
	}
	user, ok := value.(session.User)
	if !ok {
		return session.User{}
	}
	return user
}

func familyIDFor(userID string) string {
	return "family_" + userID
}
