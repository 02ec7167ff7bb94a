package relay

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/store"
)

// ErrorResponse is the JSON error body for API endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handlers provides the REST endpoints of the relay.
type Handlers struct {
	store store.Store
	jwt   *auth.JWTConfig
	log   *zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(st store.Store, jwt *auth.JWTConfig, logger *zerolog.Logger) *Handlers {
	return &Handlers{store: st, jwt: jwt, log: logger}
}

// CredentialsRequest is the body for register and login.
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries a signed token and its subject.
type TokenResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Register creates an account and returns a token.
// POST /api/register
func (h *Handlers) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error().Err(err).Msg("hash password")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), uuid.NewString(), req.Username, hash)
	if err != nil {
		// The unique constraint on username is the common failure here.
		h.log.Debug().Err(err).Str("username", req.Username).Msg("create user")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "username already taken"})
		return
	}

	h.issueToken(c, user)
}

// Login verifies credentials and returns a token.
// POST /api/login
func (h *Handlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.store.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Msg("lookup user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}

	h.issueToken(c, user)
}

func (h *Handlers) issueToken(c *gin.Context, user *store.User) {
	token, err := auth.GenerateToken(h.jwt, user.ID, user.Username)
	if err != nil {
		h.log.Error().Err(err).Msg("generate token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Token: token, UserID: user.ID, Username: user.Username})
}

// CallRecordResponse is one call history entry.
type CallRecordResponse struct {
	ID             string  `json:"id"`
	CallerUserID   string  `json:"caller_user_id"`
	CalleeUserID   string  `json:"callee_user_id"`
	ConversationID string  `json:"conversation_id"`
	IsVideoCall    bool    `json:"is_video_call"`
	IsGroupCall    bool    `json:"is_group_call"`
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	StartedAt      string  `json:"started_at"`
	EndedAt        *string `json:"ended_at,omitempty"`
}

// ListCalls returns the caller's recent call history.
// GET /api/calls?limit=N
func (h *Handlers) ListCalls(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	recs, err := h.store.ListCallsForUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("list calls")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]CallRecordResponse, 0, len(recs))
	for _, rec := range recs {
		resp := CallRecordResponse{
			ID:             rec.ID,
			CallerUserID:   rec.CallerUserID,
			CalleeUserID:   rec.CalleeUserID,
			ConversationID: rec.ConversationID,
			IsVideoCall:    rec.IsVideoCall,
			IsGroupCall:    rec.IsGroupCall,
			Status:         rec.Status,
			Reason:         rec.Reason,
			StartedAt:      rec.StartedAt.Format(time.RFC3339),
		}
		if rec.EndedAt != nil {
			endedAt := rec.EndedAt.Format(time.RFC3339)
			resp.EndedAt = &endedAt
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}
