package api

import (
	"net/http"
	"strings"

	"bintrade-core/internal/access"
	"bintrade-core/internal/users"
	"bintrade-core/pkg/db"

	"github.com/gin-gonic/gin"
)

const (
	userContextKey = "UserID"
	roleContextKey = "Role"
)

// AuthMiddleware enforces JWT auth for protected routes. The role is reloaded from the store
// so a demotion takes effect before the token expires.
func (s *Server) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		claims, err := s.Tokens.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}
		user, err := s.Users.Get(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "account no longer exists",
			})
			return
		}

		c.Set(userContextKey, user.ID)
		c.Set(roleContextKey, user.Role)
		c.Next()
	}
}

// RequireCapability rejects callers whose role lacks want. It must run after AuthMiddleware.
func RequireCapability(want access.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !access.Can(CurrentRole(c), want) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "FORBIDDEN",
				"error": "insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(userContextKey)
}

// CurrentRole returns the authenticated user's role from context.
func CurrentRole(c *gin.Context) string {
	return c.GetString(roleContextKey)
}

type loginRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	User      *db.User `json:"user"`
}

func (s *Server) issueSession(c *gin.Context, status int, user *db.User) {
	token, expiresAt, err := s.Tokens.Issue(user.ID, user.Role)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}
	c.JSON(status, sessionResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(timeFormat),
		User:      user,
	})
}

// registerUser handles user registration and signs the new user in.
func (s *Server) registerUser(c *gin.Context) {
	var req users.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	user, err := s.Users.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	s.issueSession(c, http.StatusCreated, user)
}

// loginUser accepts a username or an email in login, email or username.
func (s *Server) loginUser(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	login := firstNonEmpty(req.Login, req.Email, req.Username)
	if login == "" {
		respondError(c, http.StatusBadRequest, "MISSING_CREDENTIALS", "login and password are required")
		return
	}
	user, err := s.Users.Authenticate(c.Request.Context(), login, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	s.issueSession(c, http.StatusOK, user)
}

func (s *Server) getMe(c *gin.Context) {
	user, err := s.Users.Get(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":         user,
		"capabilities": capabilityList(user.Role),
	})
}

func (s *Server) updateMe(c *gin.Context) {
	var req users.Profile
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	user, err := s.Users.UpdateProfile(c.Request.Context(), CurrentUserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func capabilityList(role string) []access.Capability {
	set := access.For(role)
	out := make([]access.Capability, 0, len(set))
	for _, capability := range allCapabilities {
		if set.Has(capability) {
			out = append(out, capability)
		}
	}
	return out
}

var allCapabilities = []access.Capability{
	access.CanManageTransactions,
	access.CanSetPredeterminedResult,
	access.CanViewAllTrades,
	access.CanSettleAnyTrade,
	access.CanManageUsers,
	access.CanManageSettings,
	access.CanViewMetrics,
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
