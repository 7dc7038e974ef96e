package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/auth"
	"github.com/KevinKickass/xkop-gateway/internal/types"
	"github.com/gin-gonic/gin"
)

// Login request/response types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeAuthBadRequest, "Invalid request body", types.Detail(err)))
		return
	}

	authService := c.MustGet("authService").(*auth.AuthService)
	if !authService.Enabled() {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeAuthDisabled, "Authentication is disabled", nil))
		return
	}

	session, err := authService.LoginUser(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if err != nil {
		if errors.Is(err, auth.ErrAccountLocked) {
			c.JSON(http.StatusTooManyRequests, types.NewErrorResponse(types.CodeAuthLocked, "Account locked", types.Detail(err)))
			return
		}
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeAuthInvalid, "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(session.ExpiresAt).Seconds()),
	})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentUser(c *gin.Context) {
	permissions, _ := c.Get("permissions")
	resp := gin.H{"permissions": permissions}

	if userID, ok := c.Get("user_id"); ok {
		resp["user"] = gin.H{
			"id":       userID,
			"username": c.GetString("username"),
			"role":     c.GetString("role"),
		}
	}

	c.JSON(http.StatusOK, resp)
}
