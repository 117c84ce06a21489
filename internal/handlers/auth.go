package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/robotdesk/internal/models"
	"github.com/charlesng35/robotdesk/internal/services"
	"github.com/charlesng35/robotdesk/pkg/errors"
	"github.com/charlesng35/robotdesk/pkg/response"
)

// AuthHandler manages registration, login and the current user profile.
type AuthHandler struct {
	users *services.UserService
}

func NewAuthHandler(users *services.UserService) *AuthHandler {
	return &AuthHandler{users: users}
}

type registerRequest struct {
	Username  string `json:"username" validate:"required,notblank,min=3,max=64"`
	Email     string `json:"email" validate:"omitempty,email"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"first_name" validate:"max=128"`
	LastName  string `json:"last_name" validate:"max=128"`
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,notblank"`
	Password   string `json:"password" validate:"required"`
}

type userResponse struct {
	*models.User
	IsVerified bool       `json:"is_verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.users.Register(requestContext(c), services.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"user":       userResponse{User: result.User},
		"email_sent": result.EmailSent,
	})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.users.Authenticate(requestContext(c), req.Identifier, req.Password)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"access_token": result.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   int(result.ExpiresIn.Seconds()),
		"user":         userResponse{User: result.User, IsVerified: result.IsVerified},
		"is_verified":  result.IsVerified,
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	profile, err := h.users.Get(requestContext(c), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, userResponse{
		User:       profile.User,
		IsVerified: profile.IsVerified,
		VerifiedAt: profile.VerifiedAt,
	})
}
