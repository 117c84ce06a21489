package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/robotdesk/internal/services"
	"github.com/charlesng35/robotdesk/pkg/errors"
	"github.com/charlesng35/robotdesk/pkg/response"
)

// resendMessage is returned for every resend request so the endpoint does not reveal
// which identifiers belong to an account.
const resendMessage = "If the account exists, a new verification link has been sent to its email address."

// VerificationHandler exposes the email verification flows.
type VerificationHandler struct {
	verification *services.EmailVerificationService
}

func NewVerificationHandler(verification *services.EmailVerificationService) *VerificationHandler {
	return &VerificationHandler{verification: verification}
}

type resendVerificationRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Username string `json:"username" validate:"max=64"`
}

// GET /api/auth/verify-email?token=
func (h *VerificationHandler) Verify(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, errors.NewBadRequest("token is required"))
		return
	}

	result, err := h.verification.Consume(requestContext(c), token)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	message := "Email verified successfully"
	if result.AlreadyVerified {
		message = "Email already verified"
	}
	response.Success(c, http.StatusOK, gin.H{
		"message":          message,
		"already_verified": result.AlreadyVerified,
		"verified_at":      result.VerifiedAt,
	})
}

// POST /api/auth/resend-verification
func (h *VerificationHandler) Resend(c *gin.Context) {
	var req resendVerificationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	identifier := req.Email
	if strings.TrimSpace(identifier) == "" {
		identifier = req.Username
	}

	result, err := h.verification.ResendVerification(requestContext(c), identifier)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if result.AlreadyVerified {
		response.Success(c, http.StatusOK, gin.H{
			"message":          "Email already verified",
			"already_verified": true,
		})
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"message":          resendMessage,
		"already_verified": false,
	})
}

// POST /api/auth/profile/request-verification
func (h *VerificationHandler) RequestForProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	result, err := h.verification.RequestVerification(requestContext(c), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if result.AlreadyVerified {
		response.Success(c, http.StatusOK, gin.H{
			"message":          "Email already verified",
			"email":            result.Email,
			"already_verified": true,
			"email_sent":       false,
		})
		return
	}
	if !result.EmailSent {
		response.Error(c, errors.ErrEmailDelivery)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"message":          "Verification email sent to " + result.Email,
		"email":            result.Email,
		"already_verified": false,
		"email_sent":       true,
	})
}
