package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/robotdesk/internal/services"
	appErrors "github.com/charlesng35/robotdesk/pkg/errors"
	"github.com/charlesng35/robotdesk/pkg/logger"
	"github.com/charlesng35/robotdesk/pkg/response"
)

// writeServiceError renders a service-layer error using the public error catalogue.
// Unknown errors become 500 and are logged with the request path.
func writeServiceError(c *gin.Context, err error) {
	var rejected *services.UpstreamRejectedError
	switch {
	case errors.Is(err, services.ErrVerificationNotFound), errors.Is(err, services.ErrVerificationExpired):
		response.Error(c, appErrors.ErrVerificationInvalid)
	case errors.Is(err, services.ErrCredentialsNotFound):
		response.Error(c, appErrors.ErrRobotNotConfigured)
	case errors.Is(err, services.ErrMissingCredentials):
		response.Error(c, appErrors.ErrRobotCredentialsMissing)
	case errors.Is(err, services.ErrTokenUnavailable):
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		response.Error(c, appErrors.ErrRobotTokenUnavailable)
	case errors.As(err, &rejected):
		response.ErrorWithDetails(c, appErrors.ErrUpstreamRejected, map[string]any{
			"upstream_status": rejected.StatusCode,
		})
	case errors.Is(err, services.ErrMalformedResponse):
		response.Error(c, appErrors.ErrUpstreamMalformed)
	case errors.Is(err, services.ErrNetwork):
		response.Error(c, appErrors.ErrUpstreamUnreachable)
	case errors.Is(err, services.ErrRefreshThrottled):
		response.Error(c, appErrors.ErrRateLimit.WithMessage("Too many token requests, please retry shortly"))
	default:
		appErr := appErrors.FromError(err)
		if appErr.StatusCode >= 500 {
			logger.WithModule("handlers").Error("request failed",
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
		}
		response.Error(c, appErr)
	}
}
