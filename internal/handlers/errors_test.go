package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/robotdesk/internal/services"
	appErrors "github.com/charlesng35/robotdesk/pkg/errors"
	"github.com/charlesng35/robotdesk/pkg/response"
)

func TestWriteServiceErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"verification not found", services.ErrVerificationNotFound, http.StatusBadRequest, "VERIFICATION_INVALID"},
		{"verification expired", fmt.Errorf("consume: %w", services.ErrVerificationExpired), http.StatusBadRequest, "VERIFICATION_INVALID"},
		{"credentials not configured", services.ErrCredentialsNotFound, http.StatusNotFound, "ROBOT_NOT_CONFIGURED"},
		{"token for unconfigured user", fmt.Errorf("%w: %w", services.ErrTokenUnavailable, services.ErrCredentialsNotFound), http.StatusNotFound, "ROBOT_NOT_CONFIGURED"},
		{"credentials incomplete", services.ErrMissingCredentials, http.StatusBadRequest, "ROBOT_CREDENTIALS_MISSING"},
		{"token unavailable", services.ErrTokenUnavailable, http.StatusUnauthorized, "ROBOT_TOKEN_UNAVAILABLE"},
		{"upstream rejected", fmt.Errorf("refresh: %w", &services.UpstreamRejectedError{StatusCode: 403}), http.StatusBadGateway, "UPSTREAM_REJECTED"},
		{"malformed", fmt.Errorf("%w: bad json", services.ErrMalformedResponse), http.StatusBadGateway, "UPSTREAM_MALFORMED_RESPONSE"},
		{"network", fmt.Errorf("%w: timeout", services.ErrNetwork), http.StatusGatewayTimeout, "UPSTREAM_UNREACHABLE"},
		{"throttled", services.ErrRefreshThrottled, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{"app error", appErrors.ErrEmailMissing, http.StatusBadRequest, "EMAIL_MISSING"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			writeServiceError(c, tc.err)

			require.Equal(t, tc.status, w.Code)
			var body response.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.False(t, body.Success)
			require.Equal(t, tc.code, body.Error.Code)
			require.NotContains(t, body.Error.Message, "boom")
		})
	}
}

func TestWriteServiceErrorIncludesUpstreamStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeServiceError(c, &services.UpstreamRejectedError{StatusCode: 503, Body: "maintenance"})

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 503, body.Error.Details["upstream_status"])
	require.NotContains(t, w.Body.String(), "maintenance")
}

func TestParseIntQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[string]int{
		"":           7,
		"?limit=3":   3,
		"?limit=abc": 7,
		"?limit=-1":  7,
		"?limit=500": maxListLimit,
	}
	for query, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/calls"+query, nil)
		require.Equal(t, want, parseIntQuery(c, "limit", 7), query)
	}
}
