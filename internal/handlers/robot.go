package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/robotdesk/internal/services"
	"github.com/charlesng35/robotdesk/pkg/errors"
	"github.com/charlesng35/robotdesk/pkg/response"
)

// RobotHandler exposes the per-user robot API configuration and proxied calls.
type RobotHandler struct {
	broker  *services.RobotTokenBroker
	gateway *services.RobotGateway
}

func NewRobotHandler(broker *services.RobotTokenBroker, gateway *services.RobotGateway) *RobotHandler {
	return &RobotHandler{broker: broker, gateway: gateway}
}

type robotConfigRequest struct {
	ClientID     string  `json:"client_id" validate:"required,notblank,max=255"`
	ClientSecret string  `json:"client_secret" validate:"required,max=1024"`
	StoreID      string  `json:"store_id" validate:"required,notblank,max=255"`
	SceneCode    *string `json:"scene_code" validate:"omitempty,max=64"`
}

type callTaskRequest struct {
	UUID    string `json:"uuid" validate:"required,notblank"`
	PointID string `json:"pointId" validate:"required,notblank"`
}

// GET /api/robot/config
func (h *RobotHandler) GetConfig(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	status, err := h.broker.Status(requestContext(c), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// PUT /api/robot/config
func (h *RobotHandler) UpdateConfig(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req robotConfigRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	_, created, err := h.broker.UpsertCredentials(ctx, userID, services.CredentialInput{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		StoreID:      req.StoreID,
		SceneCode:    req.SceneCode,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	status, err := h.broker.Status(ctx, userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	response.Success(c, code, status)
}

// POST /api/robot/token/refresh
func (h *RobotHandler) RefreshToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	result, err := h.broker.Refresh(requestContext(c), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Token refreshed successfully",
		"expires_in": int(result.ExpiresIn.Seconds()),
		"expires_at": result.ExpiresAt,
	})
}

// GET /api/robot/robots
func (h *RobotHandler) ListRobots(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	data, err := h.gateway.ListRobots(requestContext(c), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// GET /api/robot/stores
func (h *RobotHandler) ListStores(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	data, err := h.gateway.ListStores(requestContext(c), userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// GET /api/robot/targets?sceneCode=
func (h *RobotHandler) ListTargets(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	data, err := h.gateway.ListTargets(requestContext(c), userID, c.Query("sceneCode"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// POST /api/robot/call-task
func (h *RobotHandler) CallTask(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req callTaskRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.gateway.CallTask(requestContext(c), userID, services.TaskInput{
		UUID:    req.UUID,
		PointID: req.PointID,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GET /api/robot/calls?limit=
func (h *RobotHandler) ListCalls(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	calls, err := h.gateway.RecentCalls(requestContext(c), userID, parseIntQuery(c, "limit", 0))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, calls)
}
