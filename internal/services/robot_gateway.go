package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/charlesng35/robotdesk/internal/models"
	"github.com/charlesng35/robotdesk/internal/robot"
	apperrors "github.com/charlesng35/robotdesk/pkg/errors"
	"github.com/charlesng35/robotdesk/pkg/logger"
)

const (
	robotListPath  = "/api/open/data/v1/store/robot/list"
	storeListPath  = "/api/open/data/v1/store/list"
	targetListPath = "/api/open/scene/v1/target/list"
	callTaskPath   = "/api/open/scene/v3/robot/call/task"

	defaultCallLogLimit = 20
)

// RobotCaller sends bearer-authorised requests to the robot API.
type RobotCaller interface {
	Do(ctx context.Context, req robot.Request) (*robot.Response, error)
}

// CallRecorder persists proxied call history.
type CallRecorder interface {
	Record(ctx context.Context, entry *models.RobotCallLog) error
	ListRecent(ctx context.Context, userID string, limit int) ([]models.RobotCallLog, error)
}

// RobotGateway proxies robot API calls using the user's cached bearer token.
// A missing or lapsed token is reported, never refreshed implicitly.
type RobotGateway struct {
	broker   *RobotTokenBroker
	caller   RobotCaller
	recorder CallRecorder
	clock    clockwork.Clock
	log      *zap.Logger
}

// TaskInput identifies the robot and destination point of a call task.
type TaskInput struct {
	UUID    string
	PointID string
}

// TaskTarget echoes the task destination back to the caller.
type TaskTarget struct {
	UUID    string `json:"uuid"`
	PointID string `json:"pointId"`
}

// TaskResult reports the upstream answer of a call task, successful or not.
type TaskResult struct {
	Success       bool            `json:"success"`
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message"`
	Target        TaskTarget      `json:"target"`
	Response      json.RawMessage `json:"response"`
}

// NewRobotGateway constructs a gateway. recorder may be nil to skip call history.
func NewRobotGateway(broker *RobotTokenBroker, caller RobotCaller, recorder CallRecorder) (*RobotGateway, error) {
	if broker == nil {
		return nil, errors.New("robot gateway: token broker is required")
	}
	if caller == nil {
		return nil, errors.New("robot gateway: caller is required")
	}
	return &RobotGateway{
		broker:   broker,
		caller:   caller,
		recorder: recorder,
		clock:    broker.clock,
		log:      logger.WithModule("robot_gateway"),
	}, nil
}

// ListRobots returns the robots registered to the user's store.
func (g *RobotGateway) ListRobots(ctx context.Context, userID string) (json.RawMessage, error) {
	record, token, err := g.broker.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return g.fetchData(ctx, userID, robot.Request{
		Operation:   "robot_list",
		Method:      http.MethodGet,
		Path:        robotListPath,
		Query:       url.Values{"storeId": []string{record.StoreID}},
		BearerToken: token,
	})
}

// ListStores returns the stores visible to the user's client credentials.
func (g *RobotGateway) ListStores(ctx context.Context, userID string) (json.RawMessage, error) {
	_, token, err := g.broker.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return g.fetchData(ctx, userID, robot.Request{
		Operation:   "store_list",
		Method:      http.MethodGet,
		Path:        storeListPath,
		BearerToken: token,
	})
}

// ListTargets returns the delivery points of a scene. An empty sceneCode uses the configured one.
func (g *RobotGateway) ListTargets(ctx context.Context, userID, sceneCode string) (json.RawMessage, error) {
	record, token, err := g.broker.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sceneCode = strings.TrimSpace(sceneCode); sceneCode == "" {
		sceneCode = record.SceneCode
	}
	return g.fetchData(ctx, userID, robot.Request{
		Operation:   "target_list",
		Method:      http.MethodGet,
		Path:        targetListPath,
		Query:       url.Values{"sceneCode": []string{sceneCode}},
		BearerToken: token,
	})
}

// CallTask dispatches a robot to a point. Upstream rejections are reported in the result.
func (g *RobotGateway) CallTask(ctx context.Context, userID string, input TaskInput) (*TaskResult, error) {
	input.UUID = strings.TrimSpace(input.UUID)
	input.PointID = strings.TrimSpace(input.PointID)
	if input.UUID == "" || input.PointID == "" {
		return nil, apperrors.NewBadRequest("uuid and pointId are required")
	}

	record, token, err := g.broker.Session(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp, err := g.do(ctx, userID, robot.Request{
		Operation: "call_task",
		Method:    http.MethodPost,
		Path:      callTaskPath,
		Body: map[string]string{
			"uuid":    input.UUID,
			"pointId": input.PointID,
			"storeId": record.StoreID,
		},
		BearerToken: token,
	})
	if err != nil {
		return nil, err
	}

	return &TaskResult{
		Success:       resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated,
		StatusCode:    resp.StatusCode,
		StatusMessage: statusMessage(resp.StatusCode),
		Target:        TaskTarget{UUID: input.UUID, PointID: input.PointID},
		Response:      asJSON(resp.Body),
	}, nil
}

// RecentCalls lists the user's latest proxied calls, newest first.
func (g *RobotGateway) RecentCalls(ctx context.Context, userID string, limit int) ([]models.RobotCallLog, error) {
	if g.recorder == nil {
		return []models.RobotCallLog{}, nil
	}
	if limit <= 0 {
		limit = defaultCallLogLimit
	}
	return g.recorder.ListRecent(ctx, userID, limit)
}

func (g *RobotGateway) fetchData(ctx context.Context, userID string, req robot.Request) (json.RawMessage, error) {
	resp, err := g.do(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, &UpstreamRejectedError{StatusCode: resp.StatusCode, Body: truncateBody(resp.Body)}
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return json.RawMessage("[]"), nil
	}
	return envelope.Data, nil
}

func (g *RobotGateway) do(ctx context.Context, userID string, req robot.Request) (*robot.Response, error) {
	started := g.clock.Now()
	resp, err := g.caller.Do(ctx, req)

	entry := &models.RobotCallLog{
		UserID:     userID,
		Operation:  req.Operation,
		Method:     req.Method,
		Path:       req.Path,
		DurationMS: g.clock.Since(started).Milliseconds(),
	}
	if payload := requestPayload(req); payload != nil {
		entry.Request = datatypes.JSON(payload)
	}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.StatusCode = resp.StatusCode
		entry.Success = resp.Success()
		entry.Response = datatypes.JSON(asJSON(resp.Body))
	}
	g.record(ctx, entry)

	return resp, err
}

func (g *RobotGateway) record(ctx context.Context, entry *models.RobotCallLog) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.Record(ctx, entry); err != nil {
		g.log.Warn("record robot call failed",
			zap.String("user_id", entry.UserID),
			zap.String("operation", entry.Operation),
			zap.Error(err),
		)
	}
}

func requestPayload(req robot.Request) []byte {
	payload := map[string]any{}
	if len(req.Query) > 0 {
		query := make(map[string]string, len(req.Query))
		for key := range req.Query {
			query[key] = req.Query.Get(key)
		}
		payload["query"] = query
	}
	if req.Body != nil {
		payload["body"] = req.Body
	}
	if len(payload) == 0 {
		return nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return encoded
}

// asJSON returns body unchanged when it is valid JSON and as a JSON string otherwise.
func asJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	encoded, _ := json.Marshal(string(body))
	return encoded
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}

func statusMessage(code int) string {
	switch code {
	case http.StatusOK:
		return "Success"
	case http.StatusCreated:
		return "Created"
	case http.StatusBadRequest:
		return "Bad request"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Not found"
	case http.StatusInternalServerError:
		return "Server error"
	case http.StatusBadGateway:
		return "Bad gateway"
	case http.StatusServiceUnavailable:
		return "Service unavailable"
	default:
		return fmt.Sprintf("Status %d", code)
	}
}
