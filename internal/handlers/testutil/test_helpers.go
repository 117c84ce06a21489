package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/api"
	"github.com/charlesng35/robotdesk/internal/app"
	iauth "github.com/charlesng35/robotdesk/internal/auth"
	sharedtestutil "github.com/charlesng35/robotdesk/internal/database/testutil"
	"github.com/charlesng35/robotdesk/internal/middleware"
	"github.com/charlesng35/robotdesk/internal/robot"
	"github.com/charlesng35/robotdesk/internal/services"
	"github.com/charlesng35/robotdesk/internal/store"
	"github.com/charlesng35/robotdesk/internal/vault"
	"github.com/charlesng35/robotdesk/pkg/mail"
	"github.com/charlesng35/robotdesk/pkg/response"
)

const (
	// VerificationBaseURL is the frontend address embedded in verification links.
	VerificationBaseURL = "https://robots.example.test"
	// UpstreamToken is the bearer token issued by the fake robot API.
	UpstreamToken = "upstream-bearer-token"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Mailer   *RecordingMailer
	Upstream *Upstream
}

type envConfig struct {
	rateLimit int
}

// Option customises NewEnv.
type Option func(*envConfig)

// WithRateLimit caps the rate-limited auth routes at n requests per minute.
func WithRateLimit(n int) Option {
	return func(cfg *envConfig) {
		cfg.rateLimit = n
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	envCfg := envConfig{}
	for _, opt := range opts {
		opt(&envCfg)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Server: app.ServerConfig{
			RateLimit: app.RateLimitConfig{Requests: envCfg.rateLimit, Window: time.Minute},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
		Verification: app.VerificationConfig{
			ExpirationMinutes: 10,
			BaseURL:           VerificationBaseURL,
		},
	}

	mailer := &RecordingMailer{}
	verification, err := services.NewEmailVerificationService(db,
		services.WithVerificationBaseURL(cfg.Verification.BaseURL),
		services.WithVerificationExpiration(cfg.Verification.ExpirationMinutes),
		services.WithVerificationNotifier(services.NewMailNotifier(mailer, "noreply@example.test", cfg.Email.Timeout)),
	)
	require.NoError(t, err)

	users, err := services.NewUserService(db, verification, jwtSvc, nil)
	require.NoError(t, err)

	cipher, err := vault.NewCrypto([]byte("handler-test-master-key"), vault.WithArgon2Parameters(vault.Argon2Parameters{
		Time: 1, Memory: 64, Threads: 1, KeyLength: 32,
	}))
	require.NoError(t, err)
	creds, err := store.NewCredentialStore(db, cipher)
	require.NoError(t, err)

	upstream := NewUpstream(t)
	client, err := robot.NewClient(robot.Config{BaseURL: upstream.URL(), Timeout: 5 * time.Second})
	require.NoError(t, err)

	broker, err := services.NewRobotTokenBroker(creds, client)
	require.NoError(t, err)
	gateway, err := services.NewRobotGateway(broker, client, store.NewCallLogStore(db))
	require.NoError(t, err)

	router, err := api.NewRouter(cfg, api.Dependencies{
		DB:           db,
		JWT:          jwtSvc,
		Users:        users,
		Verification: verification,
		Broker:       broker,
		Gateway:      gateway,
		RateStore:    middleware.NewMemoryRateStore(clockwork.NewRealClock()),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Mailer:   mailer,
		Upstream: upstream,
	}
}

// RecordingMailer keeps every message in memory.
type RecordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	fail     atomic.Bool
}

// Send records msg, or fails when delivery failures are switched on.
func (m *RecordingMailer) Send(_ context.Context, msg mail.Message) error {
	if m.fail.Load() {
		return mail.ErrDeliveryDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// FailDeliveries toggles delivery failures.
func (m *RecordingMailer) FailDeliveries(fail bool) {
	m.fail.Store(fail)
}

// Messages returns a copy of the recorded messages.
func (m *RecordingMailer) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

// LastVerificationToken extracts the token from the newest verification link sent to recipient.
func (m *RecordingMailer) LastVerificationToken(t *testing.T, recipient string) string {
	t.Helper()
	messages := m.Messages()
	prefix := VerificationBaseURL + "/verify-email?"
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if len(msg.To) == 0 || msg.To[0] != recipient {
			continue
		}
		for _, line := range strings.Split(msg.Body, "\n") {
			if !strings.HasPrefix(line, prefix) {
				continue
			}
			query, err := url.ParseQuery(strings.TrimPrefix(line, prefix))
			require.NoError(t, err)
			return query.Get("token")
		}
	}
	t.Fatalf("no verification link sent to %s", recipient)
	return ""
}

// Upstream fakes the robot API. Token requests succeed unless TokenStatus is changed.
type Upstream struct {
	server      *httptest.Server
	TokenStatus atomic.Int32
	TokenCalls  atomic.Int32
	TaskStatus  atomic.Int32

	mu         sync.Mutex
	lastAuth   string
	lastQuery  url.Values
	lastTaskIn map[string]string
}

// NewUpstream starts the fake robot API and registers its shutdown with t.
func NewUpstream(t *testing.T) *Upstream {
	t.Helper()
	up := &Upstream{}
	up.TokenStatus.Store(http.StatusOK)
	up.TaskStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc(robot.DefaultTokenPath, func(w http.ResponseWriter, r *http.Request) {
		up.TokenCalls.Add(1)
		status := int(up.TokenStatus.Load())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": UpstreamToken,
			"token_type":   "bearer",
			"expires_in":   7200,
		})
	})
	mux.HandleFunc("/api/open/data/v1/store/robot/list", up.list(`[{"uuid":"robot-1","name":"Peanut"}]`))
	mux.HandleFunc("/api/open/data/v1/store/list", up.list(`[{"storeId":"store-1"}]`))
	mux.HandleFunc("/api/open/scene/v1/target/list", up.list(`[{"pointId":"table-7"}]`))
	mux.HandleFunc("/api/open/scene/v3/robot/call/task", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		up.observe(r)
		up.mu.Lock()
		up.lastTaskIn = body
		up.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(up.TaskStatus.Load()))
		_, _ = w.Write([]byte(`{"code":0,"message":"accepted"}`))
	})

	up.server = httptest.NewServer(mux)
	t.Cleanup(up.server.Close)
	return up
}

// URL returns the base address of the fake robot API.
func (u *Upstream) URL() string {
	return u.server.URL
}

// LastAuthorization returns the Authorization header of the latest data call.
func (u *Upstream) LastAuthorization() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastAuth
}

// LastQuery returns the query string of the latest data call.
func (u *Upstream) LastQuery() url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastQuery
}

// LastTask returns the body of the latest call-task request.
func (u *Upstream) LastTask() map[string]string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastTaskIn
}

func (u *Upstream) list(data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.observe(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":` + data + `}`))
	}
}

func (u *Upstream) observe(r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastAuth = r.Header.Get("Authorization")
	u.lastQuery = r.URL.Query()
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	Email      *string `json:"email"`
	IsActive   bool    `json:"is_active"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	IsVerified bool    `json:"is_verified"`
}

// RegisterResult bundles the JSON response from POST /api/auth/register.
type RegisterResult struct {
	User      UserPayload `json:"user"`
	EmailSent bool        `json:"email_sent"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int         `json:"expires_in"`
	User        UserPayload `json:"user"`
	IsVerified  bool        `json:"is_verified"`
}

// Register creates an account through the API. email may be empty.
func (e *Env) Register(username, email, password string) RegisterResult {
	e.T.Helper()

	payload := map[string]string{
		"username": username,
		"password": password,
	}
	if email != "" {
		payload["email"] = email
	}

	w := e.Request(http.MethodPost, "/api/auth/register", payload, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var result RegisterResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.Equal(e.T, username, result.User.Username)
	return result
}

// Login authenticates with identifier and password and returns the issued token.
func (e *Env) Login(identifier, password string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.Greater(e.T, result.ExpiresIn, 0)
	return result
}

// RegisterAndLogin creates an account and returns its access token.
func (e *Env) RegisterAndLogin(username, email, password string) LoginResult {
	e.T.Helper()
	e.Register(username, email, password)
	return e.Login(username, password)
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
