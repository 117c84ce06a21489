package robot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/charlesng35/robotdesk/pkg/logger"
	"github.com/charlesng35/robotdesk/pkg/metrics"
)

const (
	DefaultBaseURL       = "https://es.robotkeenon.com"
	DefaultTokenPath     = "/api/open/oauth/token"
	DefaultTimeout       = 30 * time.Second
	DefaultTokenLifetime = 3600 * time.Second

	defaultTokenRequestsPerMinute = 30
	maxResponseBytes              = 1 << 20
)

// Config configures the robot API client.
type Config struct {
	BaseURL                string
	TokenPath              string
	Timeout                time.Duration
	DefaultTokenLifetime   time.Duration
	TokenRequestsPerMinute int
	HTTPClient             *http.Client
	Clock                  clockwork.Clock
}

// TokenGrant is a bearer token issued by the client-credentials exchange.
type TokenGrant struct {
	AccessToken string
	ExpiresIn   time.Duration
	ExpiresAt   time.Time
}

// Request describes a bearer-authorised call to the robot API.
type Request struct {
	Operation   string
	Method      string
	Path        string
	Query       url.Values
	Body        any
	BearerToken string
}

// Response carries the raw upstream answer. Non-2xx statuses are not errors at this level.
type Response struct {
	StatusCode int
	Body       []byte
}

// Success reports whether the upstream answered with a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client talks to the third-party robot control API.
type Client struct {
	baseURL  string
	tokenURL string
	timeout  time.Duration
	lifetime time.Duration
	http     *http.Client
	clock    clockwork.Clock
	limiter  *rate.Limiter
	log      *zap.Logger
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("robot api: invalid base url: %w", err)
	}

	tokenPath := strings.TrimSpace(cfg.TokenPath)
	if tokenPath == "" {
		tokenPath = DefaultTokenPath
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	lifetime := cfg.DefaultTokenLifetime
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	perMinute := cfg.TokenRequestsPerMinute
	if perMinute <= 0 {
		perMinute = defaultTokenRequestsPerMinute
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Client{
		baseURL:  base,
		tokenURL: base + "/" + strings.TrimLeft(tokenPath, "/"),
		timeout:  timeout,
		lifetime: lifetime,
		http:     httpClient,
		clock:    clock,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		log:      logger.WithModule("robot_api"),
	}, nil
}

// ExchangeClientCredentials performs the OAuth client-credentials grant.
// Errors are ErrNetwork, ErrMalformedResponse, ErrThrottled or *UpstreamRejectedError.
func (c *Client) ExchangeClientCredentials(ctx context.Context, clientID, clientSecret string) (*TokenGrant, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrThrottled, err)
	}

	conf := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     c.tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	started := time.Now()
	token, err := conf.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		mapped := classifyTokenError(err)
		metrics.UpstreamCalls.WithLabelValues("token", statusLabel(mapped)).Observe(time.Since(started).Seconds())
		c.log.Warn("token exchange failed", zap.String("client_id", clientID), zap.Error(err))
		return nil, mapped
	}
	metrics.UpstreamCalls.WithLabelValues("token", "200").Observe(time.Since(started).Seconds())

	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}

	expiresIn, err := c.expiresIn(token)
	if err != nil {
		return nil, err
	}

	return &TokenGrant{
		AccessToken: token.AccessToken,
		ExpiresIn:   expiresIn,
		ExpiresAt:   c.clock.Now().Add(expiresIn),
	}, nil
}

// Do sends a bearer-authorised request and returns the upstream answer.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("robot api: encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("robot api: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)

	operation := req.Operation
	if operation == "" {
		operation = "call"
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues(operation, "network_error").Observe(time.Since(started).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues(operation, "network_error").Observe(time.Since(started).Seconds())
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	metrics.UpstreamCalls.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Observe(time.Since(started).Seconds())

	return &Response{StatusCode: resp.StatusCode, Body: payload}, nil
}

func (c *Client) expiresIn(token *oauth2.Token) (time.Duration, error) {
	raw := token.Extra("expires_in")
	if raw == nil {
		return c.lifetime, nil
	}

	var seconds float64
	switch v := raw.(type) {
	case float64:
		seconds = v
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: expires_in %q", ErrMalformedResponse, v)
		}
		seconds = parsed
	case string:
		if strings.TrimSpace(v) == "" {
			return c.lifetime, nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: expires_in %q", ErrMalformedResponse, v)
		}
		seconds = parsed
	case int:
		seconds = float64(v)
	case int64:
		seconds = float64(v)
	default:
		return 0, fmt.Errorf("%w: expires_in has type %T", ErrMalformedResponse, raw)
	}

	if seconds <= 0 {
		return c.lifetime, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status < 200 || status > 299 {
			return &UpstreamRejectedError{StatusCode: status, Body: truncate(string(retrieveErr.Body), 512)}
		}
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
}

func statusLabel(err error) string {
	var rejected *UpstreamRejectedError
	switch {
	case errors.As(err, &rejected):
		return strconv.Itoa(rejected.StatusCode)
	case errors.Is(err, ErrNetwork):
		return "network_error"
	default:
		return "malformed"
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
