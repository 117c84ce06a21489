package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/charlesng35/robotdesk/internal/models"
	"github.com/charlesng35/robotdesk/internal/robot"
	"github.com/charlesng35/robotdesk/internal/store"
	"github.com/charlesng35/robotdesk/pkg/logger"
	"github.com/charlesng35/robotdesk/pkg/metrics"
)

// CredentialRepository is the credential store consumed by the broker.
type CredentialRepository interface {
	Get(ctx context.Context, userID string) (*models.CredentialCache, error)
	Create(ctx context.Context, record *models.CredentialCache) error
	UpdateCredentials(ctx context.Context, record *models.CredentialCache) error
	UpdateToken(ctx context.Context, record *models.CredentialCache) error
}

// TokenExchanger performs the client-credentials grant against the robot API.
type TokenExchanger interface {
	ExchangeClientCredentials(ctx context.Context, clientID, clientSecret string) (*robot.TokenGrant, error)
}

// BrokerOption customises the RobotTokenBroker.
type BrokerOption func(*RobotTokenBroker)

// WithBrokerClock injects a custom time source.
func WithBrokerClock(clock clockwork.Clock) BrokerOption {
	return func(b *RobotTokenBroker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithDefaultSceneCode overrides the scene code used when a new configuration omits one.
func WithDefaultSceneCode(code string) BrokerOption {
	return func(b *RobotTokenBroker) {
		if code = strings.TrimSpace(code); code != "" {
			b.defaultSceneCode = code
		}
	}
}

// RobotTokenBroker owns per-user robot API credentials and the cached bearer token.
type RobotTokenBroker struct {
	creds            CredentialRepository
	exchanger        TokenExchanger
	clock            clockwork.Clock
	locks            *keyedMutex
	defaultSceneCode string
	log              *zap.Logger
}

// CredentialInput is the user-supplied robot API configuration. A nil SceneCode keeps the
// stored value, or the default for new configurations.
type CredentialInput struct {
	ClientID     string
	ClientSecret string
	StoreID      string
	SceneCode    *string
}

// CredentialStatus is the public view of a configuration. Secrets and tokens are never included.
type CredentialStatus struct {
	ClientID       string     `json:"client_id"`
	StoreID        string     `json:"store_id"`
	SceneCode      string     `json:"scene_code"`
	HasToken       bool       `json:"has_token"`
	TokenValid     bool       `json:"token_valid"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
}

// RefreshResult describes a successful refresh.
type RefreshResult struct {
	ExpiresIn time.Duration
	ExpiresAt time.Time
}

// NewRobotTokenBroker constructs the broker.
func NewRobotTokenBroker(creds CredentialRepository, exchanger TokenExchanger, opts ...BrokerOption) (*RobotTokenBroker, error) {
	if creds == nil {
		return nil, errors.New("robot token broker: credential repository is required")
	}
	if exchanger == nil {
		return nil, errors.New("robot token broker: token exchanger is required")
	}

	broker := &RobotTokenBroker{
		creds:            creds,
		exchanger:        exchanger,
		clock:            clockwork.NewRealClock(),
		locks:            newKeyedMutex(),
		defaultSceneCode: models.DefaultSceneCode,
		log:              logger.WithModule("robot_token_broker"),
	}
	for _, opt := range opts {
		opt(broker)
	}
	return broker, nil
}

// GetValidToken returns the cached bearer token when it has not lapsed. It never refreshes.
// Every failure to produce a token matches ErrTokenUnavailable; a user without a configuration
// also matches ErrCredentialsNotFound.
func (b *RobotTokenBroker) GetValidToken(ctx context.Context, userID string) (string, error) {
	_, token, err := b.Session(ctx, userID)
	return token, err
}

// Session returns the stored configuration together with its valid bearer token. Errors follow
// GetValidToken.
func (b *RobotTokenBroker) Session(ctx context.Context, userID string) (*models.CredentialCache, string, error) {
	record, err := b.load(ctx, userID)
	if errors.Is(err, ErrCredentialsNotFound) {
		return nil, "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	if err != nil {
		return nil, "", err
	}
	if !record.IsTokenValid(b.clock.Now()) {
		return record, "", ErrTokenUnavailable
	}
	return record, *record.AccessToken, nil
}

// Status reports the configuration for userID.
func (b *RobotTokenBroker) Status(ctx context.Context, userID string) (*CredentialStatus, error) {
	record, err := b.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CredentialStatus{
		ClientID:       record.ClientID,
		StoreID:        record.StoreID,
		SceneCode:      record.SceneCode,
		HasToken:       record.HasToken(),
		TokenValid:     record.IsTokenValid(b.clock.Now()),
		TokenExpiresAt: record.TokenExpiresAt,
	}, nil
}

// Refresh exchanges the stored client credentials for a new bearer token. On any failure the
// cached token is left exactly as it was.
func (b *RobotTokenBroker) Refresh(ctx context.Context, userID string) (*RefreshResult, error) {
	unlock := b.locks.Lock(userID)
	defer unlock()

	record, err := b.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !record.HasClientCredentials() {
		metrics.TokenRefreshes.WithLabelValues("missing_credentials").Inc()
		return nil, ErrMissingCredentials
	}

	grant, err := b.exchanger.ExchangeClientCredentials(ctx, record.ClientID, record.ClientSecret)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(refreshFailureLabel(err)).Inc()
		b.log.Warn("robot token refresh failed", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("robot token broker: refresh: %w", err)
	}

	expiresAt := b.clock.Now().Add(grant.ExpiresIn)
	for attempt := 0; ; attempt++ {
		record.AccessToken = &grant.AccessToken
		record.TokenExpiresAt = &expiresAt

		err = b.creds.UpdateToken(ctx, record)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxConflictRetries {
			metrics.TokenRefreshes.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("robot token broker: store token: %w", err)
		}
		if record, err = b.load(ctx, userID); err != nil {
			return nil, err
		}
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	b.log.Info("robot token refreshed", zap.String("user_id", userID), zap.Time("expires_at", expiresAt))
	return &RefreshResult{ExpiresIn: grant.ExpiresIn, ExpiresAt: expiresAt}, nil
}

// UpsertCredentials creates or replaces the user's client credentials. The cached token is
// never touched. created reports whether a new configuration was stored.
func (b *RobotTokenBroker) UpsertCredentials(ctx context.Context, userID string, input CredentialInput) (*models.CredentialCache, bool, error) {
	input.ClientID = strings.TrimSpace(input.ClientID)
	input.StoreID = strings.TrimSpace(input.StoreID)
	if input.ClientID == "" || input.ClientSecret == "" {
		return nil, false, ErrMissingCredentials
	}

	unlock := b.locks.Lock(userID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		record, err := b.creds.Get(ctx, userID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			record = &models.CredentialCache{
				UserID:       userID,
				ClientID:     input.ClientID,
				ClientSecret: input.ClientSecret,
				StoreID:      input.StoreID,
				SceneCode:    b.sceneCode(input.SceneCode, b.defaultSceneCode),
			}
			err = b.creds.Create(ctx, record)
			if err == nil {
				b.log.Info("robot credentials created", zap.String("user_id", userID))
				return record, true, nil
			}
			if !errors.Is(err, store.ErrDuplicate) || attempt >= maxConflictRetries {
				return nil, false, fmt.Errorf("robot token broker: create credentials: %w", err)
			}
			continue
		case err != nil:
			return nil, false, fmt.Errorf("robot token broker: load credentials: %w", err)
		}

		record.ClientID = input.ClientID
		record.ClientSecret = input.ClientSecret
		record.StoreID = input.StoreID
		record.SceneCode = b.sceneCode(input.SceneCode, record.SceneCode)

		err = b.creds.UpdateCredentials(ctx, record)
		if err == nil {
			b.log.Info("robot credentials updated", zap.String("user_id", userID))
			return record, false, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxConflictRetries {
			return nil, false, fmt.Errorf("robot token broker: update credentials: %w", err)
		}
	}
}

func (b *RobotTokenBroker) sceneCode(requested *string, fallback string) string {
	if requested != nil {
		if code := strings.TrimSpace(*requested); code != "" {
			return code
		}
	}
	if fallback == "" {
		return b.defaultSceneCode
	}
	return fallback
}

func (b *RobotTokenBroker) load(ctx context.Context, userID string) (*models.CredentialCache, error) {
	record, err := b.creds.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("robot token broker: load credentials: %w", err)
	}
	return record, nil
}

func refreshFailureLabel(err error) string {
	var rejected *UpstreamRejectedError
	switch {
	case errors.As(err, &rejected):
		return "rejected"
	case errors.Is(err, ErrNetwork):
		return "network_error"
	case errors.Is(err, ErrRefreshThrottled):
		return "throttled"
	default:
		return "malformed"
	}
}
