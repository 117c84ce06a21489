package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/api"
	"github.com/charlesng35/robotdesk/internal/app"
	"github.com/charlesng35/robotdesk/internal/app/maintenance"
	iauth "github.com/charlesng35/robotdesk/internal/auth"
	"github.com/charlesng35/robotdesk/internal/cache"
	"github.com/charlesng35/robotdesk/internal/database"
	"github.com/charlesng35/robotdesk/internal/middleware"
	"github.com/charlesng35/robotdesk/internal/monitoring"
	"github.com/charlesng35/robotdesk/internal/monitoring/checks"
	"github.com/charlesng35/robotdesk/internal/robot"
	"github.com/charlesng35/robotdesk/internal/security"
	"github.com/charlesng35/robotdesk/internal/services"
	"github.com/charlesng35/robotdesk/internal/store"
	"github.com/charlesng35/robotdesk/internal/vault"
	"github.com/charlesng35/robotdesk/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB           *gorm.DB
	Redis        *redis.Client
	JWT          *iauth.JWTService
	Verification *services.EmailVerificationService
	Users        *services.UserService
	Broker       *services.RobotTokenBroker
	Gateway      *services.RobotGateway
	Cleaner      *maintenance.Cleaner
	RateStore    middleware.RateStore
	Health       *monitoring.HealthManager
	Router       *gin.Engine
}

// bootstrapRuntime initialises the database, caches, services and the HTTP router.
// generated names the secrets ApplyRuntimeDefaults produced for this process.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, generated map[string]bool, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	clock := clockwork.NewRealClock()

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if err := resolveSecrets(ctx, stack.DB, cfg, generated); err != nil {
		return nil, err
	}
	masterKey, err := ensureSecretsPresent(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStoreWithClock(stack.DB, clock)

	redisCfg := cfg.Cache.RedisClientConfig()
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(ctx, redisCfg); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	switch {
	case stack.Redis != nil:
		stack.RateStore = middleware.NewRedisRateStore(cache.NewRedisStore(stack.Redis, redisCfg.KeyPrefix))
	default:
		stack.RateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	stack.JWT, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := app.MailerFromConfig(cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}
	audit := security.NewAuditService(cfg, clock).Run()
	audit.Log(log.With(zap.String("component", "security_audit")))

	notifier := services.NewMailNotifier(mailer, cfg.Email.From, cfg.Email.Timeout)
	stack.Verification, err = services.NewEmailVerificationService(stack.DB,
		services.WithVerificationBaseURL(cfg.Verification.BaseURL),
		services.WithVerificationExpiration(cfg.Verification.ExpirationMinutes),
		services.WithVerificationClock(clock),
		services.WithVerificationNotifier(notifier),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise verification service: %w", err)
	}

	stack.Users, err = services.NewUserService(stack.DB, stack.Verification, stack.JWT, clock)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	cipher, err := vault.NewCrypto(masterKey)
	if err != nil {
		return nil, fmt.Errorf("initialise vault crypto: %w", err)
	}
	creds, err := store.NewCredentialStore(stack.DB, cipher)
	if err != nil {
		return nil, fmt.Errorf("initialise credential store: %w", err)
	}

	client, err := robot.NewClient(cfg.Robot.ClientConfig(clock))
	if err != nil {
		return nil, fmt.Errorf("initialise robot client: %w", err)
	}

	stack.Broker, err = services.NewRobotTokenBroker(creds, client,
		services.WithBrokerClock(clock),
		services.WithDefaultSceneCode(cfg.Robot.DefaultSceneCode),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise robot token broker: %w", err)
	}

	callLogs := store.NewCallLogStore(stack.DB)
	stack.Gateway, err = services.NewRobotGateway(stack.Broker, client, callLogs)
	if err != nil {
		return nil, fmt.Errorf("initialise robot gateway: %w", err)
	}

	jobs := monitoring.NewJobTracker(clock)
	stack.Cleaner = maintenance.NewCleaner(dbStore, callLogs,
		maintenance.WithClock(clock),
		maintenance.WithJobTracker(jobs),
		maintenance.WithCacheSchedule(cfg.Maintenance.CachePurgeSchedule),
		maintenance.WithCallLogSchedule(cfg.Maintenance.CallLogSchedule),
		maintenance.WithCallLogRetentionDays(cfg.Maintenance.CallLogRetentionDays),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Health = monitoring.NewHealthManager(0)
	stack.Health.Register(
		checks.Database(stack.DB),
		checks.Redis(stack.Redis, cfg.Cache.Redis.Enabled),
		checks.Maintenance(jobs, 0),
	)

	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		DB:           stack.DB,
		JWT:          stack.JWT,
		Users:        stack.Users,
		Verification: stack.Verification,
		Broker:       stack.Broker,
		Gateway:      stack.Gateway,
		RateStore:    stack.RateStore,
		Health:       stack.Health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources. Every step runs even when an earlier one fails.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

// resolveSecrets keeps generated secrets stable across restarts by persisting them in system settings.
// Explicitly configured values always win and replace whatever was stored before.
func resolveSecrets(ctx context.Context, db *gorm.DB, cfg *app.Config, generated map[string]bool) error {
	secret, err := database.ResolveGeneratedSecret(ctx, db, database.JWTSecretSetting, cfg.Auth.JWT.Secret, generated[app.GeneratedJWTSecret])
	if err != nil {
		return fmt.Errorf("resolve jwt secret: %w", err)
	}
	cfg.Auth.JWT.Secret = secret

	key, err := database.ResolveGeneratedSecret(ctx, db, database.VaultEncryptionKeySetting, cfg.Vault.EncryptionKey, generated[app.GeneratedVaultKey])
	if err != nil {
		return fmt.Errorf("resolve vault encryption key: %w", err)
	}
	cfg.Vault.EncryptionKey = key
	return nil
}
