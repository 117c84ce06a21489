package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/app"
	iauth "github.com/charlesng35/robotdesk/internal/auth"
	"github.com/charlesng35/robotdesk/internal/handlers"
	"github.com/charlesng35/robotdesk/internal/middleware"
	"github.com/charlesng35/robotdesk/internal/monitoring"
	"github.com/charlesng35/robotdesk/internal/monitoring/checks"
	"github.com/charlesng35/robotdesk/internal/services"
)

// Dependencies bundles the services mounted by the router.
type Dependencies struct {
	DB           *gorm.DB
	JWT          *iauth.JWTService
	Users        *services.UserService
	Verification *services.EmailVerificationService
	Broker       *services.RobotTokenBroker
	Gateway      *services.RobotGateway
	RateStore    middleware.RateStore

	// Health runs the readiness probes; when nil only the database is probed.
	Health *monitoring.HealthManager
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return errors.New("database handle must be provided")
	case d.JWT == nil:
		return errors.New("jwt service must be provided")
	case d.Users == nil:
		return errors.New("user service must be provided")
	case d.Verification == nil:
		return errors.New("verification service must be provided")
	case d.Broker == nil:
		return errors.New("robot token broker must be provided")
	case d.Gateway == nil:
		return errors.New("robot gateway must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Server.StrictTransport))
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))

	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthManager(0)
		health.Register(checks.Database(deps.DB))
	}
	registerHealthRoutes(r, health)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	registerAuthRoutes(r, api, authRouteDeps{
		AuthHandler:         handlers.NewAuthHandler(deps.Users),
		VerificationHandler: handlers.NewVerificationHandler(deps.Verification),
		Limiter:             middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window),
	})

	registerRobotRoutes(api, robotRouteDeps{
		RobotHandler: handlers.NewRobotHandler(deps.Broker, deps.Gateway),
	})

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
