package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/robotdesk/internal/monitoring"
	"github.com/charlesng35/robotdesk/pkg/logger"
	"github.com/charlesng35/robotdesk/pkg/response"
)

// Health evaluates the readiness probes. A down dependency answers 503; a degraded one still answers 200.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			response.Success(c, http.StatusOK, monitoring.Report{Healthy: true, Status: monitoring.StatusUp, Checks: []monitoring.ProbeResult{}})
			return
		}

		report := manager.Evaluate(requestContext(c))
		code := http.StatusOK
		if report.Status == monitoring.StatusDown {
			code = http.StatusServiceUnavailable
		}
		if !report.Healthy {
			log := logger.WithModule("health")
			for _, check := range report.Checks {
				if check.Status != monitoring.StatusUp {
					log.Warn("health probe failing",
						zap.String("component", check.Component),
						zap.String("status", string(check.Status)),
						zap.String("details", check.Details))
				}
			}
		}

		response.Success(c, code, report)
	}
}
