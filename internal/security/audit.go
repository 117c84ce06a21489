package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/charlesng35/robotdesk/internal/app"
)

// CheckStatus captures the outcome of a security audit check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

const maxRecommendedAccessTTL = 24 * time.Hour

// Check contains the result of a single audit verification.
type Check struct {
	ID          string      `json:"id"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message"`
	Remediation string      `json:"remediation,omitempty"`
}

// Result aggregates all checks with a status summary.
type Result struct {
	CheckedAt time.Time      `json:"checked_at"`
	Checks    []Check        `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// Failed reports whether any check failed.
func (r Result) Failed() bool {
	return r.Summary[string(StatusFail)] > 0
}

// AuditService reviews the effective runtime configuration for settings that weaken
// token handling: signing secrets, the credential vault key and the links sent by email.
type AuditService struct {
	cfg   *app.Config
	clock clockwork.Clock
}

// NewAuditService constructs the audit service. A nil clock uses wall time.
func NewAuditService(cfg *app.Config, clock clockwork.Clock) *AuditService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AuditService{cfg: cfg, clock: clock}
}

// Run executes all audit checks.
func (s *AuditService) Run() Result {
	var checks []Check
	if s.cfg == nil {
		checks = []Check{{
			ID:          "configuration_loaded",
			Status:      StatusFail,
			Message:     "Configuration not loaded.",
			Remediation: "Load configuration before running the security audit.",
		}}
	} else {
		checks = []Check{
			s.checkJWTSecret(),
			s.checkAccessTokenTTL(),
			s.checkVaultKey(),
			s.checkEmailDelivery(),
			s.checkVerificationLinks(),
			s.checkRobotEndpoint(),
		}
	}

	summary := map[string]int{
		string(StatusPass): 0,
		string(StatusWarn): 0,
		string(StatusFail): 0,
	}
	for _, check := range checks {
		summary[string(check.Status)]++
	}

	return Result{
		CheckedAt: s.clock.Now().UTC(),
		Checks:    checks,
		Summary:   summary,
	}
}

// Log writes every check that did not pass to log.
func (r Result) Log(log *zap.Logger) {
	for _, check := range r.Checks {
		fields := []zap.Field{
			zap.String("check", check.ID),
			zap.String("remediation", check.Remediation),
		}
		switch check.Status {
		case StatusFail:
			log.Error(check.Message, fields...)
		case StatusWarn:
			log.Warn(check.Message, fields...)
		}
	}
}

func (s *AuditService) checkJWTSecret() Check {
	length := len(strings.TrimSpace(s.cfg.Auth.JWT.Secret))
	switch {
	case length == 0:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     "Missing JWT signing secret.",
			Remediation: "Provide a cryptographically secure signing secret (>= 32 bytes).",
		}
	case length < 32:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusFail,
			Message:     fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes.",
		}
	case length < 48:
		return Check{
			ID:          "jwt_secret_strength",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("JWT signing secret is %d bytes. Consider increasing to 48+ bytes.", length),
			Remediation: "Increase the length of ROBOTDESK_AUTH_JWT_SECRET to at least 48 bytes.",
		}
	default:
		return Check{
			ID:      "jwt_secret_strength",
			Status:  StatusPass,
			Message: fmt.Sprintf("JWT signing secret length is %d bytes.", length),
		}
	}
}

func (s *AuditService) checkAccessTokenTTL() Check {
	ttl := s.cfg.Auth.JWTServiceConfig().AccessTokenTTL
	if ttl > maxRecommendedAccessTTL {
		return Check{
			ID:          "access_token_ttl",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Access token TTL (%s) exceeds recommended maximum (%s).", ttl, maxRecommendedAccessTTL),
			Remediation: "Reduce auth.jwt.access_token_ttl to limit exposure of leaked bearer tokens.",
		}
	}
	return Check{
		ID:      "access_token_ttl",
		Status:  StatusPass,
		Message: fmt.Sprintf("Access token TTL is %s.", ttl),
	}
}

func (s *AuditService) checkVaultKey() Check {
	key, err := s.cfg.Vault.MasterKey()
	if err != nil {
		return Check{
			ID:          "vault_encryption_key",
			Status:      StatusFail,
			Message:     fmt.Sprintf("Vault encryption key unusable: %v", err),
			Remediation: "Set ROBOTDESK_VAULT_ENCRYPTION_KEY to 32 random bytes encoded as hex or base64.",
		}
	}
	if len(key) < 32 {
		return Check{
			ID:          "vault_encryption_key",
			Status:      StatusWarn,
			Message:     fmt.Sprintf("Vault encryption key is %d bytes.", len(key)),
			Remediation: "Use a 32 byte key to protect stored robot client secrets.",
		}
	}
	return Check{
		ID:      "vault_encryption_key",
		Status:  StatusPass,
		Message: "Vault encryption key configured.",
	}
}

func (s *AuditService) checkEmailDelivery() Check {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.Email.Provider))
	if provider == "" || provider == app.EmailProviderNone {
		return Check{
			ID:          "email_delivery",
			Status:      StatusWarn,
			Message:     "Email delivery disabled; verification links will not be sent.",
			Remediation: "Set email.provider to smtp or resend.",
		}
	}
	if strings.TrimSpace(s.cfg.Email.From) == "" {
		return Check{
			ID:          "email_delivery",
			Status:      StatusWarn,
			Message:     "Email sender address is empty.",
			Remediation: "Set email.from so verification mail is not rejected as unsigned.",
		}
	}
	return Check{
		ID:      "email_delivery",
		Status:  StatusPass,
		Message: fmt.Sprintf("Email delivery via %s.", provider),
	}
}

func (s *AuditService) checkVerificationLinks() Check {
	return checkEndpoint("verification_base_url", "verification.base_url", s.cfg.Verification.BaseURL,
		"Verification links travel over plain HTTP; tokens can be intercepted.")
}

func (s *AuditService) checkRobotEndpoint() Check {
	return checkEndpoint("robot_api_transport", "robot.base_url", s.cfg.Robot.BaseURL,
		"Robot API uses plain HTTP; client secrets and bearer tokens are sent in cleartext.")
}

func checkEndpoint(id, key, raw, insecureMessage string) Check {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Check{
			ID:          id,
			Status:      StatusFail,
			Message:     fmt.Sprintf("%s is not an absolute URL.", key),
			Remediation: fmt.Sprintf("Set %s to an absolute https URL.", key),
		}
	}
	if parsed.Scheme != "https" && !isLoopback(parsed.Hostname()) {
		return Check{
			ID:          id,
			Status:      StatusWarn,
			Message:     insecureMessage,
			Remediation: fmt.Sprintf("Serve %s over https.", key),
		}
	}
	return Check{
		ID:      id,
		Status:  StatusPass,
		Message: fmt.Sprintf("%s uses %s.", key, parsed.Scheme),
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
