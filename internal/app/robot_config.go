package app

import (
	"github.com/jonboulle/clockwork"

	"github.com/charlesng35/robotdesk/internal/robot"
)

// ClientConfig converts RobotConfig into the robot API client settings.
func (c RobotConfig) ClientConfig(clock clockwork.Clock) robot.Config {
	return robot.Config{
		BaseURL:                c.BaseURL,
		Timeout:                c.Timeout,
		DefaultTokenLifetime:   c.DefaultTokenLifetime,
		TokenRequestsPerMinute: c.TokenRequestsPerMinute,
		Clock:                  clock,
	}
}
