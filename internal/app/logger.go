package app

import (
	"strings"

	"github.com/charlesng35/robotdesk/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level and format, defaulting to info/json.
func ConfigureLogging(level, format string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, strings.TrimSpace(format))
}
