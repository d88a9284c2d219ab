package policy

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

func init() {
	// Respect LOG_LEVEL environment variable for tests
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "error" // Default to error for tests to avoid noise
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
