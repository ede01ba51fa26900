package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New builds the process logger. Production uses the JSON encoder at info
// level; any other environment gets the human-readable development config.
func New(env string) (*zap.Logger, error) {
	if strings.EqualFold(env, "production") {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
