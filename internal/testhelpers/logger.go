package testhelpers

import (
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
)

// NewTestLogger creates a logger suitable for testing (discards output).
func NewTestLogger() logger.Logger {
	return logger.NewNop()
}
