package bootstrap

import (
	"fmt"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/database"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
)

// SetupDatabase creates a database connection.
func SetupDatabase(cfg *config.Config, log logger.Logger) (*database.DB, error) {
	db, err := database.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}
	return db, nil
}
