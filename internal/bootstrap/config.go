package bootstrap

import (
	"flag"
	"fmt"
	"os"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
)

// LoadConfig loads configuration. Uses -config flag, CONFIG_PATH env, then
// the local default.
func LoadConfig() (*config.Config, error) {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yml"
	}
	configPath := flag.String("config", defaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, fmt.Errorf("validate config: %w", validationErr)
	}
	return cfg, nil
}

// CreateLogger creates a logger instance from configuration.
func CreateLogger(cfg *config.Config, service, version string) (logger.Logger, error) {
	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	log, err := logger.New(logger.Config{
		Level:       level,
		Development: cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(
		logger.String("service", service),
		logger.String("version", version),
	), nil
}
