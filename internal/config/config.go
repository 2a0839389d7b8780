// Package config loads wagateway's process configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/relaywave/wagateway/internal/logging"
)

// Config holds every environment-driven setting the gateway recognises.
type Config struct {
	Port          string
	AppBaseURL    string
	AIBackendURL  string
	CORSOrigins   []string
	TempDir       string
	WWebJSAuthDir string
	DBURL         string
	LogLevel      string
}

// Load reads configuration from the environment. It attempts to load a
// .env file first (from the working directory, then "../.env"); a
// missing file is not an error.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			logging.L_debug("config: no .env file found, using process environment only")
		}
	}

	cfg := &Config{
		Port:          getEnv("PORT", "3000"),
		AppBaseURL:    getEnv("APP_BASE_URL", ""),
		AIBackendURL:  getEnv("AI_BACKEND_URL", ""),
		CORSOrigins:   parseCORSOrigins(getEnv("CORS_ORIGINS", "")),
		TempDir:       getEnv("TEMP_DIR", "/tmp/wwebjs"),
		WWebJSAuthDir: getEnv("WWEBJS_AUTH_DIR", "./.wwebjs_auth"),
		DBURL:         os.Getenv("DB_URL"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	absAuthDir, err := filepath.Abs(cfg.WWebJSAuthDir)
	if err == nil {
		cfg.WWebJSAuthDir = absAuthDir
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseCORSOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// LogLevelValue maps the configured pino-style level name to this
// process's internal logging.Level* constant.
func (c *Config) LogLevelValue() int {
	switch strings.ToLower(c.LogLevel) {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	case "fatal":
		return logging.LevelFatal
	default:
		return logging.LevelInfo
	}
}
