package server

import (
	"os"
	"strconv"
	"strings"
)

// Config carries the service settings, read from the environment. The
// entry point loads a .env file first so local development can override
// without exporting anything.
type Config struct {
	Port           string
	LogLevel       string
	AllowedOrigins []string
	MaxUploadBytes int64
}

// LoadConfig reads configuration from the environment with defaults
// suitable for local development.
func LoadConfig() Config {
	return Config{
		// PaaS runtimes provide PORT; SERVER_PORT is kept for local use.
		Port:           getEnv("PORT", getEnv("SERVER_PORT", "8080")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 50*1024*1024),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
