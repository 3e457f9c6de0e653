package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultPort           = "8080"
	defaultGeminiModel    = "gemini-2.0-flash-001"
	defaultUploadDir      = "./uploads"
	defaultMaxUploadBytes = 10 << 20
	defaultBQDataset      = "extractor"
)

type Config struct {
	// HTTP Server
	Port           string
	AllowedOrigins []string
	JWTSecret      string

	// Gemini
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// Document storage
	UploadDir      string
	UploadBucket   string
	MaxUploadBytes int64

	// Run log
	BQProjectID string
	BQDataset   string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads a .env file from the working directory, if present, and builds
// the configuration from the environment. Variables already set win over .env.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() *Config {
	return &Config{
		Port:           getEnv("PORT", defaultPort),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		JWTSecret:      getEnv("JWT_SECRET", ""),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", defaultGeminiModel),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", ""),

		UploadDir:      getEnv("UPLOAD_DIR", defaultUploadDir),
		UploadBucket:   getEnv("UPLOAD_BUCKET", ""),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", defaultMaxUploadBytes),

		BQProjectID: getEnv("BQ_PROJECT_ID", ""),
		BQDataset:   getEnv("BQ_DATASET", defaultBQDataset),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}
}

// Validate validates the configuration and returns an error listing every problem.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.GeminiAPIKey == "" {
		problems = append(problems, "GEMINI_API_KEY is required")
	}
	if c.GeminiModel == "" {
		problems = append(problems, "GEMINI_MODEL cannot be empty")
	}

	if c.MaxUploadBytes <= 0 {
		problems = append(problems, fmt.Sprintf("invalid max upload size %d: must be positive", c.MaxUploadBytes))
	} else if c.MaxUploadBytes > defaultMaxUploadBytes {
		problems = append(problems, fmt.Sprintf("invalid max upload size %d: must not exceed %d", c.MaxUploadBytes, defaultMaxUploadBytes))
	}
	if c.UploadBucket == "" && c.UploadDir == "" {
		problems = append(problems, "either UPLOAD_DIR or UPLOAD_BUCKET must be set")
	}

	if c.BQProjectID != "" && c.BQDataset == "" {
		problems = append(problems, "BQ_DATASET cannot be empty when BQ_PROJECT_ID is set")
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be one of [console json]", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
