package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr           string
	DatabaseDriver string
	DatabaseURL    string
	JWTSecret      string
	CORSOrigin     string
	// Redis - optional, shares rate limit windows across instances
	RedisURL            string
	ClientRatePerMinute int
	// Media - local prefix unless a MinIO endpoint is configured
	MediaBaseURL   string
	MediaURLTTL    time.Duration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string
	LogLevel       string
	LogFormat      string
}

func Load() Config {
	return Config{
		Addr:                getenv("API_ADDR", ":5000"),
		DatabaseDriver:      getenv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:         getenv("DATABASE_URL", "file:proofing.db?_foreign_keys=on&_busy_timeout=5000"),
		JWTSecret:           getenv("JWT_SECRET", "your-super-secret-key"),
		CORSOrigin:          getenv("CORS_ORIGIN", "http://localhost:5173"),
		RedisURL:            getenv("REDIS_URL", ""),
		ClientRatePerMinute: getenvInt("CLIENT_RATE_PER_MINUTE", 120),
		MediaBaseURL:        getenv("MEDIA_BASE_URL", "/uploads"),
		MediaURLTTL:         time.Duration(getenvInt("MEDIA_URL_TTL_SECONDS", 900)) * time.Second,
		MinioEndpoint:       getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:      getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:      getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:         getenv("MINIO_BUCKET", "photos"),
		MinioUseSSL:         getenvBool("MINIO_USE_SSL", false),
		MinioRegion:         getenv("MINIO_REGION", "us-east-1"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogFormat:           getenv("LOG_FORMAT", "json"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
