package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Auth modes
const (
	AuthModeAuthorizer = "authorizer"
	AuthModeHeader     = "header"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port string

	// Database configuration
	DBType            string // mysql, postgres, sqlite, sqlserver
	DBHost            string
	DBPort            string
	DBDatabase        string // file path for sqlite
	DBUser            string
	DBPassword        string
	DBConnectionLimit int

	// Identity configuration
	AuthMode      string
	AuthzURL      string
	AuthzClientID string

	// Logging configuration
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int

	// Object storage configuration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	PresignTTL     time.Duration

	// Playback cache configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Guide rendering configuration
	MixerMode    string // ffmpeg or paths
	FFmpegPath   string
	WaveformPath string
	GuideDir     string
}

// Load loads configuration from environment variables, reading a .env file first if present
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}

	cfg := &Config{
		Port:              getEnv("PORT", "3000"),
		DBType:            getEnv("DB_TYPE", "mysql"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBDatabase:        getEnv("DB_DATABASE", ""),
		DBUser:            getEnv("DB_USER", ""),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBConnectionLimit: getEnvAsInt("DB_CONNECTION_LIMIT", 10),
		AuthMode:          getEnv("AUTH_MODE", AuthModeAuthorizer),
		AuthzURL:          getEnv("AUTHZ_URL", ""),
		AuthzClientID:     getEnv("AUTHZ_CLIENT_ID", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
		LogMaxSize:        getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups:     getEnvAsInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:         getEnvAsInt("LOG_MAX_AGE", 30),
		MinioEndpoint:     getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:    getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:    getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:       getEnv("MINIO_BUCKET", "stemflow"),
		MinioRegion:       getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:       getEnvAsBool("MINIO_USE_SSL", false),
		PresignTTL:        getEnvAsDuration("PRESIGN_TTL", 15*time.Minute),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvAsInt("REDIS_DB", 0),
		MixerMode:         getEnv("MIXER_MODE", "ffmpeg"),
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		WaveformPath:      getEnv("AUDIOWAVEFORM_PATH", "audiowaveform"),
		GuideDir:          getEnv("GUIDE_DIR", "guides"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and cross-field constraints
func (cfg *Config) Validate() error {
	if cfg.DBDatabase == "" {
		return fmt.Errorf("DB_DATABASE is required")
	}
	if cfg.DBType != "sqlite" && cfg.DBUser == "" {
		return fmt.Errorf("DB_USER is required")
	}

	switch cfg.AuthMode {
	case AuthModeAuthorizer:
		if cfg.AuthzURL == "" {
			return fmt.Errorf("AUTHZ_URL is required")
		}
		if cfg.AuthzClientID == "" {
			return fmt.Errorf("AUTHZ_CLIENT_ID is required")
		}
	case AuthModeHeader:
	default:
		return fmt.Errorf("unsupported AUTH_MODE: %s", cfg.AuthMode)
	}

	switch cfg.MixerMode {
	case "ffmpeg", "paths":
	default:
		return fmt.Errorf("unsupported MIXER_MODE: %s", cfg.MixerMode)
	}

	if cfg.PresignTTL <= 0 {
		return fmt.Errorf("PRESIGN_TTL must be positive")
	}

	return nil
}

// ObjectStorageEnabled reports whether MinIO settings were supplied
func (cfg *Config) ObjectStorageEnabled() bool {
	return cfg.MinioEndpoint != ""
}

// CacheEnabled reports whether a Redis address was supplied
func (cfg *Config) CacheEnabled() bool {
	return cfg.RedisAddr != ""
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
