package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MaxSearchKeyTTL bounds the lifetime of issued search keys.
const MaxSearchKeyTTL = 15 * time.Minute

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Email    EmailConfig
	Search   SearchConfig
	Auth     AuthConfig
	Events   EventsConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	Environment string // "development", "production", "test"
	Debug       bool
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type EmailConfig struct {
	Provider     string // "resend", "console"
	FromAddress  string
	FromName     string
	BaseURL      string // Application base URL for links
	ResendAPIKey string
}

type SearchConfig struct {
	AppID         string
	SearchAPIKey  string // search-only parent key used to sign secured keys
	AdminAPIKey   string // write key used by the indexer
	IndexName     string
	HostURL       string // overrides the default Algolia DSN host
	KeyTTL        time.Duration
	KeyRefresh    time.Duration
	HitsPerPage   int
	FallbackLimit int
	WriteQPS      float64
}

// Enabled reports whether the hosted search index is configured.
func (s SearchConfig) Enabled() bool {
	return s.AppID != "" && s.SearchAPIKey != ""
}

type AuthConfig struct {
	IssuerURL string
	ClientID  string
}

type EventsConfig struct {
	NATSURL       string
	SubjectPrefix string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

var loadDotEnv = func() error {
	return godotenv.Load()
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := loadDotEnv(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnvInt("SERVER_PORT", 8080),
			Environment: getEnv("APP_ENV", "development"),
			Debug:       getEnvBool("DEBUG", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "friendlane"),
			Password: getEnv("DB_PASSWORD", "friendlane"),
			DBName:   getEnv("DB_NAME", "friendlane"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			Provider:     getEnv("EMAIL_PROVIDER", "console"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", "noreply@friendlane.app"),
			FromName:     getEnv("EMAIL_FROM_NAME", "Friendlane"),
			BaseURL:      getEnv("APP_BASE_URL", "http://localhost:8080"),
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		},
		Search: SearchConfig{
			AppID:         getEnv("ALGOLIA_APP_ID", ""),
			SearchAPIKey:  getEnv("ALGOLIA_SEARCH_KEY", ""),
			AdminAPIKey:   getEnv("ALGOLIA_ADMIN_KEY", ""),
			IndexName:     getEnvNonEmpty("ALGOLIA_INDEX", "users"),
			HostURL:       getEnv("ALGOLIA_HOST_URL", ""),
			KeyTTL:        getEnvDuration("SEARCH_KEY_TTL", MaxSearchKeyTTL),
			KeyRefresh:    getEnvDuration("SEARCH_KEY_REFRESH", 14*time.Minute),
			HitsPerPage:   getEnvInt("SEARCH_HITS_PER_PAGE", 20),
			FallbackLimit: getEnvInt("SEARCH_FALLBACK_LIMIT", 10),
			WriteQPS:      getEnvFloat64("ALGOLIA_WRITE_QPS", 10),
		},
		Auth: AuthConfig{
			IssuerURL: getEnv("OIDC_ISSUER_URL", ""),
			ClientID:  getEnv("OIDC_CLIENT_ID", ""),
		},
		Events: EventsConfig{
			NATSURL:       getEnv("NATS_URL", ""),
			SubjectPrefix: getEnvNonEmpty("NATS_SUBJECT_PREFIX", "friendlane"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Search.KeyTTL <= 0 || c.Search.KeyTTL > MaxSearchKeyTTL {
		return fmt.Errorf("SEARCH_KEY_TTL must be in (0, %s]", MaxSearchKeyTTL)
	}
	if c.Search.KeyRefresh <= 0 || c.Search.KeyRefresh >= c.Search.KeyTTL {
		return errors.New("SEARCH_KEY_REFRESH must be positive and shorter than SEARCH_KEY_TTL")
	}
	if c.Search.HitsPerPage <= 0 || c.Search.FallbackLimit <= 0 {
		return errors.New("search result bounds must be positive")
	}
	if c.Auth.IssuerURL == "" || c.Auth.ClientID == "" {
		if c.Server.Environment == "production" {
			return errors.New("OIDC_ISSUER_URL and OIDC_CLIENT_ID are required in production")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvNonEmpty(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		if strings.TrimSpace(value) != "" {
			return value
		}
		return defaultValue
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}
