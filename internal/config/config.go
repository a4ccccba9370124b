package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port       string
	Production bool
	SiteURL    string

	DatabaseURL   string
	RedisURL      string
	SessionSecret string
	SessionTTL    time.Duration

	SuperAdminLogin string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthAPIURL       string
	CampusID          int
	CursusID          int

	WebhookCouncilURL string
	WebhookStudentURL string

	IssueRatePoints     int
	IssueRateWindow     time.Duration
	CommentRatePoints   int
	CommentRateWindow   time.Duration
	NotificationTimeout time.Duration
}

// LoadEnv reads a .env file if there is one. A missing file is not an error.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading configuration from the environment")
	}
}

// Load builds a Config from environment variables.
func Load() (Config, error) {
	cfg := Config{
		Port:       getEnv("PORT", "8080"),
		Production: getEnv("APP_ENV", "development") == "production",
		SiteURL:    getEnv("SITE_URL", "http://localhost:8080"),

		DatabaseURL:   getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=councilboard port=5432 sslmode=disable"),
		RedisURL:      os.Getenv("REDIS_URL"),
		SessionSecret: os.Getenv("SESSION_SECRET"),

		SuperAdminLogin: os.Getenv("SUPER_ADMIN_LOGIN"),

		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthAuthURL:      getEnv("OAUTH_AUTH_URL", "https://api.intra.42.fr/oauth/authorize"),
		OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", "https://api.intra.42.fr/oauth/token"),
		OAuthAPIURL:       getEnv("OAUTH_API_URL", "https://api.intra.42.fr/v2"),

		WebhookCouncilURL: os.Getenv("WEBHOOK_COUNCIL_URL"),
		WebhookStudentURL: os.Getenv("WEBHOOK_STUDENT_URL"),
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.CampusID, err = getInt("CAMPUS_ID", 0); err != nil {
		return Config{}, err
	}
	if cfg.CursusID, err = getInt("CURSUS_ID", 21); err != nil {
		return Config{}, err
	}
	if cfg.IssueRatePoints, err = getInt("ISSUE_RATE_POINTS", 2); err != nil {
		return Config{}, err
	}
	if cfg.IssueRateWindow, err = getDuration("ISSUE_RATE_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CommentRatePoints, err = getInt("COMMENT_RATE_POINTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.CommentRateWindow, err = getDuration("COMMENT_RATE_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.NotificationTimeout, err = getDuration("NOTIFICATION_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.SessionSecret == "" {
		if cfg.Production {
			return Config{}, errors.New("SESSION_SECRET is required in production")
		}
		cfg.SessionSecret = "secret_key_change_me"
	}
	if cfg.IssueRatePoints <= 0 || cfg.CommentRatePoints <= 0 {
		return Config{}, errors.New("rate limit points must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getDuration accepts Go durations ("90s", "720h") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
