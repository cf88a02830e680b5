package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/smartsavvy/internal/backup"
	"github.com/dukerupert/smartsavvy/internal/stats"
	"github.com/dukerupert/smartsavvy/internal/subscription"
	"github.com/dukerupert/smartsavvy/internal/webhook"
)

// Config is the service configuration assembled from the environment.
type Config struct {
	Port      string
	DBPath    string
	BaseURL   string
	LogLevel  string
	LogFormat string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StatsTimezone string
	Clock         stats.Clock

	CopeCartSecret         string
	DigistoreUserAgent     string
	DigistoreIPNPassphrase string

	PostmarkToken string
	FromEmail     string

	AdminTokenHash string
	Products       map[string]string
	OriginPatterns []string

	Backup backup.Config
}

// Load reads an optional .env file and then the process environment.
// A missing .env file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults and validating
// every value that has a fixed format.
func FromEnv(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:                   env("SMARTSAVVY_PORT", "8080"),
		DBPath:                 env("SMARTSAVVY_DB_PATH", "smartsavvy.db"),
		LogLevel:               env("SMARTSAVVY_LOG_LEVEL", "info"),
		LogFormat:              strings.ToLower(env("SMARTSAVVY_LOG_FORMAT", "text")),
		RedisAddr:              env("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          getenv("REDIS_PASSWORD"),
		StatsTimezone:          env("STATS_TIMEZONE", "UTC"),
		CopeCartSecret:         getenv("COPECART_SECRET"),
		DigistoreUserAgent:     env("DIGISTORE_USER_AGENT", webhook.DefaultDigistoreUserAgent),
		DigistoreIPNPassphrase: getenv("DIGISTORE_IPN_PASSPHRASE"),
		PostmarkToken:          getenv("POSTMARK_TOKEN"),
		FromEmail:              getenv("FROM_EMAIL"),
		AdminTokenHash:         getenv("ADMIN_TOKEN_HASH"),
	}
	cfg.BaseURL = strings.TrimRight(env("SMARTSAVVY_BASE_URL", "http://localhost:"+cfg.Port), "/")

	var errs []error

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		errs = append(errs, fmt.Errorf("SMARTSAVVY_PORT: %q is not a number", cfg.Port))
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("SMARTSAVVY_LOG_FORMAT: %q must be text or json", cfg.LogFormat))
	}

	db, err := strconv.Atoi(env("REDIS_DB", "0"))
	if err != nil || db < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB: %q must be a non-negative integer", getenv("REDIS_DB")))
	}
	cfg.RedisDB = db

	clock, err := stats.NewClock(cfg.StatsTimezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("STATS_TIMEZONE: %w", err))
	}
	cfg.Clock = clock

	products, err := subscription.ParseProductMap(getenv("PRODUCT_MAP"))
	if err != nil {
		errs = append(errs, fmt.Errorf("PRODUCT_MAP: %w", err))
	}
	cfg.Products = products

	for _, p := range strings.Split(getenv("WS_ORIGIN_PATTERNS"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.OriginPatterns = append(cfg.OriginPatterns, p)
		}
	}

	if cfg.AdminTokenHash != "" && !strings.HasPrefix(cfg.AdminTokenHash, "$2") {
		errs = append(errs, errors.New("ADMIN_TOKEN_HASH: not a bcrypt hash"))
	}

	cfg.Backup = backup.Config{
		S3: backup.S3Config{
			Endpoint:  getenv("BACKUP_S3_ENDPOINT"),
			Bucket:    getenv("BACKUP_S3_BUCKET"),
			Region:    env("BACKUP_S3_REGION", "us-east-1"),
			AccessKey: getenv("BACKUP_S3_ACCESS_KEY"),
			SecretKey: getenv("BACKUP_S3_SECRET_KEY"),
		},
		Passphrase: getenv("BACKUP_PASSPHRASE"),
		Prefix:     getenv("BACKUP_PREFIX"),
	}
	interval, err := time.ParseDuration(env("BACKUP_INTERVAL", "24h"))
	if err != nil || interval <= 0 {
		errs = append(errs, fmt.Errorf("BACKUP_INTERVAL: %q must be a positive duration", getenv("BACKUP_INTERVAL")))
	}
	cfg.Backup.Interval = interval
	days, err := strconv.Atoi(env("BACKUP_RETENTION_DAYS", "30"))
	if err != nil || days < 0 {
		errs = append(errs, fmt.Errorf("BACKUP_RETENTION_DAYS: %q must be a non-negative integer", getenv("BACKUP_RETENTION_DAYS")))
	}
	cfg.Backup.Retention = time.Duration(days) * 24 * time.Hour

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Warnings lists settings that are valid but leave a feature disabled.
func (c Config) Warnings() []string {
	var w []string
	if c.CopeCartSecret == "" {
		w = append(w, "COPECART_SECRET is empty, every CopeCart webhook will be rejected")
	}
	if c.PostmarkToken == "" || c.FromEmail == "" {
		w = append(w, "POSTMARK_TOKEN or FROM_EMAIL is empty, confirmation emails are disabled")
	}
	if c.AdminTokenHash == "" {
		w = append(w, "ADMIN_TOKEN_HASH is empty, the admin log endpoint is disabled")
	}
	if !c.Backup.Enabled() {
		w = append(w, "BACKUP_S3_* or BACKUP_PASSPHRASE is incomplete, database backups are disabled")
	}
	return w
}
