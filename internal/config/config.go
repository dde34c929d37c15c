// Package config loads server settings from CHOREBOARD_* environment
// variables.
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
	"github.com/robfig/cron/v3"
)

const prefix = "CHOREBOARD_"

type Config struct {
	Port               string
	DBPath             string
	LogLevel           string
	JWTSecret          string
	TokenTTL           time.Duration
	Location           *time.Location
	WeekStart          time.Weekday
	VAPIDPublicKey     string
	VAPIDPrivateKey    string
	VAPIDSubscriber    string
	DefaultChorePoints int
	AllowedOrigins     []string
	TrustProxy         bool
	PostmarkToken      string
	EmailFrom          string
	BaseURL            string

	S3Endpoint       string
	S3Bucket         string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	BackupPassphrase string
	BackupPrefix     string
	// BackupSchedule is a cron expression for backups inside serve, such as
	// "0 3 * * *" or "@every 6h". Empty disables scheduled backups.
	BackupSchedule  string
	BackupRetention time.Duration
}

// PushEnabled reports whether both VAPID keys are configured.
func (c Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// EmailEnabled reports whether approval emails can be sent.
func (c Config) EmailEnabled() bool {
	return c.PostmarkToken != ""
}

// BackupConfigured reports whether a bucket, credentials and passphrase are
// all present.
func (c Config) BackupConfigured() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.BackupPassphrase != ""
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set are never overridden.
// JWT_SECRET is required; everything else has a default.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(prefix + key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:            get("PORT", "8080"),
		DBPath:          get("DB_PATH", "choreboard.db"),
		LogLevel:        get("LOG_LEVEL", "info"),
		JWTSecret:       get("JWT_SECRET", ""),
		VAPIDPublicKey:  get("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: get("VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber: get("VAPID_SUBSCRIBER", ""),
		PostmarkToken:   get("POSTMARK_TOKEN", ""),
		EmailFrom:       get("EMAIL_FROM", "noreply@choreboard.app"),
		BaseURL:         get("BASE_URL", ""),

		S3Endpoint:       get("S3_ENDPOINT", ""),
		S3Bucket:         get("S3_BUCKET", ""),
		S3Region:         get("S3_REGION", "us-east-1"),
		S3AccessKey:      get("S3_ACCESS_KEY", ""),
		S3SecretKey:      get("S3_SECRET_KEY", ""),
		BackupPassphrase: get("BACKUP_PASSPHRASE", ""),
		BackupPrefix:     get("BACKUP_PREFIX", "backups"),
		BackupSchedule:   get("BACKUP_SCHEDULE", ""),
	}

	var errs []error
	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("%sJWT_SECRET is required", prefix))
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		errs = append(errs, fmt.Errorf("%sPORT: %q is not a number", prefix, cfg.Port))
	}

	ttl, err := time.ParseDuration(get("TOKEN_TTL", "12h"))
	if err != nil || ttl <= 0 {
		errs = append(errs, fmt.Errorf("%sTOKEN_TTL: must be a positive duration", prefix))
	}
	cfg.TokenTTL = ttl

	loc, err := time.LoadLocation(get("TIMEZONE", "Local"))
	if err != nil {
		errs = append(errs, fmt.Errorf("%sTIMEZONE: %w", prefix, err))
		loc = time.Local
	}
	cfg.Location = loc

	ws, err := parseWeekday(get("WEEK_START", "monday"))
	if err != nil {
		errs = append(errs, fmt.Errorf("%sWEEK_START: %w", prefix, err))
	}
	cfg.WeekStart = ws

	points, err := strconv.Atoi(get("DEFAULT_CHORE_POINTS", "5"))
	if err != nil || points < 1 {
		errs = append(errs, fmt.Errorf("%sDEFAULT_CHORE_POINTS: must be a positive integer", prefix))
	}
	cfg.DefaultChorePoints = points

	if origins := get("ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	// Forwarding headers are client-controlled unless a proxy overwrites them.
	trust, err := strconv.ParseBool(get("TRUST_PROXY", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("%sTRUST_PROXY: must be true or false", prefix))
	}
	cfg.TrustProxy = trust

	if (cfg.VAPIDPublicKey == "") != (cfg.VAPIDPrivateKey == "") {
		errs = append(errs, fmt.Errorf("%sVAPID_PUBLIC_KEY and %sVAPID_PRIVATE_KEY must be set together", prefix, prefix))
	}

	if cfg.BackupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.BackupSchedule); err != nil {
			errs = append(errs, fmt.Errorf("%sBACKUP_SCHEDULE: %w", prefix, err))
		}
	}

	retention, err := time.ParseDuration(get("BACKUP_RETENTION", "720h"))
	if err != nil || retention < 0 {
		errs = append(errs, fmt.Errorf("%sBACKUP_RETENTION: must be a non-negative duration", prefix))
	}
	cfg.BackupRetention = retention

	if cfg.BackupSchedule != "" && !cfg.BackupConfigured() {
		errs = append(errs, fmt.Errorf("%sBACKUP_SCHEDULE requires S3_BUCKET, S3_ACCESS_KEY, S3_SECRET_KEY and BACKUP_PASSPHRASE", prefix))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("unknown weekday %q", s)
}
