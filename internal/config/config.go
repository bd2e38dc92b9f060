package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nudge/internal/queue"
)

type Config struct {
	Env      string
	LogLevel string

	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	// QueueURL selects the broker by scheme (postgres://, redis://). Empty
	// means notifications are disabled.
	QueueURL string
	Queue    queue.Options

	SenderURL   string
	SenderToken string
}

// Load reads .env if present, then the environment. Malformed numbers and
// durations are errors; missing values take defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	def := queue.DefaultOptions()
	cfg := Config{
		Env:                  getenv("APP_ENV", "development"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getenv("DATABASE_URL", ""),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		JWTSecret:            getenv("JWT_SECRET", ""),
		QueueURL:             getenv("NUDGE_QUEUE_URL", ""),
		SenderURL:            getenv("NUDGE_SENDER_URL", ""),
		SenderToken:          getenv("NUDGE_SENDER_TOKEN", ""),
		Queue:                def,
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var err error
	cfg.Queue.Name = getenv("NUDGE_QUEUE_NAME", def.Name)
	if cfg.Queue.Concurrency, err = getInt("NUDGE_WORKER_CONCURRENCY", def.Concurrency); err != nil {
		return Config{}, err
	}
	if cfg.Queue.MaxAttempts, err = getInt("NUDGE_MAX_ATTEMPTS", def.MaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.Queue.BackoffBase, err = getDuration("NUDGE_BACKOFF_BASE", def.BackoffBase); err != nil {
		return Config{}, err
	}
	if cfg.Queue.Retention, err = getDuration("NUDGE_RETENTION", def.Retention); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Require fails unless every named field is set. Only serve needs the
// database and secret, so they are checked per command.
func (c Config) Require(keys ...string) error {
	values := map[string]string{
		"DATABASE_URL": c.DatabaseURL,
		"JWT_SECRET":   c.JWTSecret,
	}
	for _, k := range keys {
		if values[k] == "" {
			return fmt.Errorf("missing env: %s", k)
		}
	}
	return nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getInt(key string, def int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, v)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, v)
	}
	return d, nil
}
