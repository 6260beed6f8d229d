package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	URL  string // DATABASE_URL; wins over the parts below
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	PublishTopic   string // NSQ topic for due publish jobs
	UnpublishTopic string // NSQ topic for due unpublish jobs
	DLQTopic       string // Dead letter topic for executions that ran out of attempts
	WorkerChannel  string // NSQ channel name for workers
}

type Worker struct {
	MaxAttempts     int             // Maximum execution attempts
	BackoffSchedule []time.Duration // Retry backoff durations
	JitterPercent   float64         // Backoff jitter percentage (0.0-1.0)
	PublishDLQ      bool            // Whether to publish exhausted executions to the DLQ topic
	MaxInFlight     int             // NSQ max in flight per consumer
	HTTPPort        string          // Worker HTTP metrics port
}

type Dispatcher struct {
	PollInterval time.Duration // How often due jobs are claimed
	BatchSize    int           // Max jobs claimed per tick
	HTTPPort     string        // Dispatcher HTTP metrics port
}

type ContentAPI struct {
	BaseURL     string        // Management API root
	Environment string        // Environment the entries live in
	Timeout     time.Duration // Per-request timeout
}

type Config struct {
	AppName        string
	HTTPPort       string // :8080
	SpacesFile     string // per-space settings, see LoadSpaces
	WebhookPath    string // route the webhook handler is mounted on
	MigrateOnStart bool   // apply embedded migrations before serving
	DB             DB
	NSQ            NSQ
	Worker         Worker
	Dispatcher     Dispatcher
	ContentAPI     ContentAPI
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func defaultBackoff() []time.Duration {
	return []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second, 1 * time.Minute, 4 * time.Minute, 10 * time.Minute}
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoff()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return defaultBackoff()
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName:        getenv("APP_NAME", "harbor-scheduler"),
		HTTPPort:       getenv("HTTP_PORT", ":8080"),
		SpacesFile:     getenv("SPACES_FILE", "spaces.yaml"),
		WebhookPath:    getenv("WEBHOOK_PATH", "/scheduler"),
		MigrateOnStart: getenvBool("MIGRATE_ON_START", true),
		DB: DB{
			URL:  os.Getenv("DATABASE_URL"),
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "scheduler"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			PublishTopic:   getenv("NSQ_PUBLISH_TOPIC", "publish"),
			UnpublishTopic: getenv("NSQ_UNPUBLISH_TOPIC", "unpublish"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "scheduler_dlq"),
			WorkerChannel:  getenv("NSQ_WORKER_CHANNEL", "executors"),
		},
		Worker: Worker{
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 6),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:   getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			PublishDLQ:      getenvBool("PUBLISH_DLQ_TOPIC", false),
			MaxInFlight:     getenvInt("WORKER_MAX_IN_FLIGHT", 50),
			HTTPPort:        ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		Dispatcher: Dispatcher{
			PollInterval: getenvDuration("DISPATCH_INTERVAL", 5*time.Second),
			BatchSize:    getenvInt("DISPATCH_BATCH_SIZE", 100),
			HTTPPort:     ":" + getenv("DISPATCHER_HTTP_PORT", "8084"),
		},
		ContentAPI: ContentAPI{
			BaseURL:     getenv("CONTENT_API_URL", "https://api.contentful.com"),
			Environment: getenv("CONTENT_API_ENVIRONMENT", "master"),
			Timeout:     getenvDuration("CONTENT_API_TIMEOUT", 15*time.Second),
		},
	}
}

func (c Config) DSN() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
