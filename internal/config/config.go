package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API, the worker and the CLI.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	AuthToken string
	JWTSecret string

	DatabaseURL    string
	DefaultCredits int

	ReplicateAPIToken        string
	ReplicateBaseURL         string
	ReplicateRequestTimeout  time.Duration
	ReplicatePollInterval    time.Duration
	ReplicateMaxPollAttempts int
	ReplicateSubmitRPS       float64
	ReplicateSubmitBurst     int
	PlanModel                string
	ImageModel               string

	PlanCacheTTL   time.Duration
	IdempotencyTTL time.Duration
	MaxPages       int

	StorageDriver      string
	StorageDir         string
	PublicBaseURL      string
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
	AssetFetchTimeout  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string

	WorkerEnabled  bool
	HubBufferSize  int
	QueueBuffer    int
	QueueAttempts  int
	ShutdownPeriod time.Duration
}

func Load() Config {
	port := getEnv("PORT", "8080")
	return Config{
		Port:     port,
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DefaultCredits: getEnvInt("DEFAULT_CREDITS", 20),

		ReplicateAPIToken:        getEnv("REPLICATE_API_TOKEN", ""),
		ReplicateBaseURL:         getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"),
		ReplicateRequestTimeout:  getEnvDuration("REPLICATE_REQUEST_TIMEOUT", 90*time.Second),
		ReplicatePollInterval:    getEnvDuration("REPLICATE_POLL_INTERVAL", 2*time.Second),
		ReplicateMaxPollAttempts: getEnvInt("REPLICATE_MAX_POLL_ATTEMPTS", 150),
		ReplicateSubmitRPS:       getEnvFloat("REPLICATE_SUBMIT_RPS", 5),
		ReplicateSubmitBurst:     getEnvInt("REPLICATE_SUBMIT_BURST", 5),
		PlanModel:                getEnv("PLAN_MODEL", "openai/gpt-5"),
		ImageModel:               getEnv("IMAGE_MODEL", "google/nano-banana"),

		PlanCacheTTL:   getEnvDuration("PLAN_CACHE_TTL", 15*time.Minute),
		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		MaxPages:       getEnvInt("MAX_PAGES", 0),

		StorageDriver:      strings.ToLower(getEnv("STORAGE_DRIVER", "filesystem")),
		StorageDir:         getEnv("STORAGE_DIR", "data/assets"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:"+port+"/assets"),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "mangas"),
		AssetFetchTimeout:  getEnvDuration("ASSET_FETCH_TIMEOUT", 60*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "manga_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "manga_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "manga_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
		CORSOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		WorkerEnabled:  getEnvBool("WORKER_ENABLED", true),
		HubBufferSize:  getEnvInt("PROGRESS_BUFFER_SIZE", 64),
		QueueBuffer:    getEnvInt("QUEUE_BUFFER_SIZE", 512),
		QueueAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		ShutdownPeriod: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
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

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("90s") or plain milliseconds ("90000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
