package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds shared runtime configuration for the worker, API and CLI binaries.
type Config struct {
	Env           string
	HTTPPort      string
	MetricsAddr   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	PendingQueue string
	JobTTL       time.Duration

	NumWorkers   int
	ResultsDir   string
	UploadDir    string
	IdleBackoff  time.Duration
	ErrorBackoff time.Duration

	Transformer        string
	TransformCommand   string
	TransformWidth     int
	TransformHeight    int
	TransformGrayscale bool

	ImageS3Bucket    string
	ImageS3Region    string
	ImageS3Endpoint  string
	ImageS3PathStyle bool

	RateLimitCapacity int
	RateLimitRefill   float64

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:                getEnv("APP_ENV", "dev"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:          getEnv("REDIS_ADDR", getEnv("REDIS_URL", "localhost:6379")),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		PendingQueue:       getEnv("PENDING_QUEUE", "pending_jobs"),
		JobTTL:             getEnvDuration("JOB_TTL", 24*time.Hour),
		NumWorkers:         getEnvInt("NUM_WORKERS", runtime.NumCPU()),
		ResultsDir:         getEnv("RESULTS_DIR", "results"),
		UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
		IdleBackoff:        getEnvDuration("WORKER_IDLE_BACKOFF", time.Second),
		ErrorBackoff:       getEnvDuration("WORKER_ERROR_BACKOFF", 5*time.Second),
		Transformer:        strings.ToLower(getEnv("TRANSFORMER", "imaging")),
		TransformCommand:   getEnv("TRANSFORM_COMMAND", "rembg i {input} {output}"),
		TransformWidth:     getEnvInt("TRANSFORM_WIDTH", 0),
		TransformHeight:    getEnvInt("TRANSFORM_HEIGHT", 0),
		TransformGrayscale: getEnvBool("TRANSFORM_GRAYSCALE", false),
		ImageS3Bucket:      getEnv("IMAGE_S3_BUCKET", ""),
		ImageS3Region:      getEnv("IMAGE_S3_REGION", "us-east-1"),
		ImageS3Endpoint:    getEnv("IMAGE_S3_ENDPOINT", ""),
		ImageS3PathStyle:   getEnvBool("IMAGE_S3_PATH_STYLE", false),
		RateLimitCapacity:  getEnvInt("RATE_LIMIT_CAPACITY", 20),
		RateLimitRefill:    getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 5),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}
}

var knownTransformers = map[string]bool{
	"imaging":   true,
	"thumbnail": true,
	"command":   true,
}

// Validate rejects configurations the worker pool cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("NUM_WORKERS must be at least 1, got %d", c.NumWorkers))
	}
	if strings.TrimSpace(c.ResultsDir) == "" {
		errs = append(errs, errors.New("RESULTS_DIR must not be empty"))
	}
	if c.PendingQueue == "" {
		errs = append(errs, errors.New("PENDING_QUEUE must not be empty"))
	}
	if c.JobTTL <= 0 {
		errs = append(errs, fmt.Errorf("JOB_TTL must be positive, got %s", c.JobTTL))
	}
	if c.IdleBackoff <= 0 || c.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("worker back-offs must be positive"))
	}
	if !knownTransformers[c.Transformer] {
		errs = append(errs, fmt.Errorf("unknown TRANSFORMER %q", c.Transformer))
	}
	if c.Transformer == "command" && strings.TrimSpace(c.TransformCommand) == "" {
		errs = append(errs, errors.New("TRANSFORM_COMMAND is required for the command transformer"))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
