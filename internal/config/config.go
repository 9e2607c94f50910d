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

// Config holds runtime configuration for the worker and the maintenance tool.
type Config struct {
	Env               string
	StateDir          string
	ProcessedFile     string
	InProgressFile    string
	LockMode          string
	ClaimMaxAttempts  int
	ClaimShortMin     time.Duration
	ClaimShortMax     time.Duration
	ClaimLongMin      time.Duration
	ClaimLongMax      time.Duration
	AWSRegion         string
	S3Endpoint        string
	S3PathStyle       bool
	UploadConcurrency int
	FFmpegPath        string
	FFprobePath       string
	SegmentSeconds    int
	GOPSeconds        int
	PosterWidth       int
	WorkDir           string
	WorkerID          string
	LogLevel          string
	LogFormat         string
	MetricsAddr       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	PostgresDSN       string
}

// Load reads configuration from a .env file (if present) and environment
// variables, with defaults suited to a single machine.
func Load() Config {
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "dev")
	logFormat := "console"
	if env == "prod" || env == "production" {
		logFormat = "json"
	}

	return Config{
		Env:               env,
		StateDir:          getEnv("STATE_DIR", "."),
		ProcessedFile:     getEnv("PROCESSED_FILE", "processed_videos.json"),
		InProgressFile:    getEnv("IN_PROGRESS_FILE", "in_progress_videos.json"),
		LockMode:          getEnv("LOCK_MODE", "flock"),
		ClaimMaxAttempts:  getEnvInt("CLAIM_MAX_ATTEMPTS", 10),
		ClaimShortMin:     getEnvDuration("CLAIM_SHORT_MIN", 100*time.Millisecond),
		ClaimShortMax:     getEnvDuration("CLAIM_SHORT_MAX", 500*time.Millisecond),
		ClaimLongMin:      getEnvDuration("CLAIM_LONG_MIN", 500*time.Millisecond),
		ClaimLongMax:      getEnvDuration("CLAIM_LONG_MAX", 2*time.Second),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3PathStyle:       getEnvBool("S3_PATH_STYLE", false),
		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       getEnv("FFPROBE_PATH", "ffprobe"),
		SegmentSeconds:    getEnvInt("SEGMENT_SECONDS", 4),
		GOPSeconds:        getEnvInt("GOP_SECONDS", 4),
		PosterWidth:       getEnvInt("POSTER_WIDTH", 0),
		WorkDir:           getEnv("WORK_DIR", ""),
		WorkerID:          getEnv("WORKER_ID", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", logFormat),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		HeartbeatTTL:      getEnvDuration("HEARTBEAT_TTL", 30*time.Second),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
	}
}

// Validate rejects settings the worker cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ClaimMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("CLAIM_MAX_ATTEMPTS must be >= 1, got %d", c.ClaimMaxAttempts))
	}
	if c.ClaimShortMin > c.ClaimShortMax {
		errs = append(errs, errors.New("CLAIM_SHORT_MIN must not exceed CLAIM_SHORT_MAX"))
	}
	if c.ClaimLongMin > c.ClaimLongMax {
		errs = append(errs, errors.New("CLAIM_LONG_MIN must not exceed CLAIM_LONG_MAX"))
	}
	if c.UploadConcurrency < 1 {
		errs = append(errs, fmt.Errorf("UPLOAD_CONCURRENCY must be >= 1, got %d", c.UploadConcurrency))
	}
	if c.SegmentSeconds < 1 || c.GOPSeconds < 1 {
		errs = append(errs, errors.New("SEGMENT_SECONDS and GOP_SECONDS must be >= 1"))
	}
	if c.PosterWidth < 0 {
		errs = append(errs, errors.New("POSTER_WIDTH must not be negative"))
	}
	switch c.LockMode {
	case "flock", "none", "auto", "":
	default:
		errs = append(errs, fmt.Errorf("LOCK_MODE must be flock or none, got %q", c.LockMode))
	}
	if c.RedisAddr != "" && c.HeartbeatTTL <= c.HeartbeatInterval {
		errs = append(errs, errors.New("HEARTBEAT_TTL must be longer than HEARTBEAT_INTERVAL"))
	}
	return errors.Join(errs...)
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
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
