/**
 * Configuration for the face redaction engine
 *
 * Values come from (lowest to highest precedence):
 * 1. Built-in defaults matching the docker-compose service names
 * 2. An optional YAML file named by CONFIG_FILE
 * 3. Environment variables (a .env file is loaded by main)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Queue ingress modes
const (
	QueueModeNone  = "none"
	QueueModeAsynq = "asynq"
	QueueModeRedis = "redis"
)

// Config holds engine configuration
type Config struct {
	// HTTP ingress
	Port          string `yaml:"port"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
	MaxPixels     int    `yaml:"max_pixels"` // decoded width*height cap

	// Collaborator URLs
	DetectorURL     string `yaml:"detector_url"`
	ClassifierURL   string `yaml:"classifier_url"`
	PixelationURL   string `yaml:"pixelation_url"` // empty = pixelate in-process
	UpstreamTimeout int    `yaml:"upstream_timeout_ms"`

	// Pipeline tuning
	JPEGQuality    int     `yaml:"jpeg_quality"`
	MinorThreshold float64 `yaml:"minor_threshold"` // 0 = classifier default
	CropWorkers    int     `yaml:"crop_workers"`

	// Queue ingress
	QueueMode         string `yaml:"queue_mode"`
	RedisURL          string `yaml:"redis_url"`
	QueueName         string `yaml:"queue_name"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`
	ResultTTLSeconds  int    `yaml:"result_ttl_seconds"`
	ProcessingTimeout int    `yaml:"processing_timeout_ms"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Port:              "5003",
		MaxUploadSize:     16 * 1024 * 1024, // 16MB
		MaxPixels:         40_000_000,
		DetectorURL:       "http://bounding:5001/detectar_caras",
		ClassifierURL:     "http://clasificacion:5002/menores",
		UpstreamTimeout:   30000, // 30 seconds
		JPEGQuality:       95,
		CropWorkers:       4,
		QueueMode:         QueueModeNone,
		RedisURL:          "redis://redis:6379",
		QueueName:         "faceredact:jobs",
		WorkerConcurrency: 4,
		ResultTTLSeconds:  600,
		ProcessingTimeout: 120000, // 2 minutes
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadConfig loads configuration from the optional YAML file and environment variables
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.MaxUploadSize = getEnvAsInt64OrDefault("MAX_UPLOAD_SIZE", cfg.MaxUploadSize)
	cfg.MaxPixels = getEnvAsIntOrDefault("MAX_PIXELS", cfg.MaxPixels)
	cfg.DetectorURL = getEnvOrDefault("DETECTOR_URL", cfg.DetectorURL)
	cfg.ClassifierURL = getEnvOrDefault("CLASSIFIER_URL", cfg.ClassifierURL)
	cfg.PixelationURL = getEnvOrDefault("PIXELATION_URL", cfg.PixelationURL)
	cfg.UpstreamTimeout = getEnvAsIntOrDefault("UPSTREAM_TIMEOUT_MS", cfg.UpstreamTimeout)
	cfg.JPEGQuality = getEnvAsIntOrDefault("JPEG_QUALITY", cfg.JPEGQuality)
	cfg.MinorThreshold = getEnvAsFloatOrDefault("MINOR_THRESHOLD", cfg.MinorThreshold)
	cfg.CropWorkers = getEnvAsIntOrDefault("CROP_WORKERS", cfg.CropWorkers)
	cfg.QueueMode = getEnvOrDefault("QUEUE_MODE", cfg.QueueMode)
	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.QueueName = getEnvOrDefault("QUEUE_NAME", cfg.QueueName)
	cfg.WorkerConcurrency = getEnvAsIntOrDefault("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.ResultTTLSeconds = getEnvAsIntOrDefault("RESULT_TTL_SECONDS", cfg.ResultTTLSeconds)
	cfg.ProcessingTimeout = getEnvAsIntOrDefault("PROCESSING_TIMEOUT", cfg.ProcessingTimeout)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.DetectorURL == "" {
		return fmt.Errorf("DETECTOR_URL is required")
	}

	if c.ClassifierURL == "" {
		return fmt.Errorf("CLASSIFIER_URL is required")
	}

	if c.UpstreamTimeout < 100 || c.UpstreamTimeout > 600000 {
		return fmt.Errorf("UPSTREAM_TIMEOUT_MS must be between 100 and 600000, got %d", c.UpstreamTimeout)
	}

	if c.MaxUploadSize < 1024 || c.MaxUploadSize > 256*1024*1024 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be between 1KB and 256MB, got %d", c.MaxUploadSize)
	}

	if c.MaxPixels < 1 || c.MaxPixels > 500_000_000 {
		return fmt.Errorf("MAX_PIXELS must be between 1 and 500000000, got %d", c.MaxPixels)
	}

	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", c.JPEGQuality)
	}

	if c.MinorThreshold < 0 || c.MinorThreshold > 1 {
		return fmt.Errorf("MINOR_THRESHOLD must be between 0 and 1, got %v", c.MinorThreshold)
	}

	if c.CropWorkers < 1 || c.CropWorkers > 64 {
		return fmt.Errorf("CROP_WORKERS must be between 1 and 64, got %d", c.CropWorkers)
	}

	switch c.QueueMode {
	case QueueModeNone:
	case QueueModeAsynq, QueueModeRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when QUEUE_MODE=%s", c.QueueMode)
		}
		if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
			return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
		}
	default:
		return fmt.Errorf("QUEUE_MODE must be one of none, asynq, redis; got %q", c.QueueMode)
	}

	return nil
}

// UpstreamTimeoutDuration is the per-call deadline for detector/classifier/pixelation calls
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamTimeout) * time.Millisecond
}

// ProcessingTimeoutDuration bounds one queued job end to end
func (c *Config) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// ResultTTL is how long queue results stay retrievable in Redis
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLSeconds) * time.Second
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
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

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
