package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	ImageFetchTimeout  time.Duration
	PredictTimeout     time.Duration
	MaxRequestBodySize int64
	MaxImageSize       int64
	MaxImagePixels     int64

	ModelsConfig string
	DefaultModel string

	AllowedURLSchemes  []string
	AllowedHosts       []string
	CORSAllowedOrigins []string

	AzureStorageAccount string
	AzureStorageKey     string

	ImageDataDir string
	LogLevel     string
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// AzureEnabled reports whether shared-key blob access is configured
func (c *Config) AzureEnabled() bool {
	return c.AzureStorageAccount != "" && c.AzureStorageKey != ""
}

// Load reads an optional .env file and then the process environment
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return LoadFromEnv()
}

func LoadFromEnv() (*Config, error) {
	var p envParser

	// Set defaults
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8888"),
		RequestTimeout:     p.durationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		ImageFetchTimeout:  p.durationOrDefault("IMAGE_FETCH_TIMEOUT", 15*time.Second),
		PredictTimeout:     p.durationOrDefault("PREDICT_TIMEOUT", 20*time.Second),
		MaxRequestBodySize: p.intOrDefault("MAX_REQUEST_BODY_SIZE", 1024*1024), // 1MB
		MaxImageSize:       p.intOrDefault("MAX_IMAGE_SIZE", 20*1024*1024),     // 20MB
		MaxImagePixels:     p.intOrDefault("MAX_IMAGE_PIXELS", 40_000_000),
		ModelsConfig:       getEnvOrDefault("MODELS_CONFIG", "models.yaml"),
		DefaultModel:       getEnvOrDefault("DEFAULT_MODEL", "default"),
		AllowedURLSchemes:  parseListOrDefault("ALLOWED_URL_SCHEMES", []string{"http", "https"}),
		AllowedHosts:       parseListOrDefault("ALLOWED_HOSTS", nil),
		CORSAllowedOrigins: parseListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),

		AzureStorageAccount: strings.TrimSpace(os.Getenv("AZURE_STORAGE_ACCOUNT")),
		AzureStorageKey:     strings.TrimSpace(os.Getenv("AZURE_STORAGE_KEY")),

		ImageDataDir: getEnvOrDefault("IMAGE_DATA_DIR", "data/real-world"),
		LogLevel:     getEnvOrDefault("LOG_LEVEL", "info"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	// Validate port is numeric and in range
	port, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}
	if cfg.MaxRequestBodySize <= 0 {
		return nil, fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", cfg.MaxRequestBodySize)
	}
	if cfg.MaxImageSize <= 0 {
		return nil, fmt.Errorf("MAX_IMAGE_SIZE must be > 0 (got %d)", cfg.MaxImageSize)
	}
	if cfg.MaxImagePixels <= 0 {
		return nil, fmt.Errorf("MAX_IMAGE_PIXELS must be > 0 (got %d)", cfg.MaxImagePixels)
	}
	if cfg.RequestTimeout <= 0 || cfg.ImageFetchTimeout <= 0 || cfg.PredictTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, predict=%s)",
			cfg.RequestTimeout, cfg.ImageFetchTimeout, cfg.PredictTimeout)
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return nil, fmt.Errorf("DEFAULT_MODEL must not be empty")
	}
	if len(cfg.AllowedURLSchemes) == 0 {
		return nil, fmt.Errorf("ALLOWED_URL_SCHEMES must list at least one scheme")
	}
	if (cfg.AzureStorageAccount == "") != (cfg.AzureStorageKey == "") {
		return nil, fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY must be set together")
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// envParser collects malformed values so they are all reported at once
type envParser struct {
	errs []error
}

func (p *envParser) durationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q is not a duration", key, value))
		return defaultValue
	}
	return duration
}

func (p *envParser) intOrDefault(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q is not an integer", key, value))
		return defaultValue
	}
	return intValue
}

// parseListOrDefault splits a comma separated value, dropping empty items
func parseListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
