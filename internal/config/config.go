package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
var ConfigPath = "config.yaml"

// EnvFile is loaded before the config file when present.
var EnvFile = ".env"

// StorageConfig selects where the auth session is persisted.
type StorageConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	KeyPrefix     string `yaml:"keyPrefix"`
}

// JournalConfig selects the search history database. An empty driver
// disables the journal.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ObjectStoreConfig points at the bucket product files are read from.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	BackendURL           string            `yaml:"backendURL"`
	LogLevel             string            `yaml:"logLevel"`
	HTTPTimeout          string            `yaml:"httpTimeout"`
	DefaultLimit         int               `yaml:"defaultLimit"`
	PlaceholderImageBase string            `yaml:"placeholderImageBase"`
	UploadConcurrency    int               `yaml:"uploadConcurrency"`
	Storage              StorageConfig     `yaml:"storage"`
	Journal              JournalConfig     `yaml:"journal"`
	ObjectStore          ObjectStoreConfig `yaml:"objectStore"`
}

// Default returns the configuration used when no file exists.
func Default() FileConfig {
	return FileConfig{
		BackendURL:        "http://localhost:8000",
		LogLevel:          "info",
		DefaultLimit:      10,
		UploadConcurrency: 2,
		Storage: StorageConfig{
			Driver: "file",
			Path:   defaultStoragePath(),
		},
	}
}

// Load reads config from path (defaults to config.yaml). A missing file is
// not an error; defaults and environment overrides still apply.
func Load(path string) (FileConfig, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return FileConfig{}, fmt.Errorf("load %s: %w", EnvFile, err)
	}
	cfg := Default()
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Timeout parses HTTPTimeout. Zero means no client-side timeout.
func (c FileConfig) Timeout() time.Duration {
	d, _ := parseTimeout(c.HTTPTimeout)
	return d
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("SHOPSEARCH_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("SHOPSEARCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SHOPSEARCH_HTTP_TIMEOUT"); v != "" {
		cfg.HTTPTimeout = v
	}
	if v := os.Getenv("SHOPSEARCH_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultLimit = n
		}
	}
	if v := os.Getenv("SHOPSEARCH_PLACEHOLDER_IMAGE_BASE"); v != "" {
		cfg.PlaceholderImageBase = v
	}
	if v := os.Getenv("SHOPSEARCH_UPLOAD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadConcurrency = n
		}
	}
	if v := os.Getenv("SHOPSEARCH_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SHOPSEARCH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv("SHOPSEARCH_JOURNAL_DRIVER"); v != "" {
		cfg.Journal.Driver = v
	}
	if v := os.Getenv("SHOPSEARCH_JOURNAL_DSN"); v != "" {
		cfg.Journal.DSN = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.ObjectStore.UseSSL = true
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.BackendURL == "" {
		return errors.New("config: backendURL is required (set in config.yaml or SHOPSEARCH_BACKEND_URL)")
	}
	u, err := url.Parse(cfg.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: backendURL %q must be an absolute http(s) url", cfg.BackendURL)
	}
	if cfg.DefaultLimit <= 0 {
		return errors.New("config: defaultLimit must be positive")
	}
	if cfg.UploadConcurrency <= 0 {
		return errors.New("config: uploadConcurrency must be positive")
	}
	if _, err := parseTimeout(cfg.HTTPTimeout); err != nil {
		return fmt.Errorf("config: httpTimeout: %w", err)
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
	case "file":
		if cfg.Storage.Path == "" {
			return errors.New("config: storage.path is required for the file driver")
		}
	case "redis":
		if cfg.Storage.RedisAddr == "" {
			return errors.New("config: storage.redisAddr is required for the redis driver (or REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("config: unsupported storage.driver %q", cfg.Storage.Driver)
	}
	switch strings.ToLower(cfg.Journal.Driver) {
	case "", "sqlite":
	case "postgres":
		if cfg.Journal.DSN == "" {
			return errors.New("config: journal.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unsupported journal.driver %q", cfg.Journal.Driver)
	}
	if cfg.ObjectStore.Endpoint != "" {
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("config: objectStore.bucket is required when objectStore.endpoint is set")
		}
		if cfg.ObjectStore.AccessKey == "" || cfg.ObjectStore.SecretKey == "" {
			return errors.New("config: objectStore.accessKey and objectStore.secretKey are required when objectStore.endpoint is set")
		}
	}
	return nil
}

func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".shopsearch-session.json"
	}
	return filepath.Join(dir, "shopsearch", "session.json")
}
