// Package config loads OmniDrive settings from YAML, a .env file and
// OMNIDRIVE_* environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Dir is the per-user directory holding config, credentials and snapshots.
const Dir = ".omnidrive"

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Server     ServerConfig     `yaml:"server"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Cache      CacheConfig      `yaml:"cache"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	RAG        RAGConfig        `yaml:"rag"`
	Google     GoogleConfig     `yaml:"google"`
	Folderfort FolderfortConfig `yaml:"folderfort"`
	S3         S3Config         `yaml:"s3"`
	Sessions   SessionsConfig   `yaml:"sessions"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type JobsConfig struct {
	// Driver is "memory" or "postgres".
	Driver  string        `yaml:"driver"`
	DSN     string        `yaml:"dsn"`
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	ListTTL time.Duration `yaml:"list_ttl"`
}

// EmbeddingsConfig points at an OpenAI-compatible embeddings endpoint. With
// no API key the offline hash embedder is used.
type EmbeddingsConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type RAGConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
	TopK         int    `yaml:"top_k"`
}

type GoogleConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
}

type FolderfortConfig struct {
	BaseURL string `yaml:"base_url"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// DefaultCredentials falls back to the AWS credential chain when no
	// key pair was stored with "omnidrive auth s3".
	DefaultCredentials bool `yaml:"default_credentials"`
}

// SessionsConfig locates the saved session files.
type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

// HomeDir returns ~/.omnidrive, falling back to ./.omnidrive when the home
// directory cannot be determined.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return Dir
	}
	return filepath.Join(home, Dir)
}

// DefaultPath is the config file read when no --config flag is given.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

func Defaults() *Config {
	home := HomeDir()
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Jobs: JobsConfig{
			Driver:  "memory",
			Timeout: 30 * time.Minute,
		},
		Cache: CacheConfig{
			ListTTL: 5 * time.Minute,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL:   "https://api.deepseek.com",
			Model:     "deepseek-chat",
			Dimension: 384,
		},
		RAG: RAGConfig{
			SnapshotPath: filepath.Join(home, "vectors.json"),
			TopK:         5,
		},
		Google: GoogleConfig{
			CredentialsPath: filepath.Join(home, "google-service-account.json"),
		},
		Folderfort: FolderfortConfig{
			BaseURL: "https://na3.folderfort.com/api/v1",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Sessions: SessionsConfig{
			Dir: filepath.Join(home, "memory"),
		},
	}
}

// Load reads the YAML file at path over Defaults. A missing file is not an
// error when path is the default location. A .env file in the working
// directory is loaded first so its values reach the env overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "config: parsing %s", path)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config: validation")
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Jobs.Driver {
	case "memory":
	case "postgres":
		if c.Jobs.DSN == "" {
			errs = append(errs, "jobs.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("jobs.driver %q is not one of memory, postgres", c.Jobs.Driver))
	}
	if c.Jobs.Workers < 0 {
		errs = append(errs, "jobs.workers must not be negative")
	}
	if c.Jobs.Timeout <= 0 {
		errs = append(errs, "jobs.timeout must be positive")
	}
	if c.Cache.ListTTL < 0 {
		errs = append(errs, "cache.list_ttl must not be negative")
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, "embeddings.dimension must be positive")
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, "rag.top_k must be positive")
	}
	if c.Sessions.Dir == "" {
		errs = append(errs, "sessions.dir must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads OMNIDRIVE_* variables. DEEPSEEK_API_KEY and
// GOOGLE_APPLICATION_CREDENTIALS are honoured when the OmniDrive-specific
// variable is unset.
func applyEnvOverrides(cfg *Config) {
	str := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	str(&cfg.LogLevel, "OMNIDRIVE_LOG_LEVEL", "LOG_LEVEL")
	if v := os.Getenv("OMNIDRIVE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OMNIDRIVE_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	str(&cfg.Jobs.Driver, "OMNIDRIVE_JOBS_DRIVER")
	str(&cfg.Jobs.DSN, "OMNIDRIVE_JOBS_DSN", "DATABASE_URL")
	if v := os.Getenv("OMNIDRIVE_JOBS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.Workers = n
		}
	}
	str(&cfg.Embeddings.APIKey, "OMNIDRIVE_EMBEDDINGS_API_KEY", "DEEPSEEK_API_KEY")
	str(&cfg.Embeddings.BaseURL, "OMNIDRIVE_EMBEDDINGS_BASE_URL")
	str(&cfg.Embeddings.Model, "OMNIDRIVE_EMBEDDINGS_MODEL")
	str(&cfg.Google.CredentialsPath, "OMNIDRIVE_GOOGLE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS")
	str(&cfg.Folderfort.BaseURL, "OMNIDRIVE_FOLDERFORT_BASE_URL")
	str(&cfg.S3.Bucket, "OMNIDRIVE_S3_BUCKET")
	str(&cfg.S3.Region, "OMNIDRIVE_S3_REGION", "AWS_REGION")
	str(&cfg.S3.Endpoint, "OMNIDRIVE_S3_ENDPOINT")
	str(&cfg.Sessions.Dir, "OMNIDRIVE_SESSIONS_DIR")
}
