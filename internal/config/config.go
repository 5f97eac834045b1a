package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Vision     VisionConfig     `yaml:"vision"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	APIKey         string        `yaml:"api_key"`
	// PreviousAPIKey stays valid while callers move to APIKey.
	PreviousAPIKey string        `yaml:"previous_api_key"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	// Endpoint left empty selects the in-memory blob store.
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type ExtractionConfig struct {
	// Dispatch is "inline" (in-process workers) or "nats" (JetStream work queue).
	Dispatch       string        `yaml:"dispatch"`
	// Provider is "onnx" or "runner".
	Provider       string        `yaml:"provider"`
	RunnerCommand  string        `yaml:"runner_command"`
	RunnerArgs     []string      `yaml:"runner_args"`
	Timeout        time.Duration `yaml:"timeout"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	WorkerCount    int           `yaml:"worker_count"`
	MaxVideoFrames int           `yaml:"max_video_frames"`
	ClusterEps     float64       `yaml:"cluster_eps"`
	ClusterMinPts  int           `yaml:"cluster_min_samples"`
}

type VisionConfig struct {
	ModelsDir            string  `yaml:"models_dir"`
	DetectionThreshold   float64 `yaml:"detection_threshold"`
	RecognitionThreshold float64 `yaml:"recognition_threshold"`
	CropMargin           float64 `yaml:"crop_margin"`
	MinFaceSize          int     `yaml:"min_face_size"`
	FrameWidth           int     `yaml:"frame_width"`
}

type AuthConfig struct {
	UserHeader string        `yaml:"user_header"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// An empty path skips the file and uses environment and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Extraction.Dispatch {
	case "inline", "nats":
	default:
		return fmt.Errorf("unknown extraction dispatch %q", c.Extraction.Dispatch)
	}
	switch c.Extraction.Provider {
	case "onnx":
	case "runner":
		if c.Extraction.RunnerCommand == "" {
			return fmt.Errorf("extraction.runner_command is required for the runner provider")
		}
	default:
		return fmt.Errorf("unknown extraction provider %q", c.Extraction.Provider)
	}
	if c.Extraction.Dispatch == "nats" && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required for nats dispatch")
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("extraction.timeout must be positive, got %s", c.Extraction.Timeout)
	}
	// A job still inside its timeout must never look stale to the sweeper.
	if c.Extraction.StaleAfter <= c.Extraction.Timeout {
		return fmt.Errorf("extraction.stale_after (%s) must exceed extraction.timeout (%s)",
			c.Extraction.StaleAfter, c.Extraction.Timeout)
	}
	if c.Extraction.SweepInterval <= 0 {
		return fmt.Errorf("extraction.sweep_interval must be positive, got %s", c.Extraction.SweepInterval)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 64 << 20
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "facegate"
	}
	if cfg.Extraction.Dispatch == "" {
		cfg.Extraction.Dispatch = "inline"
	}
	if cfg.Extraction.Provider == "" {
		cfg.Extraction.Provider = "onnx"
	}
	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = 5 * time.Minute
	}
	if cfg.Extraction.StaleAfter == 0 {
		cfg.Extraction.StaleAfter = 2 * cfg.Extraction.Timeout
	}
	if cfg.Extraction.SweepInterval == 0 {
		cfg.Extraction.SweepInterval = time.Minute
	}
	if cfg.Extraction.WorkerCount == 0 {
		cfg.Extraction.WorkerCount = 4
	}
	if cfg.Extraction.MaxVideoFrames == 0 {
		cfg.Extraction.MaxVideoFrames = 30
	}
	if cfg.Extraction.ClusterEps == 0 {
		cfg.Extraction.ClusterEps = 0.5
	}
	if cfg.Extraction.ClusterMinPts == 0 {
		cfg.Extraction.ClusterMinPts = 2
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.RecognitionThreshold == 0 {
		cfg.Vision.RecognitionThreshold = 0.4
	}
	if cfg.Vision.CropMargin == 0 {
		cfg.Vision.CropMargin = 0.2
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 50
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 640
	}
	if cfg.Auth.UserHeader == "" {
		cfg.Auth.UserHeader = "X-User-ID"
	}
	if cfg.Auth.CacheTTL == 0 {
		cfg.Auth.CacheTTL = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEGATE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEGATE_PREVIOUS_API_KEY"); v != "" {
		cfg.Server.PreviousAPIKey = v
	}
	if v := os.Getenv("FACEGATE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FACEGATE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEGATE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEGATE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEGATE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEGATE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEGATE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEGATE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEGATE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEGATE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEGATE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEGATE_EXTRACTION_DISPATCH"); v != "" {
		cfg.Extraction.Dispatch = v
	}
	if v := os.Getenv("FACEGATE_EXTRACTION_PROVIDER"); v != "" {
		cfg.Extraction.Provider = v
	}
	if v := os.Getenv("FACEGATE_RUNNER_COMMAND"); v != "" {
		cfg.Extraction.RunnerCommand = v
	}
	if v := os.Getenv("FACEGATE_EXTRACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Extraction.Timeout = d
		}
	}
	if v := os.Getenv("FACEGATE_EXTRACTION_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Extraction.StaleAfter = d
		}
	}
	if v := os.Getenv("FACEGATE_EXTRACTION_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Extraction.SweepInterval = d
		}
	}
	if v := os.Getenv("FACEGATE_EXTRACTION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Extraction.WorkerCount = n
		}
	}
	if v := os.Getenv("FACEGATE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
