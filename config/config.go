package config

import (
	"os"
	"path/filepath"
	"time"

	"predmaint/logging"
	"predmaint/monitoring"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "PREDMAINT_CONFIG"

const DefaultPath = "config.yaml"

type Config struct {
	HTTP struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Model struct {
		Path string `yaml:"path"`
	} `yaml:"model"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	History struct {
		CacheSize int `yaml:"cache_size"`
	} `yaml:"history"`
	Alerts monitoring.AlertConfig `yaml:"alerts"`
	Log    logging.Options        `yaml:"log"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = 8080
	cfg.HTTP.Timeout = 10 * time.Second
	cfg.HTTP.AllowedOrigins = []string{"*"}
	cfg.HTTP.MaxBodyBytes = 1 << 20
	cfg.Model.Path = "model_pipeline.json"
	cfg.Database.Path = "predmaint.db"
	cfg.History.CacheSize = 1024
	cfg.Alerts = monitoring.DefaultAlertConfig()
	cfg.Log = logging.Options{
		Level:      "info",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
	return cfg
}

// ResolvePath returns the config path from the environment, or DefaultPath.
func ResolvePath() string {
	if path := os.Getenv(EnvPath); path != "" {
		return path
	}
	return DefaultPath
}

// Load reads path over the defaults. A missing file yields the defaults. A
// relative model.path resolves against the directory of the config file, or
// of the running executable when there is no config file.
func Load(path string) (*Config, error) {
	cfg := Default()
	payload, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.Model.Path = resolveAgainst(executableDir(), cfg.Model.Path)
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(payload, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	cfg.Model.Path = resolveAgainst(filepath.Dir(path), cfg.Model.Path)
	return cfg, nil
}

func resolveAgainst(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.History.CacheSize <= 0 {
		return errors.New("history.cache_size must be positive")
	}
	return nil
}
