package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"rebarquality/ml"
	"rebarquality/quality"
)

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Log struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
		File     string `yaml:"file"`
		MaxSize  int    `yaml:"max_size_mb"`
		MaxAge   int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Models struct {
		Dir       string `yaml:"dir"`
		CacheSize int    `yaml:"cache_size"`
		Watch     bool   `yaml:"watch"`
	} `yaml:"models"`
	Session struct {
		TTL      time.Duration `yaml:"ttl"`
		Capacity int           `yaml:"capacity"`
	} `yaml:"session"`
	Training struct {
		DataDir   string             `yaml:"data_dir"`
		Sheet     string             `yaml:"sheet"`
		Diameters []quality.Diameter `yaml:"diameters"`
		Schedule  string             `yaml:"schedule"`
		ML        ml.TrainConfig     `yaml:"ml"`
	} `yaml:"training"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.Http.Port = 8080
	c.Http.Timeout = 30 * time.Second
	c.Http.AllowedOrigins = []string{"*"}
	c.Log.Level = "info"
	c.Log.Encoding = "console"
	c.Log.MaxSize = 50
	c.Log.MaxAge = 28
	c.Database.Path = "data/training.db"
	c.Models.Dir = "models"
	c.Models.CacheSize = 16
	c.Models.Watch = true
	c.Session.TTL = 2 * time.Hour
	c.Session.Capacity = 1024
	c.Training.DataDir = "data"
	c.Training.Diameters = quality.Diameters()
	c.Training.Schedule = "0 3 1 */3 *"
	c.Training.ML = ml.DefaultTrainConfig()
	return c
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error; REBAR_CONFIG overrides path.
func Load(path string) (*Config, error) {
	if env := os.Getenv("REBAR_CONFIG"); env != "" {
		path = env
	}
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
			}
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("REBAR_MODEL_DIR"); v != "" {
		c.Models.Dir = v
	}
	if v := os.Getenv("REBAR_DATA_DIR"); v != "" {
		c.Training.DataDir = v
	}
	if v := os.Getenv("REBAR_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("REBAR_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("REBAR_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REBAR_HTTP_PORT: %w", err)
		}
		c.Http.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.Http.Port)
	}
	if c.Models.Dir == "" {
		return errors.New("models.dir is required")
	}
	for _, d := range c.Training.Diameters {
		if !d.Valid() {
			return fmt.Errorf("unsupported diameter %d", d)
		}
	}
	if r := c.Training.ML.TestRatio; r <= 0 || r >= 1 {
		return fmt.Errorf("training.ml.test_ratio must be in (0,1), got %v", r)
	}
	if c.Session.Capacity <= 0 {
		return errors.New("session.capacity must be positive")
	}
	return nil
}
