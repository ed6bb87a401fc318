package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/Swind/go-job-system/core"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/default.yaml"

// Config is the YAML configuration of the jobsys binary.
type Config struct {
	System struct {
		Name               string `yaml:"name"`
		Workers            int    `yaml:"workers"`
		QueueCapacity      int    `yaml:"queue_capacity"`
		LightJobsPerWorker int    `yaml:"light_jobs_per_worker"`
		HistoryCapacity    int    `yaml:"history_capacity"`
	} `yaml:"system"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Bench struct {
		Producers int `yaml:"producers"`
		Jobs      int `yaml:"jobs"`
		Work      int `yaml:"work"`
	} `yaml:"bench"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.System.Name = "jobsys"
	cfg.System.Workers = -1
	cfg.System.QueueCapacity = core.DefaultQueueCapacity
	cfg.System.LightJobsPerWorker = core.DefaultLightJobsPerWorker
	cfg.System.HistoryCapacity = core.DefaultHistoryCapacity
	cfg.Log.Level = "info"
	cfg.Metrics.Addr = ":9090"
	cfg.Bench.Producers = 4
	cfg.Bench.Jobs = 100000
	cfg.Bench.Work = 64
	return cfg
}

// loadConfig reads path over the defaults. A missing file at the default
// path is not an error.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.System.QueueCapacity < 0 {
		return fmt.Errorf("system.queue_capacity must not be negative, got %d", c.System.QueueCapacity)
	}
	if c.System.LightJobsPerWorker < 0 {
		return fmt.Errorf("system.light_jobs_per_worker must not be negative, got %d", c.System.LightJobsPerWorker)
	}
	if c.Bench.Producers < 1 {
		return fmt.Errorf("bench.producers must be at least 1, got %d", c.Bench.Producers)
	}
	if c.Bench.Jobs < 0 {
		return fmt.Errorf("bench.jobs must not be negative, got %d", c.Bench.Jobs)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return level, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// systemConfig translates the file settings into a core.SystemConfig.
func (c *Config) systemConfig(logger core.Logger, metrics core.Metrics) *core.SystemConfig {
	sc := core.DefaultSystemConfig()
	sc.Name = c.System.Name
	sc.QueueCapacity = c.System.QueueCapacity
	sc.LightJobsPerWorker = c.System.LightJobsPerWorker
	sc.HistoryCapacity = c.System.HistoryCapacity
	sc.Logger = logger
	if metrics != nil {
		sc.Metrics = metrics
	}
	return sc
}

func (c *Config) marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
