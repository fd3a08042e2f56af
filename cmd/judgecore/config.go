package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"judgecore/internal/judge/sandbox/cgroup"
	"judgecore/internal/judge/sandbox/engine"
	"judgecore/internal/judge/sandbox/profile"
	"judgecore/pkg/utils/logger"
)

const (
	defaultWorkRoot       = "/tmp/judgecore"
	defaultCompileTimeout = 30 * time.Second
	defaultCgroupRoot     = "/sys/fs/cgroup/judgecore"
)

// CompilerConfig holds build step settings.
type CompilerConfig struct {
	WorkRoot string        `yaml:"workRoot"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MetricsConfig holds metrics settings. A one-shot run writes its metrics to
// a node_exporter textfile instead of serving them.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"`
}

// AppConfig holds judgecore config.
type AppConfig struct {
	Logger    logger.Config          `yaml:"logger"`
	Sandbox   engine.Config          `yaml:"sandbox"`
	Cgroup    cgroup.Config          `yaml:"cgroup"`
	Compiler  CompilerConfig         `yaml:"compiler"`
	Metrics   MetricsConfig          `yaml:"metrics"`
	Languages []profile.LanguageSpec `yaml:"languages"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path, or starts from defaults when path is empty.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	if cfg.Metrics.Enabled && cfg.Metrics.Textfile == "" {
		return nil, fmt.Errorf("metrics textfile is required when metrics are enabled")
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	// stdout carries the report.
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stderr"
	}
	if cfg.Compiler.WorkRoot == "" {
		cfg.Compiler.WorkRoot = defaultWorkRoot
	}
	if cfg.Compiler.Timeout == 0 {
		cfg.Compiler.Timeout = defaultCompileTimeout
	}
	if cfg.Cgroup.Enabled && cfg.Cgroup.Root == "" {
		cfg.Cgroup.Root = defaultCgroupRoot
	}
}
