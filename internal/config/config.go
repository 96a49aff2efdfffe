package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in a workspace.
const FileName = "examline.yml"

// Config models examline.yml.
type Config struct {
	Engine struct {
		IdleThresholdHours    float64 `yaml:"idle_threshold_hours"`
		WarningThresholdHours float64 `yaml:"warning_threshold_hours"`
		ScoreFormulaVersion   int     `yaml:"score_formula_version"`
	} `yaml:"engine"`
	Scheduler struct {
		Enabled         bool     `yaml:"enabled"`
		SweepInterval   Duration `yaml:"sweep_interval"`
		RefreshInterval Duration `yaml:"refresh_interval"`
	} `yaml:"scheduler"`
	Notifications struct {
		Sender         string `yaml:"sender"`
		QueueSize      int    `yaml:"queue_size"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		Webhook        struct {
			URL    string `yaml:"url"`
			Secret string `yaml:"secret"`
		} `yaml:"webhook"`
	} `yaml:"notifications"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Metrics struct {
		Enabled   bool   `yaml:"enabled"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Notification sender kinds.
const (
	SenderNone    = "none"
	SenderLog     = "log"
	SenderWebhook = "webhook"
)

// SupportedFormulaVersions lists score formula versions this build computes.
var SupportedFormulaVersions = []int{1}

// Duration is a time.Duration that reads from YAML strings like "15m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with examline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config is usable by the engine.
func (c *Config) Validate() error {
	e := c.Engine
	if e.WarningThresholdHours <= 0 {
		return fmt.Errorf("config.engine.warning_threshold_hours must be positive")
	}
	if e.IdleThresholdHours <= e.WarningThresholdHours {
		return fmt.Errorf("config.engine.idle_threshold_hours must be greater than warning_threshold_hours")
	}
	supported := false
	for _, v := range SupportedFormulaVersions {
		if e.ScoreFormulaVersion == v {
			supported = true
		}
	}
	if !supported {
		return fmt.Errorf("config.engine.score_formula_version %d is not supported", e.ScoreFormulaVersion)
	}
	if c.Scheduler.SweepInterval <= 0 || c.Scheduler.RefreshInterval <= 0 {
		return fmt.Errorf("config.scheduler intervals must be positive")
	}
	n := c.Notifications
	switch n.Sender {
	case SenderNone, SenderLog:
	case SenderWebhook:
		if strings.TrimSpace(n.Webhook.URL) == "" {
			return fmt.Errorf("config.notifications.webhook.url is required when sender is webhook")
		}
	default:
		return fmt.Errorf("config.notifications.sender must be one of none, log, webhook")
	}
	if n.QueueSize <= 0 {
		return fmt.Errorf("config.notifications.queue_size must be positive")
	}
	if n.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.notifications.timeout_seconds must be positive")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  idle_threshold_hours: 24
  warning_threshold_hours: 12
  score_formula_version: 1

scheduler:
  enabled: true
  sweep_interval: 1h
  refresh_interval: 24h

notifications:
  sender: log
  queue_size: 256
  timeout_seconds: 10
  webhook:
    url: ""
    secret: ""

server:
  addr: 127.0.0.1:8080
  base_path: /v1

metrics:
  enabled: true
  namespace: examline

logging:
  level: info
  format: text
`
