package app

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GraphPath string `yaml:"graph" validate:"required"`
	// Name labels the graph in logs, metrics and the snapshot store.
	Name string `yaml:"name" validate:"max=64"`

	LogFormat       string `yaml:"log_format" validate:"oneof=text json"`
	LogLevel        string `yaml:"log_level" validate:"oneof=debug info warn error"`
	HealthcheckPort int    `yaml:"healthcheck_port" validate:"gte=0,lte=65535"`

	// StateDir holds the node snapshot database. Empty disables persistence.
	StateDir string `yaml:"state_dir"`

	DeviceBusURL       string `yaml:"device_bus_url" validate:"omitempty,url"`
	DeviceBusNamespace string `yaml:"device_bus_namespace"`
	DeviceBusInsecure  bool   `yaml:"device_bus_insecure"`

	Watch      bool   `yaml:"watch"`
	EditorAddr string `yaml:"editor_addr"`

	// TickPace is the pause between settle rounds of a graph that keeps
	// re-dirtying itself.
	TickPace time.Duration `yaml:"tick_pace" validate:"gte=0"`
	MaxTicks int           `yaml:"max_ticks" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns the configuration used when neither a file nor a
// flag says otherwise.
func DefaultConfig() Config {
	return Config{
		Name:       "root",
		LogFormat:  "text",
		LogLevel:   "info",
		EditorAddr: "127.0.0.1:7070",
		TickPace:   10 * time.Millisecond,
	}
}

// NewConfig normalizes and validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.Name == "" {
		cfg.Name = "root"
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s' (got %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return nil, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return nil, err
	}
	if cfg.EditorAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.EditorAddr); err != nil {
			return nil, fmt.Errorf("invalid configuration: editor address: %w", err)
		}
	}
	return &cfg, nil
}

// LoadConfigFile overlays the YAML file at path onto base.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}
