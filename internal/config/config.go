package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	KindSerial = "serial"
	KindPTY    = "pty"
	KindStdin  = "stdin"
)

// DefaultDevice is where a micro:bit usually shows up on Linux
const DefaultDevice = "/dev/ttyACM0"

// Config aggregates everything the relay needs to start
type Config struct {
	Transport Transport `yaml:"transport"`
	Web       Web       `yaml:"web"`
	Console   bool      `yaml:"console"`
	Demo      bool      `yaml:"demo"`
	LogLevel  string    `yaml:"log_level"`
}

// Transport describes the line source
type Transport struct {
	Kind        string        `yaml:"kind"`
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Web describes the HTTP view
type Web struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the settings of the original serial+web deployment
func Default() *Config {
	return &Config{
		Transport: Transport{
			Kind:        KindSerial,
			Device:      DefaultDevice,
			Baud:        115_200,
			ReadTimeout: time.Hour,
		},
		Web: Web{
			Enabled: true,
			Addr:    "127.0.0.1:3030",
		},
		Console:  true,
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file, optional
// .env files and MICROBIT_* environment variables, in that order. It only fails
// on values that cannot be parsed; call Validate once every override is applied.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Transport.Kind = getEnvOrDefault("MICROBIT_TRANSPORT", c.Transport.Kind)
	c.Transport.Device = getEnvOrDefault("MICROBIT_DEVICE", c.Transport.Device)
	c.Web.Addr = getEnvOrDefault("MICROBIT_ADDR", c.Web.Addr)
	c.LogLevel = getEnvOrDefault("MICROBIT_LOG_LEVEL", c.LogLevel)

	if raw := strings.TrimSpace(os.Getenv("MICROBIT_BAUD")); raw != "" {
		baud, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid MICROBIT_BAUD value %q: %w", raw, err)
		}
		c.Transport.Baud = baud
	}

	if raw := strings.TrimSpace(os.Getenv("MICROBIT_READ_TIMEOUT")); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid MICROBIT_READ_TIMEOUT value %q: %w", raw, err)
		}
		c.Transport.ReadTimeout = timeout
	}

	var err error
	if c.Web.Enabled, err = parseBoolEnv("MICROBIT_WEB", c.Web.Enabled); err != nil {
		return err
	}
	if c.Console, err = parseBoolEnv("MICROBIT_CONSOLE", c.Console); err != nil {
		return err
	}
	if c.Demo, err = parseBoolEnv("MICROBIT_DEMO", c.Demo); err != nil {
		return err
	}
	return nil
}

// Validate checks values that would only fail later at open time
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case KindSerial:
		if c.Transport.Device == "" {
			return fmt.Errorf("serial transport requires a device")
		}
		if c.Transport.Baud <= 0 {
			return fmt.Errorf("invalid baud rate %d", c.Transport.Baud)
		}
	case KindPTY, KindStdin:
	default:
		return fmt.Errorf("unknown transport %q (want %s, %s or %s)", c.Transport.Kind, KindSerial, KindPTY, KindStdin)
	}

	if c.Transport.ReadTimeout < 0 {
		return fmt.Errorf("read timeout must not be negative")
	}
	if c.Web.Enabled && c.Web.Addr == "" {
		return fmt.Errorf("web view requires a listen address")
	}
	if !c.Web.Enabled && !c.Console {
		return fmt.Errorf("no sink enabled: enable the console or the web view")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
