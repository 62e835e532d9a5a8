package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB2")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// PollInterval is how often signal and serving cell are refreshed.
	// Zero disables polling.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ATTimeout bounds ordinary query commands
	ATTimeout time.Duration `yaml:"at_timeout"`
	// EscapeGuard is the silence kept around "+++"
	EscapeGuard time.Duration `yaml:"escape_guard"`
	// ReadyTimeout bounds waiting for the SIM and the network at startup
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	// APN configures PDP context 1 at startup when set
	APN string `yaml:"apn"`
	// Dial starts a PPP session once the modem is registered
	Dial bool `yaml:"dial"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB2"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.PollInterval = 30 * time.Second
		c.ATTimeout = 5 * time.Second
		c.EscapeGuard = time.Second
		c.ReadyTimeout = 2 * time.Minute
		return nil
	}
}

// WithFile overlays the YAML file at path. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
			d, err := time.ParseDuration(interval)
			if err != nil {
				return fmt.Errorf("POLL_INTERVAL: %w", err)
			}
			c.PollInterval = d
		}

		if timeout := os.Getenv("AT_TIMEOUT"); timeout != "" {
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return fmt.Errorf("AT_TIMEOUT: %w", err)
			}
			c.ATTimeout = d
		}

		if apn := os.Getenv("APN"); apn != "" {
			c.APN = apn
		}

		if dial := os.Getenv("DIAL"); dial != "" {
			if b, err := strconv.ParseBool(dial); err == nil {
				c.Dial = b
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "poll-interval":
				if d, perr := time.ParseDuration(f.Value.String()); perr == nil {
					c.PollInterval = d
				} else {
					err = fmt.Errorf("poll-interval: %w", perr)
				}
			case "apn":
				c.APN = f.Value.String()
			case "dial":
				c.Dial = f.Value.String() == "true"
			}
		})
		return err
	}
}
