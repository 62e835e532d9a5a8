package modem

import (
	"io"
	"log/slog"
	"time"
)

// Config holds the settings of a Modem. Build one with NewConfigBuilder.
type Config struct {
	dialer          Dialer
	atTimeout       time.Duration
	modeTimeout     time.Duration
	operatorTimeout time.Duration
	powerOffTimeout time.Duration
	registerTimeout time.Duration
	escapeGuard     time.Duration
	maxLineLength   int
	lineBuffer      int
	urcBuffer       int
	dataSink        io.Writer
	logger          *slog.Logger
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.atTimeout <= 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.modeTimeout <= 0 {
		c.modeTimeout = 5 * time.Second
	}
	if c.operatorTimeout <= 0 {
		c.operatorTimeout = 75 * time.Second
	}
	if c.powerOffTimeout <= 0 {
		c.powerOffTimeout = 3 * time.Second
	}
	if c.registerTimeout <= 0 {
		c.registerTimeout = 7500 * time.Millisecond
	}
	if c.escapeGuard < 0 {
		c.escapeGuard = 0
	}
	if c.maxLineLength <= 0 {
		c.maxLineLength = 512
	}
	if c.lineBuffer <= 0 {
		c.lineBuffer = 32
	}
	if c.urcBuffer <= 0 {
		c.urcBuffer = 100
	}
	if c.dataSink == nil {
		c.dataSink = io.Discard
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder preloaded with the default escape
// guard time. Every other zero value is replaced by its default in Build.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: Config{escapeGuard: time.Second}}
}

// WithDialer sets how the Transport is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithATTimeout sets the deadline of ordinary query commands.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithModeTimeout sets the deadline of the dial and escape exchanges.
func (b *ConfigBuilder) WithModeTimeout(d time.Duration) *ConfigBuilder {
	b.config.modeTimeout = d
	return b
}

// WithOperatorTimeout sets the deadline of AT+COPS?. The module may take
// up to 180 s while it scans.
func (b *ConfigBuilder) WithOperatorTimeout(d time.Duration) *ConfigBuilder {
	b.config.operatorTimeout = d
	return b
}

// WithPowerOffTimeout sets how long AT+QPOWD=1 waits for POWERED DOWN.
func (b *ConfigBuilder) WithPowerOffTimeout(d time.Duration) *ConfigBuilder {
	b.config.powerOffTimeout = d
	return b
}

// WithRegistrationTimeout sets the deadline of AT+CGREG? and AT+CPIN?.
func (b *ConfigBuilder) WithRegistrationTimeout(d time.Duration) *ConfigBuilder {
	b.config.registerTimeout = d
	return b
}

// WithEscapeGuard sets the silence kept before "+++". Zero disables it,
// which only emulators tolerate.
func (b *ConfigBuilder) WithEscapeGuard(d time.Duration) *ConfigBuilder {
	b.config.escapeGuard = d
	return b
}

// WithMaxLineLength sets the longest response line accepted by the framer.
func (b *ConfigBuilder) WithMaxLineLength(n int) *ConfigBuilder {
	b.config.maxLineLength = n
	return b
}

// WithLineBuffer sets the capacity of the reader to loop handoff channel.
func (b *ConfigBuilder) WithLineBuffer(n int) *ConfigBuilder {
	b.config.lineBuffer = n
	return b
}

// WithURCBuffer sets the capacity of the channel returned by URC.
func (b *ConfigBuilder) WithURCBuffer(n int) *ConfigBuilder {
	b.config.urcBuffer = n
	return b
}

// WithDataSink sets where inbound payload goes while in data mode.
func (b *ConfigBuilder) WithDataSink(w io.Writer) *ConfigBuilder {
	b.config.dataSink = w
	return b
}

// WithLogger sets the structured logger. Nothing is logged by default.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
