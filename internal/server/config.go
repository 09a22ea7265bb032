// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the coedit service.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Default listener addresses.
const (
	DefaultWSAddr   = ":8800"
	DefaultHTTPAddr = ":8000"
)

const (
	defaultOrigin          = "http://localhost:3000"
	defaultMaxMessageSize  = 1 << 20
	defaultSendBufferSize  = 256
	defaultBurst           = 20
	defaultRefillInterval  = time.Second
	defaultPingInterval    = 54 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultWriteWait       = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLogLevel        = "info"
	defaultEnvFile         = ".env"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"BURST" default:"20" validate:"gt=0"`
	RefillInterval time.Duration `envconfig:"REFILL_INTERVAL" default:"1s" validate:"gt=0"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	// WSAddr is the listener for the collaborative-editing WebSocket hub.
	WSAddr string `envconfig:"WS_ADDR" default:":8800" validate:"required"`

	// HTTPAddr is the listener for health, metrics and the test page.
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8000" validate:"required"`

	AllowedOrigins  []string        `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MaxMessageSize  int64           `envconfig:"MAX_MESSAGE_SIZE" default:"1048576" validate:"gt=0"`
	SendBufferSize  int             `envconfig:"SEND_BUFFER_SIZE" default:"256" validate:"gt=0"`
	RateLimit       RateLimitConfig `envconfig:"RATE_LIMIT"`
	PingInterval    time.Duration   `envconfig:"PING_INTERVAL" default:"54s" validate:"gt=0,ltfield=PongWait"`
	PongWait        time.Duration   `envconfig:"PONG_WAIT" default:"60s" validate:"gt=0"`
	WriteWait       time.Duration   `envconfig:"WRITE_WAIT" default:"10s" validate:"gt=0"`
	ShutdownTimeout time.Duration   `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
	LogLevel        string          `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error panic fatal"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		WSAddr:         DefaultWSAddr,
		HTTPAddr:       DefaultHTTPAddr,
		AllowedOrigins: []string{defaultOrigin},
		MaxMessageSize: defaultMaxMessageSize,
		SendBufferSize: defaultSendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPongWait,
		WriteWait:       defaultWriteWait,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        defaultLogLevel,
	}
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Unset variables fall back to the defaults of NewConfig.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads envFile into the environment (variables already set win)
// and then builds the configuration from the environment. An empty envFile
// means ".env", which may be absent.
func LoadConfig(envFile string) (*Config, error) {
	path := envFile
	if path == "" {
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if envFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	return NewConfigFromEnv()
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
