// Package config provides Viper-based configuration loading for the relay service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig holds control-plane HTTP server settings.
type HTTPConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout bounds how long a request may take to read.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds how long a response may take to write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// RelayConfig holds relay-plane TCP acceptor settings.
type RelayConfig struct {
	// Host is the bind address for the relay listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the relay listener.
	Port int `mapstructure:"port"`
	// JoinTimeout is how long a new connection may take to deliver its
	// join request before being disconnected.
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	// WriteTimeout is the per-write deadline for relay connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RoomsConfig holds room registry settings.
type RoomsConfig struct {
	// CodeLength is the number of characters in a generated room code.
	CodeLength int `mapstructure:"code_length"`
	// CodeAttempts is the maximum number of code-generation attempts before
	// room creation fails on repeated collisions.
	CodeAttempts int `mapstructure:"code_attempts"`
	// StaleAfter is the heartbeat age beyond which a room is hidden from
	// public listings.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateHTTP(c.HTTP); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRelay(c.Relay); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRooms(c.Rooms); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if h.Port < 1 || h.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be 1-65535, got %d", h.Port))
	}
	if h.ReadTimeout < 0 {
		errs = append(errs, "http.read_timeout must not be negative")
	}
	if h.WriteTimeout < 0 {
		errs = append(errs, "http.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	var errs []string
	if r.Port < 1 || r.Port > 65535 {
		errs = append(errs, fmt.Sprintf("relay.port must be 1-65535, got %d", r.Port))
	}
	if r.JoinTimeout < 0 {
		errs = append(errs, "relay.join_timeout must not be negative")
	}
	if r.WriteTimeout < 0 {
		errs = append(errs, "relay.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.CodeLength < 4 || r.CodeLength > 12 {
		errs = append(errs, fmt.Sprintf("rooms.code_length must be 4-12, got %d", r.CodeLength))
	}
	if r.CodeAttempts < 1 {
		errs = append(errs, fmt.Sprintf("rooms.code_attempts must be >= 1, got %d", r.CodeAttempts))
	}
	if r.StaleAfter <= 0 {
		errs = append(errs, "rooms.stale_after must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with RELAY_ prefix
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 3000)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")

	v.SetDefault("relay.host", "0.0.0.0")
	v.SetDefault("relay.port", 12346)
	v.SetDefault("relay.join_timeout", "30s")
	v.SetDefault("relay.write_timeout", "10s")

	v.SetDefault("rooms.code_length", 6)
	v.SetDefault("rooms.code_attempts", 10)
	v.SetDefault("rooms.stale_after", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
