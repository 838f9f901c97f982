// Package config loads the engine's HCL configuration file
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config represents the complete engine configuration. The server and
// game blocks are optional and fall back to defaults; a redis block
// enables the shared session directory.
type Config struct {
	Server *ServerSettings `hcl:"server,block"`
	Game   *GameSettings   `hcl:"game,block"`
	Redis  *RedisSettings  `hcl:"redis,block"`
}

// ServerSettings contains the listener addresses and logging
type ServerSettings struct {
	TCPAddress  string `hcl:"tcp_address,optional"`
	HTTPAddress string `hcl:"http_address,optional"`
	WSAddress   string `hcl:"ws_address,optional"`
	LogLevel    string `hcl:"log_level,optional"`
	LogFile     string `hcl:"log_file,optional"`
}

// GameSettings contains the session timing knobs, in seconds
type GameSettings struct {
	BotDelaySeconds     int `hcl:"bot_delay_seconds,optional"`
	RestartDelaySeconds int `hcl:"restart_delay_seconds,optional"`
	IdleTimeoutSeconds  int `hcl:"idle_timeout_seconds,optional"`
	FinishedTTLSeconds  int `hcl:"finished_ttl_seconds,optional"`
}

// RedisSettings enables the shared session directory when present
type RedisSettings struct {
	Address  string `hcl:"address"`
	Password string `hcl:"password,optional"`
	DB       int    `hcl:"db,optional"`
	TLS      bool   `hcl:"tls,optional"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: &ServerSettings{
			TCPAddress:  "localhost:8888",
			HTTPAddress: "localhost:8080",
			WSAddress:   "localhost:8081",
			LogLevel:    "info",
			LogFile:     "capsa-server.log",
		},
		Game: &GameSettings{
			BotDelaySeconds:     2,
			RestartDelaySeconds: 5,
			IdleTimeoutSeconds:  60,
			FinishedTTLSeconds:  3600,
		},
	}
}

// Load loads configuration from an HCL file, falling back to defaults
// when the file does not exist.
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var cfg Config
	diags = gohcl.DecodeBody(file.Body, nil, &cfg)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server == nil {
		cfg.Server = def.Server
	}
	if cfg.Game == nil {
		cfg.Game = def.Game
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Server.LogFile == "" {
		cfg.Server.LogFile = def.Server.LogFile
	}
	if cfg.Game.BotDelaySeconds == 0 {
		cfg.Game.BotDelaySeconds = def.Game.BotDelaySeconds
	}
	if cfg.Game.RestartDelaySeconds == 0 {
		cfg.Game.RestartDelaySeconds = def.Game.RestartDelaySeconds
	}
	if cfg.Game.IdleTimeoutSeconds == 0 {
		cfg.Game.IdleTimeoutSeconds = def.Game.IdleTimeoutSeconds
	}
	if cfg.Game.FinishedTTLSeconds == 0 {
		cfg.Game.FinishedTTLSeconds = def.Game.FinishedTTLSeconds
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.TCPAddress == "" && c.Server.HTTPAddress == "" && c.Server.WSAddress == "" {
		return fmt.Errorf("at least one listener address must be configured")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Server.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}

	if c.Game.BotDelaySeconds < 0 {
		return fmt.Errorf("bot delay must not be negative")
	}
	if c.Game.RestartDelaySeconds < 0 {
		return fmt.Errorf("restart delay must not be negative")
	}
	if c.Game.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}

	if c.Redis != nil && c.Redis.Address == "" {
		return fmt.Errorf("redis block requires an address")
	}
	return nil
}

// BotDelay returns the automated-player delay as a duration
func (c *Config) BotDelay() time.Duration {
	return time.Duration(c.Game.BotDelaySeconds) * time.Second
}

// RestartDelay returns the auto-restart delay as a duration
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Game.RestartDelaySeconds) * time.Second
}

// IdleTimeout returns the connection idle timeout as a duration
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Game.IdleTimeoutSeconds) * time.Second
}

// FinishedTTL returns the finished-session directory lifetime
func (c *Config) FinishedTTL() time.Duration {
	return time.Duration(c.Game.FinishedTTLSeconds) * time.Second
}
