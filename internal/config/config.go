package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ftpshare/internal/ftp"
)

// Config is intentionally small and JSON-friendly. Files ending in .yaml or
// .yml are read as YAML with the same keys.
// If Users is empty, ftpshare runs without auth.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `json:"listen" yaml:"listen"`

	FTP FTP `json:"ftp" yaml:"ftp"`

	// AuthOptional enables "public + authenticated" mode when Users is set:
	// requests without Authorization are let through, invalid creds get 401.
	AuthOptional bool `json:"auth_optional,omitempty" yaml:"auth_optional"`

	// Users is a map of username -> bcrypt hash.
	// Example:
	// "alice": {"bcrypt":"$2a$10$..."}
	Users map[string]User `json:"users,omitempty" yaml:"users"`

	// MaxTransfers bounds concurrent downloads and listings; extra requests get 503.
	MaxTransfers int `json:"max_transfers" yaml:"max_transfers"`
	// MaxConnections bounds accepted HTTP connections.
	MaxConnections int `json:"max_connections" yaml:"max_connections"`

	Share  Share  `json:"share" yaml:"share"`
	Host   Host   `json:"host" yaml:"host"`
	Memory Memory `json:"memory" yaml:"memory"`
	Relay  Relay  `json:"relay" yaml:"relay"`
	Log    Log    `json:"log" yaml:"log"`
}

type FTP struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	// PasvAddress is "reported" (dial the 227 tuple) or "control" (dial the
	// control peer with the reported port).
	PasvAddress    string   `json:"pasv_address" yaml:"pasv_address"`
	ControlTimeout Duration `json:"control_timeout" yaml:"control_timeout"`
	DataTimeout    Duration `json:"data_timeout" yaml:"data_timeout"`
}

type User struct {
	Bcrypt string `json:"bcrypt" yaml:"bcrypt"`
}

type Share struct {
	// DefaultHours is used when a share request carries no expiry.
	DefaultHours int `json:"default_hours" yaml:"default_hours"`
	// RatePerMinute and RateBurst limit /share/ requests per client IP.
	RatePerMinute float64 `json:"rate_per_minute" yaml:"rate_per_minute"`
	RateBurst     int     `json:"rate_burst" yaml:"rate_burst"`
}

type Host struct {
	Tick         Duration `json:"tick" yaml:"tick"`
	StartupTicks int      `json:"startup_ticks" yaml:"startup_ticks"`
}

type Memory struct {
	// LimitBytes sets the runtime soft memory limit; 0 keeps GOMEMLIMIT.
	LimitBytes int64 `json:"limit_bytes" yaml:"limit_bytes"`
	// LowWaterBytes is the headroom below the limit at which transfers pause.
	LowWaterBytes int64 `json:"low_water_bytes" yaml:"low_water_bytes"`
}

type Relay struct {
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
	ChunkSize  int `json:"chunk_size" yaml:"chunk_size"`
}

type Log struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// Load reads path (optional), applies defaults, then the overrides in order,
// and validates the result.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(b, &c)
		default:
			err = json.Unmarshal(b, &c)
		}
		if err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyDefaults(&c)
	for _, o := range overrides {
		o(&c)
	}
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyDefaults(c *Config) {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:8080"
	}
	if c.FTP.Port == 0 {
		c.FTP.Port = ftp.DefaultPort
	}
	if c.FTP.User == "" {
		c.FTP.User = "anonymous"
	}
	if c.FTP.PasvAddress == "" {
		c.FTP.PasvAddress = string(ftp.PasvReported)
	}
	if c.FTP.ControlTimeout == 0 {
		c.FTP.ControlTimeout = Duration(ftp.DefaultControlTimeout)
	}
	if c.FTP.DataTimeout == 0 {
		c.FTP.DataTimeout = Duration(ftp.DefaultDataTimeout)
	}
	if c.MaxTransfers == 0 {
		c.MaxTransfers = 8
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 128
	}
	if c.Share.DefaultHours == 0 {
		c.Share.DefaultHours = 24
	}
	if c.Share.RatePerMinute == 0 {
		c.Share.RatePerMinute = 30
	}
	if c.Share.RateBurst == 0 {
		c.Share.RateBurst = 10
	}
	if c.Host.Tick == 0 {
		c.Host.Tick = Duration(time.Second)
	}
	if c.Host.StartupTicks == 0 {
		c.Host.StartupTicks = 5
	}
	if c.Memory.LowWaterBytes == 0 {
		c.Memory.LowWaterBytes = 8 << 20
	}
	if c.Relay.BufferSize == 0 {
		c.Relay.BufferSize = 16 << 10
	}
	if c.Relay.ChunkSize == 0 {
		c.Relay.ChunkSize = 4 << 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate does not mutate the config.
func validate(c *Config) error {
	if strings.TrimSpace(c.FTP.Host) == "" {
		return errors.New("ftp.host is required")
	}
	if c.FTP.Port <= 0 || c.FTP.Port > 65535 {
		return errors.New("ftp.port is invalid")
	}
	if _, err := ftp.ParsePasvPolicy(c.FTP.PasvAddress); err != nil {
		return fmt.Errorf("ftp.pasv_address: %w", err)
	}
	if c.FTP.ControlTimeout < 0 || c.FTP.DataTimeout < 0 {
		return errors.New("ftp timeouts must be positive")
	}
	if c.MaxTransfers < 1 {
		return errors.New("max_transfers must be at least 1")
	}
	if c.MaxConnections < 1 {
		return errors.New("max_connections must be at least 1")
	}
	if c.Share.DefaultHours < 1 || c.Share.DefaultHours > 72 {
		return errors.New("share.default_hours must be within 1..72")
	}
	if c.Share.RatePerMinute < 0 || c.Share.RateBurst < 0 {
		return errors.New("share rate limits must not be negative")
	}
	if c.Host.Tick < Duration(time.Second) {
		return errors.New("host.tick must be at least 1s")
	}
	if c.Host.StartupTicks < 1 {
		return errors.New("host.startup_ticks must be at least 1")
	}
	if c.Relay.BufferSize < 512 {
		return errors.New("relay.buffer_size is too small")
	}
	if c.Relay.ChunkSize < 1 || c.Relay.ChunkSize > c.Relay.BufferSize {
		return errors.New("relay.chunk_size must be within 1..buffer_size")
	}
	for name, u := range c.Users {
		if strings.TrimSpace(u.Bcrypt) == "" {
			return fmt.Errorf("users.%s.bcrypt is required", name)
		}
	}
	return nil
}

// Dial converts the ftp section into dial parameters for internal/ftp.
func (c Config) Dial(logger *slog.Logger) ftp.Config {
	policy, _ := ftp.ParsePasvPolicy(c.FTP.PasvAddress)
	return ftp.Config{
		Host:           c.FTP.Host,
		Port:           c.FTP.Port,
		User:           c.FTP.User,
		Password:       c.FTP.Password,
		Pasv:           policy,
		ControlTimeout: time.Duration(c.FTP.ControlTimeout),
		DataTimeout:    time.Duration(c.FTP.DataTimeout),
		Logger:         logger,
	}
}
