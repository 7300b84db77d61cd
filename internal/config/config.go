package config

import (
	"strings"
	"time"
)

// MinPollInterval is the lowest accepted server.interval.
const MinPollInterval = 1000

// Config holds bot configuration values.
type Config struct {
	DataFolder        string         `mapstructure:"data_folder" yaml:"data_folder"`
	LogLevel          string         `mapstructure:"log_level" yaml:"log_level"`
	UnsafeCmdsOnlyCLI bool           `mapstructure:"unsafe_cmds_only_cli" yaml:"unsafe_cmds_only_cli"`
	Steam             SteamConfig    `mapstructure:"steam" yaml:"steam"`
	Server            ServerConfig   `mapstructure:"server" yaml:"server"`
	Presence          PresenceConfig `mapstructure:"presence" yaml:"presence"`
	Profile           ProfileConfig  `mapstructure:"profile" yaml:"profile"`
	HTTP              HTTPConfig     `mapstructure:"http" yaml:"http"`
}

// SteamConfig holds the bot account and who may administer it.
type SteamConfig struct {
	Username    string   `mapstructure:"username" yaml:"username"`
	Password    string   `mapstructure:"password" yaml:"password"`
	Nickname    string   `mapstructure:"nickname" yaml:"nickname"`
	Admins      []string `mapstructure:"admins" yaml:"admins"`
	Autoconnect bool     `mapstructure:"autoconnect" yaml:"autoconnect"`
}

// ServerConfig describes the game server to query. Interval is in milliseconds.
type ServerConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Interval int    `mapstructure:"interval" yaml:"interval"`
}

// PresenceConfig points at the presence gateway.
type PresenceConfig struct {
	GatewayURL     string        `mapstructure:"gateway_url" yaml:"gateway_url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

// ProfileConfig configures avatar uploads.
type ProfileConfig struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	DefaultAvatar string        `mapstructure:"default_avatar" yaml:"default_avatar"`
	ReloginEvery  time.Duration `mapstructure:"relogin_every" yaml:"relogin_every"`
}

// HTTPConfig enables the status API when Addr is set.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RequestsPerMinute limits API calls; 0 disables the limit.
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		DataFolder:        "data",
		LogLevel:          "info",
		UnsafeCmdsOnlyCLI: true,
		Steam: SteamConfig{
			Nickname:    "ServerBot",
			Admins:      []string{},
			Autoconnect: true,
		},
		Server: ServerConfig{
			Port:     29070,
			Interval: 30000,
		},
		Presence: PresenceConfig{
			GatewayURL:     "ws://127.0.0.1:8090/ws",
			ReconnectDelay: 5 * time.Second,
		},
		Profile: ProfileConfig{
			BaseURL:       "https://steamcommunity.com",
			DefaultAvatar: "default_avatar.jpg",
			ReloginEvery:  time.Minute,
		},
		HTTP: HTTPConfig{
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			RequestsPerMinute: 120,
		},
	}
}

// Normalize clamps values the rest of the bot relies on.
func (c *Config) Normalize() {
	if c.Server.Interval < MinPollInterval {
		c.Server.Interval = MinPollInterval
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.Steam.Admins == nil {
		c.Steam.Admins = []string{}
	}
}

// PollInterval returns server.interval as a duration.
func (c Config) PollInterval() time.Duration {
	interval := c.Server.Interval
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	return time.Duration(interval) * time.Millisecond
}

// HasCredentials reports whether a login can be attempted.
func (c Config) HasCredentials() bool {
	return c.Steam.Username != "" && c.Steam.Password != ""
}
