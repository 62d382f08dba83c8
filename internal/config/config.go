package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values (production)
const (
	DefaultDomain     = "discushy.qzz.io"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultTURN       = "turn:discushy.qzz.io"
	DefaultTURNUser   = "discushy"
	DefaultTURNPass   = "discushy-secret"
	DefaultCodec      = "json"
	DefaultRole       = "member"
	DefaultListenAddr = ":8080"
	DefaultHubMode    = "release"

	// Speaking detection: average byte frequency level (0-255) and hold time.
	DefaultSpeakingThreshold = 20.0
	DefaultSpeakingHold      = 500 * time.Millisecond
)

// Config holds application configuration
type Config struct {
	// Domain is the backend server domain
	Domain string `mapstructure:"domain"`

	// WebSocketURL is constructed from domain unless set explicitly
	WebSocketURL string `mapstructure:"server_url"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_username"`
	TURNPass   string `mapstructure:"turn_password"`
	ForceRelay bool   `mapstructure:"force_relay"`

	// Meeting identity
	UserName string `mapstructure:"user_name"`
	UserRole string `mapstructure:"user_role"`

	// Codec is the signaling wire codec: "json" or "msgpack"
	Codec string `mapstructure:"codec"`

	// AssistantURL is the base URL of the secondary audio backend; empty disables it
	AssistantURL string `mapstructure:"assistant_url"`

	// Capture sources. Empty values fall back to silence / no video.
	CameraFile string `mapstructure:"camera_file"`
	MicFile    string `mapstructure:"mic_file"`
	ScreenFile string `mapstructure:"screen_file"`

	SpeakingThreshold float64       `mapstructure:"speaking_threshold"`
	SpeakingHold      time.Duration `mapstructure:"speaking_hold"`

	// Hub (serve command)
	ListenAddr string `mapstructure:"listen_addr"`
	HubMode    string `mapstructure:"hub_mode"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile   string
	Domain       string
	ServerURL    string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	UserName     string
	UserRole     string
	Codec        string
	AssistantURL string
	CameraFile   string
	MicFile      string
	ScreenFile   string
	ListenAddr   string
}

// env bindings keep the variable names the CLI has always used
var envKeys = map[string]string{
	"domain":             "DOMAIN",
	"server_url":         "SERVER_URL",
	"stun_server":        "STUN_SERVER",
	"turn_server":        "TURN_SERVER",
	"turn_username":      "TURN_USERNAME",
	"turn_password":      "TURN_PASSWORD",
	"force_relay":        "FORCE_RELAY",
	"user_name":          "USER_NAME",
	"user_role":          "USER_ROLE",
	"codec":              "SIGNAL_CODEC",
	"assistant_url":      "BACKEND_API_URL",
	"camera_file":        "CAMERA_FILE",
	"mic_file":           "MIC_FILE",
	"screen_file":        "SCREEN_FILE",
	"speaking_threshold": "SPEAKING_THRESHOLD",
	"speaking_hold":      "SPEAKING_HOLD",
	"listen_addr":        "LISTEN_ADDR",
	"hub_mode":           "HUB_MODE",
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (--config or DISCUSHY_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetDefault("domain", DefaultDomain)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", DefaultTURN)
	v.SetDefault("turn_username", DefaultTURNUser)
	v.SetDefault("turn_password", DefaultTURNPass)
	v.SetDefault("user_role", DefaultRole)
	v.SetDefault("codec", DefaultCodec)
	v.SetDefault("speaking_threshold", DefaultSpeakingThreshold)
	v.SetDefault("speaking_hold", DefaultSpeakingHold)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("hub_mode", DefaultHubMode)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	file := opts.ConfigFile
	if file == "" {
		_ = v.BindEnv("config_file", "DISCUSHY_CONFIG")
		file = v.GetString("config_file")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", file, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyOptions(opts)

	if cfg.WebSocketURL == "" {
		cfg.WebSocketURL = fmt.Sprintf("wss://%s/ws", cfg.Domain)
	}
	cfg.Codec = strings.ToLower(cfg.Codec)
	if cfg.Codec != "json" && cfg.Codec != "msgpack" {
		return nil, fmt.Errorf("unsupported signaling codec %q", cfg.Codec)
	}
	if cfg.UserRole != "host" && cfg.UserRole != "member" {
		return nil, fmt.Errorf("unsupported user role %q", cfg.UserRole)
	}

	return &cfg, nil
}

// applyOptions overrides loaded values with non-empty CLI flags
func (c *Config) applyOptions(opts Options) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Domain, opts.Domain)
	set(&c.WebSocketURL, opts.ServerURL)
	set(&c.STUNServer, opts.STUNServer)
	set(&c.TURNServer, opts.TURNServer)
	set(&c.TURNUser, opts.TURNUser)
	set(&c.TURNPass, opts.TURNPass)
	set(&c.UserName, opts.UserName)
	set(&c.UserRole, opts.UserRole)
	set(&c.Codec, opts.Codec)
	set(&c.AssistantURL, opts.AssistantURL)
	set(&c.CameraFile, opts.CameraFile)
	set(&c.MicFile, opts.MicFile)
	set(&c.ScreenFile, opts.ScreenFile)
	set(&c.ListenAddr, opts.ListenAddr)
	if opts.ForceRelay {
		c.ForceRelay = true
	}
}

// GetRoomLink returns the webapp URL for a room code
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/room/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", strings.TrimPrefix(c.TURNServer, "turn:")),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// UseRelay reports whether ICE should be restricted to TURN relays.
func (c *Config) UseRelay() bool {
	if c.GetTURNServers() == nil {
		return false
	}
	return c.ForceRelay || ShouldForceRelay()
}
