package config

import "time"

// Config holds settings for both the call client and the reference relay.
// A single file keeps the two halves in sync during development.
type Config struct {
	LogLevel string       `mapstructure:"log_level" yaml:"log_level"`
	Client   ClientConfig `mapstructure:"client" yaml:"client"`
	Relay    RelayConfig  `mapstructure:"relay" yaml:"relay"`
}

// ClientConfig configures the call engine and its signaling connection.
type ClientConfig struct {
	RelayURL      string        `mapstructure:"relay_url" yaml:"relay_url"`
	Token         string        `mapstructure:"token" yaml:"token"`
	STUNServers   []string      `mapstructure:"stun_servers" yaml:"stun_servers"`
	AcceptTimeout time.Duration `mapstructure:"accept_timeout" yaml:"accept_timeout"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// RelayConfig configures the signaling relay server.
type RelayConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	RingTimeout       time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`
	LiveKit           LiveKitConfig `mapstructure:"livekit" yaml:"livekit"`
}

// LiveKitConfig enables the SFU backend for group calls.
type LiveKitConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
	WSURL     string `mapstructure:"ws_url" yaml:"ws_url"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			RelayURL:      "ws://localhost:8080/ws",
			STUNServers:   []string{"stun:stun.l.google.com:19302"},
			AcceptTimeout: 30 * time.Second,
			DialTimeout:   10 * time.Second,
		},
		Relay: RelayConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			DatabasePath:      "wirecall.db",
			JWTIssuer:         "wirecall",
			RingTimeout:       45 * time.Second,
		},
	}
}
