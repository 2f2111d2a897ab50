// Package config loads the sync server's settings from flags, environment
// variables and defaults, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	BackendLocal = "local"
	BackendRedis = "redis"
)

// Config is the complete server configuration.
type Config struct {
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	Env      string `mapstructure:"env" validate:"oneof=development production"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MDNS      MDNSConfig      `mapstructure:"mdns"`
	WS        WSConfig        `mapstructure:"ws"`
}

// BroadcastConfig selects how room events are fanned out.
type BroadcastConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=local redis"`
}

// RedisConfig locates the Redis server used by the relay backend.
type RedisConfig struct {
	Addr string `mapstructure:"addr" validate:"required_if=Enabled true"`
	// OwnerTTL is how long a document claim outlives its instance.
	OwnerTTL time.Duration `mapstructure:"owner_ttl" validate:"gt=0"`
	// Instance names this server in document claims. Generated when empty.
	Instance string `mapstructure:"instance"`
	// Enabled is derived from Broadcast.Backend; it is not read from
	// configuration sources.
	Enabled bool `mapstructure:"-"`
}

// MDNSConfig controls advertising the server on the local network.
type MDNSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service" validate:"required_if=Enabled true"`
}

// WSConfig tunes websocket connections.
type WSConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer" validate:"min=1"`
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout" validate:"gtfield=PingInterval"`
	MaxMessage   int64         `mapstructure:"max_message" validate:"min=512"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:      3001,
		Env:       EnvDevelopment,
		LogLevel:  "info",
		Broadcast: BroadcastConfig{Backend: BackendLocal},
		Redis:     RedisConfig{Addr: "localhost:6379", OwnerTTL: 30 * time.Second},
		MDNS:      MDNSConfig{Enabled: false, Service: "_collabgrid._tcp"},
		WS: WSConfig{
			SendBuffer:   256,
			PingInterval: 25 * time.Second,
			PongTimeout:  60 * time.Second,
			MaxMessage:   64 * 1024,
		},
	}
}

// envBindings maps configuration keys to the environment variables that
// set them.
var envBindings = map[string][]string{
	"port":              {"PORT"},
	"env":               {"APP_ENV", "NODE_ENV"},
	"log_level":         {"LOG_LEVEL"},
	"broadcast.backend": {"BROADCAST_BACKEND"},
	"redis.addr":        {"REDIS_ADDR"},
	"redis.owner_ttl":   {"REDIS_OWNER_TTL"},
	"redis.instance":    {"INSTANCE_ID"},
	"mdns.enabled":      {"MDNS_ENABLED"},
	"mdns.service":      {"MDNS_SERVICE"},
	"ws.send_buffer":    {"WS_SEND_BUFFER"},
	"ws.ping_interval":  {"WS_PING_INTERVAL"},
	"ws.pong_timeout":   {"WS_PONG_TIMEOUT"},
	"ws.max_message":    {"WS_MAX_MESSAGE"},
}

// SetDefaults registers default values and environment bindings with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("env", d.Env)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("broadcast.backend", d.Broadcast.Backend)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.owner_ttl", d.Redis.OwnerTTL)
	v.SetDefault("redis.instance", d.Redis.Instance)
	v.SetDefault("mdns.enabled", d.MDNS.Enabled)
	v.SetDefault("mdns.service", d.MDNS.Service)
	v.SetDefault("ws.send_buffer", d.WS.SendBuffer)
	v.SetDefault("ws.ping_interval", d.WS.PingInterval)
	v.SetDefault("ws.pong_timeout", d.WS.PongTimeout)
	v.SetDefault("ws.max_message", d.WS.MaxMessage)

	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Env = strings.ToLower(cfg.Env)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Redis.Enabled = cfg.Broadcast.Backend == BackendRedis

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

var (
	devOrigins       = []string{"http://localhost:5173", "http://localhost:5174"}
	vercelOriginExpr = regexp.MustCompile(`^https://.*\.vercel\.app$`)
)

// AllowedOrigin reports whether a browser origin may open the channel or
// call the HTTP endpoints. Production additionally accepts any
// *.vercel.app deployment. Requests without an Origin header come from
// non-browser clients and are allowed.
func (c *Config) AllowedOrigin(origin string) bool {
	if origin == "" || slices.Contains(devOrigins, origin) {
		return true
	}
	return c.Env == EnvProduction && vercelOriginExpr.MatchString(origin)
}
