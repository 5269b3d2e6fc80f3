package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/logging"
	"github.com/spf13/viper"
)

const (
	envPrefix                  = "NOTESMARY"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = "sqlite"
	defaultDatabasePath        = "notesmary.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultIssuer              = "tauth"
	defaultCookieName          = "app_session"
	defaultRedisAddress        = "127.0.0.1:6379"
	defaultRedisChannel        = "notesmary:changes"
	defaultCacheBackend        = CacheBackendDatabase
	defaultConnectivityMode    = ConnectivityAlwaysOnline
	defaultConnectivityTimeout = 2 * time.Second
)

const (
	CacheBackendDatabase = "database"
	CacheBackendRedis    = "redis"

	ConnectivityAlwaysOnline = "online"
	ConnectivityStatic       = "static"
	ConnectivityProbe        = "probe"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	DatabaseDriver string
	DatabaseDSN    string
	DatabasePath   string

	LogLevel  string
	LogFormat string

	AuthSigningSecret string
	AuthIssuer        string
	AuthCookieName    string

	RedisEnabled  bool
	RedisAddress  string
	RedisPassword string
	RedisChannel  string
	RedisNodeName string

	CacheBackend string

	ConnectivityMode    string
	ConnectivityProbe   string
	ConnectivityTimeout time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("redis.enabled", false)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.channel", defaultRedisChannel)
	configViper.SetDefault("cache.backend", defaultCacheBackend)
	configViper.SetDefault("connectivity.mode", defaultConnectivityMode)
	configViper.SetDefault("connectivity.timeout", defaultConnectivityTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		AllowedOrigins:      splitList(configViper.GetStringSlice("http.allowed_origins")),
		DatabaseDriver:      strings.ToLower(configViper.GetString("database.driver")),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		LogFormat:           configViper.GetString("log.format"),
		AuthSigningSecret:   configViper.GetString("auth.signing_secret"),
		AuthIssuer:          configViper.GetString("auth.issuer"),
		AuthCookieName:      configViper.GetString("auth.cookie_name"),
		RedisEnabled:        configViper.GetBool("redis.enabled"),
		RedisAddress:        configViper.GetString("redis.address"),
		RedisPassword:       configViper.GetString("redis.password"),
		RedisChannel:        configViper.GetString("redis.channel"),
		RedisNodeName:       configViper.GetString("redis.node_name"),
		CacheBackend:        strings.ToLower(configViper.GetString("cache.backend")),
		ConnectivityMode:    strings.ToLower(configViper.GetString("connectivity.mode")),
		ConnectivityProbe:   configViper.GetString("connectivity.probe_url"),
		ConnectivityTimeout: configViper.GetDuration("connectivity.timeout"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	for _, origin := range c.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("http.allowed_origins: %q must start with http:// or https://", origin)
		}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.CacheBackend {
	case CacheBackendDatabase:
	case CacheBackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.CacheBackend)
	}
	if c.RedisEnabled && strings.TrimSpace(c.RedisChannel) == "" {
		return fmt.Errorf("redis.channel is required when redis is enabled")
	}
	switch c.ConnectivityMode {
	case ConnectivityAlwaysOnline, ConnectivityStatic:
	case ConnectivityProbe:
		if strings.TrimSpace(c.ConnectivityProbe) == "" {
			return fmt.Errorf("connectivity.probe_url is required in probe mode")
		}
	default:
		return fmt.Errorf("connectivity.mode %q is not supported", c.ConnectivityMode)
	}
	return nil
}

// splitList flattens comma separated entries, as environment variables deliver one string.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
