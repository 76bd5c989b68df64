package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Server is the relay server's configuration, read from the environment
type Server struct {
	Host string `env:"HOST"`
	Port int    `env:"PORT" envDefault:"8080"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Storage    string `env:"STORAGE" envDefault:"memory"`
	RedisURL   string `env:"REDIS_URL"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"partyrelay.db"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"partyrelay"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"1h"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	GamesFile   string   `env:"GAMES_FILE"`

	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"30s"`
	PingTimeout  time.Duration `env:"PING_TIMEOUT" envDefault:"10s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// EnvPrefix prefixes every server variable
const EnvPrefix = "PARTYRELAY_"

// Load reads the server configuration from the process environment
func Load() (Server, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// LoadFrom reads the configuration from the given variables instead of the process environment
func LoadFrom(vars map[string]string) (Server, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func parse(opts env.Options) (Server, error) {
	var cfg Server
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks combinations that tags cannot express
func (c Server) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New(EnvPrefix+"JWT_SECRET is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	switch c.Storage {
	case StorageMemory, StorageSQLite:
	case StorageRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New(EnvPrefix+"REDIS_URL is required when storage is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage %q: must be memory, redis or sqlite", c.Storage))
	}
	if c.PingInterval > 0 && c.PingTimeout <= 0 {
		errs = append(errs, errors.New("ping timeout must be positive when pings are enabled"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address
func (c Server) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
