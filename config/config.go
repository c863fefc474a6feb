package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"kisantrack/utils"
)

// Config holds all application configuration.
type Config struct {
	Env      string
	LogLevel string
	HTTP     HTTPConfig
	Store    StoreConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Tracking TrackingConfig
}

// HTTPConfig contains listener settings.
type HTTPConfig struct {
	Port           string       // listen address, always ":<port>"
	TrackRate      float64      // tracking-code lookups per second per client IP
	TrustedProxies []*net.IPNet // peers whose X-Forwarded-For is believed
}

// StoreConfig selects and configures the order store.
type StoreConfig struct {
	Driver     string // mongo | sqlite | memory
	MongoURI   string
	MongoDB    string
	SQLitePath string
}

// RedisConfig configures the cross-instance relay. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	Channel  string
}

// AuthConfig contains JWT settings.
type AuthConfig struct {
	JWTSecret string
}

// TrackingConfig tunes the live channel and the simulator.
type TrackingConfig struct {
	SimTick         time.Duration
	SimStep         int
	RoomIdleTimeout time.Duration
	PersistQueue    int
	SampleRate      float64
	SampleBurst     int
	HistoryTail     int
	SendBuffer      int
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	var err error
	cfg := &Config{
		Env:      getEnv("APP_ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", ""),
		HTTP: HTTPConfig{
			Port: normalizePort(getEnv("PORT", ":8080")),
		},
		Store: StoreConfig{
			Driver:     getEnv("STORE_DRIVER", "mongo"),
			MongoURI:   getEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDB:    getEnv("MONGO_DB", "kisansmartapp"),
			SQLitePath: getEnv("SQLITE_PATH", "tracking.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			Channel:  getEnv("REDIS_CHANNEL", "tracking:locations"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}

	if cfg.HTTP.TrackRate, err = getEnvFloat("TRACK_RATE", 5); err != nil {
		return nil, err
	}
	if cfg.HTTP.TrustedProxies, err = utils.ParseTrustedProxies(getEnv("TRUSTED_PROXIES", "")); err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	t := &cfg.Tracking
	if t.SimTick, err = getEnvDuration("SIM_TICK", 3*time.Second); err != nil {
		return nil, err
	}
	if t.SimStep, err = getEnvInt("SIM_STEP", 10); err != nil {
		return nil, err
	}
	if t.RoomIdleTimeout, err = getEnvDuration("ROOM_IDLE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if t.PersistQueue, err = getEnvInt("PERSIST_QUEUE", 64); err != nil {
		return nil, err
	}
	if t.SampleRate, err = getEnvFloat("SAMPLE_RATE", 5); err != nil {
		return nil, err
	}
	if t.SampleBurst, err = getEnvInt("SAMPLE_BURST", 10); err != nil {
		return nil, err
	}
	if t.HistoryTail, err = getEnvInt("HISTORY_TAIL", 50); err != nil {
		return nil, err
	}
	if t.SendBuffer, err = getEnvInt("SEND_BUFFER", 32); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "mongo", "sqlite", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be mongo, sqlite or memory, got %q", c.Store.Driver)
	}
	if c.Tracking.SimStep <= 0 || c.Tracking.SimStep > 100 {
		return fmt.Errorf("SIM_STEP must be in 1..100, got %d", c.Tracking.SimStep)
	}
	if c.Tracking.SimTick <= 0 {
		return fmt.Errorf("SIM_TICK must be positive")
	}
	if c.Tracking.PersistQueue <= 0 || c.Tracking.SendBuffer <= 0 {
		return fmt.Errorf("PERSIST_QUEUE and SEND_BUFFER must be positive")
	}
	return nil
}

// Development reports whether the process runs with development defaults.
func (c *Config) Development() bool {
	return c.Env == "development" || c.Env == "dev"
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	secret := "unset"
	if c.Auth.JWTSecret != "" {
		secret = "*** (masked) ***"
	}
	redis := c.Redis.Addr
	if redis == "" {
		redis = "disabled"
	}
	return fmt.Sprintf("Config{env: %s, http: %s, store: %s, redis: %s, jwt: %s, simTick: %s, simStep: %d}",
		c.Env, c.HTTP.Port, c.Store.Driver, redis, secret, c.Tracking.SimTick, c.Tracking.SimStep)
}

func normalizePort(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] != ':' {
		return ":" + port
	}
	return port
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		v, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return v, nil
	}
	return defaultVal, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %w", key, err)
		}
		return v, nil
	}
	return defaultVal, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		v, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		return v, nil
	}
	return defaultVal, nil
}
