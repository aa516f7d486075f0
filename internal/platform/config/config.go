package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-yaml/yaml"

	pstrings "cis/pkg/platform/strings"
)

// Config is the full service configuration. Environment variables set the
// baseline; a YAML file named by CIS_CONFIG_FILE overrides any field it sets.
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	WellKnown WellKnown `yaml:"wellKnown"`
	Keys      Keys      `yaml:"keys"`
	Redis     Redis     `yaml:"redis"`
	Postgres  Postgres  `yaml:"postgres"`
	Kafka     Kafka     `yaml:"kafka"`
	APIToken  APIToken  `yaml:"apiToken"`
	Trust     Trust     `yaml:"trust"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Logging selects the slog handler.
type Logging struct {
	Level         string `yaml:"level"`  // debug, info, warn, error
	Format        string `yaml:"format"` // json or text
	IncludeCaller bool   `yaml:"includeCaller"`
}

// WellKnown locates the discovery document. URL wins over the file paths.
type WellKnown struct {
	URL        string        `yaml:"url"`
	File       string        `yaml:"file"`
	SchemaFile string        `yaml:"schemaFile"`
	RulesFile  string        `yaml:"rulesFile"`
	TTL        time.Duration `yaml:"ttl"`
}

// Keys selects where the service's own signing key comes from.
type Keys struct {
	Provider       string        `yaml:"provider"` // file or redis
	Dir            string        `yaml:"dir"`
	Namespace      string        `yaml:"namespace"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	RetryAttempts  int           `yaml:"retryAttempts"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
}

// Redis configures the secret store connection.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize"`
	MinIdleConns int           `yaml:"minIdleConns"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Postgres configures the profile store. An empty DSN selects the in-memory store.
type Postgres struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
	MaxIdleConns int           `yaml:"maxIdleConns"`
	ConnMaxLife  time.Duration `yaml:"connMaxLife"`
}

// Kafka configures the change stream. No brokers selects the in-memory publisher.
type Kafka struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Partitions  int32    `yaml:"partitions"`
	Replication int16    `yaml:"replication"`
}

// APIToken configures bearer-token validation on the profile API.
type APIToken struct {
	SigningKey string `yaml:"signingKey"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// Trust tunes the trust engine.
type Trust struct {
	Publisher      string `yaml:"publisher"`
	SigningKeyName string `yaml:"signingKeyName"`
	VerifyWorkers  int    `yaml:"verifyWorkers"`
}

// FromEnv builds the configuration from environment variables and then
// applies the YAML overlay, if any.
func FromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:            env("CIS_ADDR", ":8080"),
			ShutdownTimeout: envDuration("CIS_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Logging: Logging{
			Level:         env("CIS_LOG_LEVEL", "info"),
			Format:        env("CIS_LOG_FORMAT", "json"),
			IncludeCaller: os.Getenv("CIS_LOG_CALLER") == "true",
		},
		WellKnown: WellKnown{
			URL:        os.Getenv("CIS_WELL_KNOWN_URL"),
			File:       os.Getenv("CIS_WELL_KNOWN_FILE"),
			SchemaFile: os.Getenv("CIS_SCHEMA_FILE"),
			RulesFile:  os.Getenv("CIS_RULES_FILE"),
			TTL:        envDuration("CIS_WELL_KNOWN_TTL", 5*time.Minute),
		},
		Keys: Keys{
			Provider:       env("CIS_KEY_PROVIDER", "file"),
			Dir:            env("CIS_KEY_DIR", "./keys"),
			Namespace:      env("CIS_KEY_NAMESPACE", "cis/keys"),
			CacheTTL:       envDuration("CIS_KEY_CACHE_TTL", 15*time.Minute),
			RetryAttempts:  envInt("CIS_KEY_RETRY_ATTEMPTS", 5),
			RetryBaseDelay: envDuration("CIS_KEY_RETRY_BASE_DELAY", time.Second),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			DSN:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLife:  envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Kafka: Kafka{
			Brokers:     pstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			Topic:       env("KAFKA_PROFILE_TOPIC", "cis.profile.changes"),
			Partitions:  int32(envInt("KAFKA_PARTITIONS", 3)),
			Replication: int16(envInt("KAFKA_REPLICATION", 1)),
		},
		APIToken: APIToken{
			// development default; override in every real deployment
			SigningKey: env("CIS_API_TOKEN_KEY", "dev-secret-key-change-in-production"),
			Issuer:     env("CIS_API_TOKEN_ISSUER", "cis"),
			Audience:   env("CIS_API_TOKEN_AUDIENCE", "person-api"),
		},
		Trust: Trust{
			Publisher:      env("CIS_PUBLISHER", "cis"),
			SigningKeyName: env("CIS_SIGNING_KEY_NAME", "cis"),
			VerifyWorkers:  envInt("CIS_VERIFY_WORKERS", 0),
		},
	}
	if path := os.Getenv("CIS_CONFIG_FILE"); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// Overlay decodes the YAML file at path onto cfg.
func (c *Config) Overlay(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()
	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate() error {
	if c.WellKnown.URL == "" && c.WellKnown.File == "" {
		return fmt.Errorf("config: one of CIS_WELL_KNOWN_URL or CIS_WELL_KNOWN_FILE is required")
	}
	switch c.Keys.Provider {
	case "file":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("config: redis key provider requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown key provider %q", c.Keys.Provider)
	}
	if c.Trust.Publisher == "" {
		return fmt.Errorf("config: publisher id must not be empty")
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
