package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMongoDB = "mongodb"
	StorageMemory  = "memory"
)

type Config struct {
	Server     ServerConfig
	LogLevel   string           `mapstructure:"log_level"`
	Storage    string           `mapstructure:"storage"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
	Events     EventsConfig     `mapstructure:"events"`
	Workers    WorkersConfig    `mapstructure:"workers"`
}

type SecurityConfig struct {
	// AdminToken seeds an ADMIN token when the in-memory store is used
	AdminToken string `mapstructure:"adminToken"`
}

type MonitoringConfig struct {
	PrometheusPort int    `mapstructure:"prometheusPort"`
	MetricsPath    string `mapstructure:"metricsPath"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RabbitMQConfig configures the event feed. An empty URL disables it.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type ServerConfig struct {
	Port int
	Host string
	// TrustedProxies lists the proxies whose X-Forwarded-For is believed.
	// Empty means the socket address is the client address.
	TrustedProxies []string `mapstructure:"trustedProxies"`
}

type EventsConfig struct {
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Ping      PingConfig      `mapstructure:"ping"`
}

type RetrievalConfig struct {
	RateLimitWait time.Duration `mapstructure:"rateLimitWait"`
	// Timeout also bounds webhook deliveries
	Timeout time.Duration `mapstructure:"timeout"`
}

type PingConfig struct {
	ValidDuration     time.Duration `mapstructure:"validDuration"`
	RateLimitDuration time.Duration `mapstructure:"rateLimitDuration"`
	RateLimitHits     int           `mapstructure:"rateLimitHits"`
}

type WorkersConfig struct {
	Size int `mapstructure:"size"`
}

// Load reads ./config/config.yaml when present and applies environment
// overrides. Variables from a .env file in the working directory are loaded
// first without replacing ones already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom("./config")
}

func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.trustedProxies", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("storage", StorageMongoDB)
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "fdp-index")
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "fdp-index.events")
	v.SetDefault("monitoring.prometheusPort", 9090)
	v.SetDefault("monitoring.metricsPath", "/metrics")
	v.SetDefault("security.adminToken", "")
	v.SetDefault("events.retrieval.rateLimitWait", 10*time.Minute)
	v.SetDefault("events.retrieval.timeout", time.Minute)
	v.SetDefault("events.ping.validDuration", 7*24*time.Hour)
	v.SetDefault("events.ping.rateLimitDuration", 6*time.Hour)
	v.SetDefault("events.ping.rateLimitHits", 10)
	v.SetDefault("workers.size", 8)
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("APP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if promPort := os.Getenv("PROMETHEUS_PORT"); promPort != "" {
		if p, err := strconv.Atoi(promPort); err == nil {
			cfg.Monitoring.PrometheusPort = p
		}
	}

	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		cfg.MongoDB.URI = uri
	}
	if db := os.Getenv("MONGODB_DATABASE"); db != "" {
		cfg.MongoDB.Database = db
	}

	// Support both CLOUDAMQP_URL and RABBITMQ_URI for backwards compatibility
	if cloudamqpURL := os.Getenv("CLOUDAMQP_URL"); cloudamqpURL != "" {
		cfg.RabbitMQ.URL = cloudamqpURL
	} else if rabbitURL := os.Getenv("RABBITMQ_URI"); rabbitURL != "" {
		cfg.RabbitMQ.URL = rabbitURL
	}

	if exchange := os.Getenv("RABBITMQ_EXCHANGE"); exchange != "" {
		cfg.RabbitMQ.Exchange = exchange
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if token := os.Getenv("ADMIN_TOKEN"); token != "" {
		cfg.Security.AdminToken = token
	}
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMongoDB, StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.Events.Ping.RateLimitHits < 0 {
		return fmt.Errorf("events.ping.rateLimitHits must not be negative")
	}
	if c.Workers.Size < 1 {
		return fmt.Errorf("workers.size must be positive")
	}
	return nil
}
