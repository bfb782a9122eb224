package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every subsystem's configuration. Loaded once at startup from
// the environment (plus an optional .env file in development).
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Session       SessionConfig
	Token         TokenConfig
	RateLimit     RateLimitConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers     []string
	EmailTopic  string
	EventsTopic string
}

type ElasticsearchConfig struct {
	URL         string
	Username    string
	Password    string
	EventsIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// SessionConfig carries the two expiry windows plus retention settings for
// the background sweep. SoftWindow must be strictly smaller than HardWindow.
type SessionConfig struct {
	SoftWindow    time.Duration
	HardWindow    time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	UnverifiedTTL time.Duration
}

type TokenConfig struct {
	Secret string
	TTL    time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	UseRedis bool
}

// LoadConfig reads configuration from the environment. A missing .env file is
// not an error outside development.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:       GetEnv("SERVER_DOMAIN", ""),
			Email:        GetEnv("SERVER_ACME_EMAIL", ""),
			CertFile:     GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  GetEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
			ReadTimeout:  GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "json"),
		},
		Scylla: ScyllaConfig{
			Nodes:    strings.Split(GetEnv("SCYLLA_NODES", "127.0.0.1:9042"), ","),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "pakotp"),
			Username: GetEnv("SCYLLA_USERNAME", ""),
			Password: GetEnv("SCYLLA_PASSWORD", ""),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "127.0.0.1:6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.Split(GetEnv("KAFKA_BROKERS", "127.0.0.1:9092"), ","),
			EmailTopic:  GetEnv("KAFKA_EMAIL_TOPIC", "auth.email"),
			EventsTopic: GetEnv("KAFKA_EVENTS_TOPIC", "auth.security-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:         GetEnv("ELASTICSEARCH_URL", "http://127.0.0.1:9200"),
			Username:    GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:    GetEnv("ELASTICSEARCH_PASSWORD", ""),
			EventsIndex: GetEnv("ELASTICSEARCH_EVENTS_INDEX", "security-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      GetEnv("CLICKHOUSE_URL", "127.0.0.1:9000"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: GetEnv("CLICKHOUSE_DATABASE", "pakotp_analytics"),
		},
		KMS: KMSConfig{
			Enabled: GetEnvBool("KMS_ENABLED", false),
			KeyID:   GetEnv("KMS_KEY_ID", ""),
			Region:  GetEnv("KMS_REGION", "us-east-1"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  GetEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:    GetEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: GetEnvInt("ARGON2_PARALLELISM", 4),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  GetEnvInt("USER_BUCKETS", 64),
			EventBuckets: GetEnvInt("EVENT_BUCKETS", 16),
		},
		Session: SessionConfig{
			SoftWindow:    GetEnvDuration("SESSION_SOFT_WINDOW", 24*time.Hour),
			HardWindow:    GetEnvDuration("SESSION_HARD_WINDOW", 7*24*time.Hour),
			Retention:     GetEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
			SweepInterval: GetEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour),
			UnverifiedTTL: GetEnvDuration("UNVERIFIED_USER_TTL", 24*time.Hour),
		},
		Token: TokenConfig{
			Secret: GetEnv("TOKEN_SECRET", "dev-only-secret"),
			TTL:    GetEnvDuration("TOKEN_TTL", 7*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: GetEnvInt("RATE_LIMIT_REQUESTS", 20),
			Window:   GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			UseRedis: GetEnvBool("RATE_LIMIT_USE_REDIS", true),
		},
	}

	return cfg
}

// Validate rejects configurations that would produce an unsound session
// policy. Called once at startup.
func (c *Config) Validate() error {
	if c.Session.SoftWindow <= 0 || c.Session.HardWindow <= 0 {
		return fmt.Errorf("session windows must be positive")
	}
	if c.Session.SoftWindow >= c.Session.HardWindow {
		return fmt.Errorf("session soft window (%s) must be smaller than hard window (%s)",
			c.Session.SoftWindow, c.Session.HardWindow)
	}
	if c.IsProduction() && c.Token.Secret == "dev-only-secret" {
		return fmt.Errorf("TOKEN_SECRET must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
