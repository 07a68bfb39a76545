package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Network   NetworkConfig
	Ticketing TicketingConfig
	Seller    SellerConfig
	Kafka     KafkaConfig
	Issue     IssueConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret      string
	SuperAdminRole string
}

// NetworkConfig identifies this participant and its protocol peers.
type NetworkConfig struct {
	SubscriberID       string
	SubscriberURI      string
	UniqueKeyID        string
	SigningPrivateKey  string
	GatewayBaseURL     string
	LogisticsBaseURL   string
	LogisticsDomain    string
	CoreVersion        string
	ChatLink           string
	OutboundTimeoutSec int
}

// TicketingConfig points at the ticket-mirroring system.
type TicketingConfig struct {
	BaseURL string
	APIKey  string
}

// SellerConfig points at the seller server used for provider and product lookups.
type SellerConfig struct {
	BaseURL         string
	CacheTTLMinutes int
}

// KafkaConfig configures the lifecycle event relay.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// IssueConfig holds issue handling rules.
type IssueConfig struct {
	CascadeSubCategories []string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "igm-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("AUTH_ACCESS_JWT_SECRET", "dev-secret"),
			SuperAdminRole: getEnv("AUTH_SUPER_ADMIN_ROLE", "Super Admin"),
		},
		Network: NetworkConfig{
			SubscriberID:       os.Getenv("BPP_ID"),
			SubscriberURI:      os.Getenv("BPP_URI"),
			UniqueKeyID:        getEnv("BPP_UNIQUE_KEY_ID", "1"),
			SigningPrivateKey:  os.Getenv("BPP_SIGNING_PRIVATE_KEY"),
			GatewayBaseURL:     getEnv("PROTOCOL_BASE_URL", "http://localhost:5555/protocol/v1"),
			LogisticsBaseURL:   getEnv("PROTOCOL_LOGISTICS_URL", "http://localhost:5555/protocol/logistics/v1"),
			LogisticsDomain:    getEnv("LOGISTICS_DOMAIN", "nic2004:60232"),
			CoreVersion:        getEnv("IGM_CORE_VERSION", "1.0.0"),
			ChatLink:           getEnv("RESOLUTION_CHAT_LINK", "http://chat-link/respondent"),
			OutboundTimeoutSec: getEnvAsInt("OUTBOUND_TIMEOUT_SECONDS", 180),
		},
		Ticketing: TicketingConfig{
			BaseURL: os.Getenv("BUGZILLA_SERVICE_URI"),
			APIKey:  os.Getenv("BUGZILLA_API_KEY"),
		},
		Seller: SellerConfig{
			BaseURL:         os.Getenv("SELLER_SERVER_URL"),
			CacheTTLMinutes: getEnvAsInt("SELLER_CACHE_TTL_MINUTES", 15),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_ISSUE_TOPIC", "igm.issue-events"),
		},
		Issue: IssueConfig{
			CascadeSubCategories: getEnvAsList("ISSUE_CASCADE_SUB_CATEGORIES", []string{"FLM01", "FLM02", "FLM03"}),
		},
	}

	if cfg.Network.SubscriberURI == "" {
		return nil, fmt.Errorf("BPP_URI is required")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// OutboundTimeout bounds every call to a protocol peer.
func (n NetworkConfig) OutboundTimeout() time.Duration {
	if n.OutboundTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(n.OutboundTimeoutSec) * time.Second
}

// CacheTTL returns how long provider directory entries stay cached.
func (s SellerConfig) CacheTTL() time.Duration {
	if s.CacheTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(s.CacheTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
