package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server          ServerConfig
	Store           StoreConfig
	Database        DatabaseConfig
	Mongo           MongoConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	PaymentService  PaymentConfig
	IdentityService ServiceConfig
	Checkout        CheckoutConfig
	Features        FeatureFlags
	LogLevel        string
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StoreConfig selects the persistence backend: postgres, mongo or memory.
type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	OrdersTopic   string
	PaymentsTopic string
	ConsumerGroup string
}

type ServiceConfig struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

// PaymentConfig configures the hosted-checkout provider. Provider is
// "stripe" or "gateway".
type PaymentConfig struct {
	ServiceConfig
	Provider      string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
}

type CheckoutConfig struct {
	LockTTL       time.Duration
	LockWait      time.Duration
	Timeout       time.Duration
	CallbackLease time.Duration
}

const (
	defaultCheckoutTimeout = 30 * time.Second
	checkoutLockMargin     = 5 * time.Second
)

// CheckoutTimeout bounds one checkout from lock acquisition to commit.
func (c CheckoutConfig) CheckoutTimeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultCheckoutTimeout
	}
	return c.Timeout
}

// LockLease is the TTL of the per-user checkout lock. It is never shorter
// than CheckoutTimeout plus a margin, whatever CHECKOUT_LOCK_TTL says.
func (c CheckoutConfig) LockLease() time.Duration {
	if floor := c.CheckoutTimeout() + checkoutLockMargin; c.LockTTL < floor {
		return floor
	}
	return c.LockTTL
}

type FeatureFlags struct {
	EnableOrderCaching     bool
	EnableOrderEvents      bool
	EnableDistributedLocks bool
	EnablePaymentConsumer  bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT", 30)) * time.Second,
		},
		Store: StoreConfig{
			Driver: getEnvString("STORE_DRIVER", "postgres"),
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "acme"),
			Password:     getEnvString("DB_PASSWORD", "acme"),
			Name:         getEnvString("DB_NAME", "acme_storefront"),
			SSLMode:      getEnvString("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Mongo: MongoConfig{
			URI:      getEnvString("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnvString("MONGO_DATABASE", "acme_storefront"),
			Timeout:  getEnvDuration("MONGO_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic:   getEnvString("KAFKA_ORDERS_TOPIC", "storefront.orders"),
			PaymentsTopic: getEnvString("KAFKA_PAYMENTS_TOPIC", "storefront.payment-events"),
			ConsumerGroup: getEnvString("KAFKA_CONSUMER_GROUP", "storefront-service"),
		},
		PaymentService: PaymentConfig{
			ServiceConfig: ServiceConfig{
				BaseURL: getEnvString("PAYMENT_SERVICE_URL", "http://localhost:8083"),
				Timeout: time.Duration(getEnvInt("PAYMENT_SERVICE_TIMEOUT", 30)) * time.Second,
				APIKey:  getEnvString("PAYMENT_API_KEY", ""),
			},
			Provider:      getEnvString("PAYMENT_PROVIDER", "stripe"),
			WebhookSecret: getEnvString("PAYMENT_WEBHOOK_SECRET", ""),
			Currency:      getEnvString("PAYMENT_CURRENCY", "usd"),
			SuccessURL:    getEnvString("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
			CancelURL:     getEnvString("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
		},
		IdentityService: ServiceConfig{
			BaseURL: getEnvString("IDENTITY_SERVICE_URL", "http://localhost:8081"),
			Timeout: time.Duration(getEnvInt("IDENTITY_SERVICE_TIMEOUT", 5)) * time.Second,
		},
		Checkout: CheckoutConfig{
			LockTTL:       getEnvDuration("CHECKOUT_LOCK_TTL", 45*time.Second),
			LockWait:      getEnvDuration("CHECKOUT_LOCK_WAIT", 10*time.Second),
			Timeout:       getEnvDuration("CHECKOUT_TIMEOUT", 30*time.Second),
			CallbackLease: getEnvDuration("PAYMENT_CALLBACK_LEASE", 5*time.Minute),
		},
		Features: FeatureFlags{
			EnableOrderCaching:     getEnvBool("FEATURE_ORDER_CACHING", false),
			EnableOrderEvents:      getEnvBool("FEATURE_ORDER_EVENTS", false),
			EnableDistributedLocks: getEnvBool("FEATURE_DISTRIBUTED_LOCKS", false),
			EnablePaymentConsumer:  getEnvBool("FEATURE_PAYMENT_CONSUMER", false),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
