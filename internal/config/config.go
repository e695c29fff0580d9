// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Storage     StorageConfig
	Ledger      LedgerConfig
	Market      MarketConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
	Events      EventsConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Driver       string // postgres | sqlite
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	AutoMigrate  bool
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey       string
	AccessTokenTTL  int // in hours
	RefreshTokenTTL int // in hours
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	Endpoint        string
}

type StorageConfig struct {
	Driver        string // memory | s3
	MaxUploadSize int64
}

type LedgerConfig struct {
	Driver            string // memory | ethereum
	RPCURL            string
	TokenAddress      string
	ChannelAddress    string
	OwnerAddress      string
	KeystoreDir       string
	KeystorePass      string
	FinalityTimeout   int // seconds
	PollInterval      int // milliseconds
	OpenGas           uint64
	CloseGas          uint64
	OwnerSupply       int64
	AccountNames      string
	ReadRetryAttempts int
}

type MarketConfig struct {
	DefaultVerifierKey   string
	DefaultRewardPercent int
	OperationTimeout     int // seconds
}

type RateLimitConfig struct {
	RPS   float64
	Burst int

	// Ledger-writing requests per account
	LedgerRPS   float64
	LedgerBurst int
}

type LoggingConfig struct {
	Level string
	File  string
}

type EventsConfig struct {
	QueueLimit int
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 180),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "scry"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:   getEnv("DB_SQLITE_PATH", "scry.db"),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET", defaultJWTSecret),
			AccessTokenTTL:  getEnvAsInt("JWT_ACCESS_TTL", 24),   // 24 hours
			RefreshTokenTTL: getEnvAsInt("JWT_REFRESH_TTL", 168), // 7 days
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "scry-content"),
			Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
		},
		Storage: StorageConfig{
			Driver:        getEnv("STORAGE_DRIVER", "memory"),
			MaxUploadSize: int64(getEnvAsInt("STORAGE_MAX_UPLOAD_MB", 50)) << 20,
		},
		Ledger: LedgerConfig{
			Driver:            getEnv("LEDGER_DRIVER", "memory"),
			RPCURL:            getEnv("LEDGER_RPC_URL", ""),
			TokenAddress:      getEnv("LEDGER_TOKEN_ADDRESS", ""),
			ChannelAddress:    getEnv("LEDGER_CHANNEL_ADDRESS", ""),
			OwnerAddress:      getEnv("LEDGER_OWNER_ADDRESS", "0x0000000000000000000000000000000000000001"),
			KeystoreDir:       getEnv("LEDGER_KEYSTORE_DIR", ""),
			KeystorePass:      getEnv("LEDGER_KEYSTORE_PASSPHRASE", ""),
			FinalityTimeout:   getEnvAsInt("LEDGER_FINALITY_TIMEOUT", 120),
			PollInterval:      getEnvAsInt("LEDGER_POLL_INTERVAL", 1000),
			OpenGas:           getEnvAsUint64("LEDGER_OPEN_GAS", 200000),
			CloseGas:          getEnvAsUint64("LEDGER_CLOSE_GAS", 300000),
			OwnerSupply:       int64(getEnvAsInt("LEDGER_OWNER_SUPPLY", 1000000000)),
			AccountNames:      getEnv("LEDGER_ACCOUNT_NAMES", ""),
			ReadRetryAttempts: getEnvAsInt("LEDGER_READ_RETRIES", 3),
		},
		Market: MarketConfig{
			DefaultVerifierKey:   getEnv("MARKET_DEFAULT_VERIFIER_KEY", ""),
			DefaultRewardPercent: getEnvAsInt("MARKET_DEFAULT_REWARD_PERCENT", 10),
			OperationTimeout:     getEnvAsInt("MARKET_OPERATION_TIMEOUT", 150),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst: getEnvAsInt("RATE_LIMIT_BURST", 20),

			LedgerRPS:   getEnvAsFloat("RATE_LIMIT_LEDGER_RPS", 1),
			LedgerBurst: getEnvAsInt("RATE_LIMIT_LEDGER_BURST", 5),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
		Events: EventsConfig{
			QueueLimit: getEnvAsInt("EVENTS_QUEUE_LIMIT", 0),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == defaultJWTSecret && c.IsProduction() {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Password == "" && c.IsProduction() {
			return fmt.Errorf("database password is required in production")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Ledger.Driver {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("memory ledger cannot be used in production")
		}
	case "ethereum":
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("LEDGER_RPC_URL is required for the ethereum ledger")
		}
		if c.Ledger.TokenAddress == "" || c.Ledger.ChannelAddress == "" {
			return fmt.Errorf("token and channel contract addresses are required for the ethereum ledger")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}

	switch c.Storage.Driver {
	case "memory", "s3":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (l LedgerConfig) FinalityWindow() time.Duration {
	return time.Duration(l.FinalityTimeout) * time.Second
}

func (l LedgerConfig) PollEvery() time.Duration {
	return time.Duration(l.PollInterval) * time.Millisecond
}

func (m MarketConfig) OperationWindow() time.Duration {
	return time.Duration(m.OperationTimeout) * time.Second
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
