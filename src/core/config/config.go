package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pbtc21/x402-registry/src/core/database"
)

// Config holds all configuration for the x402 registry service.
type Config struct {
	// Server configuration
	Host string `env:"HOST" envDefault:"localhost"`
	Port int    `env:"PORT" envDefault:"8000"`

	// Database configuration
	Database *database.Config

	// Registry configuration
	RegistryName string `env:"REGISTRY_NAME" envDefault:"x402-registry"`
	TaxonomyPath string `env:"TAXONOMY_PATH" envDefault:""`

	// Cache configuration
	CacheTTL            int  `env:"CACHE_TTL" envDefault:"30"` // seconds
	EnableResponseCache bool `env:"ENABLE_RESPONSE_CACHE" envDefault:"true"`

	// Payment configuration
	PaymentMode       string `env:"PAYMENT_MODE" envDefault:"static"` // static | ethereum
	PaymentRPCURL     string `env:"PAYMENT_RPC_URL" envDefault:""`
	PlatformRecipient string `env:"PLATFORM_RECIPIENT" envDefault:"0x402402402402402402402402402402402402F0F0"`
	RedisURL          string `env:"REDIS_URL" envDefault:""`
	SessionTTL        int    `env:"PAYMENT_SESSION_TTL" envDefault:"900"` // seconds

	// Execution configuration
	CallTimeout int `env:"CALL_TIMEOUT" envDefault:"30"` // seconds per agent call
	CallRetries int `env:"CALL_RETRIES" envDefault:"2"`

	// CORS configuration
	EnableCORS     bool     `env:"ENABLE_CORS" envDefault:"true"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*"`
	AllowedMethods []string `env:"ALLOWED_METHODS" envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS" envDefault:"*"`

	// Logging configuration
	LogLevel  string `env:"X402_LOG_LEVEL" envDefault:"INFO"`
	DebugMode bool   `env:"X402_DEBUG_MODE" envDefault:"false"`
	AccessLog bool   `env:"ACCESS_LOG" envDefault:"true"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	config := &Config{
		Host:                getEnvString("HOST", "localhost"),
		Port:                getEnvInt("PORT", 8000),
		RegistryName:        getEnvString("REGISTRY_NAME", "x402-registry"),
		TaxonomyPath:        getEnvString("TAXONOMY_PATH", ""),
		CacheTTL:            getEnvInt("CACHE_TTL", 30),
		EnableResponseCache: getEnvBool("ENABLE_RESPONSE_CACHE", true),
		PaymentMode:         getEnvString("PAYMENT_MODE", "static"),
		PaymentRPCURL:       getEnvString("PAYMENT_RPC_URL", ""),
		PlatformRecipient:   getEnvString("PLATFORM_RECIPIENT", "0x402402402402402402402402402402402402F0F0"),
		RedisURL:            getEnvString("REDIS_URL", ""),
		SessionTTL:          getEnvInt("PAYMENT_SESSION_TTL", 900),
		CallTimeout:         getEnvInt("CALL_TIMEOUT", 30),
		CallRetries:         getEnvInt("CALL_RETRIES", 2),
		EnableCORS:          getEnvBool("ENABLE_CORS", true),
		AllowedOrigins:      getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"}),
		AllowedMethods:      getEnvStringSlice("ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders:      getEnvStringSlice("ALLOWED_HEADERS", []string{"*"}),
		LogLevel:            getEnvString("X402_LOG_LEVEL", "INFO"),
		DebugMode:           getEnvBool("X402_DEBUG_MODE", false),
		AccessLog:           getEnvBool("ACCESS_LOG", true),
	}

	config.Database = &database.Config{
		DatabaseURL:        getEnvString("DATABASE_URL", "x402_registry.db"),
		BusyTimeout:        getEnvInt("DB_BUSY_TIMEOUT", 5000),
		JournalMode:        getEnvString("DB_JOURNAL_MODE", "WAL"),
		Synchronous:        getEnvString("DB_SYNCHRONOUS", "NORMAL"),
		EnableForeignKeys:  getEnvBool("DB_ENABLE_FOREIGN_KEYS", true),
		MaxOpenConnections: getEnvInt("DB_MAX_OPEN_CONNECTIONS", 25),
		MaxIdleConnections: getEnvInt("DB_MAX_IDLE_CONNECTIONS", 5),
		ConnMaxLifetime:    getEnvInt("DB_CONN_MAX_LIFETIME", 300),
	}

	return config
}

// Validate ensures configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("cache TTL must be non-negative: %d", c.CacheTTL)
	}

	if c.SessionTTL < 1 {
		return fmt.Errorf("payment session TTL must be positive: %d", c.SessionTTL)
	}

	switch strings.ToLower(c.PaymentMode) {
	case "static", "ethereum":
	default:
		return fmt.Errorf("invalid payment mode: %s (valid: static, ethereum)", c.PaymentMode)
	}
	if strings.ToLower(c.PaymentMode) == "ethereum" && c.PaymentRPCURL == "" {
		return fmt.Errorf("PAYMENT_RPC_URL is required when PAYMENT_MODE=ethereum")
	}

	// Validate log level (case insensitive)
	validLogLevels := map[string]bool{
		"DEBUG":    true,
		"INFO":     true,
		"WARNING":  true,
		"ERROR":    true,
		"CRITICAL": true,
	}
	if !validLogLevels[strings.ToUpper(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (valid: DEBUG, INFO, WARNING, ERROR, CRITICAL)", c.LogLevel)
	}

	// If debug mode is enabled, force log level to DEBUG
	if c.DebugMode {
		c.LogLevel = "DEBUG"
	}

	return nil
}

// GetDatabaseURL returns the database URL with proper formatting.
func (c *Config) GetDatabaseURL() string {
	return c.Database.DatabaseURL
}

// IsDebugMode determines if debug mode is enabled.
func (c *Config) IsDebugMode() bool {
	return c.DebugMode || strings.ToUpper(c.LogLevel) == "DEBUG"
}

// ShouldLogAtLevel checks if messages at the given level should be logged.
func (c *Config) ShouldLogAtLevel(level string) bool {
	levelPriority := map[string]int{
		"DEBUG":    0,
		"INFO":     1,
		"WARNING":  2,
		"ERROR":    3,
		"CRITICAL": 4,
	}

	currentPriority, exists := levelPriority[strings.ToUpper(c.LogLevel)]
	if !exists {
		currentPriority = 1 // Default to INFO
	}

	checkPriority, exists := levelPriority[strings.ToUpper(level)]
	if !exists {
		return false
	}

	return checkPriority >= currentPriority
}

// Helper functions for environment variable parsing

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

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
