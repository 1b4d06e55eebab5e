package database

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration
type Config struct {
	DatabaseURL        string `env:"DATABASE_URL" envDefault:"x402_registry.db"`
	BusyTimeout        int    `env:"DB_BUSY_TIMEOUT" envDefault:"5000"`
	JournalMode        string `env:"DB_JOURNAL_MODE" envDefault:"WAL"`
	Synchronous        string `env:"DB_SYNCHRONOUS" envDefault:"NORMAL"`
	EnableForeignKeys  bool   `env:"DB_ENABLE_FOREIGN_KEYS" envDefault:"true"`
	MaxOpenConnections int    `env:"DB_MAX_OPEN_CONNECTIONS" envDefault:"25"`
	MaxIdleConnections int    `env:"DB_MAX_IDLE_CONNECTIONS" envDefault:"5"`
	ConnMaxLifetime    int    `env:"DB_CONN_MAX_LIFETIME" envDefault:"300"` // seconds
}

// Database wraps a sql.DB instance with registry specific methods
type Database struct {
	*sql.DB
	config *Config
	driver string
}

// Initialize creates and configures the database connection
func Initialize(config *Config) (*Database, error) {
	if config == nil {
		config = &Config{
			DatabaseURL:        "x402_registry.db",
			BusyTimeout:        5000,
			JournalMode:        "WAL",
			Synchronous:        "NORMAL",
			EnableForeignKeys:  true,
			MaxOpenConnections: 25,
			MaxIdleConnections: 5,
			ConnMaxLifetime:    300,
		}
	}

	var driverName, dataSourceName string

	// Determine database type from URL
	if strings.HasPrefix(config.DatabaseURL, "postgres://") || strings.HasPrefix(config.DatabaseURL, "postgresql://") {
		// PostgreSQL for production
		driverName = "postgres"
		dataSourceName = config.DatabaseURL
	} else {
		// SQLite for development (default)
		driverName = "sqlite3"
		dataSourceName = config.DatabaseURL
	}

	sqlDB, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(config.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)

	database := &Database{
		DB:     sqlDB,
		config: config,
		driver: driverName,
	}

	// SQLite-specific PRAGMA configuration
	if driverName == "sqlite3" {
		if config.EnableForeignKeys {
			database.Exec("PRAGMA foreign_keys = ON")
		}
		database.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", config.BusyTimeout))
		database.Exec(fmt.Sprintf("PRAGMA journal_mode = %s", config.JournalMode))
		database.Exec(fmt.Sprintf("PRAGMA synchronous = %s", config.Synchronous))
	}

	if err := database.initializeSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// initializeSchema creates all tables and indexes
func (db *Database) initializeSchema() error {
	schemas := []string{
		// 1. AGENTS table - registered agent descriptors
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			capabilities TEXT NOT NULL DEFAULT '[]',   -- JSON array of capability tags
			endpoints TEXT NOT NULL DEFAULT '[]',      -- JSON array of callable URLs
			owner TEXT NOT NULL,                       -- wallet address
			pricing_model TEXT NOT NULL,               -- per-call | per-token | flat
			base_price INTEGER NOT NULL,               -- smallest token unit
			token TEXT NOT NULL,                       -- native-coin | synthetic-bitcoin | stable-coin
			version TEXT,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// 2. ENDPOINTS table - fee-gated HTTP endpoints
		`CREATE TABLE IF NOT EXISTS endpoints (
			endpoint_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			url TEXT NOT NULL,
			price INTEGER NOT NULL,
			token TEXT NOT NULL,
			owner TEXT NOT NULL,

			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// 3. REGISTRY_EVENTS table - audit trail
		`CREATE TABLE IF NOT EXISTS registry_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,                  -- 'register_agent', 'register_endpoint', 'update', 'delete'
			resource_id TEXT NOT NULL,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			data TEXT DEFAULT '{}'                     -- JSON event data
		)`,
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner)",
		"CREATE INDEX IF NOT EXISTS idx_agents_updated_at ON agents(updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_endpoints_owner ON endpoints(owner)",
		"CREATE INDEX IF NOT EXISTS idx_endpoints_token ON endpoints(token)",
		"CREATE INDEX IF NOT EXISTS idx_events_resource ON registry_events(resource_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON registry_events(timestamp)",
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			log.Printf("Warning: Failed to create index: %s - %v", indexSQL, err)
			// Don't fail initialization for index creation errors
		}
	}

	return nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.DB.Close()
}

// rebind rewrites ? placeholders into the $N form postgres expects.
// sqlite queries pass through untouched.
func (db *Database) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RecordEvent appends an audit trail entry. Failures are non-fatal for callers.
func (db *Database) RecordEvent(eventType, resourceID, data string) error {
	if data == "" {
		data = "{}"
	}
	_, err := db.Exec(
		db.rebind("INSERT INTO registry_events (event_type, resource_id, timestamp, data) VALUES (?, ?, ?, ?)"),
		eventType, resourceID, time.Now().UTC(), data,
	)
	return err
}

// GetStats returns database statistics
func (db *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalAgents int64
	if err := db.QueryRow("SELECT COUNT(*) FROM agents").Scan(&totalAgents); err != nil {
		return nil, fmt.Errorf("failed to get total agent count: %w", err)
	}
	stats["total_agents"] = totalAgents

	var totalEndpoints int64
	if err := db.QueryRow("SELECT COUNT(*) FROM endpoints").Scan(&totalEndpoints); err != nil {
		return nil, fmt.Errorf("failed to get total endpoint count: %w", err)
	}
	stats["total_endpoints"] = totalEndpoints

	oneHourAgo := time.Now().UTC().Add(-time.Hour)
	var recentEvents int64
	if err := db.QueryRow(db.rebind("SELECT COUNT(*) FROM registry_events WHERE timestamp > ?"), oneHourAgo).Scan(&recentEvents); err != nil {
		return nil, fmt.Errorf("failed to get recent events count: %w", err)
	}
	stats["recent_events_last_hour"] = recentEvents

	return stats, nil
}
