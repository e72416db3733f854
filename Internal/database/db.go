package datafeed

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresDSNFromEnv builds a lib/pq connection string from DB_* variables
func PostgresDSNFromEnv() string {
	config := DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   getEnvOrDefault("DB_NAME", "signalpilot"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)
}

// OpenDatabase connects with either postgres or sqlite3 and creates the journal schema
func OpenDatabase(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		if dsn == "" {
			dsn = PostgresDSNFromEnv()
		}
	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("sqlite3 journal needs a file path")
		}
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err = initializeSchema(db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

func initializeSchema(db *sql.DB, driver string) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == DriverPostgres {
		idColumn = "id SERIAL PRIMARY KEY"
	}

	schemaSQL := `
	CREATE TABLE IF NOT EXISTS auto_trades (
		` + idColumn + `,
		trade_id TEXT NOT NULL UNIQUE,
		platform_trade_id TEXT,
		asset TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount TEXT NOT NULL,
		signal_strength REAL NOT NULL,
		entry_price TEXT,
		exit_price TEXT,
		profit TEXT,
		outcome TEXT,
		status TEXT NOT NULL,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		entry_time TIMESTAMP,
		expiry_time TIMESTAMP,
		closed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_auto_trades_asset ON auto_trades(asset);
	CREATE INDEX IF NOT EXISTS idx_auto_trades_status ON auto_trades(status);
	`

	// lib/pq accepts multi-statement Exec, go-sqlite3 runs them one by one as well
	_, err := db.Exec(schemaSQL)
	return err
}

// rebind rewrites ? placeholders to $n for postgres
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
