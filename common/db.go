package common

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/avast/retry-go"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type DBConfig struct {
	Driver        string
	SQLitePath    string
	MySQLUser     string
	MySQLPassword string
	MySQLHost     string
	MySQLPort     string
	MySQLDB       string
}

func (c DBConfig) dsn() (string, error) {
	switch c.Driver {
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", c.MySQLUser, c.MySQLPassword, c.MySQLHost, c.MySQLPort, c.MySQLDB), nil
	case DriverSQLite:
		// WAL keeps readers from blocking the sync writer.
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", c.SQLitePath), nil
	}
	return "", fmt.Errorf("unsupported db driver %q", c.Driver)
}

func DBConnect(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		log.Errorf("Failed to open the %s database: %v", cfg.Driver, err)
		return nil, err
	}

	maxOpen := envInt([]string{"ROADHAZARD_DB_MAX_OPEN_CONNS", "DB_MAX_OPEN_CONNS"}, 10)
	maxIdle := envInt([]string{"ROADHAZARD_DB_MAX_IDLE_CONNS", "DB_MAX_IDLE_CONNS"}, 4)
	connMaxLifetimeMin := envInt([]string{"ROADHAZARD_DB_CONN_MAX_LIFETIME_MIN", "DB_CONN_MAX_LIFETIME_MIN"}, 5)
	pingAttempts := envInt([]string{"ROADHAZARD_DB_PING_ATTEMPTS", "DB_PING_ATTEMPTS"}, 6)

	if cfg.Driver == DriverSQLite {
		// A single writer connection avoids SQLITE_BUSY between goroutines.
		maxOpen, maxIdle = 1, 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Duration(connMaxLifetimeMin) * time.Minute)

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			return db.PingContext(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(pingAttempts)),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("Database ping failed (attempt %d), retrying: %v", n+1, err)
		}),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed after %d attempts: %w", pingAttempts, err)
	}

	log.Infof("Established %s db connection pool: open=%d idle=%d max_lifetime_min=%d", cfg.Driver, maxOpen, maxIdle, connMaxLifetimeMin)
	return db, nil
}

func envInt(keys []string, defaultValue int) int {
	for _, key := range keys {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
