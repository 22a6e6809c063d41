package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"roadhazard/common"
)

const (
	StoreMemory = "memory"
	StoreSQLite = common.DriverSQLite
	StoreMySQL  = common.DriverMySQL
)

type Config struct {
	BackendURL string `yaml:"backend_url"`
	Port       int    `yaml:"port"`
	LogLevel   string `yaml:"log_level"`

	Store         string `yaml:"store"`
	SQLitePath    string `yaml:"sqlite_path"`
	MySQLUser     string `yaml:"mysql_user"`
	MySQLPassword string `yaml:"mysql_password"`
	MySQLHost     string `yaml:"mysql_host"`
	MySQLPort     string `yaml:"mysql_port"`
	MySQLDB       string `yaml:"mysql_db"`

	SyncInterval   time.Duration `yaml:"sync_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	RateBurst      int           `yaml:"rate_burst"`
	CacheMaxAge    time.Duration `yaml:"cache_max_age"`
	ForceOffline   bool          `yaml:"force_offline"`
}

// Load builds the configuration. Precedence, lowest first: built-in
// defaults, environment (including a .env file), the YAML file named by
// -config, explicit command line flags.
func Load(args []string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	cfg := &Config{
		BackendURL: getEnv("BACKEND_URL", "http://localhost:8080"),
		Port:       getIntEnv("PORT", 8090),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		Store:         getEnv("STORE", StoreSQLite),
		SQLitePath:    getEnv("SQLITE_PATH", "roadhazard.db"),
		MySQLUser:     getEnv("MYSQL_USER", "server"),
		MySQLPassword: getEnv("MYSQL_APP_PASSWORD", "secret_app"),
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLDB:       getEnv("MYSQL_DB", "roadhazard"),

		SyncInterval:   getDurationEnv("SYNC_INTERVAL", 120*time.Second),
		MaxRetries:     getIntEnv("MAX_RETRIES", 3),
		ProbeInterval:  getDurationEnv("PROBE_INTERVAL", 15*time.Second),
		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 30*time.Second),
		RatePerSecond:  getFloatEnv("RATE_PER_SECOND", 5),
		RateBurst:      getIntEnv("RATE_BURST", 5),
		CacheMaxAge:    getDurationEnv("CACHE_MAX_AGE", 24*time.Hour),
		ForceOffline:   getBoolEnv("FORCE_OFFLINE", false),
	}

	fs := flag.NewFlagSet("roadhazard", flag.ContinueOnError)
	configFile := fs.String("config", getEnv("CONFIG_FILE", ""), "Optional YAML configuration file.")
	fs.StringVar(&cfg.BackendURL, "backend_url", cfg.BackendURL, "Base URL of the reporting backend.")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The port of the local control API.")
	fs.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "debug, info, warn or error.")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Persistent store: memory, sqlite or mysql.")
	fs.StringVar(&cfg.SQLitePath, "sqlite_path", cfg.SQLitePath, "SQLite database file.")
	fs.StringVar(&cfg.MySQLUser, "mysql_user", cfg.MySQLUser, "MySQL user.")
	fs.StringVar(&cfg.MySQLPassword, "mysql_password", cfg.MySQLPassword, "MySQL password.")
	fs.StringVar(&cfg.MySQLHost, "mysql_host", cfg.MySQLHost, "MySQL host.")
	fs.StringVar(&cfg.MySQLPort, "mysql_port", cfg.MySQLPort, "MySQL port.")
	fs.StringVar(&cfg.MySQLDB, "mysql_db", cfg.MySQLDB, "MySQL database.")
	fs.DurationVar(&cfg.SyncInterval, "sync_interval", cfg.SyncInterval, "Background sync period.")
	fs.IntVar(&cfg.MaxRetries, "max_retries", cfg.MaxRetries, "Retry budget of a queued report.")
	fs.DurationVar(&cfg.ProbeInterval, "probe_interval", cfg.ProbeInterval, "Connectivity probe period.")
	fs.DurationVar(&cfg.RequestTimeout, "request_timeout", cfg.RequestTimeout, "Timeout of one backend request.")
	fs.Float64Var(&cfg.RatePerSecond, "rate_per_second", cfg.RatePerSecond, "Backend request rate limit, 0 for none.")
	fs.IntVar(&cfg.RateBurst, "rate_burst", cfg.RateBurst, "Backend request burst.")
	fs.DurationVar(&cfg.CacheMaxAge, "cache_max_age", cfg.CacheMaxAge, "Age after which cached nearby reports are stale.")
	fs.BoolVar(&cfg.ForceOffline, "force_offline", cfg.ForceOffline, "Never contact the backend.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *configFile != "" {
		if err := cfg.overlay(*configFile); err != nil {
			return nil, err
		}
		// Flags given on the command line win over the file.
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreMySQL:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("bad port %d", c.Port)
	}
	if c.SyncInterval <= 0 || c.ProbeInterval <= 0 {
		return fmt.Errorf("sync_interval and probe_interval must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) DB() common.DBConfig {
	return common.DBConfig{
		Driver:        c.Store,
		SQLitePath:    c.SQLitePath,
		MySQLUser:     c.MySQLUser,
		MySQLPassword: c.MySQLPassword,
		MySQLHost:     c.MySQLHost,
		MySQLPort:     c.MySQLPort,
		MySQLDB:       c.MySQLDB,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
		log.Warnf("Cannot parse %s=%q as int, using %d", key, value, defaultValue)
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
		log.Warnf("Cannot parse %s=%q as float, using %v", key, value, defaultValue)
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
		log.Warnf("Cannot parse %s=%q as bool, using %t", key, value, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
		log.Warnf("Cannot parse %s=%q as duration, using %s", key, value, defaultValue)
	}
	return defaultValue
}
