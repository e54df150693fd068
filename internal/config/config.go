// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// Tongji API settings
	APIBaseURL         string `mapstructure:"apibaseurl"`
	HTTPTimeoutSeconds int    `mapstructure:"httptimeoutseconds"`

	// File paths
	StoragePath  string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Job scheduling settings
	JobsEnabled        bool `mapstructure:"jobsenabled"`
	JobIntervalSeconds int  `mapstructure:"jobintervalseconds"`
	SyncWindowDays     int  `mapstructure:"syncwindowdays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "tongjisync")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("apibaseurl", "https://openapi.baidu.com/rest/2.0/tongji")
		v.SetDefault("httptimeoutseconds", 30)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("jobsenabled", true)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("syncwindowdays", 7)

		// Bind environment variables
		v.BindEnv("appname", "TONGJISYNC_APP_NAME")
		v.BindEnv("appport", "TONGJISYNC_APP_PORT")
		v.BindEnv("environment", "TONGJISYNC_ENV")
		v.BindEnv("loglevel", "TONGJISYNC_LOG_LEVEL")
		v.BindEnv("apibaseurl", "TONGJISYNC_API_BASE_URL")
		v.BindEnv("httptimeoutseconds", "TONGJISYNC_HTTP_TIMEOUT_SECONDS")
		v.BindEnv("storagepath", "TONGJISYNC_STORAGE_PATH")
		v.BindEnv("logsdir", "TONGJISYNC_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "TONGJISYNC_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "TONGJISYNC_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "TONGJISYNC_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "TONGJISYNC_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "TONGJISYNC_DB_MAX_IDLE_CONNS")
		v.BindEnv("jobsenabled", "TONGJISYNC_JOBS_ENABLED")
		v.BindEnv("jobintervalseconds", "TONGJISYNC_JOB_INTERVAL_SECONDS")
		v.BindEnv("syncwindowdays", "TONGJISYNC_SYNC_WINDOW_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.APIBaseURL == "" {
		return fmt.Errorf("api base url cannot be empty")
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("http timeout must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	if c.SyncWindowDays <= 0 {
		return fmt.Errorf("sync window days must be positive, got %d", c.SyncWindowDays)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.StoragePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// GetMaxOpenConns returns the configured max open connections for the database
func (c *Config) GetMaxOpenConns() int {
	return c.DatabaseMaxOpenConns
}

// GetMaxIdleConns returns the configured max idle connections for the database
func (c *Config) GetMaxIdleConns() int {
	return c.DatabaseMaxIdleConns
}

// HTTPTimeout returns the outbound API request timeout
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}
