package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/api"
	"github.com/MichaelRobotics/Hustler-sub005/internal/monitor"
	"github.com/MichaelRobotics/Hustler-sub005/internal/store"
	"github.com/MichaelRobotics/Hustler-sub005/internal/util"
	"github.com/MichaelRobotics/Hustler-sub005/internal/whop"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for engine state data
	DefaultStateDir = "/var/lib/hustler"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "hustler.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	whopOpts := buildWhopOptions(flags)
	storeOpts := buildStoreOptions(flags)
	apiOpts := buildAPIOptions(flags, config)

	// Start the service
	slog.Info("Bootstrapping funnel engine with configured modules")
	slog.Debug("Module options counts", "whop", len(whopOpts), "store", len(storeOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(whopOpts, storeOpts, apiOpts); err != nil {
		slog.Error("Funnel engine failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Funnel engine exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhopAPIKey       string
	WhopAgentUserID  string
	DatabaseURL      string
	StateDir         string
	APIAddr          string
	RedisURL         string
	LenientMatching  bool
	UseTwilio        bool
	ReapInterval     time.Duration
	TimeoutThreshold time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir *string
	dbDSN    *string
	apiKey   *string
	agentID  *string
	apiAddr  *string
	redisURL *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		WhopAPIKey:       os.Getenv("WHOP_API_KEY"),
		WhopAgentUserID:  os.Getenv("WHOP_AGENT_USER_ID"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("HUSTLER_STATE_DIR"),
		APIAddr:          os.Getenv("API_ADDR"),
		RedisURL:         os.Getenv("REDIS_URL"),
		LenientMatching:  util.ParseBoolEnv("LENIENT_MATCHING", false),
		UseTwilio:        util.ParseBoolEnv("USE_TWILIO", false),
		ReapInterval:     util.ParseDurationEnv("REAP_INTERVAL", monitor.DefaultReapInterval),
		TimeoutThreshold: util.ParseDurationEnv("CONVERSATION_TIMEOUT", monitor.DefaultTimeoutThreshold),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No HUSTLER_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("HUSTLER_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"WHOP_API_KEY_SET", config.WhopAPIKey != "",
		"WHOP_AGENT_USER_ID", config.WhopAgentUserID,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"HUSTLER_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"REDIS_URL_SET", config.RedisURL != "",
		"LENIENT_MATCHING", config.LenientMatching,
		"USE_TWILIO", config.UseTwilio,
		"REAP_INTERVAL", config.ReapInterval,
		"CONVERSATION_TIMEOUT", config.TimeoutThreshold)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir: flag.String("state-dir", config.StateDir, "state directory for engine data (overrides $HUSTLER_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN for the store (overrides $DATABASE_URL)"),
		apiKey:   flag.String("whop-api-key", config.WhopAPIKey, "Whop API key (overrides $WHOP_API_KEY)"),
		agentID:  flag.String("whop-agent-user-id", config.WhopAgentUserID, "Whop agent user ID (overrides $WHOP_AGENT_USER_ID)"),
		apiAddr:  flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		redisURL: flag.String("redis-url", config.RedisURL, "Redis URL for shared rate limiting (overrides $REDIS_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiKeySet", *flags.apiKey != "",
		"agentID", *flags.agentID,
		"apiAddr", *flags.apiAddr,
		"redisURL_set", *flags.redisURL != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildWhopOptions constructs Whop client configuration options
func buildWhopOptions(flags Flags) []whop.Option {
	var whopOpts []whop.Option
	if *flags.apiKey != "" {
		whopOpts = append(whopOpts, whop.WithAPIKey(*flags.apiKey))
	}
	if *flags.agentID != "" {
		whopOpts = append(whopOpts, whop.WithAgentUserID(*flags.agentID))
	}
	return whopOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		}
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	apiOpts := []api.Option{
		api.WithStateDir(*flags.stateDir),
		api.WithReapInterval(config.ReapInterval),
		api.WithTimeoutThreshold(config.TimeoutThreshold),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.redisURL != "" {
		apiOpts = append(apiOpts, api.WithRedisURL(*flags.redisURL))
	}
	if config.LenientMatching {
		apiOpts = append(apiOpts, api.WithLenientMatching())
	}
	if config.UseTwilio {
		apiOpts = append(apiOpts, api.WithTwilio())
	}
	return apiOpts
}
