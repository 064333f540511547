package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultEnv            = "development"
	defaultDBPath         = "./dev.db"
	defaultPort           = "8080"
	defaultMigrationsDir  = "migrations"
	defaultLogLevel       = "info"
	defaultFormulaTimeout = 50 * time.Millisecond
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Env            string
	Port           string
	DBPath         string
	MigrationsDir  string
	SessionSecret  string
	LogLevel       string
	FormulaTimeout time.Duration
	// SnapshotFile, when set, is a YAML rate file imported on start and on every change.
	SnapshotFile string
}

// IsDev reports whether the service runs in local development mode.
func (c Config) IsDev() bool {
	return c.Env == "" || c.Env == defaultEnv
}

// Load reads environment variables and returns a populated Config.
func Load() Config {
	// Best-effort: load local dev environment variables.
	// We don't fail if the file is missing; production should use real env injection.
	_ = loadDotEnv(".env")

	cfg := Config{
		Env:            getEnv("APP_ENV", defaultEnv),
		Port:           getEnv("PORT", defaultPort),
		DBPath:         getEnv("DB_PATH", defaultDBPath),
		MigrationsDir:  getEnv("MIGRATIONS_DIR", defaultMigrationsDir),
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		LogLevel:       getEnv("LOG_LEVEL", defaultLogLevel),
		FormulaTimeout: defaultFormulaTimeout,
		SnapshotFile:   os.Getenv("SNAPSHOT_FILE"),
	}

	if raw := os.Getenv("FORMULA_TIMEOUT_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			log.Warn().Str("value", raw).Msg("ignoring invalid FORMULA_TIMEOUT_MS")
		} else {
			cfg.FormulaTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	if cfg.SessionSecret == "" {
		log.Warn().Msg("SESSION_SECRET is not set; admin endpoints will reject every session")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
