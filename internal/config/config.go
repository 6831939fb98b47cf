package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting the service reads from the environment.
type Config struct {
	Environment string `mapstructure:"ENVIRONMENT"`
	HTTPPort    string `mapstructure:"API_PORT"`
	LogDir      string `mapstructure:"LOG_DIR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	// Database
	DBDriver   string `mapstructure:"DB_DRIVER"` // mysql or sqlite
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	// Redis holds advisory content; empty address keeps it in memory.
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	AdvisoryTTL   time.Duration `mapstructure:"ADVISORY_TTL"`

	// Kafka; empty brokers disables both ingest and event publishing.
	KafkaBrokers       string `mapstructure:"KAFKA_BROKERS"`
	KafkaReadingsTopic string `mapstructure:"KAFKA_READINGS_TOPIC"`
	KafkaEventsTopic   string `mapstructure:"KAFKA_EVENTS_TOPIC"`
	KafkaGroupID       string `mapstructure:"KAFKA_GROUP_ID"`

	// Advisory language model
	LLMAPIKey       string        `mapstructure:"LLM_API_KEY"`
	LLMBaseURL      string        `mapstructure:"LLM_BASE_URL"`
	LLMModel        string        `mapstructure:"LLM_MODEL"`
	AdvisoryTimeout time.Duration `mapstructure:"ADVISORY_TIMEOUT"`

	// Support channels
	CoachChatURL       string `mapstructure:"COACH_CHAT_URL"`
	MentorDirectoryURL string `mapstructure:"MENTOR_DIRECTORY_URL"`
	EmergencyNumber    string `mapstructure:"EMERGENCY_NUMBER"`

	Workers     int `mapstructure:"WORKERS"`
	WorkerQueue int `mapstructure:"WORKER_QUEUE"`
}

// Every key needs a default so viper's Unmarshal picks it up from the
// environment.
var defaults = map[string]any{
	"ENVIRONMENT":          "development",
	"API_PORT":             "8080",
	"LOG_DIR":              "",
	"LOG_LEVEL":            "info",
	"DB_DRIVER":            "sqlite",
	"DB_HOST":              "",
	"DB_PORT":              "3306",
	"DB_USER":              "",
	"DB_PASSWORD":          "",
	"DB_NAME":              "escalation_db",
	"SQLITE_PATH":          filepath.Join("data", "escalation.db"),
	"REDIS_ADDR":           "",
	"REDIS_PASSWORD":       "",
	"REDIS_DB":             0,
	"ADVISORY_TTL":         30 * time.Minute,
	"KAFKA_BROKERS":        "",
	"KAFKA_READINGS_TOPIC": "emotion-readings",
	"KAFKA_EVENTS_TOPIC":   "warning-events",
	"KAFKA_GROUP_ID":       "escalation-engine",
	"LLM_API_KEY":          "",
	"LLM_BASE_URL":         "",
	"LLM_MODEL":            "gpt-4o-mini",
	"ADVISORY_TIMEOUT":     10 * time.Second,
	"COACH_CHAT_URL":       "/chat/coach",
	"MENTOR_DIRECTORY_URL": "/mentors",
	"EMERGENCY_NUMBER":     "988",
	"WORKERS":              8,
	"WORKER_QUEUE":         100,
}

// Load reads an optional .env file from dir, then the environment.
// Values already present in the environment win over the file.
func Load(dir string) (Config, error) {
	envFile := filepath.Join(dir, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "mysql":
		if c.DBHost == "" || c.DBUser == "" {
			return errors.New("DB_HOST and DB_USER are required for the mysql driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.AdvisoryTimeout <= 0 {
		return errors.New("ADVISORY_TIMEOUT must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("WORKERS must be positive")
	}
	return nil
}

// DSN returns the database/sql data source name for the configured driver.
func (c Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// Brokers splits KAFKA_BROKERS on commas.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}
