package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Env              string
	LogLevel         string
	ServerPort       string
	PublicBaseURL    string
	DatabaseType     string
	DatabasePath     string
	DatabaseURL      string
	MigrationsPath   string
	PollInterval     time.Duration
	LeaseDuration    time.Duration
	IdentitySecret   string
	IdentityDuration time.Duration
	PuzzleAPIURL     string
	PuzzleTimeout    time.Duration
	RoundDuration    time.Duration
	TotalRounds      int
	AdvancePolicy    string
	ClientIdleTime   time.Duration
	RateLimit        int
	BackupS3Bucket   string
	AWSRegion        string
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return FromViper(NewViper())
}

// NewViper returns a viper instance with every key's default registered and
// environment lookups enabled. Command line tools bind their flags into it
// before calling FromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("DATABASE_TYPE", "sqlite")
	v.SetDefault("DB_PATH", "./bananaclash.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATIONS_PATH", "./migrations")
	v.SetDefault("POLL_INTERVAL", 250*time.Millisecond)
	v.SetDefault("LEASE_DURATION", 30*time.Second)
	v.SetDefault("IDENTITY_SECRET", "")
	v.SetDefault("IDENTITY_DURATION", 7*24*time.Hour)
	v.SetDefault("PUZZLE_API_URL", "https://marcconrad.com/uob/banana/api.php")
	v.SetDefault("PUZZLE_TIMEOUT", 5*time.Second)
	v.SetDefault("ROUND_DURATION", 60*time.Second)
	v.SetDefault("TOTAL_ROUNDS", 3)
	v.SetDefault("ADVANCE_POLICY", "all_solved")
	v.SetDefault("CLIENT_IDLE_TIMEOUT", 10*time.Minute)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("BACKUP_S3_BUCKET", "")
	v.SetDefault("AWS_REGION", "us-east-1")

	return v
}

// FromViper builds a Config from an already prepared viper instance
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Env:              v.GetString("APP_ENV"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		ServerPort:       v.GetString("PORT"),
		PublicBaseURL:    strings.TrimSuffix(v.GetString("PUBLIC_BASE_URL"), "/"),
		DatabaseType:     v.GetString("DATABASE_TYPE"),
		DatabasePath:     v.GetString("DB_PATH"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		MigrationsPath:   v.GetString("MIGRATIONS_PATH"),
		PollInterval:     v.GetDuration("POLL_INTERVAL"),
		LeaseDuration:    v.GetDuration("LEASE_DURATION"),
		IdentitySecret:   v.GetString("IDENTITY_SECRET"),
		IdentityDuration: v.GetDuration("IDENTITY_DURATION"),
		PuzzleAPIURL:     v.GetString("PUZZLE_API_URL"),
		PuzzleTimeout:    v.GetDuration("PUZZLE_TIMEOUT"),
		RoundDuration:    v.GetDuration("ROUND_DURATION"),
		TotalRounds:      v.GetInt("TOTAL_ROUNDS"),
		AdvancePolicy:    v.GetString("ADVANCE_POLICY"),
		ClientIdleTime:   v.GetDuration("CLIENT_IDLE_TIMEOUT"),
		RateLimit:        v.GetInt("RATE_LIMIT_PER_MINUTE"),
		BackupS3Bucket:   v.GetString("BACKUP_S3_BUCKET"),
		AWSRegion:        v.GetString("AWS_REGION"),
	}
}
