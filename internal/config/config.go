// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Rewards     RewardsConfig     `mapstructure:"rewards"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RewardsConfig holds the daily-engagement reward rules.
type RewardsConfig struct {
	DailyLoginPoints  int64 `mapstructure:"daily_login_points"`
	StreakBonusPoints int64 `mapstructure:"streak_bonus_points"`
	StreakBonusDays   int   `mapstructure:"streak_bonus_days"`
	FreeUnlockDays    int   `mapstructure:"free_unlock_days"`
	QuizThreshold     int   `mapstructure:"quiz_threshold"`
	DailyPieces       int64 `mapstructure:"daily_pieces"`
}

// PricingConfig holds currency conversion and enrollment window settings.
type PricingConfig struct {
	NairaPerPiece    float64 `mapstructure:"naira_per_piece"`
	EnrollmentMonths int     `mapstructure:"enrollment_months"`
}

// LeaderboardConfig holds leaderboard query defaults.
type LeaderboardConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, REWARDS_QUIZ_THRESHOLD.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "edubox")
	v.SetDefault("database.name", "edubox")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Reward defaults. The quiz threshold is the single source of truth for
	// how many quizzes confirm a calendar day; the historical client code
	// disagreed with itself (10 vs 2), so it is deliberately one knob here.
	v.SetDefault("rewards.daily_login_points", 2)
	v.SetDefault("rewards.streak_bonus_points", 50)
	v.SetDefault("rewards.streak_bonus_days", 30)
	v.SetDefault("rewards.free_unlock_days", 90)
	v.SetDefault("rewards.quiz_threshold", 10)
	v.SetDefault("rewards.daily_pieces", 2)

	// Pricing defaults
	v.SetDefault("pricing.naira_per_piece", 8.3)
	v.SetDefault("pricing.enrollment_months", 3)

	// Leaderboard defaults
	v.SetDefault("leaderboard.default_page_size", 50)
	v.SetDefault("leaderboard.max_page_size", 100)
}
