package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide startup configuration. It is read once in main
// and handed to each component explicitly.
type Config struct {
	DiscordToken   string `env:"DISCORD_TOKEN"`
	CommandGuildID string `env:"COMMAND_GUILD_ID"`

	DatabaseURL string `env:"DATABASE_URL"`
	Store       string `env:"STORE"`
	AutoMigrate bool   `env:"AUTO_MIGRATE"`

	PollInterval         time.Duration `env:"POLL_INTERVAL"`
	GatewayTimeout       time.Duration `env:"GATEWAY_TIMEOUT"`
	GatewayRatePerSecond float64       `env:"GATEWAY_RATE_PER_SECOND"`
	GatewayBurst         int           `env:"GATEWAY_BURST"`
	MarkerBudget         int           `env:"MARKER_BUDGET"`
	VotesPerUser         int           `env:"VOTES_PER_USER"`

	DefaultSubmissionDays      int `env:"DEFAULT_SUBMISSION_DAYS"`
	DefaultVotingDays          int `env:"DEFAULT_VOTING_DAYS"`
	DefaultThemeSubmissionDays int `env:"DEFAULT_THEME_SUBMISSION_DAYS"`
	DefaultThemeVotingDays     int `env:"DEFAULT_THEME_VOTING_DAYS"`

	DBMaxOpenConns           int `env:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int `env:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeSeconds int `env:"DB_CONN_MAX_LIFETIME_SECONDS"`
	DBConnMaxIdleTimeSeconds int `env:"DB_CONN_MAX_IDLE_SECONDS"`

	OpsAddr      string `env:"OPS_ADDR"`
	OpsToken     string `env:"OPS_TOKEN"`
	LogLevel     string `env:"LOG_LEVEL"`
	LogFormat    string `env:"LOG_FORMAT"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

func Default() Config {
	return Config{
		DatabaseURL:                "musicleague.db",
		Store:                      "gorm",
		AutoMigrate:                true,
		PollInterval:               5 * time.Minute,
		GatewayTimeout:             15 * time.Second,
		GatewayRatePerSecond:       5,
		GatewayBurst:               10,
		MarkerBudget:               50,
		VotesPerUser:               3,
		DefaultSubmissionDays:      3,
		DefaultVotingDays:          3,
		DefaultThemeSubmissionDays: 2,
		DefaultThemeVotingDays:     2,
		DBMaxOpenConns:             10,
		DBMaxIdleConns:             10,
		DBConnMaxLifetimeSeconds:   300,
		DBConnMaxIdleTimeSeconds:   60,
		OpsAddr:                    ":9090",
		LogLevel:                   "info",
		LogFormat:                  "text",
	}
}

// Load overlays environment variables on top of Default. Unset variables keep
// their default value.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.MarkerBudget < 1 {
		errs = append(errs, errors.New("MARKER_BUDGET must be at least 1"))
	}
	if c.VotesPerUser < 1 {
		errs = append(errs, errors.New("VOTES_PER_USER must be at least 1"))
	}
	for name, days := range map[string]int{
		"DEFAULT_SUBMISSION_DAYS":       c.DefaultSubmissionDays,
		"DEFAULT_VOTING_DAYS":           c.DefaultVotingDays,
		"DEFAULT_THEME_SUBMISSION_DAYS": c.DefaultThemeSubmissionDays,
		"DEFAULT_THEME_VOTING_DAYS":     c.DefaultThemeVotingDays,
	} {
		if days < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1", name))
		}
	}
	switch c.Store {
	case "gorm", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE must be gorm or memory, got %q", c.Store))
	}
	return errors.Join(errs...)
}

// Windows returns the default round windows applied to newly seen guilds.
func (c Config) Windows() (submission, voting, themeSubmission, themeVoting time.Duration) {
	day := 24 * time.Hour
	return time.Duration(c.DefaultSubmissionDays) * day,
		time.Duration(c.DefaultVotingDays) * day,
		time.Duration(c.DefaultThemeSubmissionDays) * day,
		time.Duration(c.DefaultThemeVotingDays) * day
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
