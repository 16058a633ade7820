package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all configuration for the Scoreforge server.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Leaderboard LeaderboardConfig
	Scores      ScoreConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	RequestTimeout time.Duration
	CORSOrigins    []string
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Backend string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AuthConfig covers both credential kinds: dashboard session tokens and
// hashed project API keys.
type AuthConfig struct {
	JWTSecret  string
	JWTIssuer  string
	BcryptCost int
}

type RateLimitConfig struct {
	PerMinute int
}

type LeaderboardConfig struct {
	MaxLimit     int
	DefaultLimit int
	CacheTTL     time.Duration
}

type ScoreConfig struct {
	MinValue       float64
	MaxValue       float64
	UsernameMaxLen int
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is applied first when present; variables
// already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("SCOREFORGE_PORT", 8080),
			Env:            envString("SCOREFORGE_ENV", "development"),
			RequestTimeout: envDuration("REQUEST_TIMEOUT", 5*time.Second),
			CORSOrigins:    envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Store: StoreConfig{
			Backend: envString("STORE_BACKEND", BackendPostgres),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret:  os.Getenv("JWT_SECRET"),
			JWTIssuer:  os.Getenv("JWT_ISSUER"),
			BcryptCost: envInt("BCRYPT_COST", 10),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", 600),
		},
		Leaderboard: LeaderboardConfig{
			MaxLimit:     envInt("LEADERBOARD_MAX_LIMIT", 100),
			DefaultLimit: envInt("LEADERBOARD_DEFAULT_LIMIT", 20),
			CacheTTL:     envDuration("LEADERBOARD_CACHE_TTL", 5*time.Second),
		},
		Scores: ScoreConfig{
			MinValue:       envFloat("SCORE_MIN_VALUE", -1e12),
			MaxValue:       envFloat("SCORE_MAX_VALUE", 1e12),
			UsernameMaxLen: envInt("USERNAME_MAX_LEN", 50),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SCOREFORGE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be one of json, text; got %q", c.Log.Format)
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of postgres, memory; got %q", c.Store.Backend)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}

	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	if c.Leaderboard.MaxLimit <= 0 {
		return fmt.Errorf("LEADERBOARD_MAX_LIMIT must be positive")
	}
	if c.Leaderboard.DefaultLimit <= 0 || c.Leaderboard.DefaultLimit > c.Leaderboard.MaxLimit {
		return fmt.Errorf("LEADERBOARD_DEFAULT_LIMIT must be between 1 and LEADERBOARD_MAX_LIMIT (%d), got %d",
			c.Leaderboard.MaxLimit, c.Leaderboard.DefaultLimit)
	}
	if c.Leaderboard.CacheTTL < 0 {
		return fmt.Errorf("LEADERBOARD_CACHE_TTL must not be negative")
	}

	if c.Scores.MinValue >= c.Scores.MaxValue {
		return fmt.Errorf("SCORE_MIN_VALUE must be less than SCORE_MAX_VALUE")
	}
	if c.Scores.UsernameMaxLen <= 0 {
		return fmt.Errorf("USERNAME_MAX_LEN must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated value, dropping blanks.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
