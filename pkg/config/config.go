package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	Bind          string
	LogLevel      string
	DatabaseURL   string
	SqldAPIURL    string
	RedisAddr     string
	RedisTTL      time.Duration
	PublicFileURL string
	IPFSGateways  []string

	// Sandbox limits.
	TimeLimit         time.Duration
	InstructionBudget uint64
	MemoryBytes       uint64

	// Rate limiting.
	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	bind := os.Getenv("BIND")
	if bind == "" {
		bind = ":8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	sqldURL := os.Getenv("SQLD_API_URL")
	if dbURL == "" && sqldURL == "" {
		// Default to a local file so the gateway runs out of the box.
		dbURL = "codegate.db"
	}

	var gateways []string
	if raw := os.Getenv("IPFS_GATEWAYS"); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				gateways = append(gateways, g)
			}
		}
	}

	return &Config{
		Bind:              bind,
		LogLevel:          logLevel,
		DatabaseURL:       dbURL,
		SqldAPIURL:        sqldURL,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisTTL:          envDuration("REDIS_TTL", 10*time.Minute),
		PublicFileURL:     os.Getenv("PUBLIC_FILE_URL"),
		IPFSGateways:      gateways,
		TimeLimit:         envDuration("SANDBOX_TIME_LIMIT", 2*time.Minute),
		InstructionBudget: envUint("SANDBOX_INSTRUCTION_BUDGET", 2_000_000_000),
		MemoryBytes:       envUint("SANDBOX_MEMORY_BYTES", 128<<20),
		RateLimitRPS:      envInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:    envInt("RATE_LIMIT_BURST", 20),
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
