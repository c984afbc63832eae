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
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageSupabase = "supabase"

	KnowledgeJSON     = "json"
	KnowledgePostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Knowledge KnowledgeConfig
	LLM       LLMConfig
	Cache     CacheConfig
	Log       LogConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port            string
	GinMode         string
	StaticDir       string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	StatsLimit      int
	TrustedProxies  []string
}

type StorageConfig struct {
	Backend     string
	DataDir     string
	DatabaseURL string
	SupabaseURL string
	SupabaseKey string
}

type KnowledgeConfig struct {
	Source  string
	DataDir string
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
	IntentCheck bool
}

// MockMode reports whether advice should be produced without a hosted model.
func (l LLMConfig) MockMode() bool {
	return l.APIKey == ""
}

type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// NeedsDatabase reports whether any component talks to Postgres directly.
func (c *Config) NeedsDatabase() bool {
	return c.Storage.Backend == StoragePostgres || c.Knowledge.Source == KnowledgePostgres
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			GinMode:         getEnv("GIN_MODE", "release"),
			StaticDir:       os.Getenv("STATIC_DIR"),
			MaxBodyBytes:    int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
			StatsLimit:      getEnvInt("STATS_SAMPLE_LIMIT", 1000),
			TrustedProxies:  getEnvSlice("TRUSTED_PROXIES", nil),
		},
		Storage: StorageConfig{
			Backend:     strings.ToLower(getEnv("STORAGE_BACKEND", StorageFile)),
			DataDir:     dataDir,
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SupabaseURL: strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
			SupabaseKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		},
		Knowledge: KnowledgeConfig{
			Source:  strings.ToLower(getEnv("KNOWLEDGE_SOURCE", KnowledgeJSON)),
			DataDir: dataDir,
		},
		LLM: LLMConfig{
			APIKey:      firstEnv("LLM_API_KEY", "DEEPSEEK_API_KEY"),
			BaseURL:     firstEnv("LLM_BASE_URL", "DEEPSEEK_API_URL"),
			Model:       getEnv("LLM_MODEL", getEnv("DEEPSEEK_MODEL", "deepseek-chat")),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 250),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			RatePerSec:  getEnvFloat("LLM_RATE_PER_SEC", 3),
			Burst:       getEnvInt("LLM_BURST", 5),
			IntentCheck: getEnvBool("LLM_INTENT_CHECK", true),
		},
		Cache: CacheConfig{
			RedisURL: os.Getenv("REDIS_URL"),
			TTL:      getEnvDuration("CACHE_TTL", 10*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	switch cfg.Storage.Backend {
	case StorageFile:
	case StoragePostgres:
		if cfg.Storage.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	case StorageSupabase:
		if cfg.Storage.SupabaseURL == "" || cfg.Storage.SupabaseKey == "" {
			errs = append(errs, "SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required when STORAGE_BACKEND=supabase")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown STORAGE_BACKEND %q", cfg.Storage.Backend))
	}

	switch cfg.Knowledge.Source {
	case KnowledgeJSON:
	case KnowledgePostgres:
		if cfg.Storage.DatabaseURL == "" && cfg.Storage.Backend != StoragePostgres {
			errs = append(errs, "DATABASE_URL is required when KNOWLEDGE_SOURCE=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown KNOWLEDGE_SOURCE %q", cfg.Knowledge.Source))
	}

	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, "LLM_TEMPERATURE must be between 0 and 2")
	}
	if cfg.LLM.MaxTokens <= 0 {
		errs = append(errs, "LLM_MAX_TOKENS must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
