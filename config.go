package ragchat

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Desarso/ragchat/stores"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Completion and embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds everything needed to wire the service.
type Config struct {
	Env      string `yaml:"env"` // "development" or "production"
	LogLevel string `yaml:"log_level"`

	Addr           string        `yaml:"addr"`
	Prefix         string        `yaml:"prefix"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	Provider       string        `yaml:"provider"`
	ModelName      string        `yaml:"model"`
	OpenAIAPIKey   string        `yaml:"openai_api_key"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	GeminiAPIKey   string        `yaml:"gemini_api_key"`
	Attempts       int           `yaml:"completion_attempts"`
	AttemptTimeout time.Duration `yaml:"completion_timeout"`
	MaxIterations  int           `yaml:"max_iterations"`

	EmbeddingProvider  string `yaml:"embedding_provider"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingCacheSize int    `yaml:"embedding_cache_size"`

	RefreshSchedule string        `yaml:"refresh_schedule"` // cron expression; empty disables
	RefreshMaxAge   time.Duration `yaml:"refresh_max_age"`

	Store stores.StoreConfig `yaml:"store"`
}

// NewConfig returns a configuration with default values.
func NewConfig() *Config {
	return &Config{
		Env:                "development",
		LogLevel:           "info",
		Addr:               "0.0.0.0:5000",
		Prefix:             "/api",
		AllowedOrigins:     []string{"*"},
		WriteTimeout:       10 * time.Minute,
		Provider:           ProviderOpenAI,
		Attempts:           3,
		AttemptTimeout:     60 * time.Second,
		MaxIterations:      10,
		EmbeddingProvider:  ProviderOpenAI,
		EmbeddingCacheSize: 1024,
		RefreshMaxAge:      7 * 24 * time.Hour,
		Store:              *stores.NewStoreConfig("sqlite", "ragchat.sqlite"),
	}
}

// LoadConfig reads .env (if present), then the YAML file at path (or
// RAGCHAT_CONFIG when path is empty), then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; production sets the environment directly
	_ = godotenv.Load()

	cfg := NewConfig()
	if path == "" {
		path = os.Getenv("RAGCHAT_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from environment variables. getenv is
// injectable for tests.
func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Env, "RAGCHAT_ENV")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Addr, "RAGCHAT_ADDR")
	setString(&c.Prefix, "RAGCHAT_PREFIX")
	setString(&c.Provider, "COMPLETION_PROVIDER")
	setString(&c.ModelName, "COMPLETION_MODEL")
	setString(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.EmbeddingProvider, "EMBEDDING_PROVIDER")
	setString(&c.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&c.RefreshSchedule, "REFRESH_SCHEDULE")
	setString(&c.Store.Type, "DATABASE_TYPE")

	if port := getenv("PORT"); port != "" {
		c.Addr = "0.0.0.0:" + port
	}
	if origins := getenv("CORS_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	// DATABASE_URL selects postgres unless DATABASE_TYPE says otherwise.
	if dsn := getenv("DATABASE_URL"); dsn != "" {
		c.Store.Connection = dsn
		if getenv("DATABASE_TYPE") == "" {
			c.Store.Type = "postgres"
		}
	}
	if c.Store.Type == "sqlite" {
		setString(&c.Store.Connection, "SQLITE_PATH")
	}

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Attempts, "COMPLETION_ATTEMPTS"},
		{&c.MaxIterations, "MAX_ITERATIONS"},
		{&c.EmbeddingCacheSize, "EMBEDDING_CACHE_SIZE"},
	}
	for _, i := range ints {
		if v := getenv(i.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", i.key, v, err)
			}
			*i.dst = n
		}
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.AttemptTimeout, "COMPLETION_TIMEOUT"},
		{&c.WriteTimeout, "WRITE_TIMEOUT"},
		{&c.RefreshMaxAge, "REFRESH_MAX_AGE"},
	}
	for _, d := range durations {
		if v := getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
			}
			*d.dst = parsed
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration can be wired.
func (c *Config) Validate() error {
	var errs []error
	for _, p := range []struct{ name, provider string }{
		{"provider", c.Provider},
		{"embedding_provider", c.EmbeddingProvider},
	} {
		switch p.provider {
		case ProviderOpenAI:
			if c.OpenAIAPIKey == "" {
				errs = append(errs, fmt.Errorf("%s %s requires OPENAI_API_KEY", p.name, p.provider))
			}
		case ProviderGemini:
			if c.GeminiAPIKey == "" {
				errs = append(errs, fmt.Errorf("%s %s requires GEMINI_API_KEY", p.name, p.provider))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown %s %q", p.name, p.provider))
		}
	}
	switch c.Store.Type {
	case "sqlite", "postgres":
		if c.Store.Connection == "" {
			errs = append(errs, fmt.Errorf("store %s requires a connection (DATABASE_URL or SQLITE_PATH)", c.Store.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store type: %s", c.Store.Type))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, errors.New("max_iterations must be at least 1"))
	}
	if c.Attempts < 1 {
		errs = append(errs, errors.New("completion_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// CompletionModel is the configured model, or the provider's default.
func (c *Config) CompletionModel() string {
	if c.ModelName != "" {
		return c.ModelName
	}
	if c.Provider == ProviderGemini {
		return "gemini-2.0-flash"
	}
	return "gpt-4o-mini"
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WithProvider sets the completion provider and model.
func (c *Config) WithProvider(provider, model string) *Config {
	c.Provider = provider
	c.ModelName = model
	return c
}

// WithEmbeddings sets the embedding provider and model.
func (c *Config) WithEmbeddings(provider, model string) *Config {
	c.EmbeddingProvider = provider
	c.EmbeddingModel = model
	return c
}

// WithSQLiteStore stores everything in the SQLite file at dbPath.
func (c *Config) WithSQLiteStore(dbPath string) *Config {
	c.Store = *stores.NewStoreConfig("sqlite", dbPath)
	return c
}

// WithPostgresStore stores everything in the PostgreSQL database at dsn.
func (c *Config) WithPostgresStore(dsn string) *Config {
	c.Store = *stores.NewStoreConfig("postgres", dsn)
	return c
}

// WithRefresh enables scheduled re-scraping.
func (c *Config) WithRefresh(schedule string, maxAge time.Duration) *Config {
	c.RefreshSchedule = schedule
	c.RefreshMaxAge = maxAge
	return c
}

func (c *Config) WithAddr(addr string) *Config {
	c.Addr = addr
	return c
}
