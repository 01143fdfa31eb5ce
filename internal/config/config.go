package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tabrag/tabrag/internal/domain"
)

// Config holds the tabrag API configuration.
type Config struct {
	HTTP     HTTPConfig           `yaml:"http"`
	Logging  LoggingConfig        `yaml:"logging"`
	Auth     AuthConfig           `yaml:"auth"`
	OpenAI   OpenAIConfig         `yaml:"openai"`
	Scraper  ScraperConfig        `yaml:"scraper"`
	Chunking ChunkingConfig       `yaml:"chunking"`
	Backend  domain.BackendConfig `yaml:"backend"`
	Moorcheh MoorchehConfig       `yaml:"moorcheh"`
	Cache    CacheConfig          `yaml:"cache"`
	Index    IndexConfig          `yaml:"index"`
	Search   SearchConfig         `yaml:"search"`
	Tracing  TracingConfig        `yaml:"tracing"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`
}

// OpenAIConfig holds embedding and chat completion settings.
// The API key itself arrives per request from the extension.
type OpenAIConfig struct {
	BaseURL         string  `yaml:"base_url"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	Dimensions      int     `yaml:"dimensions"`
	ChatModel       string  `yaml:"chat_model"`
	Temperature     float32 `yaml:"temperature"`
	KeyPrefix       string  `yaml:"key_prefix"`
	EmbedBatchSize  int     `yaml:"embed_batch_size"`
	RequestTimeoutS int     `yaml:"request_timeout_sec"`
}

// ScraperConfig holds Firecrawl settings.
type ScraperConfig struct {
	URL          string  `yaml:"url"`
	APIKey       string  `yaml:"api_key"`
	WaitForMS    int     `yaml:"wait_for_ms"`
	RatePerSec   float64 `yaml:"rate_per_sec"`
	Burst        int     `yaml:"burst"`
	TimeoutSec   int     `yaml:"timeout_sec"`
	MaxBodyBytes int64   `yaml:"max_body_bytes"`
}

// ChunkingConfig holds chunker limits.
type ChunkingConfig struct {
	MaxChars int `yaml:"max_chars"`
	MinChars int `yaml:"min_chars"`
}

// MoorchehConfig holds the Moorcheh API endpoint.
type MoorchehConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// CacheConfig holds the optional redis embedding cache settings.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"` // 0 keeps cached vectors forever
}

// Enabled reports whether the embedding cache is configured.
func (c CacheConfig) Enabled() bool { return len(c.Addrs) > 0 }

// IndexConfig holds file index settings.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// SearchConfig holds retrieval sizes.
type SearchConfig struct {
	ChatTopK     int `yaml:"chat_top_k"`
	SearchTopK   int `yaml:"search_top_k"`
	FallbackTopK int `yaml:"fallback_top_k"`
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC host:port; empty disables export
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	ServiceName string  `yaml:"service_name"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, if present, is loaded into the environment first.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML config data, expanding ${VAR} references and applying defaults.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 300 // ingest scrapes and embeds every tab synchronously
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 50 << 20
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if c.OpenAI.KeyPrefix == "" {
		c.OpenAI.KeyPrefix = "sk-"
	}
	if c.OpenAI.EmbedBatchSize <= 0 {
		c.OpenAI.EmbedBatchSize = 256
	}
	if c.OpenAI.RequestTimeoutS <= 0 {
		c.OpenAI.RequestTimeoutS = 60
	}
	if c.Scraper.URL == "" {
		c.Scraper.URL = "https://api.firecrawl.dev/v2/scrape"
	}
	if c.Scraper.WaitForMS <= 0 {
		c.Scraper.WaitForMS = 2000
	}
	if c.Scraper.RatePerSec <= 0 {
		c.Scraper.RatePerSec = 2
	}
	if c.Scraper.Burst <= 0 {
		c.Scraper.Burst = 1
	}
	if c.Scraper.TimeoutSec <= 0 {
		c.Scraper.TimeoutSec = 60
	}
	if c.Scraper.MaxBodyBytes <= 0 {
		c.Scraper.MaxBodyBytes = 32 << 20
	}
	if c.Chunking.MaxChars <= 0 {
		c.Chunking.MaxChars = 5000
	}
	if c.Chunking.MinChars <= 0 {
		c.Chunking.MinChars = 50
	}
	if c.Moorcheh.BaseURL == "" {
		c.Moorcheh.BaseURL = "https://api.moorcheh.ai/v1"
	}
	if c.Moorcheh.TimeoutSec <= 0 {
		c.Moorcheh.TimeoutSec = 30
	}
	if c.Index.Path == "" {
		c.Index.Path = "./data/tabs.index"
	}
	if c.Search.ChatTopK <= 0 {
		c.Search.ChatTopK = 10
	}
	if c.Search.SearchTopK <= 0 {
		c.Search.SearchTopK = 5
	}
	if c.Search.FallbackTopK <= 0 {
		c.Search.FallbackTopK = 5
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "tabrag"
	}
	if c.Tracing.Endpoint != "" && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}
	if c.Backend.Dimensions <= 0 {
		c.Backend.Dimensions = c.OpenAI.Dimensions
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Chunking.MinChars >= c.Chunking.MaxChars {
		return fmt.Errorf("chunking.min_chars (%d) must be below chunking.max_chars (%d)",
			c.Chunking.MinChars, c.Chunking.MaxChars)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate)
	}
	switch c.Backend.Kind {
	case domain.BackendNone:
	case domain.BackendSupabase:
		if c.Backend.DSN == "" && (c.Backend.URL == "" || c.Backend.Key == "") {
			return fmt.Errorf("backend.url and backend.key, or backend.dsn, are required for supabase")
		}
	case domain.BackendLocal:
		if c.Backend.DSN == "" {
			return fmt.Errorf("backend.dsn is required for local")
		}
	case domain.BackendSQLite:
		if c.Backend.Path == "" {
			return fmt.Errorf("backend.path is required for sqlite")
		}
	case domain.BackendRedis:
		if len(c.Backend.Addrs) == 0 {
			return fmt.Errorf("backend.addrs is required for redis")
		}
	case domain.BackendQdrant:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend.url is required for qdrant")
		}
	case domain.BackendMoorcheh:
		if c.Backend.Key == "" {
			return fmt.Errorf("backend.key is required for moorcheh")
		}
	default:
		return fmt.Errorf("backend.kind %q: %w", c.Backend.Kind, domain.ErrUnknownBackend)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
