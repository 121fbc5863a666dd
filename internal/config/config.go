package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Config holds the librarian configuration shared by the API server and the ingest CLI.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Guard      GuardConfig      `yaml:"guard"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Speech     SpeechConfig     `yaml:"speech"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Auth       AuthConfig       `yaml:"auth"`
	CORS       CORSConfig       `yaml:"cors"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings. Empty means auth disabled.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig caps requests per client IP. 0 disables the limiter.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds catalog store settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey, memory (default: redis)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
}

// StorageConfig holds key layout settings.
type StorageConfig struct {
	KeyPrefix              string `yaml:"key_prefix"`
	EmbeddingCacheTTLHours int    `yaml:"embedding_cache_ttl_hours"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// LLMConfig holds the OpenAI-compatible provider and the model ids.
// The embedding model is shared by ingest and query; changing it requires a re-ingest.
type LLMConfig struct {
	APIKey              string       `yaml:"api_key"`
	BaseURL             string       `yaml:"base_url"`
	EmbeddingModel      string       `yaml:"embedding_model"`
	EmbeddingDimensions int          `yaml:"embedding_dimensions"`
	ChatModel           string       `yaml:"chat_model"`
	ModerationModel     string       `yaml:"moderation_model"`
	SpeechModel         string       `yaml:"speech_model"`
	Budget              BudgetConfig `yaml:"budget"`
}

// PipelineConfig holds query resolution settings.
type PipelineConfig struct {
	DefaultK          int     `yaml:"default_k"`
	MaxK              int     `yaml:"max_k"`
	RelevanceFloor    float64 `yaml:"relevance_floor"`
	FallbackLanguage  string  `yaml:"fallback_language"`
	RequestTimeoutSec int     `yaml:"request_timeout_sec"`
	StageTimeoutSec   int     `yaml:"stage_timeout_sec"`
}

// GuardConfig holds guardrail settings.
type GuardConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	// ModerationFailOpen lets queries through when the moderation call fails.
	ModerationFailOpen bool `yaml:"moderation_fail_open"`
}

// IngestConfig holds catalog ingestion settings.
type IngestConfig struct {
	BatchSize       int    `yaml:"batch_size"`
	EmbeddingSource string `yaml:"embedding_source"` // summary | document
	// KeepOld keeps the previous generation after a swap.
	KeepOld bool `yaml:"keep_old"`
	// SeedFile is loaded into the memory driver at startup.
	SeedFile string `yaml:"seed_file"`
}

// SpeechConfig holds text-to-speech settings.
type SpeechConfig struct {
	DefaultVoice string `yaml:"default_voice"`
	MaxChars     int    `yaml:"max_chars"`
}

// ResilienceConfig holds retry and circuit breaker settings for upstream calls.
type ResilienceConfig struct {
	RetryAttempts       int `yaml:"retry_attempts"`
	RetryDelayMS        int `yaml:"retry_delay_ms"`
	BreakerFailures     int `yaml:"breaker_failures"`
	BreakerOpenSec      int `yaml:"breaker_open_sec"`
	BreakerHalfOpenReqs int `yaml:"breaker_half_open_requests"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
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
	setDefault(&c.HTTP.ReadTimeoutSec, 10)
	setDefault(&c.HTTP.WriteTimeoutSec, 60)
	setDefault(&c.HTTP.ShutdownSec, 10)

	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	setDefault(&c.Database.ReadinessTimeout, 10)
	setDefault(&c.Database.HNSWM, 16)
	setDefault(&c.Database.HNSWEFConstruct, 200)

	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "librarian:"
	}
	setDefault(&c.Storage.EmbeddingCacheTTLHours, 24*30)

	if c.LLM.EmbeddingModel == "" {
		c.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	setDefault(&c.LLM.EmbeddingDimensions, 1536)
	if c.LLM.ChatModel == "" {
		c.LLM.ChatModel = "gpt-4o-mini"
	}
	if c.LLM.ModerationModel == "" {
		c.LLM.ModerationModel = "omni-moderation-latest"
	}
	if c.LLM.SpeechModel == "" {
		c.LLM.SpeechModel = "gpt-4o-mini-tts"
	}

	setDefault(&c.Pipeline.DefaultK, 3)
	setDefault(&c.Pipeline.MaxK, 20)
	if c.Pipeline.FallbackLanguage == "" {
		c.Pipeline.FallbackLanguage = "en"
	}
	setDefault(&c.Pipeline.RequestTimeoutSec, 45)
	setDefault(&c.Pipeline.StageTimeoutSec, 15)

	if c.Guard.FuzzyThreshold <= 0 {
		c.Guard.FuzzyThreshold = 0.85
	}

	setDefault(&c.Ingest.BatchSize, 128)
	if c.Ingest.EmbeddingSource == "" {
		c.Ingest.EmbeddingSource = "summary"
	}

	if c.Speech.DefaultVoice == "" {
		c.Speech.DefaultVoice = "alloy"
	}
	setDefault(&c.Speech.MaxChars, 1800)

	setDefault(&c.Resilience.RetryAttempts, 2)
	setDefault(&c.Resilience.RetryDelayMS, 250)
	setDefault(&c.Resilience.BreakerFailures, 5)
	setDefault(&c.Resilience.BreakerOpenSec, 30)
	setDefault(&c.Resilience.BreakerHalfOpenReqs, 1)

	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	return c.ValidateCore()
}

// ValidateCore checks everything except the HTTP listener.
func (c *Config) ValidateCore() error {
	switch c.Database.Driver {
	case "redis", "valkey":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be redis, valkey or memory, got %q", c.Database.Driver)
	}
	switch c.LLM.Budget.Action {
	case "", "warn", "reject":
	default:
		return fmt.Errorf("llm.budget.action must be \"warn\" or \"reject\", got %q", c.LLM.Budget.Action)
	}
	if err := c.EmbeddingModel().Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.Pipeline.DefaultK > c.Pipeline.MaxK {
		return fmt.Errorf("pipeline.default_k (%d) exceeds pipeline.max_k (%d)", c.Pipeline.DefaultK, c.Pipeline.MaxK)
	}
	if c.Pipeline.RelevanceFloor < 0 || c.Pipeline.RelevanceFloor >= 1 {
		return fmt.Errorf("pipeline.relevance_floor must be in [0, 1), got %g", c.Pipeline.RelevanceFloor)
	}
	if c.Pipeline.StageTimeoutSec > c.Pipeline.RequestTimeoutSec {
		return fmt.Errorf("pipeline.stage_timeout_sec must not exceed pipeline.request_timeout_sec")
	}
	if c.Guard.FuzzyThreshold > 1 {
		return fmt.Errorf("guard.fuzzy_threshold must be in (0, 1], got %g", c.Guard.FuzzyThreshold)
	}
	switch c.Ingest.EmbeddingSource {
	case "summary", "document":
	default:
		return fmt.Errorf("ingest.embedding_source must be \"summary\" or \"document\", got %q", c.Ingest.EmbeddingSource)
	}
	return nil
}

// EmbeddingModel returns the model identity shared by ingest and query.
func (c *Config) EmbeddingModel() domain.EmbeddingModel {
	return domain.EmbeddingModel{Name: c.LLM.EmbeddingModel, Dimensions: c.LLM.EmbeddingDimensions}
}

// RequestTimeout returns the end-to-end deadline of a recommendation.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Pipeline.RequestTimeoutSec) * time.Second
}

// StageTimeout returns the per-stage timeout cap.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeoutSec) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// relative to the source file, for tests and `go run` from subdirectories
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b)))
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// envVarRegex matches ${VAR} and ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
