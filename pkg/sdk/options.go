package librarian

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "valkey", "redis" or "memory"
	addrs    []string
	password string

	apiKey  string
	baseURL string

	embeddingModel string
	dimensions     int
	chatModel      string
	keyPrefix      string

	dailyTokens   int64
	monthlyTokens int64
	rejectOverrun bool

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithValkey keeps the catalog in a Valkey instance with valkey-search.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis keeps the catalog in a Redis instance with RediSearch.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithMemory keeps the catalog in process memory.
// Nothing survives Close; use it for tests and small catalogs.
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
		c.addrs = nil
		c.password = ""
	})
}

// WithOpenAI sets the provider credentials. An empty baseURL means api.openai.com.
func WithOpenAI(apiKey, baseURL string) Option {
	return optionFunc(func(c *clientConfig) {
		c.apiKey = apiKey
		c.baseURL = baseURL
	})
}

// WithEmbeddingModel sets the embedding model and its vector size.
// Defaults to text-embedding-3-small with 1536 dimensions.
// A catalog ingested with another model must be re-ingested.
func WithEmbeddingModel(name string, dimensions int) Option {
	return optionFunc(func(c *clientConfig) {
		c.embeddingModel = name
		c.dimensions = dimensions
	})
}

// WithChatModel sets the model used for classification, selection and answers.
func WithChatModel(name string) Option {
	return optionFunc(func(c *clientConfig) {
		c.chatModel = name
	})
}

// WithKeyPrefix namespaces all keys written to Valkey/Redis.
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithTokenBudget caps provider tokens per UTC day and month (0 = unlimited).
// With reject set, calls past the limit fail with ErrQuotaExceeded;
// otherwise the overrun is only logged.
func WithTokenBudget(daily, monthly int64, reject bool) Option {
	return optionFunc(func(c *clientConfig) {
		c.dailyTokens = daily
		c.monthlyTokens = monthly
		c.rejectOverrun = reject
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
