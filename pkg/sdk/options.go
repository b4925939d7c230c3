package ragvault

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/ragvault/internal/domain"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	baseDir string

	embedder   domain.Embedder
	generator  domain.Generator
	provider   string
	model      string
	dimensions int

	chunkSize    int
	chunkOverlap int
	defaultTopK  int
	maxTopK      int
	overfetch    int
	policy       DuplicatePolicy

	rps   float64
	burst int

	cacheAddrs    []string
	cachePassword string
	cacheTTL      time.Duration

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// OpenAIConfig configures OpenAI-compatible embeddings and chat completions.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // empty = api.openai.com
	EmbeddingModel string // default text-embedding-3-small
	ChatModel      string // default gpt-4o-mini
	Dimensions     int    // default 1536
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
}

// WithBaseDir sets the directory holding uploads and the vector index.
// Default: "data".
func WithBaseDir(dir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.baseDir = dir
	})
}

// WithEmbedder sets a custom embedding provider producing vectors of dim dimensions.
// If e also implements BatchEmbedder, ingestion embeds all chunks of a document in one call.
func WithEmbedder(e Embedder, dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = &embedderAdapter{inner: e}
		c.provider = "custom"
		c.model = "custom"
		c.dimensions = dim
	})
}

// WithGenerator sets a custom answer generator.
func WithGenerator(g Generator) Option {
	return optionFunc(func(c *clientConfig) {
		c.generator = &generatorAdapter{inner: g}
	})
}

// WithOpenAI uses an OpenAI-compatible API for both embeddings and answers.
func WithOpenAI(cfg OpenAIConfig) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder, c.generator = newOpenAI(cfg)
		c.provider = "openai"
		c.model = cfg.EmbeddingModel
		if c.model == "" {
			c.model = defaultEmbeddingModel
		}
		c.dimensions = cfg.Dimensions
		if c.dimensions <= 0 {
			c.dimensions = defaultOpenAIDimensions
		}
	})
}

// WithChunking sets the chunk size and overlap in characters.
// Defaults: 800 and 200.
func WithChunking(size, overlap int) Option {
	return optionFunc(func(c *clientConfig) {
		c.chunkSize = size
		c.chunkOverlap = overlap
	})
}

// WithTopK sets the result count used when a question does not ask for one, and its cap.
// Defaults: 3 and 20.
func WithTopK(defaultTopK, maxTopK int) Option {
	return optionFunc(func(c *clientConfig) {
		c.defaultTopK = defaultTopK
		c.maxTopK = maxTopK
	})
}

// WithOverfetch sets how many candidates are searched per requested result before
// other users' chunks are filtered out. Default: 3.
func WithOverfetch(factor int) Option {
	return optionFunc(func(c *clientConfig) {
		c.overfetch = factor
	})
}

// WithDuplicatePolicy sets what re-ingesting a known document id does.
// Default: DuplicateReplace.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return optionFunc(func(c *clientConfig) {
		c.policy = p
	})
}

// WithRateLimit caps embedding provider calls per second. Zero rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return optionFunc(func(c *clientConfig) {
		c.rps = rps
		c.burst = burst
	})
}

// WithRedisCache caches embeddings in Redis or Valkey at addr.
// ttl of zero keeps entries until evicted.
func WithRedisCache(addr, password string, ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheAddrs = []string{addr}
		c.cachePassword = password
		c.cacheTTL = ttl
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
