// Package config loads knowhow settings from defaults, an optional config
// file, a .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Yates-Labs/knowhow/internal/engine"
	"github.com/Yates-Labs/knowhow/internal/evidence"
	"github.com/Yates-Labs/knowhow/internal/graph"
	"github.com/Yates-Labs/knowhow/internal/narrative"
	"github.com/Yates-Labs/knowhow/internal/planner"
	"github.com/Yates-Labs/knowhow/internal/rag"
)

// EnvPrefix prefixes every environment override, e.g. KNOWHOW_LLM_PROVIDER
const EnvPrefix = "KNOWHOW"

// Config is the full application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Milvus    MilvusConfig    `mapstructure:"milvus" yaml:"milvus"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`

	// File is the config file that was read, if any
	File string `mapstructure:"-" yaml:"-"`
}

// DatabaseConfig selects the relationship store
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// MilvusConfig locates the embedding index
type MilvusConfig struct {
	Address    string `mapstructure:"address" yaml:"address"`
	Collection string `mapstructure:"collection" yaml:"collection"`
	SearchEf   int    `mapstructure:"search_ef" yaml:"search_ef"`
}

// EmbeddingConfig configures the embedding model shared by ingestion and querying
type EmbeddingConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	Dimension int    `mapstructure:"dimension" yaml:"dimension"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	CacheSize int    `mapstructure:"cache_size" yaml:"cache_size"`
}

// LLMConfig configures answer synthesis
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"`
	Model       string  `mapstructure:"model" yaml:"model"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
}

// EngineConfig tunes planning, the evidence budget and timeouts
type EngineConfig struct {
	SemanticK         int           `mapstructure:"semantic_k" yaml:"semantic_k"`
	TechnologyK       int           `mapstructure:"technology_k" yaml:"technology_k"`
	StructuredLimit   int           `mapstructure:"structured_limit" yaml:"structured_limit"`
	MaxStructured     int           `mapstructure:"max_structured" yaml:"max_structured"`
	MaxItems          int           `mapstructure:"max_items" yaml:"max_items"`
	MaxChars          int           `mapstructure:"max_chars" yaml:"max_chars"`
	MaxSnippetChars   int           `mapstructure:"max_snippet_chars" yaml:"max_snippet_chars"`
	StructuredTimeout time.Duration `mapstructure:"structured_timeout" yaml:"structured_timeout"`
	SemanticTimeout   time.Duration `mapstructure:"semantic_timeout" yaml:"semantic_timeout"`
	ModelTimeout      time.Duration `mapstructure:"model_timeout" yaml:"model_timeout"`
	StructuredRetries int           `mapstructure:"structured_retries" yaml:"structured_retries"`
}

// IngestConfig controls repository ingestion
type IngestConfig struct {
	GitHubToken     string `mapstructure:"github_token" yaml:"github_token"`
	MaxPullRequests int    `mapstructure:"max_pull_requests" yaml:"max_pull_requests"`
	MaxCommits      int    `mapstructure:"max_commits" yaml:"max_commits"`
	IncludePatches  bool   `mapstructure:"include_patches" yaml:"include_patches"`
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// conventional variables honored in addition to the KNOWHOW_ prefix
var envAliases = map[string][]string{
	"database.dsn":        {"DATABASE_URL"},
	"milvus.address":      {"MILVUS_ADDRESS"},
	"milvus.collection":   {"MILVUS_COLLECTION"},
	"embedding.api_key":   {"OPENAI_API_KEY"},
	"ingest.github_token": {"GITHUB_TOKEN"},
}

func setDefaults(v *viper.Viper) {
	sqlDefaults := graph.DefaultSQLConfig()
	v.SetDefault("database.driver", sqlDefaults.Driver)
	v.SetDefault("database.dsn", sqlDefaults.DSN)
	v.SetDefault("database.max_open_conns", 0)

	milvus := rag.DefaultMilvusConfig()
	v.SetDefault("milvus.address", "localhost:19530")
	v.SetDefault("milvus.collection", "knowhow_artifacts")
	v.SetDefault("milvus.search_ef", milvus.SearchEf)

	emb := rag.DefaultEmbedderConfig()
	v.SetDefault("embedding.model", emb.Model)
	v.SetDefault("embedding.dimension", emb.Dimension)
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.cache_size", rag.DefaultEmbeddingCacheSize)

	llm := narrative.DefaultLLMConfig()
	v.SetDefault("llm.provider", llm.Provider)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.temperature", llm.Temperature)
	v.SetDefault("llm.max_tokens", llm.MaxTokens)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")

	eng := engine.DefaultConfig()
	v.SetDefault("engine.semantic_k", eng.Planner.SemanticK)
	v.SetDefault("engine.technology_k", eng.Planner.TechnologyK)
	v.SetDefault("engine.structured_limit", eng.Planner.StructuredLimit)
	v.SetDefault("engine.max_structured", eng.Planner.MaxStructured)
	v.SetDefault("engine.max_items", eng.Budget.MaxItems)
	v.SetDefault("engine.max_chars", eng.Budget.MaxChars)
	v.SetDefault("engine.max_snippet_chars", eng.Budget.MaxSnippetChars)
	v.SetDefault("engine.structured_timeout", eng.StructuredTimeout)
	v.SetDefault("engine.semantic_timeout", eng.SemanticTimeout)
	v.SetDefault("engine.model_timeout", eng.ModelTimeout)
	v.SetDefault("engine.structured_retries", eng.StructuredRetries)

	v.SetDefault("ingest.github_token", "")
	v.SetDefault("ingest.max_pull_requests", 200)
	v.SetDefault("ingest.max_commits", 500)
	v.SetDefault("ingest.include_patches", true)
	v.SetDefault("ingest.batch_size", rag.DefaultIndexOptions().BatchSize)
}

// Load reads configuration. An empty path searches ./knowhow.{yaml,toml,json}
// and $HOME/.config/knowhow; a missing file is not an error.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{key, envName(key)}, aliases...)
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("knowhow")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "knowhow"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.normalize()

	return &cfg, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// normalize fills values derived from other settings
func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "postgres" || c.Database.Driver == "postgresql" {
		c.Database.Driver = graph.DriverPostgres
	}
	if strings.HasPrefix(c.Database.DSN, "postgres://") || strings.HasPrefix(c.Database.DSN, "postgresql://") {
		c.Database.Driver = graph.DriverPostgres
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Model == "" {
		c.LLM.Model = narrative.DefaultModel(c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = providerKey(c.LLM.Provider)
	}
}

func providerKey(provider string) string {
	switch provider {
	case narrative.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case narrative.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case narrative.ProviderOpenAI, narrative.ProviderOpenAICompatible:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case graph.DriverPostgres, graph.DriverSQLite:
	default:
		return &ConfigError{Field: "database.driver", Message: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return &ConfigError{Field: "database.dsn", Message: "must not be empty"}
	}
	if c.Embedding.Dimension <= 0 {
		return &ConfigError{Field: "embedding.dimension", Message: "must be positive"}
	}

	switch c.LLM.Provider {
	case narrative.ProviderOpenAI, narrative.ProviderAnthropic, narrative.ProviderGemini, narrative.ProviderMock:
	case narrative.ProviderOpenAICompatible:
		if c.LLM.BaseURL == "" {
			return &ConfigError{Field: "llm.base_url", Message: "required for openai_compatible"}
		}
	default:
		return &ConfigError{Field: "llm.provider", Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}

	if c.Engine.SemanticK <= 0 {
		return &ConfigError{Field: "engine.semantic_k", Message: "must be positive"}
	}
	if c.Engine.StructuredLimit <= 0 || c.Engine.StructuredLimit > graph.MaxLimit {
		return &ConfigError{Field: "engine.structured_limit", Message: fmt.Sprintf("must be between 1 and %d", graph.MaxLimit)}
	}
	if c.Engine.MaxItems <= 0 || c.Engine.MaxChars <= 0 {
		return &ConfigError{Field: "engine.max_items", Message: "evidence budget must be positive"}
	}
	for field, d := range map[string]time.Duration{
		"engine.structured_timeout": c.Engine.StructuredTimeout,
		"engine.semantic_timeout":   c.Engine.SemanticTimeout,
		"engine.model_timeout":      c.Engine.ModelTimeout,
	} {
		if d <= 0 {
			return &ConfigError{Field: field, Message: "must be positive"}
		}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// SQLConfig maps database settings onto the relationship store
func (c *Config) SQLConfig() graph.SQLConfig {
	sc := graph.DefaultSQLConfig()
	sc.Driver = c.Database.Driver
	sc.DSN = c.Database.DSN
	sc.MaxOpenConns = c.Database.MaxOpenConns
	return sc
}

// MilvusConfig maps index settings onto the Milvus client
func (c *Config) MilvusConfig() rag.MilvusConfig {
	mc := rag.DefaultMilvusConfig()
	mc.Address = c.Milvus.Address
	mc.CollectionName = c.Milvus.Collection
	mc.Dimension = c.Embedding.Dimension
	if c.Milvus.SearchEf > 0 {
		mc.SearchEf = c.Milvus.SearchEf
	}
	return mc
}

// EmbedderConfig maps embedding settings onto the embedder
func (c *Config) EmbedderConfig() rag.EmbedderConfig {
	return rag.EmbedderConfig{
		APIKey:    c.Embedding.APIKey,
		BaseURL:   c.Embedding.BaseURL,
		Model:     c.Embedding.Model,
		Dimension: c.Embedding.Dimension,
		CacheSize: c.Embedding.CacheSize,
	}
}

// NarrativeConfig maps LLM settings onto the synthesizer backend
func (c *Config) NarrativeConfig() narrative.LLMConfig {
	return narrative.LLMConfig{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
	}.Resolved()
}

// EngineConfig maps engine settings onto the pipeline
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Planner: planner.Config{
			SemanticK:       c.Engine.SemanticK,
			TechnologyK:     c.Engine.TechnologyK,
			StructuredLimit: c.Engine.StructuredLimit,
			MaxStructured:   c.Engine.MaxStructured,
		},
		Budget: evidence.Budget{
			MaxItems:        c.Engine.MaxItems,
			MaxChars:        c.Engine.MaxChars,
			MaxSnippetChars: c.Engine.MaxSnippetChars,
		},
		StructuredTimeout: c.Engine.StructuredTimeout,
		SemanticTimeout:   c.Engine.SemanticTimeout,
		ModelTimeout:      c.Engine.ModelTimeout,
		StructuredRetries: c.Engine.StructuredRetries,
	}
}

// Redacted returns a copy with secrets masked
func (c *Config) Redacted() Config {
	out := *c
	out.Embedding.APIKey = mask(out.Embedding.APIKey)
	out.LLM.APIKey = mask(out.LLM.APIKey)
	out.Ingest.GitHubToken = mask(out.Ingest.GitHubToken)
	out.Database.DSN = maskDSN(out.Database.DSN)
	return out
}

// YAML renders the redacted configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

// maskDSN hides the password of a URL-style DSN
func maskDSN(dsn string) string {
	at := strings.Index(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":****" + dsn[at:]
	}
	return dsn
}
