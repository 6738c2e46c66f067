package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Neo4jConfig holds connection settings for the Neo4j graph database.
type Neo4jConfig struct {
	Uri      string `yaml:"uri"` // e.g. "bolt://localhost:7687"
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// MilvusConfig holds connection and collection settings for the Milvus
// vector index.
type MilvusConfig struct {
	Address        string `yaml:"address"`
	CollectionName string `yaml:"collectionName"` // collection backing the ANN index
	Enabled        bool   `yaml:"enabled"`        // when false, search uses the exhaustive path only
}

// KafkaConfig holds the ingestion topic settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`   // episode ingestion topic
	GroupID string   `yaml:"groupId"` // consumer group id
}

// ProviderModelConfig is the per-provider model selection shared by the LLM,
// embedding and reranker sections.
type ProviderModelConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// LLMConfig selects the completion model used by extraction.
type LLMConfig struct {
	Provider string              `yaml:"provider"` // "gemini", "openai" or "ollama"
	Gemini   ProviderModelConfig `yaml:"gemini"`
	OpenAI   ProviderModelConfig `yaml:"openai"`
	Ollama   ProviderModelConfig `yaml:"ollama"`
}

// EmbeddingConfig selects the embedding model. Dimensions must stay
// consistent across every index built from its output.
type EmbeddingConfig struct {
	Provider   string              `yaml:"provider"`
	Dimensions int                 `yaml:"dimensions"` // e.g. 3072
	Gemini     ProviderModelConfig `yaml:"gemini"`
	OpenAI     ProviderModelConfig `yaml:"openai"`
	Ollama     ProviderModelConfig `yaml:"ollama"`
}

// RerankerConfig configures the optional cross-encoder rerank stage.
type RerankerConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

// MemoryConfig tunes the extraction and search pipeline.
type MemoryConfig struct {
	Enabled             bool    `yaml:"enabled"`             // startup-time switch; false wires the no-op service
	DefaultGroupID      string  `yaml:"defaultGroupId"`      // partition used for episodes that carry none
	ReflexionIterations int     `yaml:"reflexionIterations"` // extra extraction rounds, e.g. 2
	MinVectorScore      float64 `yaml:"minVectorScore"`      // similarity cutoff for the vector strategy
	DedupeThreshold     float64 `yaml:"dedupeThreshold"`     // similarity above which the LLM is consulted
	IngestParallelism   int     `yaml:"ingestParallelism"`   // concurrent episode ingestions
}

// AuthConfig configures the management API middleware.
type AuthConfig struct {
	JwtSecret string `yaml:"jwtSecret"`
	Enabled   bool   `yaml:"enabled"`
}

// RateLimiterConfig configures the token-bucket limiter on the HTTP surface.
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"` // tokens per second
	Capacity int     `yaml:"capacity"`
}

// ServerConfig holds the HTTP listen settings.
type ServerConfig struct {
	Address string `yaml:"address"` // e.g. ":8085"
}

// LoggerConfig sets the log level.
type LoggerConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// DatabaseConfigs groups the backing store settings.
type DatabaseConfigs struct {
	Neo4j  Neo4jConfig  `yaml:"neo4j"`
	Milvus MilvusConfig `yaml:"milvus"`
	Kafka  KafkaConfig  `yaml:"kafka"`
}

// AppConfig is the root of the YAML configuration file.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimiter RateLimiterConfig `yaml:"rateLimiter"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Reranker    RerankerConfig    `yaml:"reranker"`
	Memory      MemoryConfig      `yaml:"memory"`
	Databases   DatabaseConfigs   `yaml:"databases"`
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Memory.ReflexionIterations <= 0 {
		c.Memory.ReflexionIterations = 2
	}
	if c.Memory.MinVectorScore <= 0 {
		c.Memory.MinVectorScore = 0.5
	}
	if c.Memory.DedupeThreshold <= 0 {
		c.Memory.DedupeThreshold = 0.8
	}
	if c.Memory.IngestParallelism <= 0 {
		c.Memory.IngestParallelism = 4
	}
	if c.Memory.DefaultGroupID == "" {
		c.Memory.DefaultGroupID = "default"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 3072
	}
	if c.Databases.Milvus.CollectionName == "" {
		c.Databases.Milvus.CollectionName = "memory_embeddings"
	}
}
