package rag

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the validated, immutable configuration surface consumed by the
// core. It is loaded once from graph_config.yaml; the core never mutates or
// persists it.
type Config struct {
	RAG          RAGConfig          `yaml:"rag"`
	DataPipeline DataPipelineConfig `yaml:"data_pipeline"`
	LLM          LLMConfig          `yaml:"llm"`
	Database     DatabaseConfig     `yaml:"database"`
	Nodes        []string           `yaml:"nodes"`
	Relations    []string           `yaml:"relations"`
	Prompts      PromptsConfig      `yaml:"prompts"`
}

type RAGConfig struct {
	MaxResults int `yaml:"max_results"`
	// FailOpen flips the relevance gate's failure policy from the default
	// fail-closed.
	FailOpen bool `yaml:"fail_open"`
}

type DataPipelineConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	TokenLimit   int `yaml:"token_limit"`
	Workers      int `yaml:"workers"`
}

type ModelConfig struct {
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
}

type ProviderConfig struct {
	Name           string `yaml:"name"`
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LLMConfig struct {
	FastModel     ModelConfig      `yaml:"fast_model"`
	AccurateModel ModelConfig      `yaml:"accurate_model"`
	Providers     []ProviderConfig `yaml:"providers"`
}

type DatabaseConfig struct {
	Name     string `yaml:"name"`
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PromptsConfig struct {
	Guardrails   string `yaml:"guardrails"`
	CypherSearch string `yaml:"cypher_search"`
	CypherInsert string `yaml:"cypher_insert"`
}

// LoadConfig reads, parses, and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RAG.MaxResults == 0 {
		c.RAG.MaxResults = 5
	}
	if c.DataPipeline.MaxChunkSize == 0 {
		c.DataPipeline.MaxChunkSize = 2000
	}
	if c.DataPipeline.TokenLimit == 0 {
		c.DataPipeline.TokenLimit = defaultTokenLimit
	}
	if c.DataPipeline.Workers == 0 {
		c.DataPipeline.Workers = defaultIngestWorkers
	}
	if c.Database.Name == "" {
		c.Database.Name = "neo4j"
	}
}

// Validate enforces the invariants the rest of the core relies on, in
// particular a non-empty static schema so SchemaProvider.Resolve can always
// fall back.
func (c *Config) Validate() error {
	if c.RAG.MaxResults <= 0 {
		return fmt.Errorf("rag.max_results must be positive, got %d", c.RAG.MaxResults)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("nodes must list at least one entity type")
	}
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.providers must list at least one provider")
	}
	for i, p := range c.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm.providers[%d]: name is required", i)
		}
	}
	if c.LLM.FastModel.Name == "" || c.LLM.AccurateModel.Name == "" {
		return fmt.Errorf("llm.fast_model.name and llm.accurate_model.name are required")
	}
	if c.DataPipeline.TokenLimit <= 0 {
		return fmt.Errorf("data_pipeline.token_limit must be positive, got %d", c.DataPipeline.TokenLimit)
	}
	return nil
}

// StaticSchema builds the fallback schema from the configured type names.
func (c *Config) StaticSchema() Schema {
	return Schema{
		Entities:      append([]string(nil), c.Nodes...),
		Relationships: append([]string(nil), c.Relations...),
		Source:        SchemaSourceStatic,
	}
}

// ProviderTimeout returns the configured per-provider timeout, or zero when
// unset so the chain default applies.
func (p ProviderConfig) ProviderTimeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}
