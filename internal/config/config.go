// Package config loads recalld service configuration from a TOML file
// with environment variable overrides.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	LLM         LLMConfig         `toml:"llm"`
	Embedder    EmbedderConfig    `toml:"embedder"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	History     HistoryConfig     `toml:"history"`
	STM         STMConfig         `toml:"stm"`
	Procedural  ProceduralConfig  `toml:"procedural"`
	RAG         RAGConfig         `toml:"rag"`
	Observer    ObserverConfig    `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LLMConfig struct {
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`

	// Sampling knobs. Temperature and TopP are pointers so that an
	// explicit 0.0 in the file is distinguishable from "not set".
	Temperature *float64 `toml:"temperature"`
	TopP        *float64 `toml:"top_p"`
	MaxTokens   int      `toml:"max_tokens"`
}

type EmbedderConfig struct {
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	Dimensions int    `toml:"dimensions"`
}

type VectorStoreConfig struct {
	Dir        string `toml:"dir"`
	Collection string `toml:"collection"`
	Metric     string `toml:"metric"`
}

type HistoryConfig struct {
	Backend     string `toml:"backend"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type STMConfig struct {
	Capacity int `toml:"capacity"`
}

type ProceduralConfig struct {
	EveryNMessages int `toml:"every_n_messages"`
}

type RAGConfig struct {
	TopK      int     `toml:"top_k"`
	Threshold float64 `toml:"threshold"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:      ServerConfig{Addr: ":8080"},
		LLM:         LLMConfig{Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
		Embedder:    EmbedderConfig{Model: "text-embedding-3-small", BaseURL: "https://api.openai.com/v1", Dimensions: 1536},
		VectorStore: VectorStoreConfig{Dir: "data", Collection: "memories", Metric: "ip"},
		History:     HistoryConfig{Backend: "sqlite", Path: "data/history.db"},
		STM:         STMConfig{Capacity: 32},
		Procedural:  ProceduralConfig{EveryNMessages: 20},
		RAG:         RAGConfig{TopK: 5, Threshold: 0.75},
		Observer:    ObserverConfig{ServiceName: "recall"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "recall.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("RECALL_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RECALL_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("RECALL_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("RECALL_EMBEDDER_API_KEY"); v != "" {
		cfg.Embedder.APIKey = v
	}
	if v := os.Getenv("RECALL_EMBEDDER_BASE_URL"); v != "" {
		cfg.Embedder.BaseURL = v
	}
	if v := os.Getenv("RECALL_POSTGRES_URL"); v != "" {
		cfg.History.Backend = "postgres"
		cfg.History.PostgresURL = v
	}
	if os.Getenv("RECALL_OBSERVER_ENABLED") == "true" || os.Getenv("RECALL_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedder.APIKey == "" {
		cfg.Embedder.APIKey = cfg.LLM.APIKey
	}
	if cfg.Embedder.BaseURL == "" {
		cfg.Embedder.BaseURL = cfg.LLM.BaseURL
	}

	return cfg
}
