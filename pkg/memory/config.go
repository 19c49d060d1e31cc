package memory

import (
	v "github.com/cohesivestack/valgo"

	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
Config sizes the tiered stores and tunes the maintenance cadence. Zero
capacities are rejected at validation, a store that can hold nothing
would evict forever.
*/
type Config struct {
	Enabled                bool    `json:"enabled" mapstructure:"enabled"`
	MaxWorkingMemory       int     `json:"max_working_memory" mapstructure:"max_working_memory"`
	MaxEpisodicPerSession  int     `json:"max_episodic_per_session" mapstructure:"max_episodic_per_session"`
	MaxSemanticMemories    int     `json:"max_semantic_memories" mapstructure:"max_semantic_memories"`
	ConsolidationThreshold int     `json:"consolidation_threshold" mapstructure:"consolidation_threshold"`
	EmbeddingDimension     int     `json:"embedding_dimension" mapstructure:"embedding_dimension"`
	RequireEmbeddings      bool    `json:"require_embeddings" mapstructure:"require_embeddings"`
	AutoDecay              bool    `json:"auto_decay" mapstructure:"auto_decay"`
	DecayIntervalHours     int     `json:"decay_interval_hours" mapstructure:"decay_interval_hours"`
	MinImportanceThreshold float64 `json:"min_importance_threshold" mapstructure:"min_importance_threshold"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		MaxWorkingMemory:       100,
		MaxEpisodicPerSession:  1000,
		MaxSemanticMemories:    100_000,
		ConsolidationThreshold: 50,
		EmbeddingDimension:     384,
		AutoDecay:              true,
		DecayIntervalHours:     24,
		MinImportanceThreshold: 0.1,
	}
}

// MinimalConfig returns a small configuration suited to tests.
func MinimalConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxWorkingMemory = 10
	cfg.MaxEpisodicPerSession = 100
	cfg.MaxSemanticMemories = 1000
	cfg.ConsolidationThreshold = 5
	return cfg
}

// HighCapacityConfig returns a configuration for long-running agents.
func HighCapacityConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxWorkingMemory = 500
	cfg.MaxEpisodicPerSession = 10_000
	cfg.MaxSemanticMemories = 1_000_000
	cfg.ConsolidationThreshold = 100
	return cfg
}

// Validate checks the configuration and returns a config error naming
// every violated field.
func (cfg Config) Validate() error {
	val := v.Is(
		v.Number(cfg.MaxWorkingMemory, "max_working_memory").GreaterThan(0),
		v.Number(cfg.MaxEpisodicPerSession, "max_episodic_per_session").GreaterThan(0),
		v.Number(cfg.MaxSemanticMemories, "max_semantic_memories").GreaterThan(0),
		v.Number(cfg.ConsolidationThreshold, "consolidation_threshold").GreaterThan(0),
		v.Number(cfg.EmbeddingDimension, "embedding_dimension").GreaterThan(0),
		v.Number(cfg.DecayIntervalHours, "decay_interval_hours").GreaterThan(0),
		v.Number(cfg.MinImportanceThreshold, "min_importance_threshold").GreaterOrEqualTo(0.0),
		v.Number(cfg.MinImportanceThreshold, "min_importance_threshold").LessOrEqualTo(1.0),
	)

	if !val.Valid() {
		return errors.ErrConfig.WithMessagef("invalid configuration: %v", val.Error())
	}

	return nil
}
