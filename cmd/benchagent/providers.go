package main

import (
	"fmt"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/benchagent/internal/config"
)

// newProvider creates the LLM provider named by the config. The provider is
// inferred from the model name when not set.
func newProvider(cfg *config.Config) (llm.Provider, error) {
	if cfg.LLM.Model == "" {
		return nil, fmt.Errorf("llm.model is required (set it in %s or BENCHAGENT_LLM_MODEL)", config.DefaultFile)
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = llm.InferProviderFromModel(cfg.LLM.Model)
	}
	if cfg.LLM.Provider == "" {
		return nil, fmt.Errorf("cannot infer provider for model %q; set llm.provider", cfg.LLM.Model)
	}

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.GetAPIKey(),
		MaxTokens: cfg.LLM.MaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
		Thinking:  llm.ThinkingConfig{Level: llm.ThinkingLevel(cfg.LLM.Thinking)},
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	return provider, nil
}
