package main

import (
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/ashureev/classroom-labs/internal/config"
	"github.com/ashureev/classroom-labs/internal/llm"
	"github.com/ashureev/classroom-labs/internal/llm/anyllm"
	"github.com/ashureev/classroom-labs/internal/llm/openai"
)

// newProvider builds the completion backend. OpenAI goes through the
// official SDK; every other provider goes through any-llm.
func newProvider(cfg config.LLMConfig, timeout time.Duration) (llm.Provider, error) {
	if cfg.Provider == "openai" {
		opts := []openai.Option{openai.WithTimeout(timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	return anyllm.New(cfg.Provider, cfg.Model, opts...)
}
