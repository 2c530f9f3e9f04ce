// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/classroom-labs/internal/callout"
	"github.com/ashureev/classroom-labs/internal/speaker"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	CORSOrigins []string
	DBPath      string
	RosterPath  string // empty = embedded default roster
	LogLevel    slog.Level
	Discussion  DiscussionConfig
	LLM         LLMConfig
	Transcripts TranscriptConfig
}

// DiscussionConfig controls the turn-taking loop.
type DiscussionConfig struct {
	MaxRounds    int
	Fallback     speaker.Fallback
	CalloutMode  callout.Mode
	FixedNames   []string // closed name list for fixed mode; empty = built-in list
	AllowRepeat  bool
	TurnTimeout  time.Duration // 0 = no limit on a completion
	HumanTimeout time.Duration // 0 = wait for the human indefinitely
}

// LLMConfig selects the completion backend.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	// HistoryWindow caps the utterances sent per completion. 0 = all.
	HistoryWindow int
}

// TranscriptConfig controls the SQLite transcript archive.
type TranscriptConfig struct {
	Enabled       bool
	TTL           time.Duration
	SweepInterval time.Duration
}

// LLMProviders lists the supported LLM_PROVIDER values.
var LLMProviders = []string{"openai", "anthropic", "gemini", "ollama", "mistral", "groq", "deepseek"}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	apiKey := getEnv("LLM_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("OPENAI_API_KEY", "")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS"),
		DBPath:      getEnv("DB_PATH", "./data/classroom.db"),
		RosterPath:  getEnv("ROSTER_PATH", ""),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		Discussion: DiscussionConfig{
			MaxRounds:    getEnvInt("MAX_ROUNDS", 30),
			Fallback:     speaker.Fallback(strings.ToLower(getEnv("FALLBACK_POLICY", string(speaker.FallbackTeacher)))),
			CalloutMode:  callout.Mode(strings.ToLower(getEnv("CALLOUT_MODE", string(callout.ModeDynamic)))),
			FixedNames:   getEnvList("FIXED_NAMES"),
			AllowRepeat:  getEnvBool("ALLOW_REPEAT_SPEAKER", false),
			TurnTimeout:  getEnvDuration("TURN_TIMEOUT", 90*time.Second),
			HumanTimeout: getEnvDuration("HUMAN_TIMEOUT", 0),
		},
		LLM: LLMConfig{
			Provider:      strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			Model:         getEnv("LLM_MODEL", "gpt-4o-mini"),
			APIKey:        apiKey,
			BaseURL:       getEnv("LLM_BASE_URL", ""),
			Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 0),
			HistoryWindow: getEnvInt("HISTORY_WINDOW", 0),
		},
		Transcripts: TranscriptConfig{
			Enabled:       getEnvBool("TRANSCRIPTS_ENABLED", true),
			TTL:           getEnvDuration("TRANSCRIPT_TTL", 7*24*time.Hour),
			SweepInterval: getEnvDuration("TRANSCRIPT_SWEEP_INTERVAL", time.Hour),
		},
	}

	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = cfg.defaultOrigins()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
// It reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.Transcripts.Enabled && c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty when transcripts are enabled"))
	}
	if c.Discussion.MaxRounds <= 0 {
		errs = append(errs, errors.New("MAX_ROUNDS must be > 0"))
	}
	if !c.Discussion.Fallback.IsValid() {
		errs = append(errs, fmt.Errorf("FALLBACK_POLICY %q is invalid; valid values: teacher, random", c.Discussion.Fallback))
	}
	if !c.Discussion.CalloutMode.IsValid() {
		errs = append(errs, fmt.Errorf("CALLOUT_MODE %q is invalid; valid values: dynamic, fixed", c.Discussion.CalloutMode))
	}
	if c.Discussion.TurnTimeout < 0 || c.Discussion.HumanTimeout < 0 {
		errs = append(errs, errors.New("TURN_TIMEOUT and HUMAN_TIMEOUT must be >= 0"))
	}
	if !isKnownProvider(c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is invalid; valid values: %s", c.LLM.Provider, strings.Join(LLMProviders, ", ")))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("LLM_MODEL cannot be empty"))
	}
	if c.LLM.HistoryWindow < 0 {
		errs = append(errs, errors.New("HISTORY_WINDOW must be >= 0"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("LLM_TEMPERATURE %.2f is out of range [0, 2]", c.LLM.Temperature))
	}
	if c.Transcripts.Enabled && (c.Transcripts.TTL <= 0 || c.Transcripts.SweepInterval <= 0) {
		errs = append(errs, errors.New("TRANSCRIPT_TTL and TRANSCRIPT_SWEEP_INTERVAL must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func (c *Config) defaultOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func isKnownProvider(name string) bool {
	return slices.Contains(LLMProviders, name)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
