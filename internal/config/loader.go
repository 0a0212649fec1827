package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"textgen":     {"openai", "anthropic", "gemini", "ollama", "groq"},
	"recognizer":  {"deepgram"},
	"synthesizer": {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("textgen", cfg.Providers.TextGen.Name)
	validateProviderName("textgen", cfg.Providers.TextGenFallback.Name)
	validateProviderName("recognizer", cfg.Providers.Recognizer.Name)
	validateProviderName("synthesizer", cfg.Providers.Synthesizer.Name)
	validateProviderName("synthesizer", cfg.Providers.SynthesizerFallback.Name)

	if cfg.Providers.TextGen.Name == "" {
		slog.Warn("no textgen provider configured; every pipeline stage will resolve to its degraded fallback")
	}
	if fb := cfg.Providers.TextGenFallback.Name; fb != "" && fb == cfg.Providers.TextGen.Name {
		slog.Warn("textgen fallback names the same provider as the primary", "name", fb)
	}
	if fb := cfg.Providers.SynthesizerFallback.Name; fb != "" && fb == cfg.Providers.Synthesizer.Name {
		slog.Warn("synthesizer fallback names the same provider as the primary", "name", fb)
	}

	// Interview tunables
	iv := cfg.Interview
	if iv.SessionLength < 0 {
		errs = append(errs, fmt.Errorf("interview.session_length %d must not be negative", iv.SessionLength))
	}
	if iv.FollowUpScoreThreshold < 0 || iv.FollowUpScoreThreshold > 100 {
		errs = append(errs, fmt.Errorf("interview.follow_up_score_threshold %d is out of range [0, 100]", iv.FollowUpScoreThreshold))
	}
	if iv.FollowUpMinAnswerChars < 0 {
		errs = append(errs, fmt.Errorf("interview.follow_up_min_answer_chars %d must not be negative", iv.FollowUpMinAnswerChars))
	}
	if iv.FollowUpProbability < 0 || iv.FollowUpProbability > 1 {
		errs = append(errs, fmt.Errorf("interview.follow_up_probability %.2f is out of range [0, 1]", iv.FollowUpProbability))
	}

	// Speech tunables
	sp := cfg.Speech
	for _, f := range []struct {
		name  string
		value int
	}{
		{"speech.debounce_ms", sp.DebounceMS},
		{"speech.quiet_delay_ms", sp.QuietDelayMS},
		{"speech.quiet_delay_short_ms", sp.QuietDelayShortMS},
		{"speech.restart_max_attempts", sp.RestartMaxAttempts},
		{"speech.restart_delay_ms", sp.RestartDelayMS},
		{"speech.chunk_max_chars", sp.ChunkMaxChars},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.value))
		}
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; candidate profiles and session summaries will not be persisted")
	}
	if cfg.Store.RecentSummaries < 0 {
		errs = append(errs, fmt.Errorf("store.recent_summaries %d must not be negative", cfg.Store.RecentSummaries))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
