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
	"capture": {"browser", "whisper", "whisper-native"},
	"synth":   {"browser", "openai"},
	"llm":     {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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

	// Matcher thresholds
	if cfg.Matcher.SearchThreshold < 0 || cfg.Matcher.SearchThreshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.search_threshold %.2f is out of range [0, 1]", cfg.Matcher.SearchThreshold))
	}
	if cfg.Matcher.AcceptThreshold < 0 || cfg.Matcher.AcceptThreshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.accept_threshold %.2f is out of range [0, 1]", cfg.Matcher.AcceptThreshold))
	}
	if cfg.Matcher.EffectiveAcceptThreshold() < cfg.Matcher.EffectiveSearchThreshold() {
		errs = append(errs, fmt.Errorf("matcher.accept_threshold %.2f must be at least matcher.search_threshold %.2f, otherwise search results could never be accepted",
			cfg.Matcher.EffectiveAcceptThreshold(), cfg.Matcher.EffectiveSearchThreshold()))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("capture", cfg.Speech.Capture.Name)
	validateProviderName("synth", cfg.Speech.Synth.Name)
	validateProviderName("llm", cfg.Corrector.Name)

	if cfg.Speech.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate %d must not be negative", cfg.Speech.SampleRate))
	}

	// Topics
	if cfg.Topics.Path == "" {
		errs = append(errs, errors.New("topics.path is required"))
	}
	if cfg.Topics.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("topics.reload_interval %s must not be negative", cfg.Topics.ReloadInterval))
	}

	// Audit
	if cfg.Audit.MemoryEntries < 0 {
		errs = append(errs, fmt.Errorf("audit.memory_entries %d must not be negative", cfg.Audit.MemoryEntries))
	}
	if cfg.Audit.PostgresDSN == "" {
		slog.Warn("audit.postgres_dsn is empty; dispatch outcomes are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is not a recognised provider for kind.
// Unknown names are not an error: a provider may have been registered at
// runtime that the static list does not know about.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if valid, ok := ValidProviderNames[kind]; ok && !slices.Contains(valid, name) {
		slog.Warn("unrecognised provider name", "kind", kind, "name", name, "known", valid)
	}
}
