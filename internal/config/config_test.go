package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/darasahub/voicenav/pkg/llm"
	llmmock "github.com/darasahub/voicenav/pkg/llm/mock"
	"github.com/darasahub/voicenav/pkg/speech"
	speechmock "github.com/darasahub/voicenav/pkg/speech/mock"
)

const validConfigYAML = `server:
  listen_addr: ":9090"
  log_level: debug
matcher:
  search_threshold: 0.25
  accept_threshold: 0.3
speech:
  capture:
    name: whisper
    base_url: http://localhost:8178
    model: base.en
  synth:
    name: browser
  language: en-US
  sample_rate: 16000
corrector:
  name: ollama
  base_url: http://localhost:11434
  model: llama3.2
topics:
  path: topics.yaml
  reload_interval: 10s
audit:
  postgres_dsn: postgres://voicenav@localhost/voicenav
  memory_entries: 128
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validConfigYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Matcher.SearchThreshold != 0.25 || cfg.Matcher.AcceptThreshold != 0.3 {
		t.Errorf("matcher = %+v", cfg.Matcher)
	}
	if cfg.Speech.Capture.Name != "whisper" || cfg.Speech.Capture.Model != "base.en" {
		t.Errorf("capture = %+v", cfg.Speech.Capture)
	}
	if cfg.Corrector.Name != "ollama" {
		t.Errorf("corrector = %+v", cfg.Corrector)
	}
	if cfg.Topics.ReloadInterval != 10*time.Second {
		t.Errorf("reload interval = %s", cfg.Topics.ReloadInterval)
	}
	if cfg.Audit.MemoryEntries != 128 {
		t.Errorf("audit = %+v", cfg.Audit)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: \":8080\"\ntopics:\n  path: topics.yaml\n"))
	if err == nil {
		t.Fatal("expected a decode error for a misspelled key")
	}
	if !strings.Contains(err.Error(), "decode yaml") {
		t.Errorf("error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing topics path",
			mutate:  func(c *Config) { c.Topics.Path = "" },
			wantErr: "topics.path is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "search threshold out of range",
			mutate:  func(c *Config) { c.Matcher.SearchThreshold = 1.5 },
			wantErr: "search_threshold",
		},
		{
			name: "accept below search",
			mutate: func(c *Config) {
				c.Matcher.SearchThreshold = 0.4
				c.Matcher.AcceptThreshold = 0.2
			},
			wantErr: "must be at least",
		},
		{
			name:    "negative sample rate",
			mutate:  func(c *Config) { c.Speech.SampleRate = -1 },
			wantErr: "sample_rate",
		},
		{
			name:    "negative reload interval",
			mutate:  func(c *Config) { c.Topics.ReloadInterval = -time.Second },
			wantErr: "reload_interval",
		},
		{
			name:    "negative memory entries",
			mutate:  func(c *Config) { c.Audit.MemoryEntries = -1 },
			wantErr: "memory_entries",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Topics: TopicsConfig{Path: "topics.yaml"}}
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server:  ServerConfig{LogLevel: "loud"},
		Matcher: MatcherConfig{SearchThreshold: -1},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "search_threshold", "topics.path"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error %q missing %q", msg, want)
		}
	}
}

func TestMatcherConfig_EffectiveThresholds(t *testing.T) {
	t.Parallel()

	var m MatcherConfig
	if got := m.EffectiveSearchThreshold(); got != DefaultSearchThreshold {
		t.Errorf("EffectiveSearchThreshold() = %v, want default %v", got, DefaultSearchThreshold)
	}
	if got := m.EffectiveAcceptThreshold(); got != DefaultAcceptThreshold {
		t.Errorf("EffectiveAcceptThreshold() = %v, want default %v", got, DefaultAcceptThreshold)
	}

	m = MatcherConfig{SearchThreshold: 0.1, AcceptThreshold: 0.2}
	if got := m.EffectiveSearchThreshold(); got != 0.1 {
		t.Errorf("EffectiveSearchThreshold() = %v", got)
	}
	if got := m.EffectiveAcceptThreshold(); got != 0.2 {
		t.Errorf("EffectiveAcceptThreshold() = %v", got)
	}
}

func TestRegistry_CreateResolvesFactories(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterCapture("fake", func(ProviderEntry) (speech.Capture, error) {
		return &speechmock.Capture{}, nil
	})
	r.RegisterSynth("fake", func(_ ProviderEntry, sink speech.AudioSink) (speech.Synthesizer, error) {
		if sink == nil {
			t.Error("synth factory received a nil sink")
		}
		return speechmock.NewSynthesizer(), nil
	})
	r.RegisterLLM("fake", func(ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	if _, err := r.CreateCapture(ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateCapture: %v", err)
	}
	if _, err := r.CreateSynth(ProviderEntry{Name: "fake"}, speechmock.NewSession()); err != nil {
		t.Errorf("CreateSynth: %v", err)
	}
	p, err := r.CreateLLM(ProviderEntry{Name: "fake"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Errorf("Complete: %v", err)
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.CreateCapture(ProviderEntry{Name: "missing"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateCapture error = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), `capture/"missing"`) {
		t.Errorf("error %q does not name the provider kind", err)
	}
}
