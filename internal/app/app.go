// Package app wires all voicenav subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithRecorder,
// WithCapture, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/darasahub/voicenav/internal/audit"
	"github.com/darasahub/voicenav/internal/command"
	"github.com/darasahub/voicenav/internal/config"
	"github.com/darasahub/voicenav/internal/gateway"
	"github.com/darasahub/voicenav/internal/health"
	"github.com/darasahub/voicenav/internal/match"
	"github.com/darasahub/voicenav/internal/observe"
	"github.com/darasahub/voicenav/internal/topic"
	"github.com/darasahub/voicenav/internal/transcript"
	"github.com/darasahub/voicenav/pkg/speech"
)

const (
	defaultListenAddr = ":8080"
	defaultSampleRate = 16000
	shutdownTimeout   = 10 * time.Second
)

// roleEntry is one role's view of the current catalog: its phrase index for
// matching plus the raw phrase list used as corrector context.
type roleEntry struct {
	index   *match.Index
	phrases []string
}

// catalogSet is an immutable snapshot of every role's catalog, rebuilt
// wholesale whenever the topic list changes and swapped in atomically.
type catalogSet struct {
	entries map[command.Role]*roleEntry
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	metrics   *observe.Metrics
	recorder  audit.Recorder
	pg        *audit.PostgresLog // nil when the in-memory log is used
	corrector *transcript.Corrector
	capture   speech.Capture // nil in browser recognition mode

	watcher  *topic.Watcher
	catalogs atomic.Pointer[catalogSet]

	srv      *http.Server
	stopOnce sync.Once
}

// Option is a functional option for [New]. Use these to inject test doubles.
type Option func(*App)

// WithRecorder injects an audit recorder instead of creating one from config.
func WithRecorder(r audit.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithCapture injects a server-side capture provider instead of creating one
// from config.
func WithCapture(c speech.Capture) Option {
	return func(a *App) { a.capture = c }
}

// WithMetrics injects a metrics bundle instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: the audit recorder,
// the optional transcript corrector and server-side speech providers from
// the registry, the topic watcher with its per-role catalog snapshots, and
// the HTTP server with the websocket gateway, health probes, and the
// Prometheus scrape endpoint.
func New(ctx context.Context, cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: registry,
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// Audit recorder: durable postgres log or the bounded in-memory one.
	if a.recorder == nil {
		if cfg.Audit.PostgresDSN != "" {
			pg, err := audit.NewPostgresLog(ctx, cfg.Audit.PostgresDSN)
			if err != nil {
				return nil, fmt.Errorf("app: connect audit store: %w", err)
			}
			a.pg = pg
			a.recorder = pg
			slog.Info("app: audit log backed by postgres")
		} else {
			a.recorder = audit.NewMemLog(cfg.Audit.MemoryEntries)
		}
	}

	// Optional transcript corrector.
	if cfg.Corrector.Name != "" {
		provider, err := registry.CreateLLM(cfg.Corrector)
		if err != nil {
			return nil, fmt.Errorf("app: create corrector provider %q: %w", cfg.Corrector.Name, err)
		}
		a.corrector = transcript.New(provider)
		slog.Info("app: transcript corrector enabled", "provider", cfg.Corrector.Name, "model", cfg.Corrector.Model)
	}

	// Optional server-side recognition. The "browser" pseudo-provider means
	// clients run recognition themselves, so nothing is constructed here.
	if a.capture == nil && cfg.Speech.Capture.Name != "" && cfg.Speech.Capture.Name != "browser" {
		capture, err := registry.CreateCapture(cfg.Speech.Capture)
		if err != nil {
			return nil, fmt.Errorf("app: create capture provider %q: %w", cfg.Speech.Capture.Name, err)
		}
		a.capture = capture
		slog.Info("app: server-side recognition enabled", "provider", cfg.Speech.Capture.Name)
	}

	// Topic watcher and the initial catalog build.
	watcher, err := topic.NewWatcher(cfg.Topics.Path, a.rebuild, topic.WithInterval(cfg.Topics.ReloadInterval))
	if err != nil {
		return nil, fmt.Errorf("app: watch topics: %w", err)
	}
	a.watcher = watcher
	a.rebuild(watcher.Topics())

	a.srv = &http.Server{
		Addr:              a.listenAddr(),
		Handler:           a.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) listenAddr() string {
	if a.cfg.Server.ListenAddr != "" {
		return a.cfg.Server.ListenAddr
	}
	return defaultListenAddr
}

// buildMux assembles the HTTP routes: the websocket gateway, health probes,
// and the Prometheus scrape endpoint.
func (a *App) buildMux() http.Handler {
	gw := gateway.NewHandler(gateway.Config{
		MatcherFor:      a.MatcherFor,
		PhrasesFor:      a.PhrasesFor,
		Capture:         a.capture,
		NewSynth:        a.synthFactory(),
		Corrector:       a.corrector,
		Recorder:        a.recorder,
		Metrics:         a.metrics,
		CaptureConfig:   a.captureConfig(),
		AcceptThreshold: a.cfg.Matcher.EffectiveAcceptThreshold(),
	})

	probes := []health.Probe{topicsProbe(a.watcher)}
	if a.pg != nil {
		probes = append(probes, health.Probe{Name: "audit", Run: a.pg.Ping})
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", observe.HTTPMiddleware(a.metrics, "/ws", gw))
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(probes...).Register(mux)
	return mux
}

// topicsProbe reports the readiness of the topic catalogue: a deployment
// with zero topics almost always means a misconfigured topics file.
func topicsProbe(p topic.Provider) health.Probe {
	return health.Probe{Name: "topics", Run: func(context.Context) error {
		if len(p.Topics()) == 0 {
			return errors.New("no topics loaded")
		}
		return nil
	}}
}

// synthFactory returns the per-connection synthesizer constructor, or nil
// when synthesis is delegated to the browser.
func (a *App) synthFactory() func(speech.AudioSink) (speech.Synthesizer, error) {
	entry := a.cfg.Speech.Synth
	if entry.Name == "" || entry.Name == "browser" {
		return nil
	}
	return func(sink speech.AudioSink) (speech.Synthesizer, error) {
		return a.registry.CreateSynth(entry, sink)
	}
}

func (a *App) captureConfig() speech.Config {
	sr := a.cfg.Speech.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	return speech.Config{
		Language:   a.cfg.Speech.Language,
		SampleRate: sr,
		Channels:   1,
	}
}

// MatcherFor returns a live matcher view for role: the returned function
// resolves the current snapshot on every call, so a catalog rebuild swapped
// in mid-session is picked up by the very next utterance.
func (a *App) MatcherFor(role command.Role) func() match.TextMatcher {
	return func() match.TextMatcher {
		return a.catalogs.Load().entries[role].index
	}
}

// PhrasesFor returns the spoken forms of role's current catalog.
func (a *App) PhrasesFor(role command.Role) []string {
	return a.catalogs.Load().entries[role].phrases
}

// Recorder returns the audit recorder, for surfacing recent dispatches.
func (a *App) Recorder() audit.Recorder {
	return a.recorder
}

// rebuild constructs a fresh catalog snapshot for every role from topics and
// swaps it in atomically. Called once at startup and again by the topic
// watcher whenever the file changes.
func (a *App) rebuild(topics []topic.Topic) {
	search := a.cfg.Matcher.EffectiveSearchThreshold()

	set := &catalogSet{entries: make(map[command.Role]*roleEntry, len(command.Roles))}
	for _, role := range command.Roles {
		cat := command.Build(role, topics)
		phrases := make([]string, 0, cat.Len())
		for _, cmd := range cat.Commands() {
			phrases = append(phrases, cmd.Phrase)
		}
		set.entries[role] = &roleEntry{
			index:   match.NewIndex(cat, match.WithSearchThreshold(search)),
			phrases: phrases,
		}
	}

	a.catalogs.Store(set)
	a.metrics.CatalogRebuilds.Add(context.Background(), 1)
	slog.Info("app: command catalogs rebuilt", "topics", len(topics))
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("app: listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown releases remaining resources: the topic watcher and the audit
// store connection. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.watcher.Stop()
		err = a.srv.Shutdown(ctx)
		if a.pg != nil {
			a.pg.Close()
		}
	})
	return err
}
