// Package listen implements the push-to-talk recognition session controller.
//
// A single toggle action drives the whole lifecycle: toggling while idle
// opens a capture session, toggling while listening stops it. The controller
// owns at most one live session at a time and serializes all state changes,
// so capture backends may deliver events from any goroutine.
//
// Stale-event protection: every session carries a monotonically increasing
// generation token. Events from a session whose generation no longer matches
// the controller's are discarded, which makes a stop-then-restart race (old
// session's late result arriving after a new session opened) harmless.
package listen

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/darasahub/voicenav/internal/navigate"
	"github.com/darasahub/voicenav/internal/observe"
	"github.com/darasahub/voicenav/pkg/speech"
)

// State is the controller's lifecycle state.
type State int

const (
	// StateIdle means no capture session is open.
	StateIdle State = iota

	// StateListening means a capture session is open and waiting for an
	// utterance.
	StateListening

	// StateFinalizing means a transcript arrived and is being dispatched.
	// Transient; resolves to StateIdle.
	StateFinalizing

	// StateErroring means the session failed and the failure is being
	// surfaced. Transient; resolves to StateIdle.
	StateErroring
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateFinalizing:
		return "finalizing"
	case StateErroring:
		return "erroring"
	}
	return "unknown"
}

// Dispatcher consumes a finalized transcript. Implemented by
// [navigate.Executor].
type Dispatcher interface {
	Dispatch(ctx context.Context, transcript string) navigate.Outcome
}

// User-facing notice texts for capture failures. ErrNoSpeech deliberately has
// no entry: a silent timeout is an expected outcome, not something to alarm
// the user about.
const (
	noticeUnsupported  = "Voice commands are not supported in this environment."
	noticePermission   = "Microphone access was denied. Allow it in your browser settings to use voice commands."
	noticeNoMicrophone = "No microphone was found. Connect one to use voice commands."
	noticeUnknown      = "Voice recognition failed. Please try again."
	noticeStartFailed  = "Could not start listening. Please try again."
)

// Config holds the collaborators for a [Controller]. Capture, Dispatcher,
// and Notifier are required.
type Config struct {
	Capture speech.Capture

	// CaptureConfig is passed to every session the controller opens.
	CaptureConfig speech.Config

	Dispatcher Dispatcher
	Notifier   navigate.Notifier

	// Metrics receives session durations, active-listener gauge updates,
	// and capture error counts. Nil disables metric recording.
	Metrics *observe.Metrics

	// OnState, when non-nil, is invoked after every state transition while
	// the controller lock is held. Keep it fast; the gateway uses it to
	// push listening-indicator updates to the browser.
	OnState func(State)
}

// Controller is the recognition session state machine. All methods are safe
// for concurrent use.
type Controller struct {
	capture    speech.Capture
	captureCfg speech.Config
	dispatcher Dispatcher
	notifier   navigate.Notifier
	metrics    *observe.Metrics
	onState    func(State)

	mu         sync.Mutex
	state      State
	generation uint64
	session    speech.Session
	openedAt   time.Time
}

// New creates an idle [Controller].
func New(cfg Config) *Controller {
	return &Controller{
		capture:    cfg.Capture,
		captureCfg: cfg.CaptureConfig,
		dispatcher: cfg.Dispatcher,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		onState:    cfg.OnState,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsListening reports whether a capture session is currently open.
func (c *Controller) IsListening() bool {
	return c.State() == StateListening
}

// Supported reports whether the capture channel can open sessions here.
func (c *Controller) Supported() bool {
	return c.capture.Supported()
}

// Toggle flips the listening state: it starts a session when idle and stops
// the open one when listening. While a transient state (finalizing, erroring)
// is resolving, Toggle is a no-op, so rapid double-toggles cannot open two
// sessions or stop one twice.
//
// In an unsupported environment Toggle posts an error notice and stays idle.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateListening:
		c.stopLocked(ctx)
		return nil
	case StateFinalizing, StateErroring:
		return nil
	}

	if !c.capture.Supported() {
		c.notifier.Notify(ctx, navigate.Notice{Kind: navigate.NoticeError, Text: noticeUnsupported})
		return nil
	}

	c.generation++
	gen := c.generation

	sess, err := c.capture.Start(ctx, c.captureCfg)
	if err != nil {
		slog.Error("listen: capture start failed", "error", err, "generation", gen)
		if c.metrics != nil {
			c.metrics.RecordCaptureError(ctx, speech.ErrUnknown.String())
		}
		c.notifier.Notify(ctx, navigate.Notice{Kind: navigate.NoticeError, Text: noticeStartFailed})
		return err
	}

	c.session = sess
	c.openedAt = time.Now()
	c.setStateLocked(StateListening)
	if c.metrics != nil {
		c.metrics.ActiveListeners.Add(ctx, 1)
	}
	slog.Info("listen: session opened", "generation", gen)

	go c.watch(ctx, gen, sess)
	return nil
}

// Shutdown stops any open session. Used at connection teardown; the usual
// user-driven path goes through [Controller.Toggle].
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateListening {
		c.stopLocked(ctx)
	}
}

// stopLocked cooperatively stops the open session and transitions to idle
// immediately rather than waiting for the backend to acknowledge. Bumping
// the generation makes the session's remaining events stale.
func (c *Controller) stopLocked(ctx context.Context) {
	sess := c.session
	gen := c.generation
	c.closeLocked(ctx)
	c.generation++
	c.setStateLocked(StateIdle)
	slog.Info("listen: session stopped", "generation", gen)

	if sess != nil {
		if err := sess.Stop(); err != nil {
			slog.Warn("listen: session stop failed", "error", err, "generation", gen)
		}
	}
}

// closeLocked records session-close metrics exactly once per session.
func (c *Controller) closeLocked(ctx context.Context) {
	if c.session == nil {
		return
	}
	c.session = nil
	if c.metrics != nil {
		c.metrics.ActiveListeners.Add(ctx, -1)
		c.metrics.SessionDuration.Record(ctx, time.Since(c.openedAt).Seconds())
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

// advance transitions to the given state if gen is still current. Reports
// whether the event should be acted on.
func (c *Controller) advance(gen uint64, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.setStateLocked(s)
	return true
}

// finish closes out the session for gen and returns the controller to idle.
// Safe to call more than once.
func (c *Controller) finish(ctx context.Context, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.closeLocked(ctx)
	c.setStateLocked(StateIdle)
}

// watch consumes the session's event stream until it closes. It runs once
// per session on its own goroutine; all controller mutation goes through the
// generation-checked helpers. The controller settles back to idle as soon as
// a result is dispatched or an error is surfaced; it never waits on the
// backend for a trailing end event, which a remote peer may withhold.
func (c *Controller) watch(ctx context.Context, gen uint64, sess speech.Session) {
	for ev := range sess.Events() {
		switch ev.Kind {
		case speech.EventResult:
			if !c.advance(gen, StateFinalizing) {
				continue
			}
			slog.Info("listen: transcript finalized", "generation", gen, "transcript", ev.Transcript)
			c.dispatcher.Dispatch(ctx, ev.Transcript)
			c.finish(ctx, gen)

		case speech.EventError:
			if !c.advance(gen, StateErroring) {
				continue
			}
			slog.Warn("listen: capture error", "generation", gen, "kind", ev.Err.String())
			if c.metrics != nil {
				c.metrics.RecordCaptureError(ctx, ev.Err.String())
			}
			if text := noticeFor(ev.Err); text != "" {
				c.notifier.Notify(ctx, navigate.Notice{Kind: navigate.NoticeError, Text: text})
			}
			c.finish(ctx, gen)

		case speech.EventEnd:
			c.finish(ctx, gen)
		}
	}
	// Backends must close the channel after EventEnd, but a crashed backend
	// might close it without one; settle the state either way.
	c.finish(ctx, gen)
}

// noticeFor maps a capture failure to its user-facing notice text. Empty
// means stay silent.
func noticeFor(kind speech.ErrorKind) string {
	switch kind {
	case speech.ErrNoSpeech:
		return ""
	case speech.ErrPermissionDenied:
		return noticePermission
	case speech.ErrNoMicrophone:
		return noticeNoMicrophone
	}
	return noticeUnknown
}
