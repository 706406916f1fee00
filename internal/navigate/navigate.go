// Package navigate executes matched voice commands: it drives the host
// navigation collaborator, speaks confirmation feedback, and posts UI
// notices. Rejections (no match within the acceptance threshold) are
// surfaced to the user with an echo of the heard transcript so they can
// correct themselves.
//
// Speech synthesis is fire-and-forget: a failing or missing synthesizer is
// logged and ignored, and never delays navigation or the recognition state
// machine.
package navigate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darasahub/voicenav/internal/audit"
	"github.com/darasahub/voicenav/internal/command"
	"github.com/darasahub/voicenav/internal/match"
	"github.com/darasahub/voicenav/internal/observe"
	"github.com/darasahub/voicenav/pkg/speech"
)

// DefaultAcceptThreshold is the maximum score at which the top match is
// executed rather than rejected. It must be at least as large as the
// matcher's search threshold, otherwise results the search already returned
// could never be accepted; config validation enforces the relation.
const DefaultAcceptThreshold = 0.35

// rejectedSpoken is the fixed spoken message for unrecognized utterances.
const rejectedSpoken = "Sorry, I didn't recognize that command."

// defaultSpeakTimeout bounds each fire-and-forget synthesis call.
const defaultSpeakTimeout = 10 * time.Second

// Navigator is the host navigation collaborator. Target is an opaque route
// string the host knows how to interpret.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// NoticeKind classifies UI notices.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeError
)

// Notice is a user-visible on-screen message.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Notifier posts notices to the user interface. Implementations must be safe
// for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Outcome reports what Dispatch did with an utterance.
type Outcome struct {
	// Executed is true when a command was matched and navigated to.
	Executed bool

	// Command is the executed command. Nil when rejected.
	Command *command.Command

	// Score is the best candidate's score, or -1 when there were no
	// candidates at all.
	Score float64

	// Transcript is the utterance that was dispatched.
	Transcript string
}

// Config holds the dependencies for an [Executor]. Matcher, Navigator, and
// Notifier are required; the rest may be nil/zero for defaults.
type Config struct {
	// Matcher resolves the current phrase index at dispatch time, so a
	// catalog rebuild swapped in mid-session is picked up by the very next
	// utterance.
	Matcher func() match.TextMatcher

	Navigator Navigator
	Notifier  Notifier

	// Synthesizer speaks feedback. Nil disables spoken feedback.
	Synthesizer speech.Synthesizer

	// Recorder receives the audit entry for every dispatch. Nil disables
	// auditing.
	Recorder audit.Recorder

	// Metrics receives dispatch counters and score observations. Nil
	// disables metric recording.
	Metrics *observe.Metrics

	// Role is the audience the catalog was built for; recorded in audit
	// entries.
	Role command.Role

	// AcceptThreshold is the maximum score executed rather than rejected.
	// Zero selects [DefaultAcceptThreshold].
	AcceptThreshold float64

	// SpeakTimeout bounds each synthesis call. Zero selects 10 seconds.
	SpeakTimeout time.Duration
}

// Executor turns ranked match results into navigation and feedback.
// All methods are safe for concurrent use.
type Executor struct {
	matcher         func() match.TextMatcher
	navigator       Navigator
	notifier        Notifier
	synth           speech.Synthesizer
	recorder        audit.Recorder
	metrics         *observe.Metrics
	role            command.Role
	acceptThreshold float64
	speakTimeout    time.Duration
}

// New creates an Executor from cfg.
func New(cfg Config) *Executor {
	e := &Executor{
		matcher:         cfg.Matcher,
		navigator:       cfg.Navigator,
		notifier:        cfg.Notifier,
		synth:           cfg.Synthesizer,
		recorder:        cfg.Recorder,
		metrics:         cfg.Metrics,
		role:            cfg.Role,
		acceptThreshold: cfg.AcceptThreshold,
		speakTimeout:    cfg.SpeakTimeout,
	}
	if e.acceptThreshold <= 0 {
		e.acceptThreshold = DefaultAcceptThreshold
	}
	if e.speakTimeout <= 0 {
		e.speakTimeout = defaultSpeakTimeout
	}
	return e
}

// Dispatch queries the current matcher for transcript and executes the top
// result when its score is strictly below the acceptance threshold;
// otherwise it reports the rejection to the user. The returned Outcome is
// final by the time Dispatch returns (spoken feedback may still be playing).
func (e *Executor) Dispatch(ctx context.Context, transcript string) Outcome {
	return e.Execute(ctx, transcript, e.matcher().Query(transcript))
}

// Execute applies the acceptance rule to pre-computed results. Exposed
// separately from Dispatch so tests can drive it with fixed candidates.
func (e *Executor) Execute(ctx context.Context, transcript string, results []match.Result) Outcome {
	if len(results) == 0 || results[0].Score >= e.acceptThreshold {
		return e.reject(ctx, transcript, results)
	}

	best := results[0]
	cmd := best.Command

	if err := e.navigator.Navigate(ctx, cmd.Target); err != nil {
		// Navigation failures are host-side; report and fall through to
		// Idle like any other completed dispatch.
		slog.Error("navigate: navigation failed", "target", cmd.Target, "err", err)
		e.notifier.Notify(ctx, Notice{Kind: NoticeError, Text: "Navigation failed"})
		return Outcome{Score: best.Score, Transcript: transcript}
	}

	slog.Info("navigate: command executed",
		"phrase", cmd.Phrase,
		"target", cmd.Target,
		"transcript", transcript,
		"score", best.Score,
	)

	e.speak(cmd.Feedback)
	e.notifier.Notify(ctx, Notice{Kind: NoticeSuccess, Text: cmd.Feedback})
	e.record(ctx, audit.Entry{
		Time:       time.Now().UTC(),
		Role:       e.role,
		Transcript: transcript,
		Executed:   true,
		Phrase:     cmd.Phrase,
		Target:     cmd.Target,
		Score:      best.Score,
	})
	if e.metrics != nil {
		e.metrics.RecordDispatch(ctx, string(e.role), true, best.Score)
	}

	return Outcome{Executed: true, Command: cmd, Score: best.Score, Transcript: transcript}
}

// reject surfaces a failed match: a fixed spoken message plus an on-screen
// echo of what was heard.
func (e *Executor) reject(ctx context.Context, transcript string, results []match.Result) Outcome {
	score := -1.0
	if len(results) > 0 {
		score = results[0].Score
	}

	slog.Info("navigate: command rejected", "transcript", transcript, "best_score", score)

	e.speak(rejectedSpoken)
	e.notifier.Notify(ctx, Notice{
		Kind: NoticeError,
		Text: fmt.Sprintf("Didn't recognize %q", transcript),
	})
	e.record(ctx, audit.Entry{
		Time:       time.Now().UTC(),
		Role:       e.role,
		Transcript: transcript,
		Executed:   false,
		Score:      score,
	})
	if e.metrics != nil {
		e.metrics.RecordDispatch(ctx, string(e.role), false, score)
	}

	return Outcome{Score: score, Transcript: transcript}
}

// speak synthesizes text in the background. Errors and panics from the
// synthesizer are logged and swallowed.
func (e *Executor) speak(text string) {
	if e.synth == nil || text == "" {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("navigate: synthesizer panicked", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), e.speakTimeout)
		defer cancel()
		if err := e.synth.Speak(ctx, text); err != nil {
			slog.Warn("navigate: speech synthesis failed", "err", err)
		}
	}()
}

// record appends the audit entry, logging failures without propagating them.
func (e *Executor) record(ctx context.Context, entry audit.Entry) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, entry); err != nil {
		slog.Warn("navigate: audit record failed", "err", err)
	}
}
