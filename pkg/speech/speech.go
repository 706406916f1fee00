// Package speech defines the capability interfaces consumed by the voice
// navigation engine: a speech-capture channel and a speech synthesizer.
//
// Both capabilities are injected so the recognition state machine never
// couples to a concrete speech stack. The browser relay in internal/gateway,
// the whisper.cpp-backed provider in pkg/speech/whisper, and the mocks in
// pkg/speech/mock all satisfy the same contracts.
package speech

import "context"

// EventKind discriminates the events a capture session can deliver.
type EventKind int

const (
	// EventResult carries the finalized transcript of the utterance.
	EventResult EventKind = iota

	// EventError carries a classified capture failure.
	EventError

	// EventEnd marks the end of the capture session. It is always the last
	// event delivered, whether or not a result or error preceded it.
	EventEnd
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	}
	return "unknown"
}

// ErrorKind classifies capture failures into the categories the controller
// knows how to surface. Classification happens in the capture implementation
// (each platform knows its own error codes); the controller only decides how
// each kind is presented.
type ErrorKind int

const (
	// ErrUnknown covers any failure not matched by a more specific kind.
	ErrUnknown ErrorKind = iota

	// ErrNoSpeech means the session ended without detecting any speech.
	ErrNoSpeech

	// ErrPermissionDenied means the user or platform refused microphone access.
	ErrPermissionDenied

	// ErrNoMicrophone means no capture hardware is available.
	ErrNoMicrophone
)

// String returns the error kind name for logging.
func (k ErrorKind) String() string {
	switch k {
	case ErrNoSpeech:
		return "no-speech"
	case ErrPermissionDenied:
		return "permission-denied"
	case ErrNoMicrophone:
		return "no-microphone"
	}
	return "unknown"
}

// ClassifyCode maps a platform error code (Web Speech API naming) to an
// [ErrorKind]. Unrecognized codes map to [ErrUnknown].
func ClassifyCode(code string) ErrorKind {
	switch code {
	case "no-speech":
		return ErrNoSpeech
	case "not-allowed", "service-not-allowed":
		return ErrPermissionDenied
	case "audio-capture":
		return ErrNoMicrophone
	}
	return ErrUnknown
}

// Event is a single occurrence on an open capture session.
type Event struct {
	// Kind discriminates the union below.
	Kind EventKind

	// Transcript is the finalized utterance text. Set only for EventResult.
	Transcript string

	// Err classifies the failure. Set only for EventError.
	Err ErrorKind
}

// Config describes the audio and language settings for a capture session.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the capture backend choose.
	Language string

	// SampleRate is the PCM sample rate in Hz for backends that receive raw
	// audio (e.g., 16000 for whisper.cpp). Ignored by event-relay backends.
	SampleRate int

	// Channels is the PCM channel count. Ignored by event-relay backends.
	Channels int
}

// Session is one open single-utterance capture attempt.
//
// A session delivers at most one EventResult or EventError, always followed
// by EventEnd, after which the events channel is closed. Implementations
// must close the channel even when Stop is never called.
type Session interface {
	// Events returns the read-only event stream for this session.
	Events() <-chan Event

	// Stop requests cooperative termination of the capture. It is
	// best-effort: callers must not rely on an EventEnd arriving promptly
	// (or at all) after Stop returns. Calling Stop more than once is safe.
	Stop() error
}

// Capture is the speech-capture capability. Implementations must be safe for
// concurrent use, though the controller opens at most one session at a time.
type Capture interface {
	// Start opens a new single-utterance capture session. The returned
	// session is live immediately.
	Start(ctx context.Context, cfg Config) (Session, error)

	// Supported reports whether this capture channel can open sessions in
	// the current environment. When false, Start must not be called.
	Supported() bool
}

// Synthesizer is the speech-synthesis capability. Speak is best-effort: the
// executor treats any error as non-fatal and never blocks navigation on it.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// AudioSink is an optional interface a [Session] may implement when the
// backend consumes raw PCM audio (16-bit little-endian signed). The gateway
// forwards binary frames to sessions that implement it and drops them
// otherwise.
type AudioSink interface {
	SendAudio(chunk []byte) error
}
