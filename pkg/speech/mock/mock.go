// Package mock provides test doubles for the speech package interfaces.
//
// Use Capture to verify that the controller opens sessions with the expected
// config, Session to feed controlled capture events, and Synthesizer to
// record spoken feedback.
//
// Example:
//
//	sess := mock.NewSession()
//	cap := &mock.Capture{Session: sess}
//	// ... controller starts listening ...
//	sess.EmitResult("go to algebra")
package mock

import (
	"context"
	"sync"

	"github.com/darasahub/voicenav/pkg/speech"
)

// StartCall records a single invocation of Capture.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Cfg is the capture config passed to Start.
	Cfg speech.Config
}

// Capture is a mock implementation of speech.Capture.
type Capture struct {
	mu sync.Mutex

	// Session is returned by Start. If nil, Start returns a fresh
	// [NewSession] value.
	Session speech.Session

	// StartErr, if non-nil, is returned as the error from Start.
	StartErr error

	// Unsupported makes Supported report false.
	Unsupported bool

	// StartCalls records every call to Start.
	StartCalls []StartCall
}

// Compile-time interface check.
var _ speech.Capture = (*Capture)(nil)

// Start records the call and returns Session, StartErr.
func (c *Capture) Start(ctx context.Context, cfg speech.Config) (speech.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartCalls = append(c.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})
	if c.StartErr != nil {
		return nil, c.StartErr
	}
	if c.Session != nil {
		return c.Session, nil
	}
	return NewSession(), nil
}

// Supported reports the configured support flag.
func (c *Capture) Supported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Unsupported
}

// Started returns the number of recorded Start calls. Thread-safe.
func (c *Capture) Started() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.StartCalls)
}

// Session is a scripted speech.Session. Feed events with EmitResult,
// EmitError, and EmitEnd; inspect Stop calls with Stopped.
type Session struct {
	mu      sync.Mutex
	events  chan speech.Event
	stops   int
	ended   bool
	audioIn [][]byte
}

// Compile-time interface checks.
var (
	_ speech.Session   = (*Session)(nil)
	_ speech.AudioSink = (*Session)(nil)
)

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan speech.Event, 8)}
}

// Events implements speech.Session.
func (s *Session) Events() <-chan speech.Event { return s.events }

// Stop implements speech.Session. It only counts the call; the test decides
// whether and when to emit the trailing end event.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

// Stopped returns how many times Stop was called.
func (s *Session) Stopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// SendAudio implements speech.AudioSink by recording the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audioIn = append(s.audioIn, cp)
	return nil
}

// Audio returns all recorded SendAudio chunks.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioIn
}

// EmitResult delivers a result event followed by the trailing end event.
func (s *Session) EmitResult(transcript string) {
	s.emit(speech.Event{Kind: speech.EventResult, Transcript: transcript})
	s.EmitEnd()
}

// EmitResultOnly delivers a result event without the trailing end, mimicking
// a remote peer that never acknowledges the session.
func (s *Session) EmitResultOnly(transcript string) {
	s.emit(speech.Event{Kind: speech.EventResult, Transcript: transcript})
}

// EmitError delivers an error event followed by the trailing end event.
func (s *Session) EmitError(kind speech.ErrorKind) {
	s.emit(speech.Event{Kind: speech.EventError, Err: kind})
	s.EmitEnd()
}

// EmitErrorOnly delivers an error event without the trailing end.
func (s *Session) EmitErrorOnly(kind speech.ErrorKind) {
	s.emit(speech.Event{Kind: speech.EventError, Err: kind})
}

// EmitEnd delivers the end event and closes the stream. Safe to call once.
func (s *Session) EmitEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.events <- speech.Event{Kind: speech.EventEnd}
	close(s.events)
}

func (s *Session) emit(ev speech.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// SpeakCall records a single invocation of Synthesizer.Speak.
type SpeakCall struct {
	Text string
}

// Synthesizer is a mock speech.Synthesizer that records spoken text.
type Synthesizer struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned from every Speak call.
	SpeakErr error

	// Calls records every Speak invocation in order.
	Calls []SpeakCall

	// spoken signals each Speak call for tests that need to wait on the
	// executor's fire-and-forget goroutine.
	spoken chan string
}

// Compile-time interface check.
var _ speech.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer returns a Synthesizer with a buffered notification channel
// usable via [Synthesizer.Spoken].
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{spoken: make(chan string, 8)}
}

// Speak records the call and returns SpeakErr.
func (s *Synthesizer) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	s.Calls = append(s.Calls, SpeakCall{Text: text})
	err := s.SpeakErr
	ch := s.spoken
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- text:
		default:
		}
	}
	return err
}

// Spoken returns a channel that receives each spoken text. Nil when the
// Synthesizer was constructed as a zero value.
func (s *Synthesizer) Spoken() <-chan string { return s.spoken }
