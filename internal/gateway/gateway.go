// Package gateway serves the websocket endpoint that connects browsers to
// the voice navigation engine.
//
// Each connection begins with a hello message declaring the user's role and
// the recognition mode. In client mode the browser runs the Web Speech API
// and relays transcripts and error codes; in server mode it streams raw PCM
// frames that a server-side whisper provider transcribes. Either way the
// rest of the pipeline — matching, execution, feedback — is identical, and
// the browser acts as the navigator, notifier, and (optionally) synthesizer
// through outbound messages.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/darasahub/voicenav/internal/audit"
	"github.com/darasahub/voicenav/internal/command"
	"github.com/darasahub/voicenav/internal/listen"
	"github.com/darasahub/voicenav/internal/match"
	"github.com/darasahub/voicenav/internal/navigate"
	"github.com/darasahub/voicenav/internal/observe"
	"github.com/darasahub/voicenav/internal/transcript"
	"github.com/darasahub/voicenav/pkg/speech"
)

const (
	// helloTimeout bounds how long a fresh connection may take to identify
	// itself before being dropped.
	helloTimeout = 10 * time.Second

	// writeTimeout bounds each outbound websocket write.
	writeTimeout = 5 * time.Second

	// readLimit allows PCM frames well above the library default.
	readLimit = 1 << 20
)

// Config holds the shared collaborators a [Handler] wires into every
// connection.
type Config struct {
	// MatcherFor returns a live matcher view for the role: the returned
	// function resolves the current index on every call, so catalog
	// rebuilds take effect mid-connection.
	MatcherFor func(command.Role) func() match.TextMatcher

	// PhrasesFor returns the spoken forms of the role's active catalog,
	// used as corrector context.
	PhrasesFor func(command.Role) []string

	// Capture is the server-side recognition provider. Nil means clients
	// must run recognition themselves.
	Capture speech.Capture

	// NewSynth constructs a server-side synthesizer writing to the given
	// per-connection sink. Nil delegates synthesis to the browser.
	NewSynth func(speech.AudioSink) (speech.Synthesizer, error)

	// Corrector optionally rewrites transcripts before matching.
	Corrector *transcript.Corrector

	Recorder audit.Recorder
	Metrics  *observe.Metrics

	// CaptureConfig is passed to every capture session.
	CaptureConfig speech.Config

	// AcceptThreshold is the executor's acceptance threshold.
	AcceptThreshold float64
}

// Handler upgrades HTTP requests to the voice navigation websocket protocol.
type Handler struct {
	cfg Config
}

// NewHandler creates a [Handler] from cfg.
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("gateway: websocket accept failed", "error", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(readLimit)

	c := &conn{ws: ws, cfg: h.cfg}
	if err := c.handshake(r.Context()); err != nil {
		slog.Warn("gateway: handshake failed", "error", err)
		ws.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	slog.Info("gateway: client connected", "role", c.role, "recognition", c.recognition)
	c.run(r.Context())
	slog.Info("gateway: client disconnected", "role", c.role)
}

// conn is one live browser connection. It implements the executor's
// [navigate.Navigator] and [navigate.Notifier] collaborators plus
// [speech.AudioSink] for synthesized feedback audio, all as outbound
// messages.
type conn struct {
	ws  *websocket.Conn
	cfg Config

	role        command.Role
	recognition string

	// remote is set in client recognition mode, sink in server mode.
	remote *remoteCapture
	sink   *sinkCapture

	controller *listen.Controller

	writeMu sync.Mutex
}

var (
	_ navigate.Navigator = (*conn)(nil)
	_ navigate.Notifier  = (*conn)(nil)
	_ speech.AudioSink   = (*conn)(nil)
)

// handshake reads and validates the hello message, then assembles the
// per-connection pipeline.
func (c *conn) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return fmt.Errorf("gateway: read hello: %w", err)
	}
	if typ != websocket.MessageText {
		return errors.New("gateway: first message must be a text hello")
	}

	var hello clientMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		return fmt.Errorf("gateway: parse hello: %w", err)
	}
	if hello.Type != msgHello {
		return fmt.Errorf("gateway: expected hello, got %q", hello.Type)
	}

	role := command.Role(hello.Role)
	if !role.IsValid() {
		return fmt.Errorf("gateway: unknown role %q", hello.Role)
	}
	c.role = role

	capture, err := c.buildCapture(hello)
	if err != nil {
		return err
	}

	synth, err := c.buildSynth()
	if err != nil {
		return err
	}

	executor := navigate.New(navigate.Config{
		Matcher:         c.cfg.MatcherFor(role),
		Navigator:       c,
		Notifier:        c,
		Synthesizer:     synth,
		Recorder:        c.cfg.Recorder,
		Metrics:         c.cfg.Metrics,
		Role:            role,
		AcceptThreshold: c.cfg.AcceptThreshold,
	})

	var dispatcher listen.Dispatcher = executor
	if c.cfg.Corrector != nil {
		dispatcher = correctingDispatcher{
			corrector: c.cfg.Corrector,
			phrases:   func() []string { return c.cfg.PhrasesFor(role) },
			next:      executor,
		}
	}

	c.controller = listen.New(listen.Config{
		Capture:       capture,
		CaptureConfig: c.cfg.CaptureConfig,
		Dispatcher:    dispatcher,
		Notifier:      c,
		Metrics:       c.cfg.Metrics,
		OnState: func(s listen.State) {
			_ = c.send(serverMessage{Type: msgState, State: s.String()})
		},
	})

	return nil
}

// buildCapture selects the capture channel for the declared recognition
// mode.
func (c *conn) buildCapture(hello clientMessage) (speech.Capture, error) {
	switch hello.Recognition {
	case recognitionServer:
		if c.cfg.Capture == nil {
			return nil, errors.New("gateway: server-side recognition is not configured")
		}
		c.recognition = recognitionServer
		c.sink = &sinkCapture{inner: c.cfg.Capture}
		return c.sink, nil

	case recognitionClient, "":
		c.recognition = recognitionClient
		supported := true
		if hello.Supported != nil {
			supported = *hello.Supported
		}
		c.remote = &remoteCapture{supported: supported, send: c.send}
		return c.remote, nil

	default:
		return nil, fmt.Errorf("gateway: unknown recognition mode %q", hello.Recognition)
	}
}

// buildSynth selects server-side synthesis when configured, otherwise
// delegates to the browser via speak messages.
func (c *conn) buildSynth() (speech.Synthesizer, error) {
	if c.cfg.NewSynth != nil {
		synth, err := c.cfg.NewSynth(c)
		if err != nil {
			return nil, fmt.Errorf("gateway: build synthesizer: %w", err)
		}
		return synth, nil
	}
	return browserSynth{send: c.send}, nil
}

// run drives the connection's read loop until the client disconnects.
func (c *conn) run(ctx context.Context) {
	defer func() {
		c.controller.Shutdown(context.WithoutCancel(ctx))
		if c.remote != nil {
			c.remote.closeActive()
		}
	}()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if c.sink != nil {
				c.sink.forward(data)
			}

		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Warn("gateway: bad client message", "error", err)
				continue
			}
			c.handle(ctx, msg)
		}
	}
}

// handle processes one parsed client message.
func (c *conn) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgToggle:
		if err := c.controller.Toggle(ctx); err != nil {
			slog.Warn("gateway: toggle failed", "error", err)
		}

	case msgResult:
		if c.remote != nil {
			c.remote.deliver(speech.Event{Kind: speech.EventResult, Transcript: msg.Transcript})
		}

	case msgError:
		if c.remote != nil {
			c.remote.deliver(speech.Event{Kind: speech.EventError, Err: speech.ClassifyCode(msg.Code)})
		}

	case msgEnd:
		if c.remote != nil {
			c.remote.deliver(speech.Event{Kind: speech.EventEnd})
		}

	default:
		slog.Warn("gateway: unknown message type", "type", msg.Type)
	}
}

// Navigate implements [navigate.Navigator] by instructing the browser to
// change route.
func (c *conn) Navigate(_ context.Context, target string) error {
	return c.send(serverMessage{Type: msgNavigate, Target: target})
}

// Notify implements [navigate.Notifier].
func (c *conn) Notify(_ context.Context, n navigate.Notice) {
	if err := c.send(serverMessage{Type: msgNotice, Kind: noticeKind(n.Kind), Text: n.Text}); err != nil {
		slog.Warn("gateway: notice send failed", "error", err)
	}
}

// SendAudio implements [speech.AudioSink] by relaying synthesized audio to
// the browser as a binary frame.
func (c *conn) SendAudio(chunk []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageBinary, chunk)
}

// send marshals and writes one JSON message. Safe for concurrent use.
func (c *conn) send(msg serverMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gateway: marshal message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func noticeKind(k navigate.NoticeKind) string {
	switch k {
	case navigate.NoticeSuccess:
		return "success"
	case navigate.NoticeError:
		return "error"
	}
	return "info"
}

// browserSynth delegates spoken feedback to the browser's own speech
// synthesis.
type browserSynth struct {
	send func(serverMessage) error
}

var _ speech.Synthesizer = browserSynth{}

func (s browserSynth) Speak(_ context.Context, text string) error {
	return s.send(serverMessage{Type: msgSpeak, Text: text})
}

// correctingDispatcher rewrites the transcript through the LLM corrector
// before handing it to the executor.
type correctingDispatcher struct {
	corrector *transcript.Corrector
	phrases   func() []string
	next      listen.Dispatcher
}

func (d correctingDispatcher) Dispatch(ctx context.Context, text string) navigate.Outcome {
	return d.next.Dispatch(ctx, d.corrector.Correct(ctx, text, d.phrases()))
}
