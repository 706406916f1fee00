package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/darasahub/voicenav/internal/audit"
	"github.com/darasahub/voicenav/internal/command"
	"github.com/darasahub/voicenav/internal/match"
	"github.com/darasahub/voicenav/internal/navigate"
	"github.com/darasahub/voicenav/internal/transcript"
	llmmock "github.com/darasahub/voicenav/pkg/llm/mock"
	"github.com/darasahub/voicenav/pkg/speech"
	"github.com/darasahub/voicenav/pkg/speech/mock"
)

type sentMessages struct {
	mu   sync.Mutex
	msgs []serverMessage
	err  error
}

func (s *sentMessages) send(msg serverMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *sentMessages) all() []serverMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs
}

func TestRemoteCapture_StartSendsCaptureStart(t *testing.T) {
	t.Parallel()

	sent := &sentMessages{}
	c := &remoteCapture{supported: true, send: sent.send}

	sess, err := c.Start(context.Background(), speech.Config{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	msgs := sent.all()
	if len(msgs) != 1 || msgs[0].Type != msgCapture || msgs[0].Action != "start" {
		t.Errorf("sent = %+v, want a capture start message", msgs)
	}

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	msgs = sent.all()
	if len(msgs) != 2 || msgs[1].Action != "stop" {
		t.Errorf("sent = %+v, want a trailing capture stop message", msgs)
	}
}

func TestRemoteCapture_StartUnsupported(t *testing.T) {
	t.Parallel()

	c := &remoteCapture{supported: false, send: (&sentMessages{}).send}
	if c.Supported() {
		t.Error("Supported() = true")
	}
	if _, err := c.Start(context.Background(), speech.Config{}); err == nil {
		t.Error("Start should fail when the client lacks recognition support")
	}
}

func TestRemoteCapture_StartSendFailureEndsSession(t *testing.T) {
	t.Parallel()

	sent := &sentMessages{err: errors.New("connection gone")}
	c := &remoteCapture{supported: true, send: sent.send}

	if _, err := c.Start(context.Background(), speech.Config{}); err == nil {
		t.Fatal("Start should surface the send failure")
	}
}

func TestRemoteCapture_RestartEndsAbandonedSession(t *testing.T) {
	t.Parallel()

	sent := &sentMessages{}
	c := &remoteCapture{supported: true, send: sent.send}

	first, err := c.Start(context.Background(), speech.Config{})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	// The client delivered a result but never the end message.
	c.deliver(speech.Event{Kind: speech.EventResult, Transcript: "go home"})

	if _, err := c.Start(context.Background(), speech.Config{}); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	var got []speech.Event
	for ev := range first.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 || got[1].Kind != speech.EventEnd {
		t.Fatalf("abandoned session events = %+v, want a trailing end", got)
	}
}

func TestRemoteSession_DeliverContract(t *testing.T) {
	t.Parallel()

	sent := &sentMessages{}
	c := &remoteCapture{supported: true, send: sent.send}
	sess, err := c.Start(context.Background(), speech.Config{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.deliver(speech.Event{Kind: speech.EventResult, Transcript: "go home"})
	c.deliver(speech.Event{Kind: speech.EventEnd})
	// Events after end must be dropped, not panic on the closed channel.
	c.deliver(speech.Event{Kind: speech.EventResult, Transcript: "late"})

	var got []speech.Event
	for ev := range sess.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if got[0].Kind != speech.EventResult || got[0].Transcript != "go home" {
		t.Errorf("events[0] = %+v", got[0])
	}
	if got[1].Kind != speech.EventEnd {
		t.Errorf("events[1] = %+v", got[1])
	}
}

func TestRemoteCapture_CloseActiveEndsSession(t *testing.T) {
	t.Parallel()

	sent := &sentMessages{}
	c := &remoteCapture{supported: true, send: sent.send}
	sess, err := c.Start(context.Background(), speech.Config{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.closeActive()

	select {
	case ev, ok := <-sess.Events():
		if !ok || ev.Kind != speech.EventEnd {
			t.Errorf("event = %+v (ok=%v), want end", ev, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("closeActive did not end the session")
	}
}

func TestSinkCapture_ForwardsToActiveSession(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	inner := &mock.Capture{Session: sess}
	c := &sinkCapture{inner: inner}

	// Frames before any session are dropped.
	c.forward([]byte{1, 2})

	if _, err := c.Start(context.Background(), speech.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.forward([]byte{3, 4})

	if got := sess.Audio(); len(got) != 1 || got[0][0] != 3 {
		t.Errorf("forwarded audio = %v, want only the post-start frame", got)
	}
}

type recordingDispatcher struct {
	mu          sync.Mutex
	transcripts []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, transcript string) navigate.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transcripts = append(d.transcripts, transcript)
	return navigate.Outcome{Transcript: transcript}
}

func TestCorrectingDispatcher_RewritesTranscript(t *testing.T) {
	t.Parallel()

	next := &recordingDispatcher{}
	d := correctingDispatcher{
		corrector: transcript.New(&llmmock.Provider{
			Fallback: `{"corrected": "open leaderboard"}`,
		}),
		phrases: func() []string { return []string{"open leaderboard"} },
		next:    next,
	}

	d.Dispatch(context.Background(), "open leaderbored")

	next.mu.Lock()
	defer next.mu.Unlock()
	if len(next.transcripts) != 1 || next.transcripts[0] != "open leaderboard" {
		t.Errorf("dispatched = %v, want the corrected transcript", next.transcripts)
	}
}

func TestBrowserSynth_SendsSpeakMessage(t *testing.T) {
	t.Parallel()

	sent := &sentMessages{}
	s := browserSynth{send: sent.send}
	if err := s.Speak(context.Background(), "Opening settings"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	msgs := sent.all()
	if len(msgs) != 1 || msgs[0].Type != msgSpeak || msgs[0].Text != "Opening settings" {
		t.Errorf("sent = %+v", msgs)
	}
}

func TestNoticeKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind navigate.NoticeKind
		want string
	}{
		{navigate.NoticeInfo, "info"},
		{navigate.NoticeSuccess, "success"},
		{navigate.NoticeError, "error"},
	}
	for _, tt := range tests {
		if got := noticeKind(tt.kind); got != tt.want {
			t.Errorf("noticeKind(%v) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func newTestHandler(rec audit.Recorder) *Handler {
	return NewHandler(Config{
		MatcherFor: func(role command.Role) func() match.TextMatcher {
			ix := match.NewIndex(command.Build(role, nil))
			return func() match.TextMatcher { return ix }
		},
		PhrasesFor: func(command.Role) []string { return nil },
		Recorder:   rec,
	})
}

func dialTestServer(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.CloseNow() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, msg clientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads server messages until match returns true, failing the test
// if too many unrelated messages arrive first.
func readUntil(t *testing.T, ws *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	for i := 0; i < 16; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, data, err := ws.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
	t.Fatal("expected message never arrived")
	return serverMessage{}
}

func TestHandler_ClientRecognitionRoundTrip(t *testing.T) {
	t.Parallel()

	rec := audit.NewMemLog(8)
	ws := dialTestServer(t, newTestHandler(rec))

	sendJSON(t, ws, clientMessage{Type: msgHello, Role: "student", Recognition: "client"})
	sendJSON(t, ws, clientMessage{Type: msgToggle})

	readUntil(t, ws, func(m serverMessage) bool {
		return m.Type == msgCapture && m.Action == "start"
	})
	readUntil(t, ws, func(m serverMessage) bool {
		return m.Type == msgState && m.State == "listening"
	})

	sendJSON(t, ws, clientMessage{Type: msgResult, Transcript: "open leaderboard"})
	sendJSON(t, ws, clientMessage{Type: msgEnd})

	nav := readUntil(t, ws, func(m serverMessage) bool { return m.Type == msgNavigate })
	if nav.Target != "/student/leaderboard" {
		t.Errorf("navigate target = %q", nav.Target)
	}
	readUntil(t, ws, func(m serverMessage) bool {
		return m.Type == msgState && m.State == "idle"
	})

	entries, err := rec.Recent(context.Background(), 1)
	if err != nil || len(entries) != 1 || !entries[0].Executed {
		t.Errorf("audit entries = %+v, %v", entries, err)
	}
}

func TestHandler_RejectsInvalidHello(t *testing.T) {
	t.Parallel()

	ws := dialTestServer(t, newTestHandler(nil))
	sendJSON(t, ws, clientMessage{Type: msgHello, Role: "superuser", Recognition: "client"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := ws.Read(ctx); err == nil {
		t.Fatal("expected the server to close the connection on an unknown role")
	}
}

func TestHandler_ErrorCodeRelaySurfacesNotice(t *testing.T) {
	t.Parallel()

	ws := dialTestServer(t, newTestHandler(nil))

	sendJSON(t, ws, clientMessage{Type: msgHello, Role: "teacher", Recognition: "client"})
	sendJSON(t, ws, clientMessage{Type: msgToggle})
	readUntil(t, ws, func(m serverMessage) bool {
		return m.Type == msgState && m.State == "listening"
	})

	sendJSON(t, ws, clientMessage{Type: msgError, Code: "not-allowed"})
	sendJSON(t, ws, clientMessage{Type: msgEnd})

	notice := readUntil(t, ws, func(m serverMessage) bool { return m.Type == msgNotice })
	if notice.Kind != "error" || !strings.Contains(notice.Text, "Microphone access was denied") {
		t.Errorf("notice = %+v", notice)
	}
}
