package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/darasahub/voicenav/pkg/speech"
)

// pcmChunk builds ms milliseconds of 16-bit mono PCM at the given constant
// amplitude.
func pcmChunk(amplitude int16, ms, sampleRate int) []byte {
	samples := sampleRate * ms / 1000
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := pcmChunk(1000, 10, 16000)
	wav := encodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("missing RIFF/WAVE/data markers")
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("audio format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d", got)
	}
}

func TestComputeRMS(t *testing.T) {
	t.Parallel()

	if got := computeRMS(nil); got != 0 {
		t.Errorf("computeRMS(nil) = %v", got)
	}
	if got := computeRMS(pcmChunk(0, 10, 16000)); got != 0 {
		t.Errorf("computeRMS(silence) = %v", got)
	}
	if got := computeRMS(pcmChunk(1000, 10, 16000)); math.Abs(got-1000) > 0.01 {
		t.Errorf("computeRMS(constant 1000) = %v", got)
	}
}

func TestChunkDurationMs(t *testing.T) {
	t.Parallel()

	// 16 kHz mono 16-bit = 32 bytes per millisecond.
	if got := chunkDurationMs(make([]byte, 3200), 16000, 1); got != 100 {
		t.Errorf("chunkDurationMs = %d, want 100", got)
	}
	if got := chunkDurationMs(make([]byte, 3200), 0, 1); got != 0 {
		t.Errorf("chunkDurationMs with zero rate = %d", got)
	}
}

func testParams() utteranceParams {
	return utteranceParams{
		language:           "en",
		sampleRate:         16000,
		channels:           1,
		silenceThresholdMs: 40,
		maxUtteranceMs:     10_000,
		noSpeechTimeout:    5 * time.Second,
	}
}

// collectEvents drains the session's event stream with a deadline.
func collectEvents(t *testing.T, sess speech.Session) []speech.Event {
	t.Helper()
	var events []speech.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream never closed; got %+v", events)
		}
	}
}

type fakeInfer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	pcm   []byte
}

func (f *fakeInfer) infer(_ context.Context, pcm []byte, _ utteranceParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.pcm = append([]byte(nil), pcm...)
	return f.text, f.err
}

func TestUtterance_SilenceEndsAndTranscribes(t *testing.T) {
	t.Parallel()

	fake := &fakeInfer{text: "go to algebra"}
	s := newUtterance(testParams(), fake.infer)
	go s.processLoop(context.Background())

	speech20 := pcmChunk(2000, 20, 16000)
	silence20 := pcmChunk(0, 20, 16000)

	// Leading silence is discarded, then speech, then enough silence to
	// cross the 40 ms threshold.
	for _, chunk := range [][]byte{silence20, speech20, speech20, silence20, silence20} {
		if err := s.SendAudio(chunk); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	events := collectEvents(t, s)
	if len(events) != 2 {
		t.Fatalf("events = %+v, want result then end", events)
	}
	if events[0].Kind != speech.EventResult || events[0].Transcript != "go to algebra" {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Kind != speech.EventEnd {
		t.Errorf("events[1] = %+v", events[1])
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.calls != 1 {
		t.Errorf("infer called %d times, want 1", fake.calls)
	}
	// The buffer must contain the speech but not the leading silence.
	if len(fake.pcm) != len(speech20)*2+len(silence20)*2 {
		t.Errorf("inferred over %d bytes, want %d", len(fake.pcm), len(speech20)*2+len(silence20)*2)
	}
}

func TestUtterance_NoSpeechTimeout(t *testing.T) {
	t.Parallel()

	params := testParams()
	params.noSpeechTimeout = 30 * time.Millisecond
	fake := &fakeInfer{text: "never used"}
	s := newUtterance(params, fake.infer)
	go s.processLoop(context.Background())

	events := collectEvents(t, s)
	if len(events) != 2 || events[0].Kind != speech.EventError || events[0].Err != speech.ErrNoSpeech {
		t.Fatalf("events = %+v, want a no-speech error then end", events)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.calls != 0 {
		t.Errorf("infer called %d times, want 0", fake.calls)
	}
}

func TestUtterance_StopFlushesBufferedSpeech(t *testing.T) {
	t.Parallel()

	fake := &fakeInfer{text: "open settings"}
	s := newUtterance(testParams(), fake.infer)
	go s.processLoop(context.Background())

	if err := s.SendAudio(pcmChunk(2000, 20, 16000)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	// Give the loop a moment to consume the chunk before stopping.
	time.Sleep(20 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	events := collectEvents(t, s)
	if len(events) != 2 || events[0].Kind != speech.EventResult || events[0].Transcript != "open settings" {
		t.Fatalf("events = %+v, want the flushed transcript", events)
	}

	if err := s.SendAudio(pcmChunk(2000, 20, 16000)); err == nil {
		t.Error("SendAudio after Stop should fail")
	}
}

func TestUtterance_InferFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fake *fakeInfer
		want speech.ErrorKind
	}{
		{"backend error", &fakeInfer{err: errors.New("server unreachable")}, speech.ErrUnknown},
		{"empty transcript", &fakeInfer{text: ""}, speech.ErrNoSpeech},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newUtterance(testParams(), tt.fake.infer)
			go s.processLoop(context.Background())

			if err := s.SendAudio(pcmChunk(2000, 20, 16000)); err != nil {
				t.Fatalf("SendAudio: %v", err)
			}
			time.Sleep(20 * time.Millisecond)
			_ = s.Stop()

			events := collectEvents(t, s)
			if len(events) != 2 || events[0].Kind != speech.EventError || events[0].Err != tt.want {
				t.Fatalf("events = %+v, want %s error then end", events, tt.want)
			}
		})
	}
}

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New with an empty URL should fail")
	}
	p, err := New("http://localhost:8178")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !p.Supported() {
		t.Error("Supported() = false")
	}
}

func TestProvider_InferPostsMultipartWAV(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language field = %q", got)
		}
		if got := r.FormValue("model"); got != "base.en" {
			t.Errorf("model field = %q", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			header := make([]byte, 4)
			_, _ = f.Read(header)
			if string(header) != "RIFF" {
				t.Errorf("file does not start with RIFF: %q", header)
			}
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"go home"}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.infer(context.Background(), pcmChunk(2000, 20, 16000), p.sessionParams(speech.Config{}))
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if text != "go home" {
		t.Errorf("text = %q", text)
	}
}

func TestProvider_InferServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.infer(context.Background(), pcmChunk(2000, 20, 16000), p.sessionParams(speech.Config{}))
	if err == nil || !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("infer error = %v, want an HTTP 500 error", err)
	}
}
