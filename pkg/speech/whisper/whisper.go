// Package whisper provides whisper.cpp-backed speech capture for clients
// that stream raw PCM instead of running recognition themselves.
//
// Two providers are available:
//
//   - [Provider] talks to a running whisper-server binary over its REST API
//     (POST /inference).
//   - [NativeProvider] loads the model in-process through the whisper.cpp
//     CGO bindings, eliminating HTTP overhead.
//
// Both segment the incoming PCM stream with an energy-based silence
// detector. A capture session covers a single utterance: once the speaker
// falls silent past the threshold, the buffered speech is transcribed, the
// result is emitted, and the session ends. A session that never hears speech
// ends with a no-speech error after the configured timeout.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	sess, err := p.Start(ctx, speech.Config{SampleRate: 16000})
//	sess.(speech.AudioSink).SendAudio(pcmChunk)
//	ev := <-sess.Events()
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/darasahub/voicenav/pkg/speech"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit
	// PCM units) below which audio is considered silent. The maximum value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage           = "en"
	defaultSampleRate         = 16000
	defaultSilenceThresholdMs = 500
	defaultMaxUtteranceMs     = 10_000
	defaultNoSpeechTimeout    = 8 * time.Second
)

var _ speech.Capture = (*Provider)(nil)

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language code sent to the whisper-server
// (e.g., "en", "de", "sw"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the audio sample rate in Hz. This must match the PCM
// data delivered via SendAudio. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// ends the utterance and triggers transcription. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxUtteranceMs caps how much speech may accumulate before
// transcription is forced regardless of silence. Defaults to 10 000 ms.
func WithMaxUtteranceMs(ms int) Option {
	return func(p *Provider) { p.maxUtteranceMs = ms }
}

// WithNoSpeechTimeout sets how long a session waits for the first speech
// chunk before ending with a no-speech error. Defaults to 8 seconds.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) { p.noSpeechTimeout = d }
}

// Provider implements [speech.Capture] backed by a whisper-server HTTP
// endpoint. Multiple sessions may be open simultaneously; each maintains its
// own audio buffer and goroutine.
type Provider struct {
	serverURL          string
	model              string
	language           string
	sampleRate         int
	silenceThresholdMs int
	maxUtteranceMs     int
	noSpeechTimeout    time.Duration
	httpClient         *http.Client
}

// New creates a Provider that connects to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:          serverURL,
		language:           defaultLanguage,
		sampleRate:         defaultSampleRate,
		silenceThresholdMs: defaultSilenceThresholdMs,
		maxUtteranceMs:     defaultMaxUtteranceMs,
		noSpeechTimeout:    defaultNoSpeechTimeout,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Supported implements [speech.Capture]. The HTTP provider is always
// constructible; an unreachable server surfaces as an unknown capture error
// at transcription time.
func (p *Provider) Supported() bool { return true }

// Start implements [speech.Capture]. The returned session accepts PCM audio
// immediately (it also implements [speech.AudioSink]); no network connection
// is made until the utterance is flushed for transcription.
func (p *Provider) Start(ctx context.Context, cfg speech.Config) (speech.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	s := newUtterance(p.sessionParams(cfg), p.infer)
	go s.processLoop(ctx)
	return s, nil
}

func (p *Provider) sessionParams(cfg speech.Config) utteranceParams {
	params := utteranceParams{
		language:           p.language,
		sampleRate:         p.sampleRate,
		channels:           1,
		silenceThresholdMs: p.silenceThresholdMs,
		maxUtteranceMs:     p.maxUtteranceMs,
		noSpeechTimeout:    p.noSpeechTimeout,
	}
	if cfg.Language != "" {
		params.language = cfg.Language
	}
	if cfg.SampleRate > 0 {
		params.sampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		params.channels = cfg.Channels
	}
	return params
}

// infer encodes pcm as a WAV file and POSTs it to the whisper-server
// /inference endpoint as multipart/form-data.
func (p *Provider) infer(ctx context.Context, pcm []byte, params utteranceParams) (string, error) {
	wav := encodeWAV(pcm, params.sampleRate, params.channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	if params.language != "" {
		if err := mw.WriteField("language", params.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// ---- helpers ----------------------------------------------------------------

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container suitable for direct inclusion in a multipart upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, in PCM sample units (0–32 767). Returns 0 for
// buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs returns the duration of a PCM chunk in milliseconds.
// Returns 0 for invalid inputs.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}

// ---- utterance session -------------------------------------------------------

// inferFunc runs transcription over a complete utterance's PCM.
type inferFunc func(ctx context.Context, pcm []byte, params utteranceParams) (string, error)

type utteranceParams struct {
	language           string
	sampleRate         int
	channels           int
	silenceThresholdMs int
	maxUtteranceMs     int
	noSpeechTimeout    time.Duration
}

// utterance is one live single-utterance capture session, shared by the HTTP
// and native providers (they differ only in inferFunc). It implements
// [speech.Session] and [speech.AudioSink]. All mutable buffer state is
// confined to the processLoop goroutine.
type utterance struct {
	params utteranceParams
	infer  inferFunc

	audioCh chan []byte
	events  chan speech.Event

	done chan struct{}
	once sync.Once
}

var (
	_ speech.Session   = (*utterance)(nil)
	_ speech.AudioSink = (*utterance)(nil)
)

func newUtterance(params utteranceParams, infer inferFunc) *utterance {
	return &utterance{
		params:  params,
		infer:   infer,
		audioCh: make(chan []byte, 256),
		events:  make(chan speech.Event, 4),
		done:    make(chan struct{}),
	}
}

// Events implements [speech.Session].
func (s *utterance) Events() <-chan speech.Event { return s.events }

// Stop implements [speech.Session]. The loop flushes any buffered speech
// before ending, so a transcript spoken just before the stop is not lost.
func (s *utterance) Stop() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// SendAudio implements [speech.AudioSink]. chunk must be raw 16-bit signed
// little-endian PCM at the session's sample rate and channel count.
func (s *utterance) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

// processLoop owns silence detection, buffering, and inference dispatch.
// It emits at most one result or error event, then the end event, then
// closes the events channel.
func (s *utterance) processLoop(ctx context.Context) {
	defer close(s.events)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)

	bytesPerMs := s.params.sampleRate * s.params.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz, mono, 16-bit
	}
	maxBufferBytes := s.params.maxUtteranceMs * bytesPerMs

	noSpeech := time.NewTimer(s.params.noSpeechTimeout)
	defer noSpeech.Stop()

	// finish transcribes the buffered speech (if any) on a fresh context —
	// the caller's may already be cancelled — and emits the terminal events.
	finish := func() {
		if hadSpeech && len(buffer) > 0 {
			fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			text, err := s.infer(fc, buffer, s.params)
			cancel()
			switch {
			case err != nil:
				s.events <- speech.Event{Kind: speech.EventError, Err: speech.ErrUnknown}
			case text == "":
				s.events <- speech.Event{Kind: speech.EventError, Err: speech.ErrNoSpeech}
			default:
				s.events <- speech.Event{Kind: speech.EventResult, Transcript: text}
			}
		}
		s.events <- speech.Event{Kind: speech.EventEnd}
	}

	for {
		select {
		case <-ctx.Done():
			finish()
			return

		case <-s.done:
			finish()
			return

		case <-noSpeech.C:
			if !hadSpeech {
				s.events <- speech.Event{Kind: speech.EventError, Err: speech.ErrNoSpeech}
				s.events <- speech.Event{Kind: speech.EventEnd}
				return
			}
			// Speech arrived but the utterance is still running long; force
			// the flush path.
			finish()
			return

		case chunk := <-s.audioCh:
			rms := computeRMS(chunk)
			chunkMs := chunkDurationMs(chunk, s.params.sampleRate, s.params.channels)

			if rms < defaultRMSThreshold {
				// Leading silence before any speech is discarded.
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.params.silenceThresholdMs {
						finish()
						return
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					finish()
					return
				}
			}
		}
	}
}
