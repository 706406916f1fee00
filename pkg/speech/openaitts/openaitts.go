// Package openaitts provides a [speech.Synthesizer] backed by the OpenAI
// text-to-speech API. Synthesized audio is written to an injected
// [speech.AudioSink]; the gateway supplies a per-connection sink that relays
// the audio frames to the browser for playback.
package openaitts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/darasahub/voicenav/pkg/speech"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"

	// sinkChunkSize is the size of audio frames forwarded to the sink.
	// Matches a comfortable websocket message size.
	sinkChunkSize = 16 * 1024
)

var _ speech.Synthesizer = (*Synthesizer)(nil)

// config holds optional configuration for the synthesizer.
type config struct {
	baseURL string
	model   string
	voice   string
	timeout time.Duration
}

// Option is a functional option for [Synthesizer].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the TTS model (e.g., "tts-1", "tts-1-hd").
// Defaults to "tts-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice selects the voice (e.g., "alloy", "nova"). Defaults to "alloy".
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Synthesizer implements [speech.Synthesizer] using the OpenAI speech
// endpoint. It is safe for concurrent use.
type Synthesizer struct {
	client oai.Client
	sink   speech.AudioSink
	model  string
	voice  string
}

// New constructs a Synthesizer that writes MP3 audio to sink.
func New(apiKey string, sink speech.AudioSink, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaitts: apiKey must not be empty")
	}
	if sink == nil {
		return nil, errors.New("openaitts: sink must not be nil")
	}

	cfg := &config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Synthesizer{
		client: client,
		sink:   sink,
		model:  cfg.model,
		voice:  cfg.voice,
	}, nil
}

// Speak implements [speech.Synthesizer]. The response body is streamed to
// the sink in fixed-size frames as it arrives rather than buffered whole.
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(s.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return fmt.Errorf("openaitts: speech request: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, sinkChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := s.sink.SendAudio(chunk); sendErr != nil {
				return fmt.Errorf("openaitts: send audio: %w", sendErr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openaitts: read audio stream: %w", err)
		}
	}
}
