// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/darasahub/voicenav/pkg/speech"
)

var _ speech.Capture = (*NativeProvider)(nil)

// NativeProvider implements [speech.Capture] using the whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. The model is loaded
// once at startup and shared across all sessions.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	// Same silence-detection parameters as the HTTP provider.
	sampleRate         int
	silenceThresholdMs int
	maxUtteranceMs     int
	noSpeechTimeout    time.Duration
}

// NativeOption is a functional option for configuring a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "sw"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the audio sample rate in Hz. This must match the
// PCM data delivered via SendAudio. Defaults to 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.sampleRate = rate }
}

// WithNativeSilenceThresholdMs sets the consecutive-silence duration (ms)
// that ends the utterance. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.silenceThresholdMs = ms }
}

// WithNativeMaxUtteranceMs caps buffered speech before a forced flush.
// Defaults to 10 000 ms.
func WithNativeMaxUtteranceMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.maxUtteranceMs = ms }
}

// WithNativeNoSpeechTimeout sets how long a session waits for the first
// speech chunk before ending with a no-speech error. Defaults to 8 seconds.
func WithNativeNoSpeechTimeout(d time.Duration) NativeOption {
	return func(p *NativeProvider) { p.noSpeechTimeout = d }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent sessions. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:              model,
		language:           defaultLanguage,
		sampleRate:         defaultSampleRate,
		silenceThresholdMs: defaultSilenceThresholdMs,
		maxUtteranceMs:     defaultMaxUtteranceMs,
		noSpeechTimeout:    defaultNoSpeechTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Supported implements [speech.Capture].
func (p *NativeProvider) Supported() bool { return p.model != nil }

// Start implements [speech.Capture]. Each session creates its own
// whisper.cpp context from the shared model at inference time, so multiple
// sessions can run concurrently without interference.
func (p *NativeProvider) Start(ctx context.Context, cfg speech.Config) (speech.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

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

	s := newUtterance(params, p.infer)
	go s.processLoop(ctx)
	return s, nil
}

// infer converts the buffered PCM audio to float32, runs whisper.cpp
// inference using a fresh context, and returns the concatenated text.
func (p *NativeProvider) infer(_ context.Context, pcm []byte, params utteranceParams) (string, error) {
	samples := pcmToFloat32Mono(pcm, params.channels)

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(params.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", params.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// pcmToFloat32Mono converts 16-bit signed little-endian PCM to the float32
// mono samples whisper.cpp expects, averaging channels when there are more
// than one.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	totalSamples := len(pcm) / 2
	frames := totalSamples / channels
	out := make([]float32, 0, frames)

	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			i := (f*channels + c) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
			sum += float32(sample) / 32768.0
		}
		out = append(out, sum/float32(channels))
	}
	return out
}
