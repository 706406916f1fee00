// Package transcript implements an optional language-model correction stage
// that runs on the raw utterance before fuzzy matching. Speech recognizers
// routinely garble curriculum topic names ("open photo synthesis" for the
// topic "Photosynthesis"); the corrector asks an [llm.Provider] to fix only
// words that look like misheard command phrases or topic titles.
//
// The stage degrades gracefully: on any failure — provider error, context
// cancellation, or an unparseable response — the original transcript is
// passed through unchanged so the matcher still gets a chance at it.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/darasahub/voicenav/pkg/llm"
)

const (
	defaultTemperature = 0.1
	defaultTimeout     = 2 * time.Second
)

// systemPromptTemplate is the base system prompt. The phrase list is appended
// at call time so each request carries the current command catalog.
const systemPromptTemplate = `You are a speech-transcript correction assistant for a voice-controlled education platform.

Your task: fix misheard words in the provided voice command transcript.

Rules:
- ONLY correct words that appear to be misheard versions of the known command phrases listed below.
- Do NOT invent commands, reorder words, or add words that were not spoken.
- Be conservative: if you are not confident a word was misheard, leave it unchanged.
- Lowercase output is fine; matching is case-insensitive.

Known command phrases:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"corrected": "<full corrected transcript>"}

If no correction is needed, return the input unchanged.`

type llmResponse struct {
	Corrected string `json:"corrected"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the LLM sampling temperature. Lower values produce
// more deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// WithTimeout bounds each correction call. A correction that misses the
// deadline is skipped, not waited for. Default: 2 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Corrector) {
		c.timeout = d
	}
}

// Corrector uses an [llm.Provider] to fix misheard command phrases in an
// utterance before it reaches the matcher. It is safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: construct the
// [llm.Provider] with the desired model rather than overriding per request.
type Corrector struct {
	llm         llm.Provider
	temperature float64
	timeout     time.Duration
}

// New returns a [Corrector] backed by the given provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct sends text to the LLM with the known phrases as context and
// returns the corrected transcript. phrases should be the spoken forms of
// the active catalog's commands.
//
// Correct never fails the utterance: on provider error, timeout, or an
// unparseable response it logs and returns text unchanged.
func (c *Corrector) Correct(ctx context.Context, text string, phrases []string) string {
	if text == "" || len(phrases) == 0 {
		return text
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(phrases),
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: "user", Content: text},
		},
	}

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		slog.Warn("transcript: correction skipped", "error", err)
		return text
	}

	corrected, err := parseResponse(resp)
	if err != nil || corrected == "" {
		slog.Warn("transcript: unparseable correction response", "error", err)
		return text
	}

	if !strings.EqualFold(corrected, text) {
		slog.Debug("transcript: corrected", "from", text, "to", corrected)
	}
	return corrected
}

func buildSystemPrompt(phrases []string) string {
	var sb strings.Builder
	for _, p := range phrases {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse unmarshals the LLM output, stripping the markdown code
// fences some models wrap around JSON.
func parseResponse(content string) (string, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", fmt.Errorf("transcript: parse correction response: %w", err)
	}
	return strings.TrimSpace(r.Corrected), nil
}

func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
