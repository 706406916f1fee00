// Package llm defines the language-model capability used for transcript
// correction. The interface is deliberately small: the navigation engine only
// ever needs a single non-streaming completion per utterance.
package llm

import "context"

// Message is one turn of a conversation sent to the model.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	// SystemPrompt, when non-empty, is prepended as a system message.
	SystemPrompt string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Temperature controls sampling randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// Provider is a language-model backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Complete performs one completion and returns the assistant's text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
