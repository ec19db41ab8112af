package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Client is the contract every provider adapter satisfies.
type Client interface {
	// Name returns the provider tag, e.g. "claude" or "ernie".
	Name() string

	// Model returns the model descriptor this client was built for.
	Model() *Model

	// SendMessage issues a single-shot request and returns the full answer
	// text.
	SendMessage(ctx context.Context, data SendData) (string, error)

	// SendMessageStreaming issues a streaming request, forwarding text
	// fragments to handler in arrival order. A handler failure is the
	// stream's terminal error.
	SendMessageStreaming(ctx context.Context, data SendData, handler ReplyHandler) error
}

// ReplyHandler accepts incremental text fragments from a streaming response.
type ReplyHandler interface {
	Text(fragment string) error
}

// ReplyHandlerFunc adapts a function to the ReplyHandler interface.
type ReplyHandlerFunc func(fragment string) error

func (f ReplyHandlerFunc) Text(fragment string) error { return f(fragment) }

// Provider tags accepted by NewClient.
const (
	ProviderClaude   = "claude"
	ProviderErnie    = "ernie"
	ProviderOllama   = "ollama"
	ProviderVertexAI = "vertexai"
)

// Config selects a provider adapter and carries its settings.
type Config struct {
	Provider string
	Claude   ClaudeConfig
	Ernie    ErnieConfig
	Ollama   OllamaConfig
	VertexAI VertexAIConfig
}

// NewClient builds the adapter registered for cfg.Provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderClaude:
		return NewClaudeClient(cfg.Claude)
	case ProviderErnie:
		return NewErnieClient(cfg.Ernie)
	case ProviderOllama:
		return NewOllamaClient(cfg.Ollama)
	case ProviderVertexAI:
		return NewVertexAIClient(cfg.VertexAI)
	default:
		return nil, &RequestBuildError{ClientError{
			Message: fmt.Sprintf("unknown provider %q", cfg.Provider),
		}}
	}
}

// resolveLogger returns the configured logger or the process default.
func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// logRequest emits one debug line per outbound request and returns a
// correlation ID for follow-up log lines.
func logRequest(logger *slog.Logger, provider, url string, body []byte) string {
	id := uuid.NewString()
	logger.Debug("provider request",
		"provider", provider,
		"request_id", id,
		"url", url,
		"body", string(body),
	)
	return id
}
