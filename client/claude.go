package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

const claudeAPIBase = "https://api.anthropic.com/v1/messages"

// https://docs.anthropic.com/claude/docs/models-overview
var claudeModels = []Model{
	{Name: "claude-3-opus-20240229", MaxInputTokens: intp(200000), Capabilities: "text,vision"},
	{Name: "claude-3-sonnet-20240229", MaxInputTokens: intp(200000), Capabilities: "text,vision"},
	{Name: "claude-3-haiku-20240307", MaxInputTokens: intp(200000), Capabilities: "text,vision"},
}

// ClaudeConfig configures the Claude adapter. APIKey falls back to the
// CLAUDE_API_KEY environment variable.
type ClaudeConfig struct {
	APIBase string
	APIKey  string
	Model   string
	Models  []ModelConfig
	Logger  *slog.Logger
}

// ClaudeClient talks to the Anthropic Messages API.
type ClaudeClient struct {
	config ClaudeConfig
	model  *Model
	http   *httpClient
	logger *slog.Logger
}

// NewClaudeClient creates a Claude adapter.
func NewClaudeClient(cfg ClaudeConfig) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("CLAUDE_API_KEY")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = claudeAPIBase
	}
	return &ClaudeClient{
		config: cfg,
		model:  resolveModel(ProviderClaude, cfg.Model, claudeModels, cfg.Models),
		http:   newHTTPClient(),
		logger: resolveLogger(cfg.Logger),
	}, nil
}

func (c *ClaudeClient) Name() string { return ProviderClaude }

func (c *ClaudeClient) Model() *Model { return c.model }

// SendMessage issues a single-shot request and extracts the answer text.
func (c *ClaudeClient) SendMessage(ctx context.Context, data SendData) (string, error) {
	data.Stream = false
	req, err := c.buildRequest(ctx, data)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &TransportError{ClientError{Message: "request failed", Cause: err}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{ClientError{Message: "failed to read response", Cause: err}}
	}
	if resp.StatusCode != http.StatusOK {
		return "", claudeCatchError(body, resp.StatusCode)
	}

	var parsed claudeResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Content) == 0 || parsed.Content[0].Text == nil {
		return "", &MalformedResponseError{ClientError{
			Message: fmt.Sprintf("Invalid response data: %s", body),
			Cause:   err,
		}}
	}
	return *parsed.Content[0].Text, nil
}

// SendMessageStreaming issues a streaming request, forwarding each text
// delta to handler as it arrives.
func (c *ClaudeClient) SendMessageStreaming(ctx context.Context, data SendData, handler ReplyHandler) error {
	data.Stream = true
	req, err := c.buildRequest(ctx, data)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{ClientError{Message: "request failed", Cause: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{ClientError{Message: "failed to read error response", Cause: err}}
		}
		return claudeCatchError(body, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		body, _ := io.ReadAll(resp.Body)
		return &StreamProtocolError{ClientError{
			Message: fmt.Sprintf("the API server should return data as 'text/event-stream', got %q: %s", ct, body),
		}}
	}

	reader := newSSEReader(resp.Body)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &StreamProtocolError{ClientError{Message: "stream read error", Cause: err}}
		}

		var chunk claudeStreamEvent
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			return &StreamProtocolError{ClientError{Message: "unparseable stream frame", Cause: err}}
		}
		if chunk.Type == "content_block_delta" && chunk.Delta.Type == "text_delta" {
			if err := handler.Text(chunk.Delta.Text); err != nil {
				return err
			}
		}
	}
}

func (c *ClaudeClient) buildRequest(ctx context.Context, data SendData) (*http.Request, error) {
	body, err := buildClaudeBody(data, c.model)
	if err != nil {
		return nil, err
	}
	c.model.MergeExtraFields(body)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &RequestBuildError{ClientError{Message: "failed to encode request body", Cause: err}}
	}
	logRequest(c.logger, ProviderClaude, c.config.APIBase, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIBase, bytes.NewReader(payload))
	if err != nil {
		return nil, &RequestBuildError{ClientError{Message: "failed to create request", Cause: err}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", "2023-06-01")
	if c.config.APIKey != "" {
		req.Header.Set("x-api-key", c.config.APIKey)
	}
	return req, nil
}

// buildClaudeBody normalizes the message list into the Messages API schema.
// The system turn moves to the dedicated system field; inline images become
// base64 source objects; network images are rejected outright.
func buildClaudeBody(data SendData, model *Model) (map[string]any, error) {
	messages := append([]Message(nil), data.Messages...)
	system, hasSystem := ExtractSystemMessage(&messages)

	var networkImageURLs []string
	wireMessages := make([]any, 0, len(messages))
	for _, msg := range messages {
		var content []any
		if msg.Content.Parts == nil {
			content = append(content, map[string]any{"type": "text", "text": msg.Content.Text})
		} else {
			for _, part := range msg.Content.Parts {
				switch part.Type {
				case ContentTypeText:
					content = append(content, map[string]any{"type": "text", "text": part.Text})
				case ContentTypeImageURL:
					if mimeType, imageData, ok := splitDataURI(part.ImageURL.URL); ok {
						content = append(content, map[string]any{
							"type": "image",
							"source": map[string]any{
								"type":       "base64",
								"media_type": mimeType,
								"data":       imageData,
							},
						})
					} else {
						networkImageURLs = append(networkImageURLs, part.ImageURL.URL)
					}
				}
			}
		}
		wireMessages = append(wireMessages, map[string]any{"role": msg.Role, "content": content})
	}

	if len(networkImageURLs) > 0 {
		return nil, &RequestBuildError{ClientError{
			Message: fmt.Sprintf("the model does not support network images: %s", strings.Join(networkImageURLs, ", ")),
		}}
	}

	maxTokens := 4096
	if model.MaxOutputTokens != nil {
		maxTokens = *model.MaxOutputTokens
	}

	body := map[string]any{
		"model":      model.Name,
		"max_tokens": maxTokens,
		"messages":   wireMessages,
	}
	if hasSystem {
		body["system"] = system
	}
	if data.Temperature != nil {
		body["temperature"] = *data.Temperature
	}
	if data.TopP != nil {
		body["top_p"] = *data.TopP
	}
	if data.Stream {
		body["stream"] = true
	}
	return body, nil
}

type claudeResponse struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
}

type claudeStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// claudeCatchError classifies the {"error":{"type","message"}} envelope.
func claudeCatchError(data []byte, status int) error {
	var envelope struct {
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil &&
		envelope.Error != nil && envelope.Error.Type != "" && envelope.Error.Message != "" {
		return &ProviderError{
			ClientError: ClientError{
				Message: fmt.Sprintf("%s (type: %s)", envelope.Error.Message, envelope.Error.Type),
			},
			Provider: ProviderClaude,
			Kind:     envelope.Error.Type,
			Status:   status,
		}
	}
	return invalidResponseError(status, data)
}
