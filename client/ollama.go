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

// OllamaConfig configures the local-model-server adapter. APIBase is
// required; ChatEndpoint defaults to /api/chat. APIKey, when set, is sent
// verbatim in the Authorization header (falls back to OLLAMA_API_KEY).
type OllamaConfig struct {
	APIBase      string
	APIKey       string
	ChatEndpoint string
	Model        string
	Models       []ModelConfig
	Logger       *slog.Logger
}

// OllamaClient talks to an Ollama-compatible chat server. Streaming replies
// arrive as newline-delimited JSON chunks over the raw response body.
type OllamaClient struct {
	config OllamaConfig
	model  *Model
	http   *httpClient
	logger *slog.Logger
}

// NewOllamaClient creates an Ollama adapter. There is no static catalog:
// the model comes from user config.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.APIBase == "" {
		return nil, &RequestBuildError{ClientError{Message: "missing api_base"}}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OLLAMA_API_KEY")
	}
	if cfg.ChatEndpoint == "" {
		cfg.ChatEndpoint = "/api/chat"
	}
	model := resolveModel(ProviderOllama, cfg.Model, nil, cfg.Models)
	if model.Name == "" {
		return nil, &RequestBuildError{ClientError{Message: "missing model name"}}
	}
	return &OllamaClient{
		config: cfg,
		model:  model,
		http:   newHTTPClient(),
		logger: resolveLogger(cfg.Logger),
	}, nil
}

func (c *OllamaClient) Name() string { return ProviderOllama }

func (c *OllamaClient) Model() *Model { return c.model }

// SendMessage issues a single-shot request and extracts the answer text.
func (c *OllamaClient) SendMessage(ctx context.Context, data SendData) (string, error) {
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
		return "", ollamaCatchError(body, resp.StatusCode)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Message == nil {
		return "", &MalformedResponseError{ClientError{
			Message: fmt.Sprintf("Invalid response data: %s", body),
			Cause:   err,
		}}
	}
	return parsed.Message.Content, nil
}

// SendMessageStreaming issues a streaming request, consuming the reply as
// newline-delimited JSON chunks. Every chunk must carry the done flag; any
// chunk that fails to parse terminates the stream.
func (c *OllamaClient) SendMessageStreaming(ctx context.Context, data SendData, handler ReplyHandler) error {
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
		return ollamaCatchError(body, resp.StatusCode)
	}

	return jsonStream(resp.Body, func(chunk []byte) error {
		var parsed ollamaResponse
		if err := json.Unmarshal(chunk, &parsed); err != nil {
			return &StreamProtocolError{ClientError{Message: "unparseable stream frame", Cause: err}}
		}
		if parsed.Done == nil {
			return &StreamProtocolError{ClientError{
				Message: fmt.Sprintf("Invalid response data: %s", chunk),
			}}
		}
		if parsed.Message != nil {
			return handler.Text(parsed.Message.Content)
		}
		return nil
	})
}

func (c *OllamaClient) buildRequest(ctx context.Context, data SendData) (*http.Request, error) {
	body, err := buildOllamaBody(data, c.model)
	if err != nil {
		return nil, err
	}
	c.model.MergeExtraFields(body)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &RequestBuildError{ClientError{Message: "failed to encode request body", Cause: err}}
	}

	endpoint := c.config.APIBase + c.config.ChatEndpoint
	logRequest(c.logger, ProviderOllama, endpoint, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &RequestBuildError{ClientError{Message: "failed to create request", Cause: err}}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", c.config.APIKey)
	}
	return req, nil
}

// buildOllamaBody normalizes the message list into the Ollama chat schema.
// Mixed content flattens to joined text plus an images array of raw base64
// payloads; network images are rejected outright. The stream flag is always
// present because the server defaults to streaming.
func buildOllamaBody(data SendData, model *Model) (map[string]any, error) {
	var networkImageURLs []string
	wireMessages := make([]any, 0, len(data.Messages))
	for _, msg := range data.Messages {
		if msg.Content.Parts == nil {
			wireMessages = append(wireMessages, map[string]any{
				"role":    msg.Role,
				"content": msg.Content.Text,
			})
			continue
		}
		var texts []string
		images := []string{}
		for _, part := range msg.Content.Parts {
			switch part.Type {
			case ContentTypeText:
				texts = append(texts, part.Text)
			case ContentTypeImageURL:
				if _, imageData, ok := splitDataURI(part.ImageURL.URL); ok {
					images = append(images, imageData)
				} else {
					networkImageURLs = append(networkImageURLs, part.ImageURL.URL)
				}
			}
		}
		wireMessages = append(wireMessages, map[string]any{
			"role":    msg.Role,
			"content": strings.Join(texts, "\n\n"),
			"images":  images,
		})
	}

	if len(networkImageURLs) > 0 {
		return nil, &RequestBuildError{ClientError{
			Message: fmt.Sprintf("the model does not support network images: %s", strings.Join(networkImageURLs, ", ")),
		}}
	}

	options := map[string]any{}
	if model.MaxOutputTokens != nil {
		options["num_predict"] = *model.MaxOutputTokens
	}
	if data.Temperature != nil {
		options["temperature"] = *data.Temperature
	}
	if data.TopP != nil {
		options["top_p"] = *data.TopP
	}

	return map[string]any{
		"model":    model.Name,
		"messages": wireMessages,
		"stream":   data.Stream,
		"options":  options,
	}, nil
}

type ollamaResponse struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Done *bool `json:"done"`
}

// ollamaCatchError classifies the {"error": "..."} envelope.
func ollamaCatchError(data []byte, status int) error {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		return &ProviderError{
			ClientError: ClientError{Message: envelope.Error},
			Provider:    ProviderOllama,
			Status:      status,
		}
	}
	return invalidResponseError(status, data)
}
