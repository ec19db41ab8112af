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
	"path/filepath"
	"strings"
	"time"
)

const vertexAITokenURL = "https://oauth2.googleapis.com/token"

// https://cloud.google.com/vertex-ai/generative-ai/docs/learn/models
var vertexAIModels = []Model{
	{Name: "gemini-1.0-pro", MaxInputTokens: intp(24568), Capabilities: "text"},
	{Name: "gemini-1.0-pro-vision", MaxInputTokens: intp(14336), Capabilities: "text,vision"},
	{Name: "gemini-1.5-pro-preview-0409", MaxInputTokens: intp(1000000), Capabilities: "text,vision"},
}

// VertexAIConfig configures the Vertex AI adapter. APIBase is the regional
// publisher-model prefix and is required. ADCFile overrides the default
// application-default-credentials path; BlockThreshold, when set, is applied
// to every harm category.
type VertexAIConfig struct {
	APIBase        string
	TokenURL       string
	ADCFile        string
	BlockThreshold string
	Model          string
	Models         []ModelConfig
	Logger         *slog.Logger
}

// VertexAIClient talks to the Vertex AI generateContent API. Its bearer
// token is minted from local default credentials via a refresh-token
// exchange and cached process-wide until expiry.
type VertexAIClient struct {
	config VertexAIConfig
	model  *Model
	http   *httpClient
	logger *slog.Logger
	token  *tokenCache
}

// NewVertexAIClient creates a Vertex AI adapter.
func NewVertexAIClient(cfg VertexAIConfig) (*VertexAIClient, error) {
	if cfg.APIBase == "" {
		return nil, &RequestBuildError{ClientError{Message: "missing api_base"}}
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = vertexAITokenURL
	}
	return &VertexAIClient{
		config: cfg,
		model:  resolveModel(ProviderVertexAI, cfg.Model, vertexAIModels, cfg.Models),
		http:   newHTTPClient(),
		logger: resolveLogger(cfg.Logger),
		token:  &vertexAIAccessToken,
	}, nil
}

func (c *VertexAIClient) Name() string { return ProviderVertexAI }

func (c *VertexAIClient) Model() *Model { return c.model }

// SendMessage issues a single-shot request and extracts the answer text.
func (c *VertexAIClient) SendMessage(ctx context.Context, data SendData) (string, error) {
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
		return "", c.catchError(body, resp.StatusCode)
	}
	return extractVertexAIText(body)
}

// SendMessageStreaming issues a streaming request. Streaming is selected by
// the endpoint verb; the reply is a JSON array streamed over the raw body,
// consumed value by value.
func (c *VertexAIClient) SendMessageStreaming(ctx context.Context, data SendData, handler ReplyHandler) error {
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
		return c.catchError(body, resp.StatusCode)
	}

	return jsonStream(resp.Body, func(chunk []byte) error {
		text, err := extractVertexAIText(chunk)
		if err != nil {
			return err
		}
		return handler.Text(text)
	})
}

func (c *VertexAIClient) buildRequest(ctx context.Context, data SendData) (*http.Request, error) {
	verb := "generateContent"
	if data.Stream {
		verb = "streamGenerateContent"
	}

	accessToken, err := c.prepareAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := buildVertexAIBody(data, c.model, c.config.BlockThreshold)
	if err != nil {
		return nil, err
	}
	c.model.MergeExtraFields(body)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &RequestBuildError{ClientError{Message: "failed to encode request body", Cause: err}}
	}

	endpoint := fmt.Sprintf("%s/%s:%s", c.config.APIBase, c.model.Name, verb)
	logRequest(c.logger, ProviderVertexAI, endpoint, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &RequestBuildError{ClientError{Message: "failed to create request", Cause: err}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req, nil
}

// prepareAccessToken returns a valid bearer token, minting one from the
// local default credentials when the cache is empty or expired.
func (c *VertexAIClient) prepareAccessToken(ctx context.Context) (string, error) {
	return c.token.Get(ctx, c.fetchAccessToken)
}

func (c *VertexAIClient) fetchAccessToken(ctx context.Context) (string, time.Time, error) {
	credentials, err := loadADC(c.config.ADCFile)
	if err != nil {
		return "", time.Time{}, err
	}

	payload, err := json.Marshal(credentials)
	if err != nil {
		return "", time.Time{}, &AuthError{ClientError{Message: "failed to fetch access token", Cause: err}}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, &AuthError{ClientError{Message: "failed to fetch access token", Cause: err}}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", time.Time{}, &AuthError{ClientError{Message: "failed to fetch access token", Cause: err}}
	}
	defer resp.Body.Close()

	var parsed struct {
		AccessToken      string `json:"access_token"`
		ExpiresIn        int64  `json:"expires_in"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", time.Time{}, &AuthError{ClientError{Message: "failed to fetch access token", Cause: err}}
	}
	if parsed.AccessToken == "" || parsed.ExpiresIn <= 0 {
		message := parsed.ErrorDescription
		if message == "" {
			message = "invalid access token response"
		}
		return "", time.Time{}, &AuthError{ClientError{
			Message: fmt.Sprintf("failed to fetch access token: %s", message),
		}}
	}

	expiresAt := time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return parsed.AccessToken, expiresAt, nil
}

// loadADC reads the application default credentials file and shapes the
// refresh-token grant request. The core never writes this file.
func loadADC(file string) (map[string]string, error) {
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, &AuthError{ClientError{
				Message: "no application_default_credentials.json",
				Cause:   err,
			}}
		}
		file = filepath.Join(home, ".config", "gcloud", "application_default_credentials.json")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &AuthError{ClientError{Message: "no application_default_credentials.json", Cause: err}}
	}

	var parsed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil ||
		parsed.ClientID == "" || parsed.ClientSecret == "" || parsed.RefreshToken == "" {
		return nil, &AuthError{ClientError{
			Message: "invalid application_default_credentials.json",
			Cause:   err,
		}}
	}

	return map[string]string{
		"client_id":     parsed.ClientID,
		"client_secret": parsed.ClientSecret,
		"refresh_token": parsed.RefreshToken,
		"grant_type":    "refresh_token",
	}, nil
}

// buildVertexAIBody normalizes the message list into the generateContent
// schema. The wire format has no system slot, so the system turn is patched
// into the first user message; non-user roles map to "model".
func buildVertexAIBody(data SendData, model *Model, blockThreshold string) (map[string]any, error) {
	messages := append([]Message(nil), data.Messages...)
	PatchSystemMessage(&messages)

	var networkImageURLs []string
	contents := make([]any, 0, len(messages))
	for _, msg := range messages {
		role := "model"
		if msg.Role == RoleUser {
			role = "user"
		}
		var parts []any
		if msg.Content.Parts == nil {
			parts = append(parts, map[string]any{"text": msg.Content.Text})
		} else {
			for _, part := range msg.Content.Parts {
				switch part.Type {
				case ContentTypeText:
					parts = append(parts, map[string]any{"text": part.Text})
				case ContentTypeImageURL:
					if mimeType, imageData, ok := splitDataURI(part.ImageURL.URL); ok {
						parts = append(parts, map[string]any{
							"inline_data": map[string]any{
								"mime_type": mimeType,
								"data":      imageData,
							},
						})
					} else {
						networkImageURLs = append(networkImageURLs, part.ImageURL.URL)
					}
				}
			}
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}

	if len(networkImageURLs) > 0 {
		return nil, &RequestBuildError{ClientError{
			Message: fmt.Sprintf("the model does not support network images: %s", strings.Join(networkImageURLs, ", ")),
		}}
	}

	generationConfig := map[string]any{}
	if model.MaxOutputTokens != nil {
		generationConfig["maxOutputTokens"] = *model.MaxOutputTokens
	}
	if data.Temperature != nil {
		generationConfig["temperature"] = *data.Temperature
	}
	if data.TopP != nil {
		generationConfig["topP"] = *data.TopP
	}

	body := map[string]any{
		"contents":         contents,
		"generationConfig": generationConfig,
	}
	if blockThreshold != "" {
		body["safetySettings"] = []any{
			map[string]any{"category": "HARM_CATEGORY_HARASSMENT", "threshold": blockThreshold},
			map[string]any{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": blockThreshold},
			map[string]any{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": blockThreshold},
			map[string]any{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": blockThreshold},
		}
	}
	return body, nil
}

type vertexAIResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// extractVertexAIText pulls the answer text from a response or chunk. A
// payload with no text but a SAFETY signal is a distinct provider condition.
func extractVertexAIText(data []byte) (string, error) {
	var parsed vertexAIResponse
	if err := json.Unmarshal(data, &parsed); err == nil &&
		len(parsed.Candidates) > 0 &&
		len(parsed.Candidates[0].Content.Parts) > 0 &&
		parsed.Candidates[0].Content.Parts[0].Text != nil {
		return *parsed.Candidates[0].Content.Parts[0].Text, nil
	}

	blockReason := parsed.PromptFeedback.BlockReason
	if blockReason == "" && len(parsed.Candidates) > 0 {
		blockReason = parsed.Candidates[0].FinishReason
	}
	if blockReason == "SAFETY" {
		return "", &ProviderError{
			ClientError: ClientError{
				Message: "blocked by safety settings, consider adjusting block_threshold in the client configuration",
			},
			Provider: ProviderVertexAI,
			Kind:     "SAFETY",
		}
	}
	return "", &MalformedResponseError{ClientError{
		Message: fmt.Sprintf("Invalid response data: %s", data),
	}}
}

// catchError classifies the array-wrapped [{"error":{"status","message"}}]
// envelope. An UNAUTHENTICATED status clears the cached token so the next
// call re-fetches.
func (c *VertexAIClient) catchError(data []byte, status int) error {
	var envelope []struct {
		Error *struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope) > 0 &&
		envelope[0].Error != nil && envelope[0].Error.Status != "" && envelope[0].Error.Message != "" {
		errStatus := envelope[0].Error.Status
		message := fmt.Sprintf("%s (status: %s)", envelope[0].Error.Message, errStatus)
		if errStatus == "UNAUTHENTICATED" {
			c.token.Invalidate()
			return &AuthError{ClientError{Message: message}}
		}
		return &ProviderError{
			ClientError: ClientError{Message: message},
			Provider:    ProviderVertexAI,
			Kind:        errStatus,
			Status:      status,
		}
	}
	return invalidResponseError(status, data)
}
