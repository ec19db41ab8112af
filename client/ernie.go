package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	ernieAPIBase  = "https://aip.baidubce.com/rpc/2.0/ai_custom/v1"
	ernieTokenURL = "https://aip.baidubce.com/oauth/2.0/token"
)

// ernieModel maps a model name to its chat endpoint path and token limits.
type ernieModel struct {
	name            string
	chatEndpoint    string
	maxInputTokens  int
	maxOutputTokens int
}

// https://cloud.baidu.com/doc/WENXINWORKSHOP/s/clntwmv7t
var ernieModels = []ernieModel{
	{"ernie-4.0-8k", "/wenxinworkshop/chat/completions_pro", 5120, 2048},
	{"ernie-3.5-8k", "/wenxinworkshop/chat/ernie-3.5-8k-0205", 5120, 2048},
	{"ernie-3.5-4k", "/wenxinworkshop/chat/ernie-3.5-4k-0205", 2048, 2048},
	{"ernie-speed-8k", "/wenxinworkshop/chat/ernie_speed", 7168, 2048},
	{"ernie-speed-128k", "/wenxinworkshop/chat/ernie-speed-128k", 124000, 4096},
	{"ernie-lite-8k", "/wenxinworkshop/chat/ernie-lite-8k", 7168, 2048},
	{"ernie-tiny-8k", "/wenxinworkshop/chat/ernie_tiny-8k", 7168, 2048},
}

func ernieCatalog() []Model {
	catalog := make([]Model, 0, len(ernieModels))
	for _, m := range ernieModels {
		catalog = append(catalog, Model{
			Name:            m.name,
			MaxInputTokens:  intp(m.maxInputTokens),
			MaxOutputTokens: intp(m.maxOutputTokens),
			Capabilities:    "text",
		})
	}
	return catalog
}

// ErnieConfig configures the ERNIE adapter. APIKey and SecretKey fall back
// to the ERNIE_API_KEY and ERNIE_SECRET_KEY environment variables. APIBase
// and TokenURL default to the public Baidu endpoints.
type ErnieConfig struct {
	APIBase   string
	TokenURL  string
	APIKey    string
	SecretKey string
	Model     string
	Models    []ModelConfig
	Logger    *slog.Logger
}

// ErnieClient talks to the Baidu ERNIE chat API. Its OAuth access token is
// minted through a client-credentials exchange and cached process-wide.
type ErnieClient struct {
	config ErnieConfig
	model  *Model
	http   *httpClient
	logger *slog.Logger
	token  *tokenCache
}

// NewErnieClient creates an ERNIE adapter.
func NewErnieClient(cfg ErnieConfig) (*ErnieClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ERNIE_API_KEY")
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = os.Getenv("ERNIE_SECRET_KEY")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = ernieAPIBase
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = ernieTokenURL
	}
	return &ErnieClient{
		config: cfg,
		model:  resolveModel(ProviderErnie, cfg.Model, ernieCatalog(), cfg.Models),
		http:   newHTTPClient(),
		logger: resolveLogger(cfg.Logger),
		token:  &ernieAccessToken,
	}, nil
}

func (c *ErnieClient) Name() string { return ProviderErnie }

func (c *ErnieClient) Model() *Model { return c.model }

// SendMessage issues a single-shot request. ERNIE delivers its error
// envelope with HTTP 200, so classification always precedes extraction.
func (c *ErnieClient) SendMessage(ctx context.Context, data SendData) (string, error) {
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
	if err := c.catchError(body, resp.StatusCode); err != nil {
		return "", err
	}

	var parsed ernieResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Result == nil {
		return "", &MalformedResponseError{ClientError{
			Message: fmt.Sprintf("Unexpected response %s", body),
			Cause:   err,
		}}
	}
	return *parsed.Result, nil
}

// SendMessageStreaming issues a streaming request. The reply normally
// arrives as SSE; servers that mislabel the content type fall back to a
// "data: "-prefixed plain-text parse, and a JSON content type carries the
// error envelope instead.
func (c *ErnieClient) SendMessageStreaming(ctx context.Context, data SendData, handler ReplyHandler) error {
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

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK || !strings.Contains(ct, "text/event-stream") {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{ClientError{Message: "failed to read response", Cause: err}}
		}
		switch {
		case strings.Contains(ct, "application/json"):
			if err := c.catchError(body, resp.StatusCode); err != nil {
				return err
			}
			return &StreamProtocolError{ClientError{
				Message: fmt.Sprintf("request failed, status: %d", resp.StatusCode),
			}}
		case resp.StatusCode == http.StatusOK:
			return c.forwardPlainText(body, handler)
		default:
			return invalidResponseError(resp.StatusCode, body)
		}
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

		var chunk ernieResponse
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			return &StreamProtocolError{ClientError{Message: "unparseable stream frame", Cause: err}}
		}
		if chunk.Result != nil {
			if err := handler.Text(*chunk.Result); err != nil {
				return err
			}
		}
	}
}

// forwardPlainText handles the mislabeled-stream fallback: a text body of
// "data: "-prefixed lines, each carrying one JSON chunk.
func (c *ErnieClient) forwardPlainText(body []byte, handler ReplyHandler) error {
	text := string(body)
	if !strings.HasPrefix(text, "data: ") {
		return &StreamProtocolError{ClientError{
			Message: fmt.Sprintf("Invalid response data: %s", text),
		}}
	}
	for _, line := range strings.Split(text, "\n") {
		payload, found := strings.CutPrefix(line, "data: ")
		if !found || payload == "" {
			continue
		}
		var chunk ernieResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return &StreamProtocolError{ClientError{Message: "unparseable stream frame", Cause: err}}
		}
		if chunk.Result != nil {
			if err := handler.Text(*chunk.Result); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *ErnieClient) buildRequest(ctx context.Context, data SendData) (*http.Request, error) {
	chatEndpoint, err := c.chatEndpoint()
	if err != nil {
		return nil, err
	}

	accessToken, err := c.prepareAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body := buildErnieBody(data, c.model)
	c.model.MergeExtraFields(body)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &RequestBuildError{ClientError{Message: "failed to encode request body", Cause: err}}
	}

	endpoint := fmt.Sprintf("%s%s?access_token=%s", c.config.APIBase, chatEndpoint, url.QueryEscape(accessToken))
	logRequest(c.logger, ProviderErnie, endpoint, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &RequestBuildError{ClientError{Message: "failed to create request", Cause: err}}
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// chatEndpoint looks up the model's path segment in the static table.
func (c *ErnieClient) chatEndpoint() (string, error) {
	for _, m := range ernieModels {
		if m.name == c.model.Name {
			return m.chatEndpoint, nil
		}
	}
	return "", &RequestBuildError{ClientError{
		Message: fmt.Sprintf("unknown model %q", c.model.ID()),
	}}
}

// prepareAccessToken returns a valid OAuth access token, minting one through
// the client-credentials exchange when the cache is empty or expired.
func (c *ErnieClient) prepareAccessToken(ctx context.Context) (string, error) {
	return c.token.Get(ctx, func(ctx context.Context) (string, time.Time, error) {
		if c.config.APIKey == "" {
			return "", time.Time{}, &AuthError{ClientError{Message: "missing api_key"}}
		}
		if c.config.SecretKey == "" {
			return "", time.Time{}, &AuthError{ClientError{Message: "missing secret_key"}}
		}
		return c.fetchAccessToken(ctx)
	})
}

func (c *ErnieClient) fetchAccessToken(ctx context.Context) (string, time.Time, error) {
	endpoint := fmt.Sprintf("%s?grant_type=client_credentials&client_id=%s&client_secret=%s",
		c.config.TokenURL, url.QueryEscape(c.config.APIKey), url.QueryEscape(c.config.SecretKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", time.Time{}, &AuthError{ClientError{Message: "failed to fetch access token", Cause: err}}
	}
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
	if parsed.AccessToken == "" {
		message := parsed.ErrorDescription
		if message == "" {
			message = "invalid access token response"
		}
		return "", time.Time{}, &AuthError{ClientError{
			Message: fmt.Sprintf("failed to fetch access token: %s", message),
		}}
	}

	var expiresAt time.Time
	if parsed.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	return parsed.AccessToken, expiresAt, nil
}

// buildErnieBody normalizes the message list into the ERNIE schema. The wire
// format has no system slot, so the system turn is patched into the first
// user message.
func buildErnieBody(data SendData, model *Model) map[string]any {
	messages := append([]Message(nil), data.Messages...)
	PatchSystemMessage(&messages)

	body := map[string]any{
		"messages": messages,
	}
	if data.Temperature != nil {
		body["temperature"] = *data.Temperature
	}
	if data.TopP != nil {
		body["top_p"] = *data.TopP
	}
	if model.MaxOutputTokens != nil {
		body["max_output_tokens"] = *model.MaxOutputTokens
	}
	if data.Stream {
		body["stream"] = true
	}
	return body
}

type ernieResponse struct {
	Result    *string `json:"result"`
	ErrorCode *int64  `json:"error_code"`
	ErrorMsg  string  `json:"error_msg"`
}

// catchError classifies the flat {"error_code","error_msg"} envelope.
// Codes 110 and 111 mean the access token is invalid or expired, so the
// cached token is cleared for the next call.
func (c *ErnieClient) catchError(data []byte, status int) error {
	var envelope ernieResponse
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.ErrorCode == nil {
		if status != http.StatusOK {
			return invalidResponseError(status, data)
		}
		return nil
	}

	code := *envelope.ErrorCode
	message := fmt.Sprintf("%s (error_code: %d)", envelope.ErrorMsg, code)
	if code == 110 || code == 111 {
		c.token.Invalidate()
		return &AuthError{ClientError{Message: message}}
	}
	return &ProviderError{
		ClientError: ClientError{Message: message},
		Provider:    ProviderErnie,
		Kind:        fmt.Sprintf("%d", code),
		Status:      status,
	}
}
