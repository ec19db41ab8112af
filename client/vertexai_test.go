package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestADCFile(t *testing.T) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "application_default_credentials.json")
	contents := `{"client_id":"test-id","client_secret":"test-secret","refresh_token":"test-refresh"}`
	require.NoError(t, os.WriteFile(file, []byte(contents), 0o600))
	return file
}

// vertexAITokenHandler serves the refresh-token exchange and counts hits.
func vertexAITokenHandler(t *testing.T, hits *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "POST", r.Method)

		body, _ := io.ReadAll(r.Body)
		var grant map[string]string
		require.NoError(t, json.Unmarshal(body, &grant))
		assert.Equal(t, "refresh_token", grant["grant_type"])
		assert.Equal(t, "test-refresh", grant["refresh_token"])

		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3599}`)
	}
}

func newTestVertexAIClient(t *testing.T, apiHandler, tokenHandler http.HandlerFunc) (*VertexAIClient, func()) {
	t.Helper()
	apiServer := httptest.NewServer(apiHandler)
	tokenServer := httptest.NewServer(tokenHandler)
	cli := &VertexAIClient{
		config: VertexAIConfig{
			APIBase:  apiServer.URL,
			TokenURL: tokenServer.URL,
			ADCFile:  writeTestADCFile(t),
		},
		model:  resolveModel(ProviderVertexAI, "gemini-1.0-pro", vertexAIModels, nil),
		http:   newHTTPClient(),
		logger: resolveLogger(nil),
		token:  &tokenCache{},
	}
	return cli, func() {
		apiServer.Close()
		tokenServer.Close()
	}
}

func TestVertexAIClientName(t *testing.T) {
	cli := &VertexAIClient{}
	assert.Equal(t, "vertexai", cli.Name())
}

func TestVertexAISendMessage(t *testing.T) {
	var tokenHits int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gemini-1.0-pro:generateContent", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]any
		require.NoError(t, json.Unmarshal(body, &reqBody))
		contents := reqBody["contents"].([]any)
		require.Len(t, contents, 1)
		first := contents[0].(map[string]any)
		assert.Equal(t, "user", first["role"])
		parts := first["parts"].([]any)
		assert.Equal(t, "You are helpful.\n\nHi", parts[0].(map[string]any)["text"])

		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"hello"}]},"finishReason":"STOP"}]}`)
	}

	cli, cleanup := newTestVertexAIClient(t, handler, vertexAITokenHandler(t, &tokenHits))
	defer cleanup()

	data := SendData{Messages: []Message{
		{Role: RoleSystem, Content: TextContent("You are helpful.")},
		{Role: RoleUser, Content: TextContent("Hi")},
	}}

	text, err := cli.SendMessage(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	// Second call reuses the cached token.
	_, err = cli.SendMessage(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenHits)
}

func TestVertexAISafetyBlocked(t *testing.T) {
	var tokenHits int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}

	cli, cleanup := newTestVertexAIClient(t, handler, vertexAITokenHandler(t, &tokenHits))
	defer cleanup()

	_, err := cli.SendMessage(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "SAFETY", provErr.Kind)
	assert.Contains(t, provErr.Error(), "block_threshold")
}

func TestVertexAIUnauthenticatedInvalidatesToken(t *testing.T) {
	var tokenHits, apiHits int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&apiHits, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `[{"error":{"status":"UNAUTHENTICATED","message":"Request had invalid authentication credentials."}}]`)
			return
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`)
	}

	cli, cleanup := newTestVertexAIClient(t, handler, vertexAITokenHandler(t, &tokenHits))
	defer cleanup()

	data := SendData{Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}}}

	_, err := cli.SendMessage(context.Background(), data)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Error(), "(status: UNAUTHENTICATED)")

	// Invalidation forces a fresh token exchange on the next call.
	text, err := cli.SendMessage(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, int32(2), tokenHits)
}

func TestVertexAIProviderError(t *testing.T) {
	var tokenHits int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `[{"error":{"status":"RESOURCE_EXHAUSTED","message":"Quota exceeded."}}]`)
	}

	cli, cleanup := newTestVertexAIClient(t, handler, vertexAITokenHandler(t, &tokenHits))
	defer cleanup()

	_, err := cli.SendMessage(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "Quota exceeded. (status: RESOURCE_EXHAUSTED)", provErr.Message)
	assert.Equal(t, "RESOURCE_EXHAUSTED", provErr.Kind)
}

func TestVertexAISendMessageStreaming(t *testing.T) {
	var tokenHits int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gemini-1.0-pro:streamGenerateContent", r.URL.Path)
		fmt.Fprint(w, `[{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]},`)
		fmt.Fprint(w, "\n")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"lo!"}]}}]}]`)
	}

	cli, cleanup := newTestVertexAIClient(t, handler, vertexAITokenHandler(t, &tokenHits))
	defer cleanup()

	var fragments []string
	err := cli.SendMessageStreaming(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	}, ReplyHandlerFunc(func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo!"}, fragments)
}

func TestBuildVertexAIBodySafetySettings(t *testing.T) {
	body, err := buildVertexAIBody(SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	}, &Model{Name: "gemini-1.0-pro"}, "BLOCK_ONLY_HIGH")
	require.NoError(t, err)

	settings := body["safetySettings"].([]any)
	require.Len(t, settings, 4)
	first := settings[0].(map[string]any)
	assert.Equal(t, "BLOCK_ONLY_HIGH", first["threshold"])

	body, err = buildVertexAIBody(SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	}, &Model{Name: "gemini-1.0-pro"}, "")
	require.NoError(t, err)
	assert.NotContains(t, body, "safetySettings")
}

func TestBuildVertexAIBodyInlineImage(t *testing.T) {
	body, err := buildVertexAIBody(SendData{
		Messages: []Message{
			{Role: RoleUser, Content: PartsContent(
				TextPart("What is this?"),
				ImagePart("data:image/png;base64,iVBORw0KGgo="),
			)},
			{Role: RoleAssistant, Content: TextContent("A cat.")},
		},
	}, &Model{Name: "gemini-1.0-pro-vision"}, "")
	require.NoError(t, err)

	contents := body["contents"].([]any)
	require.Len(t, contents, 2)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
	assert.Equal(t, "image/png", inline["mime_type"])
	assert.Equal(t, "iVBORw0KGgo=", inline["data"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
}

func TestBuildVertexAIBodyNetworkImage(t *testing.T) {
	_, err := buildVertexAIBody(SendData{
		Messages: []Message{
			{Role: RoleUser, Content: PartsContent(
				ImagePart("https://example.com/cat.png"),
			)},
		},
	}, &Model{Name: "gemini-1.0-pro-vision"}, "")
	var buildErr *RequestBuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, buildErr.Error(), "https://example.com/cat.png")
}

func TestLoadADC(t *testing.T) {
	grant, err := loadADC(writeTestADCFile(t))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"client_id":     "test-id",
		"client_secret": "test-secret",
		"refresh_token": "test-refresh",
		"grant_type":    "refresh_token",
	}, grant)
}

func TestLoadADCMissingFile(t *testing.T) {
	_, err := loadADC(filepath.Join(t.TempDir(), "nope.json"))
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Error(), "no application_default_credentials.json")
}

func TestLoadADCInvalidFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "application_default_credentials.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"client_id":"only"}`), 0o600))

	_, err := loadADC(file)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Error(), "invalid application_default_credentials.json")
}

func TestVertexAITokenExchangeRejected(t *testing.T) {
	cli, cleanup := newTestVertexAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the chat endpoint")
	}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	})
	defer cleanup()

	_, err := cli.SendMessage(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Error(), "Token has been expired or revoked.")
}
