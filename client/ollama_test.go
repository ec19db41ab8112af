package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOllamaClient(t *testing.T, handler http.HandlerFunc) (*OllamaClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	cli := &OllamaClient{
		config: OllamaConfig{
			APIBase:      server.URL,
			APIKey:       "Bearer test-key",
			ChatEndpoint: "/api/chat",
		},
		model: resolveModel(ProviderOllama, "llama3", nil, []ModelConfig{
			{Name: "llama3", MaxOutputTokens: intp(4096), Capabilities: "text,vision"},
		}),
		http:   newHTTPClient(),
		logger: resolveLogger(nil),
	}
	return cli, server
}

func TestOllamaClientName(t *testing.T) {
	cli := &OllamaClient{}
	assert.Equal(t, "ollama", cli.Name())
}

func TestNewOllamaClientValidation(t *testing.T) {
	_, err := NewOllamaClient(OllamaConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing api_base")

	_, err = NewOllamaClient(OllamaConfig{APIBase: "http://localhost:11434"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing model name")
}

func TestOllamaSendMessage(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]any
		require.NoError(t, json.Unmarshal(body, &reqBody))
		assert.Equal(t, "llama3", reqBody["model"])
		assert.Equal(t, false, reqBody["stream"])

		options := reqBody["options"].(map[string]any)
		assert.Equal(t, float64(4096), options["num_predict"])

		fmt.Fprint(w, `{"message":{"role":"assistant","content":"hello"},"done":true}`)
	}

	cli, server := newTestOllamaClient(t, handler)
	defer server.Close()

	text, err := cli.SendMessage(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestOllamaSendMessageMalformedResponse(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"done":true}`)
	}

	cli, server := newTestOllamaClient(t, handler)
	defer server.Close()

	_, err := cli.SendMessage(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	})
	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestOllamaErrorEnvelope(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"nope\" not found"}`)
	}

	cli, server := newTestOllamaClient(t, handler)
	defer server.Close()

	_, err := cli.SendMessage(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, `model "nope" not found`, provErr.Message)
	assert.Equal(t, http.StatusNotFound, provErr.Status)
}

func TestBuildOllamaBodyMixedContent(t *testing.T) {
	body, err := buildOllamaBody(SendData{
		Messages: []Message{
			{Role: RoleUser, Content: PartsContent(
				TextPart("What is this?"),
				TextPart("Look closely."),
				ImagePart("data:image/jpeg;base64,/9j/4AAQ"),
			)},
		},
	}, &Model{Name: "llava"})
	require.NoError(t, err)

	messages := body["messages"].([]any)
	first := messages[0].(map[string]any)
	assert.Equal(t, "What is this?\n\nLook closely.", first["content"])
	assert.Equal(t, []string{"/9j/4AAQ"}, first["images"])
}

func TestBuildOllamaBodyEmptyImages(t *testing.T) {
	body, err := buildOllamaBody(SendData{
		Messages: []Message{
			{Role: RoleUser, Content: PartsContent(TextPart("Hi"))},
		},
	}, &Model{Name: "llama3"})
	require.NoError(t, err)

	payload, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"images":[]`)
}

func TestBuildOllamaBodyNetworkImage(t *testing.T) {
	_, err := buildOllamaBody(SendData{
		Messages: []Message{
			{Role: RoleUser, Content: PartsContent(
				ImagePart("https://example.com/cat.png"),
			)},
		},
	}, &Model{Name: "llava"})
	var buildErr *RequestBuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, buildErr.Error(), "https://example.com/cat.png")
}

func TestOllamaSendMessageStreaming(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]any
		require.NoError(t, json.Unmarshal(body, &reqBody))
		assert.Equal(t, true, reqBody["stream"])

		fmt.Fprint(w, "{\"message\":{\"content\":\"Hel\"},\"done\":false}\n")
		fmt.Fprint(w, "{\"message\":{\"content\":\"lo!\"},\"done\":false}\n")
		fmt.Fprint(w, "{\"done\":true}\n")
	}

	cli, server := newTestOllamaClient(t, handler)
	defer server.Close()

	var fragments []string
	err := cli.SendMessageStreaming(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	}, ReplyHandlerFunc(func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo!"}, fragments)
	assert.Equal(t, "Hello!", strings.Join(fragments, ""))
}

func TestOllamaStreamingMissingDone(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"message\":{\"content\":\"Hel\"}}\n")
	}

	cli, server := newTestOllamaClient(t, handler)
	defer server.Close()

	err := cli.SendMessageStreaming(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	}, ReplyHandlerFunc(func(string) error { return nil }))
	var protoErr *StreamProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, protoErr.Error(), "Invalid response data")
}

func TestOllamaStreamingTruncated(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"message\":{\"content\":\"Hel\"},\"done\":false}\n{\"message\":")
	}

	cli, server := newTestOllamaClient(t, handler)
	defer server.Close()

	err := cli.SendMessageStreaming(context.Background(), SendData{
		Messages: []Message{{Role: RoleUser, Content: TextContent("Hi")}},
	}, ReplyHandlerFunc(func(string) error { return nil }))
	var protoErr *StreamProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, protoErr.Error(), "stream ended")
}
