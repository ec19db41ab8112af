package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDispatch(t *testing.T) {
	tests := []struct {
		provider string
		cfg      Config
	}{
		{ProviderClaude, Config{Provider: ProviderClaude}},
		{ProviderErnie, Config{Provider: ProviderErnie}},
		{ProviderOllama, Config{
			Provider: ProviderOllama,
			Ollama:   OllamaConfig{APIBase: "http://localhost:11434", Model: "llama3"},
		}},
		{ProviderVertexAI, Config{
			Provider: ProviderVertexAI,
			VertexAI: VertexAIConfig{APIBase: "https://example.com/publishers/google/models"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cli, err := NewClient(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.provider, cli.Name())
			assert.NotNil(t, cli.Model())
		})
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(Config{Provider: "openai"})
	var buildErr *RequestBuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, buildErr.Error(), `unknown provider "openai"`)
}

func TestReplyHandlerFunc(t *testing.T) {
	var got string
	handler := ReplyHandlerFunc(func(fragment string) error {
		got = fragment
		return nil
	})
	require.NoError(t, handler.Text("hi"))
	assert.Equal(t, "hi", got)
}
