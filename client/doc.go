// Package client provides a unified chat client with native HTTP provider
// adapters for Claude, ERNIE, Ollama, and Vertex AI, presenting a
// provider-agnostic interface over their incompatible APIs.
//
// # Architecture
//
// Each provider adapter composes the same three concerns:
//
//   - a body builder that normalizes a provider-agnostic message list into
//     the vendor's JSON schema
//   - a transport step that resolves the URL and attaches credentials
//   - a response consumer with a single-shot mode and a streaming mode
//
// Providers whose bearer tokens expire (ERNIE, Vertex AI) share a
// mutex-guarded token cache that fetches lazily and is invalidated when the
// provider signals an authentication failure.
//
// # Quick Start
//
//	cli, _ := client.NewClient(client.Config{
//	    Provider: "claude",
//	    Claude:   client.ClaudeConfig{Model: "claude-3-opus-20240229"},
//	})
//
//	text, _ := cli.SendMessage(ctx, client.SendData{
//	    Messages: []client.Message{{
//	        Role:    client.RoleUser,
//	        Content: client.TextContent("Hello"),
//	    }},
//	})
//	fmt.Println(text)
//
// Streaming mode drives a ReplyHandler with text fragments in arrival order:
//
//	err := cli.SendMessageStreaming(ctx, data, client.ReplyHandlerFunc(func(s string) error {
//	    _, err := fmt.Print(s)
//	    return err
//	}))
package client
