package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wongdao/aichat/client"
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Send a single prompt and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().Bool("stream", false, "Stream the reply as it arrives")
	askCmd.Flags().Float64("temperature", 0, "Sampling temperature")
	askCmd.Flags().Float64("top-p", 0, "Nucleus sampling probability")
	askCmd.Flags().String("api-base", "", "API base URL (required for ollama and vertexai)")
	askCmd.Flags().String("chat-endpoint", "", "Chat endpoint path override (ollama)")
	askCmd.Flags().String("adc-file", "", "Google default credentials file (vertexai)")
	askCmd.Flags().String("block-threshold", "", "Safety block threshold (vertexai)")

	_ = viper.BindPFlag("api_base", askCmd.Flags().Lookup("api-base"))
	_ = viper.BindPFlag("adc_file", askCmd.Flags().Lookup("adc-file"))

	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cli, err := buildClient(cmd)
	if err != nil {
		return err
	}

	data := client.SendData{
		Messages: []client.Message{
			{Role: client.RoleUser, Content: client.TextContent(args[0])},
		},
	}
	if cmd.Flags().Changed("temperature") {
		v, _ := cmd.Flags().GetFloat64("temperature")
		data.Temperature = &v
	}
	if cmd.Flags().Changed("top-p") {
		v, _ := cmd.Flags().GetFloat64("top-p")
		data.TopP = &v
	}

	stream, _ := cmd.Flags().GetBool("stream")
	if !stream {
		text, err := cli.SendMessage(cmd.Context(), data)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}

	data.Stream = true
	reply := color.New(color.FgGreen)
	err = cli.SendMessageStreaming(cmd.Context(), data, client.ReplyHandlerFunc(func(fragment string) error {
		_, err := reply.Fprint(os.Stdout, fragment)
		return err
	}))
	fmt.Println()
	return err
}

// buildClient assembles the provider config from flags and environment.
// API keys are resolved inside the client package (CLAUDE_API_KEY,
// ERNIE_API_KEY, ERNIE_SECRET_KEY, OLLAMA_API_KEY).
func buildClient(cmd *cobra.Command) (client.Client, error) {
	logger := newLogger()
	model := viper.GetString("model")
	apiBase := viper.GetString("api_base")
	chatEndpoint, _ := cmd.Flags().GetString("chat-endpoint")
	blockThreshold, _ := cmd.Flags().GetString("block-threshold")

	return client.NewClient(client.Config{
		Provider: viper.GetString("provider"),
		Claude: client.ClaudeConfig{
			Model:  model,
			Logger: logger,
		},
		Ernie: client.ErnieConfig{
			Model:  model,
			Logger: logger,
		},
		Ollama: client.OllamaConfig{
			APIBase:      apiBase,
			ChatEndpoint: chatEndpoint,
			Model:        model,
			Logger:       logger,
		},
		VertexAI: client.VertexAIConfig{
			APIBase:        apiBase,
			ADCFile:        viper.GetString("adc_file"),
			BlockThreshold: blockThreshold,
			Model:          model,
			Logger:         logger,
		},
	})
}
