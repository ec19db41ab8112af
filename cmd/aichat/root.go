package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "aichat",
	Short: "Chat with LLM providers through one interface",
	Long:  "aichat sends chat requests to API-incompatible LLM providers (Claude, ERNIE, Ollama, Vertex AI) through a single adapter layer.",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("provider", "p", "claude", "Provider adapter (claude, ernie, ollama, vertexai)")
	rootCmd.PersistentFlags().StringP("model", "m", "", "Model name (provider default if empty)")
	rootCmd.PersistentFlags().Bool("debug", false, "Log outbound requests")

	_ = viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	viper.SetEnvPrefix("AICHAT")
	viper.AutomaticEnv()
}

// newLogger builds the process logger; debug mode surfaces the per-request
// lines the client package emits.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
