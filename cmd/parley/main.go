// Package main provides the CLI entry point for the Parley conversational
// agent server.
//
// Parley drives customer sessions through a guideline-matched, tool-calling
// processing engine and exposes an HTTP API for chat dispatch and event
// retrieval.
//
// # Basic Usage
//
// Start the server:
//
//	parley serve --config parley.yaml
//
// # Environment Variables
//
//   - PARLEY_CONFIG: Path to configuration file (default: parley.yaml)
//   - OPENAI_API_KEY: OpenAI API key
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/parley/internal/observability"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A .env file beside the binary is a development convenience; its
	// absence is not an error.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "Conversational agent engine and HTTP gateway",
		Long: "Parley runs customer conversations through a processing engine that matches " +
			"behavioral guidelines, calls tools, and composes replies, either free-form or " +
			"from pre-authored response templates.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("parley %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
