// Package main provides the CLI entry point for the Bantz voice assistant
// kernel.
//
// # Basic Usage
//
// Start an interactive chat session:
//
//	bantz chat
//
// Serve metrics and health endpoints:
//
//	bantz serve
//
// Run environment diagnostics:
//
//	bantz doctor
//
// # Environment Variables
//
// Configuration can be provided via environment variables:
//
//   - BANTZ_CONFIG: Path to configuration file
//   - BANTZ_ROUTER_API_KEY / BANTZ_ROUTER_BASE_URL: Local router backend
//   - BANTZ_QUALITY_API_KEY: Anthropic API key for the quality finalizer
//   - BANTZ_RULES_PATH: Permission rules file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bantz",
		Short: "Turkish-speaking voice assistant kernel",
		Long: `Bantz is a voice+text conversational assistant kernel. A local router
model plans each turn, permission-gated tools execute it, and a quality
model finalizes the spoken reply.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildServeCmd(),
		buildDoctorCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bantz %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("BANTZ_CONFIG"); env != "" {
		return env
	}
	return ""
}
