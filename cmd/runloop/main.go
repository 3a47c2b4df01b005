package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "runloop",
		Short: "Agent Runloop - Autonomous agent session runner",
		Long: `Agent Runloop drives unattended coding-agent sessions against a
workspace. Each cycle takes a workspace lock, syncs the repository,
generates a prompt, and hands it to a backend agent CLI (gptme,
claude-code, or codex), recording the outcome.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
