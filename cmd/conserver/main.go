package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "conserver",
	Short: "Conserver - queue-driven vCon processing pipeline",
	Long: `Conserver pops vCon UUIDs from Redis work queues and runs each
through its configured processing chains: sequential stages, storage
fan-out, egress emission, with failed items parked on per-queue
dead-letter lists.

All coordination flows through Redis; run as many instances as the
workload needs.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevel, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.Level(logLevel),
			JSONOutput: jsonOutput,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"conserver version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Log as JSON (false for console output)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dlqCmd)
}
