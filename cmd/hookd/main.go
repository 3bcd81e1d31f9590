// Command hookd relays Claude Code hook events to RabbitMQ.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hookd",
	Short: "Relay Claude Code hook events to the event bus",
	Long: `hookd listens on a Unix socket for hook events, attaches git repository
context to each one and publishes the result to a durable topic exchange.

Run "hookd serve" as a user service and point Claude Code hooks at
"hookd emit".`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(emitCmd)
}
