package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/hookd"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay daemon",
	Long: `Runs the daemon until SIGINT or SIGTERM. Configuration comes from the
environment (HOOKD_SOCKET, HOOKD_AMQP_URL, HOOKD_EXCHANGE, CLAUDE_AGENT_ID,
HOOKD_GIT_CACHE_TTL, HOOKD_BUFFER_SIZE, HOOKD_LOG_LEVEL, HOOKD_METRICS_ADDR, ...).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, err := hookd.LoadConfig()
	if err != nil {
		return err
	}
	if err := hookd.ValidateConfig(conf); err != nil {
		return err
	}

	slogger, err := hookd.NewLogger(os.Stderr, conf.LogLevel)
	if err != nil {
		return err
	}
	logger := hookd.NewSlogServiceLogger(slogger)

	svc, err := hookd.NewService(conf, logger, hookd.ServiceDependencies{})
	if err != nil {
		return err
	}
	return svc.Start(ctx)
}
