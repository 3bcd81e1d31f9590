package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/hookd"
)

var (
	emitSocket   string
	emitTimeout  time.Duration
	emitFailOpen bool
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Forward a hook event from stdin to the daemon",
	Long: `Reads the JSON document Claude Code passes to a hook on stdin and sends it
to the daemon socket. Configure it as a PostToolUse hook:

  {
    "hooks": {
      "PostToolUse": [{"matcher": "Write|Edit|MultiEdit|NotebookEdit",
                       "hooks": [{"type": "command", "command": "hookd emit"}]}]
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runEmit,
}

func init() {
	emitCmd.Flags().StringVar(&emitSocket, "socket", "", "daemon socket (defaults to HOOKD_SOCKET or the per-user runtime dir)")
	emitCmd.Flags().DurationVar(&emitTimeout, "timeout", 2*time.Second, "give up after this long")
	emitCmd.Flags().BoolVar(&emitFailOpen, "fail-open", true, "report errors on stderr but exit 0 so the agent is never blocked")
}

func runEmit(cmd *cobra.Command, _ []string) error {
	socket := emitSocket
	if socket == "" {
		conf, err := hookd.LoadConfig()
		if err != nil {
			return err
		}
		socket = conf.SocketPath
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), emitTimeout)
	defer cancel()

	err := hookd.Forward(ctx, cmd.InOrStdin(), hookd.EmitClient{SocketPath: socket}, uint32(os.Getppid()))
	if err != nil && emitFailOpen {
		fmt.Fprintln(cmd.ErrOrStderr(), "hookd emit:", err)
		return nil
	}
	return err
}
