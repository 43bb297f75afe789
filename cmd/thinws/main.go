// Command thinws общается с пиром thinws из консоли и умеет запускать
// эталонный ack-сервер.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "thinws",
		Short: "Correlated request/response over a reconnecting WebSocket",
		Long: `thinws sends envelopes to a WebSocket peer and waits for the
answer carrying the same messageID.

Examples:
  thinws subscribe lobby --url ws://localhost:8080/ws
  thinws send lobby '{"text":"hi"}'
  thinws request --type ping
  thinws listen --subscribe lobby --metrics :9090
  thinws serve --listen :8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	a.bindFlags(rootCmd)
	rootCmd.AddCommand(
		subscribeCmd(a),
		sendCmd(a),
		requestCmd(a),
		listenCmd(a),
		serveCmd(a),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		stop()
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "thinws", version)
		},
	}
}
