package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/host"
	"presagebridge/pkg/record"
)

var receiveMetricsAddr string

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Print incoming messages until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("cmd.receive")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if addr := strings.TrimSpace(receiveMetricsAddr); addr != "" {
			a.statusAddr = addr
		}

		err = a.withSession(ctx, func(ctx context.Context, attached *host.Attached) error {
			return runReceive(ctx, attached, cmd.OutOrStdout())
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().StringVar(&receiveMetricsAddr, "metrics-addr", "", "serve /metrics, /healthz and /readyz on host:port")
}

func runReceive(ctx context.Context, r runner, out io.Writer) error {
	return r.Run(ctx, bridge.Receive{}, func(ev record.Event) {
		fmt.Fprintln(out, host.Describe(ev))
	})
}
