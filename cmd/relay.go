package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/host"
	"presagebridge/pkg/host/telegram"
)

var relayReceive bool

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward session records to a Telegram chat",
	Long:  "Relays every record of one session to telegram.chat_id and accepts /whoami, /receive and /link from that chat.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("cmd.relay")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = a.withSession(ctx, func(ctx context.Context, attached *host.Attached) error {
			relay, err := telegram.NewRelay(a.cfg.Telegram, attached, a.cfg.Bridge.DeviceName, a.log)
			if err != nil {
				return err
			}
			if relayReceive {
				if err := attached.Send(ctx, bridge.Receive{}); err != nil {
					return err
				}
			}
			return relay.Run(ctx)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().BoolVar(&relayReceive, "receive", true, "start receiving as soon as the relay is up")
}
