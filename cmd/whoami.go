package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/host"
	"presagebridge/pkg/record"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the identity of the linked account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("cmd.whoami")
		if err != nil {
			return err
		}

		return a.withSession(cmd.Context(), func(ctx context.Context, attached *host.Attached) error {
			return runWhoami(ctx, attached, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

var errIdentityUnknown = errors.New("identity unknown: the store is not linked or the daemon could not report it")

func runWhoami(ctx context.Context, r runner, out io.Writer) error {
	identity := ""
	err := r.Run(ctx, bridge.Whoami{}, func(ev record.Event) {
		if e, ok := ev.(record.IdentityResolved); ok {
			identity = e.Identity
		}
	})
	if err != nil {
		return err
	}
	if identity == "" {
		return errIdentityUnknown
	}

	fmt.Fprintln(out, identity)
	return nil
}
