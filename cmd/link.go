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
	"presagebridge/pkg/session"
)

var (
	linkDeviceName string
	linkStaging    bool
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link the store as a secondary device",
	Long:  "Prints a provisioning URL to scan from the primary device, waits for the link to complete and prints the account identity.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("cmd.link")
		if err != nil {
			return err
		}

		environment, err := session.ParseServerEnvironment(a.cfg.Bridge.ServerEnvironment)
		if err != nil {
			return err
		}
		if linkStaging {
			environment = session.Staging
		}
		name := strings.TrimSpace(linkDeviceName)
		if name == "" {
			name = a.cfg.Bridge.DeviceName
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.withSession(ctx, func(ctx context.Context, attached *host.Attached) error {
			return runLink(ctx, attached, cmd.OutOrStdout(), bridge.LinkDevice{Servers: environment, DeviceName: name})
		})
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.Flags().StringVar(&linkDeviceName, "name", "", "device name shown on the primary device")
	linkCmd.Flags().BoolVar(&linkStaging, "staging", false, "link against the staging servers")
}

var errNotLinked = errors.New("device was not linked")

func runLink(ctx context.Context, r runner, out io.Writer, command bridge.LinkDevice) error {
	var (
		resolved bool
		identity string
	)

	err := r.Run(ctx, command, func(ev record.Event) {
		switch e := ev.(type) {
		case record.LinkQRReady:
			fmt.Fprintf(out, "Scan this with the primary device to link %q:\n%s\n", command.DeviceName, e.URL)
		case record.IdentityResolved:
			resolved, identity = true, e.Identity
		}
	})
	if err != nil {
		return err
	}

	switch {
	case !resolved:
		return errNotLinked
	case identity == "":
		fmt.Fprintln(out, "Linked, but the account identity could not be read")
	default:
		fmt.Fprintf(out, "Linked as %s\n", identity)
	}
	return nil
}
