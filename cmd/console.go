package cmd

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"presagebridge/pkg/host"
	"presagebridge/pkg/ui/console"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open a live session viewer",
	Long:  "Shows every record of one session in a terminal UI. Press w for whoami, r to receive, l to link and q to quit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("cmd.console")
		if err != nil {
			return err
		}

		return a.withSession(cmd.Context(), func(ctx context.Context, attached *host.Attached) error {
			err := console.Run(ctx, attached, console.Info{
				Session:    attached.Handle().String(),
				StorePath:  a.cfg.Store.Path,
				DeviceName: a.cfg.Bridge.DeviceName,
			})
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
