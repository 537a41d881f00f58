// Package console is a terminal viewer for one bridge session. Records
// stream into a scrollable log; single keys queue commands.
package console

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/record"
)

// Session is the host side of an attached bridge session.
type Session interface {
	Send(ctx context.Context, command bridge.Command) error
	Records() <-chan record.Event
}

// Info is shown in the header.
type Info struct {
	Session    string
	StorePath  string
	DeviceName string
}

func Run(ctx context.Context, session Session, info Info) error {
	program := tea.NewProgram(newModel(ctx, session, info), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		return err
	}

	if m, ok := final.(*model); ok {
		fmt.Println(renderSummary(m))
	}
	return nil
}

func renderSummary(m *model) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(0, 2)

	return style.Render(fmt.Sprintf("session %s closed · %d messages", displayOrNA(m.info.Session), m.messageCount))
}
