package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/host"
	"presagebridge/pkg/record"
)

const wheelStep = 3

type recordMsg struct {
	event record.Event
}

type queuedMsg struct {
	command string
	err     error
}

type model struct {
	ctx     context.Context
	session Session
	info    Info

	theme    theme
	spinner  spinner.Model
	viewport viewport.Model
	events   []record.Event
	width    int
	height   int
	isReady  bool

	// waiting is set from queueing a command until its first record.
	waiting      string
	lastErr      string
	identity     string
	messageCount int
	followLog    bool
}

func newModel(ctx context.Context, session Session, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	return &model{
		ctx:       ctx,
		session:   session,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return m.waitRecord()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport()
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	case recordMsg:
		m.apply(typed.event)
		m.refreshViewport()
		return m, m.waitRecord()
	case queuedMsg:
		if typed.err != nil {
			m.waiting = ""
			m.lastErr = fmt.Sprintf("%s: %v", typed.command, typed.err)
		}
		return m, nil
	case spinner.TickMsg:
		if m.waiting == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.handleViewportKey(msg) {
		return m, nil
	}

	var command bridge.Command
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "w":
		command = bridge.Whoami{}
	case "r":
		command = bridge.Receive{}
	case "l":
		command = bridge.LinkDevice{DeviceName: m.info.DeviceName}
	default:
		return m, nil
	}

	m.waiting = command.Name()
	m.lastErr = ""
	return m, tea.Batch(m.spinner.Tick, m.queue(command))
}

func (m *model) apply(ev record.Event) {
	m.waiting = ""
	switch e := ev.(type) {
	case record.IdentityResolved:
		m.identity = e.Identity
	case record.Message:
		m.messageCount++
	}
	m.events = append(m.events, ev)
}

// waitRecord blocks in a tea command until the session emits.
func (m *model) waitRecord() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.session.Records():
			return recordMsg{event: ev}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *model) queue(command bridge.Command) tea.Cmd {
	return func() tea.Msg {
		return queuedMsg{command: command.Name(), err: m.session.Send(m.ctx, command)}
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport()
	}

	header := m.theme.header.Width(m.width - 2).Render("📡 presage bridge console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"session:%s · store:%s · identity:%s · messages:%d",
		displayOrNA(m.info.Session),
		displayOrNA(m.info.StorePath),
		displayOrNA(m.identity),
		m.messageCount,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("w whoami  ·  r receive  ·  l link  ·  PgUp/PgDn scroll  ·  q quit")
	if m.waiting != "" {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s %s queued...", m.spinner.View(), m.waiting))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 " + m.lastErr)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header, meta, line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-8)

	m.viewport.Width = w
	m.viewport.Height = h
}

func (m *model) refreshViewport() {
	sections := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		sections = append(sections, m.renderEvent(ev))
	}

	previousOffset := m.viewport.YOffset
	m.viewport.SetContent(strings.Join(sections, "\n"))
	if m.followLog {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) renderEvent(ev record.Event) string {
	width := max(20, m.viewport.Width-4)

	switch e := ev.(type) {
	case record.Message:
		title, box := m.theme.messageTitle, m.theme.messageBox
		if e.Sent {
			title, box = m.theme.sentTitle, m.theme.sentBox
		}
		label := displayOrNA(e.Sender)
		if e.Group != "" {
			label += " @ " + e.Group
		}
		return lipgloss.JoinVertical(lipgloss.Left,
			title.Render(label),
			box.Width(width).Render(e.Body),
		)
	case record.LinkQRReady:
		return lipgloss.JoinVertical(lipgloss.Left,
			m.theme.linkTitle.Render("link device"),
			m.theme.linkBox.Width(width).Render(e.URL),
		)
	case record.IdentityResolved:
		if e.Identity == "" {
			return m.theme.errorTitle.Render("identity unknown")
		}
		return m.theme.identityTitle.Render("🪪 " + e.Identity)
	default:
		return m.theme.hint.Render(host.Describe(ev))
	}
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "down":
		m.viewport.PageDown()
		m.followLog = m.viewport.AtBottom()
		return true
	case "home", "g":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end", "G":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(m.viewport.YOffset - wheelStep)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + wheelStep)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}
