package console

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/record"
)

type fakeSession struct {
	records chan record.Event

	mu       sync.Mutex
	commands []bridge.Command
}

func newFakeSession() *fakeSession {
	return &fakeSession{records: make(chan record.Event, 4)}
}

func (s *fakeSession) Send(_ context.Context, command bridge.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	return nil
}

func (s *fakeSession) Records() <-chan record.Event {
	return s.records
}

func keyMsg(key string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func TestKeysQueueCommands(t *testing.T) {
	t.Parallel()

	for key, want := range map[string]bridge.Command{
		"w": bridge.Whoami{},
		"r": bridge.Receive{},
		"l": bridge.LinkDevice{DeviceName: "desk"},
	} {
		session := newFakeSession()
		m := newModel(context.Background(), session, Info{DeviceName: "desk"})

		_, cmd := m.handleKey(keyMsg(key))
		if cmd == nil {
			t.Fatalf("key %q returned no command", key)
		}
		if m.waiting != want.Name() {
			t.Fatalf("waiting = %q, want %q", m.waiting, want.Name())
		}

		// Run the queue command directly; the batch also holds a spinner tick.
		msg := m.queue(want)()
		if queued, ok := msg.(queuedMsg); !ok || queued.err != nil {
			t.Fatalf("queue msg = %#v", msg)
		}
		if len(session.commands) != 1 || session.commands[0] != want {
			t.Fatalf("commands = %#v, want %#v", session.commands, want)
		}
	}
}

func TestQuitKey(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), newFakeSession(), Info{})
	_, cmd := m.handleKey(keyMsg("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestRecordsUpdateState(t *testing.T) {
	t.Parallel()

	session := newFakeSession()
	m := newModel(context.Background(), session, Info{Session: "1.0"})
	m.waiting = "receive"

	session.records <- record.Message{Timestamp: 1, Sender: "alice", Group: "Family", Body: "hello there"}
	msg := m.waitRecord()()
	_, next := m.Update(msg)
	if next == nil {
		t.Fatal("expected another record wait")
	}

	m.Update(recordMsg{event: record.IdentityResolved{Identity: "U-1"}})

	if m.waiting != "" {
		t.Fatalf("waiting = %q, want cleared", m.waiting)
	}
	if m.messageCount != 1 || m.identity != "U-1" {
		t.Fatalf("messageCount=%d identity=%q", m.messageCount, m.identity)
	}

	view := m.View()
	for _, want := range []string{"alice @ Family", "hello there", "identity:U-1", "messages:1"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestQueueErrorShowsInStatus(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), newFakeSession(), Info{})
	m.waiting = "whoami"
	m.Update(queuedMsg{command: "whoami", err: context.DeadlineExceeded})

	if m.waiting != "" {
		t.Fatal("expected waiting cleared on error")
	}
	if !strings.Contains(m.View(), "whoami: context deadline exceeded") {
		t.Fatalf("status missing error: %q", m.lastErr)
	}
}

func TestWaitRecordReturnsNilWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newModel(ctx, newFakeSession(), Info{})
	if msg := m.waitRecord()(); msg != nil {
		t.Fatalf("msg = %#v, want nil", msg)
	}
}

func TestViewportMouseWheel(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), newFakeSession(), Info{})
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()

	previousOffset := m.viewport.YOffset
	if !m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp}) {
		t.Fatal("expected wheel-up to be handled")
	}
	if m.followLog || m.viewport.YOffset >= previousOffset {
		t.Fatalf("wheel-up: followLog=%v offset=%d previous=%d", m.followLog, m.viewport.YOffset, previousOffset)
	}

	if !m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelDown}) {
		t.Fatal("expected wheel-down to be handled")
	}
	if !m.viewport.AtBottom() || !m.followLog {
		t.Fatalf("wheel-down: followLog=%v offset=%d", m.followLog, m.viewport.YOffset)
	}

	if m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}) {
		t.Fatal("expected left click to be ignored")
	}
}
