package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/config"
	"presagebridge/pkg/record"
)

type fakeBot struct {
	updates chan telego.Update

	mu   sync.Mutex
	sent []string
}

func (b *fakeBot) UpdatesViaLongPolling(context.Context, *telego.GetUpdatesParams, ...telego.LongPollingOption) (<-chan telego.Update, error) {
	return b.updates, nil
}

func (b *fakeBot) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, params.Text)
	return &telego.Message{Text: params.Text}, nil
}

func (b *fakeBot) SendChatAction(context.Context, *telego.SendChatActionParams) error {
	return nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

type fakeSession struct {
	records chan record.Event

	mu       sync.Mutex
	commands []bridge.Command
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

func (s *fakeSession) sent() []bridge.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bridge.Command(nil), s.commands...)
}

const chatID = int64(-100)

func startRelay(t *testing.T, allowFrom ...string) (*fakeBot, *fakeSession) {
	t.Helper()
	bot := &fakeBot{updates: make(chan telego.Update)}
	sess := &fakeSession{records: make(chan record.Event)}
	relay := newRelay(bot, sess, config.TelegramConfig{ChatID: chatID, AllowFrom: allowFrom}, "relay-device", slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return bot, sess
}

func update(chat, from int64, text string) telego.Update {
	return telego.Update{
		UpdateID: 1,
		Message: &telego.Message{
			Chat: telego.Chat{ID: chat},
			From: &telego.User{ID: from},
			Text: text,
		},
	}
}

func TestRelayForwardsRecords(t *testing.T) {
	bot, sess := startRelay(t)

	sess.records <- record.Message{Timestamp: 1000, Sender: "alice", Body: "hello"}
	sess.records <- record.IdentityResolved{Identity: "U-1"}

	require.Eventually(t, func() bool { return len(bot.texts()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"[1970-01-01 00:00:01] alice: hello", "identity U-1"}, bot.texts())
}

func TestRelayQueuesChatCommands(t *testing.T) {
	bot, sess := startRelay(t)

	bot.updates <- update(chatID, 7, "/whoami")
	bot.updates <- update(chatID, 7, "/link@presage_bot  Work Laptop ")
	bot.updates <- update(chatID, 7, "/link")
	bot.updates <- update(chatID, 7, "/receive")

	require.Eventually(t, func() bool { return len(sess.sent()) == 4 }, time.Second, time.Millisecond)
	require.ElementsMatch(t, []bridge.Command{
		bridge.Whoami{},
		bridge.LinkDevice{DeviceName: "Work Laptop"},
		bridge.LinkDevice{DeviceName: "relay-device"},
		bridge.Receive{},
	}, sess.sent())
}

func TestRelayIgnoresOtherChatsAndSenders(t *testing.T) {
	bot, sess := startRelay(t, "7")

	bot.updates <- update(chatID+1, 7, "/whoami")
	bot.updates <- update(chatID, 8, "/whoami")
	bot.updates <- update(chatID, 7, "   ")
	// Unknown text from an allowed sender gets the help reply.
	bot.updates <- update(chatID, 7, "hello")

	require.Eventually(t, func() bool { return len(bot.texts()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, helpText, bot.texts()[0])
	require.Empty(t, sess.sent())
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if allowFromSet([]string{" "}) != nil {
		t.Fatal("blank allow list should be nil")
	}
}

func TestPreviewText(t *testing.T) {
	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q", got)
	}
	if got := previewText(" hi "); got != "hi" {
		t.Fatalf("previewText short = %q", got)
	}
}

func TestNewRelayValidatesConfig(t *testing.T) {
	if _, err := NewRelay(config.TelegramConfig{ChatID: 1}, &fakeSession{}, "", nil); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := NewRelay(config.TelegramConfig{Token: "123:abc"}, &fakeSession{}, "", nil); err == nil {
		t.Fatal("expected error without chat id")
	}
}
