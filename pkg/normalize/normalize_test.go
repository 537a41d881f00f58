package normalize

import (
	"context"
	"errors"
	"testing"

	"presagebridge/pkg/session"
	"presagebridge/pkg/session/sessiontest"
)

var groupKey = []byte{0xde, 0xad, 0xbe, 0xef}

func direct(sender string, ts uint64, body session.Body) session.Content {
	return session.Content{Metadata: session.Metadata{Sender: sender, Timestamp: ts}, Body: body}
}

func newLookup(t *testing.T) *sessiontest.Store {
	t.Helper()
	return sessiontest.NewStore()
}

func lookupFor(store *sessiontest.Store) session.Lookup {
	return session.StoreLookup{Store: store}
}

func TestNormalizeBodies(t *testing.T) {
	tests := []struct {
		name string
		body session.Body
		want string
	}{
		{
			name: "null message",
			body: session.Body{Null: &session.NullMessage{}},
			want: BodyNullMessage,
		},
		{
			name: "plain body",
			body: session.Body{Data: &session.DataMessage{Body: session.Ptr("hello there")}},
			want: "hello there",
		},
		{
			name: "quote with body",
			body: session.Body{Data: &session.DataMessage{
				Body:  session.Ptr("yes"),
				Quote: &session.Quote{Text: session.Ptr("hello")},
			}},
			want: `Answer to message "hello": yes`,
		},
		{
			name: "quote without text falls back to body",
			body: session.Body{Data: &session.DataMessage{
				Body:  session.Ptr("yes"),
				Quote: &session.Quote{},
			}},
			want: "yes",
		},
		{
			name: "no recognized field",
			body: session.Body{Data: &session.DataMessage{}},
			want: BodyEmptyData,
		},
		{
			name: "call",
			body: session.Body{Call: &session.CallMessage{Kind: "offer"}},
			want: BodyCalling,
		},
	}

	n := New(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := n.Normalize(context.Background(), lookupFor(newLookup(t)), direct("alice", 10, tt.body))
			if err != nil {
				t.Fatalf("Normalize error: %v", err)
			}
			if msg.Body != tt.want {
				t.Fatalf("body = %q, want %q", msg.Body, tt.want)
			}
			if msg.Sent {
				t.Fatal("expected received direction")
			}
			if msg.Sender != "alice" {
				t.Fatalf("sender = %q, want alice", msg.Sender)
			}
			if msg.Group != "" {
				t.Fatalf("group = %q, want empty", msg.Group)
			}
			if msg.Timestamp != 10 {
				t.Fatalf("timestamp = %d, want 10", msg.Timestamp)
			}
		})
	}
}

func TestNormalizeReactionResolvesTarget(t *testing.T) {
	store := newLookup(t)
	prior := direct("alice", 1000, session.Body{Data: &session.DataMessage{Body: session.Ptr("hi")}})
	if err := store.SaveMessage(context.Background(), session.ContactThread("alice"), prior); err != nil {
		t.Fatalf("SaveMessage error: %v", err)
	}

	reaction := direct("alice", 2000, session.Body{Data: &session.DataMessage{Reaction: &session.Reaction{
		Emoji:               session.Ptr("👍"),
		TargetSentTimestamp: session.Ptr(uint64(1000)),
	}}})

	msg, err := New(Options{}).Normalize(context.Background(), lookupFor(store), reaction)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if want := `Reacted with 👍 to message: "hi"`; msg.Body != want {
		t.Fatalf("body = %q, want %q", msg.Body, want)
	}
}

func TestNormalizeReactionToSyncedMessage(t *testing.T) {
	store := newLookup(t)
	prior := direct("me", 1000, session.Body{Sync: &session.SyncMessage{Sent: &session.SyncSent{
		Destination: "alice",
		Message:     &session.DataMessage{Body: session.Ptr("sent from phone")},
	}}})
	if err := store.SaveMessage(context.Background(), session.ContactThread("alice"), prior); err != nil {
		t.Fatalf("SaveMessage error: %v", err)
	}

	reaction := direct("alice", 2000, session.Body{Data: &session.DataMessage{Reaction: &session.Reaction{
		Emoji:               session.Ptr("❤️"),
		TargetSentTimestamp: session.Ptr(uint64(1000)),
	}}})

	msg, err := New(Options{}).Normalize(context.Background(), lookupFor(store), reaction)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if want := `Reacted with ❤️ to message: "sent from phone"`; msg.Body != want {
		t.Fatalf("body = %q, want %q", msg.Body, want)
	}
}

func TestNormalizeReactionDropsMissingOrBodilessTarget(t *testing.T) {
	store := newLookup(t)
	bodiless := direct("alice", 1000, session.Body{Call: &session.CallMessage{}})
	if err := store.SaveMessage(context.Background(), session.ContactThread("alice"), bodiless); err != nil {
		t.Fatalf("SaveMessage error: %v", err)
	}

	n := New(Options{})
	for _, target := range []uint64{1000, 3000} {
		reaction := direct("alice", 2000, session.Body{Data: &session.DataMessage{Reaction: &session.Reaction{
			Emoji:               session.Ptr("👍"),
			TargetSentTimestamp: session.Ptr(target),
		}}})

		_, err := n.Normalize(context.Background(), lookupFor(store), reaction)
		if !errors.Is(err, ErrReactionTarget) {
			t.Fatalf("target %d: error = %v, want %v", target, err, ErrReactionTarget)
		}
		if DropReason(err) != "reaction_target" {
			t.Fatalf("DropReason = %q", DropReason(err))
		}
	}
}

func TestNormalizeDropsTypingAndUnknown(t *testing.T) {
	units := []session.Content{
		direct("alice", 1, session.Body{Typing: &session.TypingMessage{Action: "started"}}),
		direct("alice", 2, session.Body{Receipt: &session.ReceiptMessage{Kind: "read"}}),
		direct("alice", 3, session.Body{}),
		direct("alice", 4, session.Body{Sync: &session.SyncMessage{}}),
	}

	n := New(Options{})
	emitted := 0
	for _, unit := range units {
		if _, err := n.Normalize(context.Background(), lookupFor(newLookup(t)), unit); err == nil {
			emitted++
		} else if DropReason(err) != "unsupported" {
			t.Fatalf("DropReason = %q, want unsupported", DropReason(err))
		}
	}
	if emitted != 0 {
		t.Fatalf("emitted = %d, want 0", emitted)
	}
}

func TestNormalizeDropsUnitWithoutThread(t *testing.T) {
	_, err := New(Options{}).Normalize(context.Background(), lookupFor(newLookup(t)), session.Content{
		Body: session.Body{Data: &session.DataMessage{Body: session.Ptr("orphan")}},
	})
	if !errors.Is(err, session.ErrNoThread) {
		t.Fatalf("error = %v, want %v", err, session.ErrNoThread)
	}
	if DropReason(err) != "no_thread" {
		t.Fatalf("DropReason = %q, want no_thread", DropReason(err))
	}
}

func TestNormalizeSyncSentDirect(t *testing.T) {
	unit := direct("me", 50, session.Body{Sync: &session.SyncMessage{Sent: &session.SyncSent{
		Destination: "bob",
		Message: &session.DataMessage{
			Body:  session.Ptr("sure"),
			Quote: &session.Quote{Text: session.Ptr("lunch?")},
		},
	}}})

	msg, err := New(Options{}).Normalize(context.Background(), lookupFor(newLookup(t)), unit)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if !msg.Sent {
		t.Fatal("expected sent direction")
	}
	if msg.Sender != "bob" {
		t.Fatalf("sender = %q, want recipient bob", msg.Sender)
	}
	if want := `Answer to message "lunch?": sure`; msg.Body != want {
		t.Fatalf("body = %q, want %q", msg.Body, want)
	}
}

func TestNormalizeGroupMessages(t *testing.T) {
	store := newLookup(t)
	if err := store.SaveGroups(context.Background(), []session.Group{{Key: groupKey, Title: "Climbing"}}); err != nil {
		t.Fatalf("SaveGroups error: %v", err)
	}

	received := direct("alice", 5, session.Body{Data: &session.DataMessage{
		Body:  session.Ptr("belay?"),
		Group: &session.GroupContext{Key: groupKey},
	}})
	sent := direct("me", 6, session.Body{Sync: &session.SyncMessage{Sent: &session.SyncSent{
		Message: &session.DataMessage{Body: session.Ptr("on my way"), Group: &session.GroupContext{Key: groupKey}},
	}}})

	n := New(Options{GroupNaming: GroupTitle})

	msg, err := n.Normalize(context.Background(), lookupFor(store), received)
	if err != nil {
		t.Fatalf("Normalize received error: %v", err)
	}
	if msg.Sender != "alice" || msg.Group != "Climbing" || msg.Sent {
		t.Fatalf("received group message = %+v", msg)
	}

	msg, err = n.Normalize(context.Background(), lookupFor(store), sent)
	if err != nil {
		t.Fatalf("Normalize sent error: %v", err)
	}
	if msg.Sender != "" || msg.Group != "Climbing" || !msg.Sent {
		t.Fatalf("sent group message = %+v", msg)
	}
}

func TestNormalizeGroupNaming(t *testing.T) {
	unit := direct("alice", 5, session.Body{Data: &session.DataMessage{
		Body:  session.Ptr("hey"),
		Group: &session.GroupContext{Key: groupKey},
	}})

	msg, err := New(Options{GroupNaming: GroupTitle}).Normalize(context.Background(), lookupFor(newLookup(t)), unit)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if msg.Group != MissingGroup {
		t.Fatalf("group = %q, want %q", msg.Group, MissingGroup)
	}

	msg, err = New(Options{GroupNaming: GroupHex}).Normalize(context.Background(), lookupFor(newLookup(t)), unit)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if msg.Group != "deadbeef" {
		t.Fatalf("group = %q, want deadbeef", msg.Group)
	}
}

func TestNormalizeContactNames(t *testing.T) {
	store := newLookup(t)
	if err := store.SaveContacts(context.Background(), []session.Contact{{ID: "alice", Name: "Alice"}, {ID: "nameless"}}); err != nil {
		t.Fatalf("SaveContacts error: %v", err)
	}

	n := New(Options{ContactNames: true})
	tests := map[string]string{
		"alice":    "Alice: alice",
		"nameless": "nameless",
		"stranger": "stranger",
	}
	for sender, want := range tests {
		msg, err := n.Normalize(context.Background(), lookupFor(store), direct(sender, 1, session.Body{Data: &session.DataMessage{Body: session.Ptr("hi")}}))
		if err != nil {
			t.Fatalf("Normalize error: %v", err)
		}
		if msg.Sender != want {
			t.Fatalf("sender for %q = %q, want %q", sender, msg.Sender, want)
		}
	}
}

func TestParseGroupNaming(t *testing.T) {
	if got, err := ParseGroupNaming(""); err != nil || got != GroupTitle {
		t.Fatalf("ParseGroupNaming(\"\") = %q, %v", got, err)
	}
	if got, err := ParseGroupNaming("hex"); err != nil || got != GroupHex {
		t.Fatalf("ParseGroupNaming(hex) = %q, %v", got, err)
	}
	if _, err := ParseGroupNaming("emoji"); err == nil {
		t.Fatal("expected error for unknown naming")
	}
}
