package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"presagebridge/pkg/session"
)

const testWorkFactor = 10

func openTestStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ScryptWorkFactor == 0 {
		opts.ScryptWorkFactor = testWorkFactor
	}
	s, err := Open(context.Background(), dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestRegistrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir(), Options{})
	defer s.Close()

	if _, err := s.Registration(ctx); !errors.Is(err, session.ErrNotRegistered) {
		t.Fatalf("Registration on fresh store: %v, want ErrNotRegistered", err)
	}

	want := session.Registration{
		Environment: session.Staging,
		DeviceName:  "desk",
		Number:      "+15550001",
		ACI:         "aci-1",
		DeviceID:    2,
		LinkedAt:    time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
	}
	if err := s.SaveRegistration(ctx, want); err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}

	got, err := s.Registration(ctx)
	if err != nil {
		t.Fatalf("Registration: %v", err)
	}
	if got.ACI != want.ACI || got.DeviceName != want.DeviceName || got.Environment != want.Environment || !got.LinkedAt.Equal(want.LinkedAt) {
		t.Fatalf("Registration = %+v, want %+v", got, want)
	}
}

func TestContactsAndGroups(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir(), Options{})
	defer s.Close()

	if err := s.SaveContacts(ctx, []session.Contact{{ID: "a", Name: "Alice"}, {ID: "b"}}); err != nil {
		t.Fatalf("SaveContacts: %v", err)
	}
	if err := s.SaveContacts(ctx, []session.Contact{{ID: "a", Name: "Alicia"}}); err != nil {
		t.Fatalf("SaveContacts update: %v", err)
	}

	contact, err := s.Contact(ctx, "a")
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if contact.Name != "Alicia" {
		t.Fatalf("contact name = %q, want Alicia", contact.Name)
	}
	if _, err := s.Contact(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Contact(missing) = %v, want ErrNotFound", err)
	}

	key := []byte{1, 2, 3}
	if err := s.SaveGroups(ctx, []session.Group{{Key: key, Title: "Crew", Members: []string{"a", "b"}}}); err != nil {
		t.Fatalf("SaveGroups: %v", err)
	}
	group, err := s.Group(ctx, key)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if group.Title != "Crew" || len(group.Members) != 2 {
		t.Fatalf("Group = %+v", group)
	}
}

func TestMessagesKeyedByThreadAndTimestamp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir(), Options{})
	defer s.Close()

	content := session.Content{
		Metadata: session.Metadata{Sender: "alice", Timestamp: 1000},
		Body:     session.Body{Data: &session.DataMessage{Body: session.Ptr("hi")}},
	}
	if err := s.SaveMessage(ctx, session.ContactThread("alice"), content); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := s.Message(ctx, session.ContactThread("alice"), 1000)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if body, ok := got.TextBody(); !ok || body != "hi" {
		t.Fatalf("TextBody = %q, %v", body, ok)
	}

	if _, err := s.Message(ctx, session.ContactThread("bob"), 1000); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Message in other thread = %v, want ErrNotFound", err)
	}
	if _, err := s.Message(ctx, session.GroupThread([]byte{9}), 1000); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Message in group thread = %v, want ErrNotFound", err)
	}
}

func TestReopenKeepsContents(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestStore(t, dir, Options{})
	if err := s.SaveContacts(ctx, []session.Contact{{ID: "a", Name: "Alice"}}); err != nil {
		t.Fatalf("SaveContacts: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s = openTestStore(t, dir, Options{})
	defer s.Close()
	if _, err := s.Contact(ctx, "a"); err != nil {
		t.Fatalf("Contact after reopen: %v", err)
	}
}

func TestPassphraseSealsContents(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestStore(t, dir, Options{Passphrase: "correct horse"})
	if err := s.SaveContacts(ctx, []session.Contact{{ID: "a", Name: "Plaintext Name"}}); err != nil {
		t.Fatalf("SaveContacts: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, DatabaseName))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	wal, _ := os.ReadFile(filepath.Join(dir, DatabaseName+"-wal"))
	if strings.Contains(string(raw)+string(wal), "Plaintext Name") {
		t.Fatal("contact name stored in plaintext")
	}

	if _, err := Open(ctx, dir, Options{Passphrase: "wrong", Logger: slog.New(slog.DiscardHandler)}); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("Open with wrong passphrase = %v, want ErrWrongPassphrase", err)
	}
	if _, err := Open(ctx, dir, Options{Logger: slog.New(slog.DiscardHandler)}); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("Open without passphrase = %v, want ErrWrongPassphrase", err)
	}

	s = openTestStore(t, dir, Options{Passphrase: "correct horse"})
	defer s.Close()
	contact, err := s.Contact(ctx, "a")
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if contact.Name != "Plaintext Name" {
		t.Fatalf("contact name = %q", contact.Name)
	}
}

func TestPassphraseRejectedForPopulatedPlainStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestStore(t, dir, Options{})
	if err := s.SaveContacts(ctx, []session.Contact{{ID: "a"}}); err != nil {
		t.Fatalf("SaveContacts: %v", err)
	}
	s.Close()

	if _, err := Open(ctx, dir, Options{Passphrase: "late", Logger: slog.New(slog.DiscardHandler)}); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("Open = %v, want ErrWrongPassphrase", err)
	}
}

// forgeSchema rewrites the stored schema fingerprint as an older release would have left it.
func forgeSchema(t *testing.T, s *Store) {
	t.Helper()
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer s.pool.Put(conn)
	if err := writeMeta(conn, metaSchema, []byte("old")); err != nil {
		t.Fatalf("writeMeta: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA wal_checkpoint(TRUNCATE)", nil); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
}

func TestMigrationStrategies(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) string {
		dir := t.TempDir()
		s := openTestStore(t, dir, Options{})
		if err := s.SaveContacts(ctx, []session.Contact{{ID: "a"}}); err != nil {
			t.Fatalf("SaveContacts: %v", err)
		}
		forgeSchema(t, s)
		s.Close()
		return dir
	}

	t.Run("raise", func(t *testing.T) {
		dir := seed(t)
		_, err := Open(ctx, dir, Options{Logger: slog.New(slog.DiscardHandler)})
		if !errors.Is(err, ErrMigrationConflict) {
			t.Fatalf("Open = %v, want ErrMigrationConflict", err)
		}
	})

	t.Run("drop", func(t *testing.T) {
		dir := seed(t)
		s := openTestStore(t, dir, Options{Migration: MigrationDrop})
		defer s.Close()
		if _, err := s.Contact(ctx, "a"); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("Contact after drop = %v, want ErrNotFound", err)
		}
	})

	t.Run("backup and drop", func(t *testing.T) {
		dir := seed(t)
		s := openTestStore(t, dir, Options{Migration: MigrationBackupAndDrop})
		defer s.Close()

		backups, err := filepath.Glob(filepath.Join(dir, DatabaseName+".bak-*"))
		if err != nil {
			t.Fatalf("Glob: %v", err)
		}
		if len(backups) != 1 {
			t.Fatalf("backups = %v, want one", backups)
		}
		if _, err := s.Contact(ctx, "a"); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("Contact after drop = %v, want ErrNotFound", err)
		}
	})
}

func TestParseMigration(t *testing.T) {
	cases := map[string]Migration{
		"":                MigrationRaise,
		"raise":           MigrationRaise,
		"drop":            MigrationDrop,
		"backup_and_drop": MigrationBackupAndDrop,
	}
	for in, want := range cases {
		got, err := ParseMigration(in)
		if err != nil || got != want {
			t.Fatalf("ParseMigration(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMigration("rewrite"); err == nil {
		t.Fatal("expected error")
	}
}
