package store

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Migration selects what Open does when an existing database was written
// with a different schema.
type Migration int

const (
	// MigrationRaise refuses to open the store.
	MigrationRaise Migration = iota
	// MigrationDrop discards the old contents.
	MigrationDrop
	// MigrationBackupAndDrop copies the database aside, then discards it.
	MigrationBackupAndDrop
)

func (m Migration) String() string {
	switch m {
	case MigrationRaise:
		return "raise"
	case MigrationDrop:
		return "drop"
	case MigrationBackupAndDrop:
		return "backup_and_drop"
	default:
		return fmt.Sprintf("migration(%d)", int(m))
	}
}

func ParseMigration(value string) (Migration, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "raise":
		return MigrationRaise, nil
	case "drop":
		return MigrationDrop, nil
	case "backup_and_drop", "backup-and-drop":
		return MigrationBackupAndDrop, nil
	default:
		return 0, fmt.Errorf("unsupported migration strategy %q", value)
	}
}

var tables = []string{"meta", "registration", "contacts", "groups", "messages"}

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS registration (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	body BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS contacts (
	id   TEXT PRIMARY KEY,
	body BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS groups (
	key  TEXT PRIMARY KEY,
	body BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	thread    TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	body      BLOB NOT NULL,
	PRIMARY KEY (thread, timestamp)
);
`

// schemaVersion changes whenever the table layout or the encoding of stored
// blobs changes.
var schemaVersion = fingerprint(schema, "cbor-v1")

func fingerprint(parts ...string) string {
	h := blake3.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

const (
	metaSchema = "schema"
	metaKey    = "key"
)

// storedSchema returns the fingerprint recorded in an existing database,
// or "" for a fresh one.
func storedSchema(conn *sqlite.Conn) (string, error) {
	var exists bool
	err := sqlitex.Execute(conn, `SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'meta'`, &sqlitex.ExecOptions{
		ResultFunc: func(*sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil || !exists {
		return "", err
	}

	value, _, err := readMeta(conn, metaSchema)
	return string(value), err
}

func readMeta(conn *sqlite.Conn, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := sqlitex.Execute(conn, `SELECT value FROM meta WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			found = true
			return nil
		},
	})
	return value, found, err
}

func writeMeta(conn *sqlite.Conn, key string, value []byte) error {
	return sqlitex.Execute(conn, `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, &sqlitex.ExecOptions{
		Args: []any{key, value},
	})
}

func dropTables(conn *sqlite.Conn) error {
	for _, table := range tables {
		if err := sqlitex.ExecuteTransient(conn, "DROP TABLE IF EXISTS "+table, nil); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	return nil
}

// backup writes a consistent copy of the database next to it and returns
// the copy's path.
func backup(conn *sqlite.Conn, dbPath string, now time.Time) (string, error) {
	target := fmt.Sprintf("%s.bak-%d", dbPath, now.Unix())
	if err := sqlitex.ExecuteTransient(conn, `VACUUM INTO ?`, &sqlitex.ExecOptions{Args: []any{target}}); err != nil {
		return "", fmt.Errorf("backing up to %s: %w", target, err)
	}
	return target, nil
}
