// Package store persists a linked device's session state in SQLite.
//
// A store is a directory holding a single database. Registration,
// contacts, groups and received messages are kept as CBOR blobs; when the
// store is opened with a passphrase every blob is additionally age
// encrypted to a per-store key, and that key is wrapped with the
// passphrase.
package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"presagebridge/pkg/session"
)

// DatabaseName is the file created inside the store directory.
const DatabaseName = "presage.db"

var (
	ErrMigrationConflict = errors.New("store: migration conflict")
	ErrWrongPassphrase   = errors.New("store: wrong passphrase")
)

type Options struct {
	// Passphrase seals stored blobs. Empty stores them unencrypted. A
	// store created with a passphrase can only be opened with the same one.
	Passphrase string

	Migration Migration

	// ScryptWorkFactor tunes the passphrase key derivation. Zero means
	// DefaultScryptWorkFactor.
	ScryptWorkFactor int

	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int

	Logger *slog.Logger
}

// Store implements session.Store. It is safe for concurrent use.
type Store struct {
	pool   *sqlitex.Pool
	sealer *sealer
	log    *slog.Logger
	path   string
}

var _ session.Store = (*Store)(nil)

// Open opens or creates the store in directory dir.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: creating %s: %w", dir, err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "store")

	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	dbPath := filepath.Join(dir, DatabaseName)
	pool, err := sqlitex.NewPool(dbPath, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", dbPath, err)
	}

	s := &Store{pool: pool, log: log, path: dbPath}
	if err := s.setup(ctx, opts); err != nil {
		_ = pool.Close()
		return nil, err
	}

	log.Info("Store opened", "path", dbPath, "sealed", s.sealer != nil, "pool_size", poolSize)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) setup(ctx context.Context, opts Options) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := s.migrate(conn, opts.Migration); err != nil {
		return err
	}
	return s.unlock(conn, opts.Passphrase, opts.ScryptWorkFactor)
}

func (s *Store) migrate(conn *sqlite.Conn, strategy Migration) error {
	stored, err := storedSchema(conn)
	if err != nil {
		return fmt.Errorf("store: reading schema version: %w", err)
	}

	if stored != "" && stored != schemaVersion {
		switch strategy {
		case MigrationRaise:
			return fmt.Errorf("%w: %s has schema %s, want %s", ErrMigrationConflict, s.path, stored, schemaVersion)
		case MigrationBackupAndDrop:
			target, err := backup(conn, s.path, time.Now())
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			s.log.Warn("Backed up store with old schema", "backup", target, "schema", stored)
			fallthrough
		case MigrationDrop:
			if err := dropTables(conn); err != nil {
				return fmt.Errorf("store: %w", err)
			}
			s.log.Warn("Dropped store with old schema", "schema", stored, "strategy", strategy.String())
		default:
			return fmt.Errorf("store: unknown migration strategy %s", strategy)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: creating schema: %w", err)
	}
	if err := writeMeta(conn, metaSchema, []byte(schemaVersion)); err != nil {
		return fmt.Errorf("store: writing schema version: %w", err)
	}
	return nil
}

func (s *Store) unlock(conn *sqlite.Conn, passphrase string, workFactor int) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	wrapped, sealed, err := readMeta(conn, metaKey)
	if err != nil {
		return fmt.Errorf("store: reading key: %w", err)
	}

	switch {
	case sealed && passphrase == "":
		return fmt.Errorf("%w: store is sealed", ErrWrongPassphrase)
	case sealed:
		s.sealer, err = unwrap(wrapped, passphrase)
		return err
	case passphrase == "":
		return nil
	}

	populated, err := hasContent(conn)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if populated {
		return fmt.Errorf("%w: store was created without a passphrase", ErrWrongPassphrase)
	}

	sealer, err := newSealer()
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	wrapped, err = sealer.wrap(passphrase, workFactor)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := writeMeta(conn, metaKey, wrapped); err != nil {
		return fmt.Errorf("store: writing key: %w", err)
	}
	s.sealer = sealer
	return nil
}

func hasContent(conn *sqlite.Conn) (bool, error) {
	var found bool
	err := sqlitex.Execute(conn, `SELECT 1 FROM registration UNION ALL SELECT 1 FROM contacts
		UNION ALL SELECT 1 FROM groups UNION ALL SELECT 1 FROM messages LIMIT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

// Close blocks until every borrowed connection is returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		s.log.Error("Store close failed", "path", s.path, "error", err)
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	s.log.Info("Store closed", "path", s.path)
	return nil
}

func (s *Store) encode(v any) ([]byte, error) {
	data, err := marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	return s.sealer.seal(data)
}

func (s *Store) decode(blob []byte, v any) error {
	data, err := s.sealer.open(blob)
	if err != nil {
		return err
	}
	if err := unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}
	return nil
}

// load runs a single-row query and decodes its first column into v.
func (s *Store) load(ctx context.Context, what, query string, args []any, v any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	var blob []byte
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("store: loading %s: %w", what, err)
	}
	if blob == nil {
		return session.ErrNotFound
	}
	if err := s.decode(blob, v); err != nil {
		return fmt.Errorf("store: loading %s: %w", what, err)
	}
	return nil
}

func (s *Store) Registration(ctx context.Context) (session.Registration, error) {
	var registration session.Registration
	err := s.load(ctx, "registration", `SELECT body FROM registration WHERE id = 1`, nil, &registration)
	if errors.Is(err, session.ErrNotFound) {
		return session.Registration{}, session.ErrNotRegistered
	}
	return registration, err
}

func (s *Store) SaveRegistration(ctx context.Context, registration session.Registration) error {
	blob, err := s.encode(registration)
	if err != nil {
		return fmt.Errorf("store: saving registration: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO registration (id, body) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body`, &sqlitex.ExecOptions{
		Args: []any{blob},
	})
	if err != nil {
		return fmt.Errorf("store: saving registration: %w", err)
	}
	return nil
}

func (s *Store) Contact(ctx context.Context, id string) (session.Contact, error) {
	var contact session.Contact
	err := s.load(ctx, "contact", `SELECT body FROM contacts WHERE id = ?`, []any{id}, &contact)
	return contact, err
}

func (s *Store) SaveContacts(ctx context.Context, contacts []session.Contact) error {
	rows := make([][]any, 0, len(contacts))
	for _, contact := range contacts {
		blob, err := s.encode(contact)
		if err != nil {
			return fmt.Errorf("store: saving contact %s: %w", contact.ID, err)
		}
		rows = append(rows, []any{contact.ID, blob})
	}
	return s.upsert(ctx, "contacts", `INSERT INTO contacts (id, body) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body`, rows)
}

func (s *Store) Group(ctx context.Context, key []byte) (session.Group, error) {
	var group session.Group
	err := s.load(ctx, "group", `SELECT body FROM groups WHERE key = ?`, []any{hex.EncodeToString(key)}, &group)
	return group, err
}

func (s *Store) SaveGroups(ctx context.Context, groups []session.Group) error {
	rows := make([][]any, 0, len(groups))
	for _, group := range groups {
		blob, err := s.encode(group)
		if err != nil {
			return fmt.Errorf("store: saving group: %w", err)
		}
		rows = append(rows, []any{hex.EncodeToString(group.Key), blob})
	}
	return s.upsert(ctx, "groups", `INSERT INTO groups (key, body) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET body = excluded.body`, rows)
}

func (s *Store) Message(ctx context.Context, thread session.Thread, timestamp uint64) (session.Content, error) {
	var content session.Content
	err := s.load(ctx, "message", `SELECT body FROM messages WHERE thread = ? AND timestamp = ?`,
		[]any{thread.Key(), int64(timestamp)}, &content)
	return content, err
}

func (s *Store) SaveMessage(ctx context.Context, thread session.Thread, content session.Content) error {
	blob, err := s.encode(content)
	if err != nil {
		return fmt.Errorf("store: saving message: %w", err)
	}
	return s.upsert(ctx, "messages", `INSERT INTO messages (thread, timestamp, body) VALUES (?, ?, ?)
		ON CONFLICT (thread, timestamp) DO UPDATE SET body = excluded.body`,
		[][]any{{thread.Key(), int64(content.Metadata.Timestamp), blob}})
}

// upsert writes rows in one immediate transaction.
func (s *Store) upsert(ctx context.Context, table, query string, rows [][]any) (err error) {
	if len(rows) == 0 {
		return nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, args := range rows {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return fmt.Errorf("store: writing %s: %w", table, err)
		}
	}
	return nil
}
