// Package sessiontest provides in-memory doubles for the session contract.
package sessiontest

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"presagebridge/pkg/session"
)

// Store is an in-memory session.Store. It also counts how many library
// operations hold it at once, so tests can assert serialized access.
type Store struct {
	// Hold widens each instrumented operation so overlapping access is
	// observable.
	Hold time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
	entries   atomic.Int32

	mu           sync.Mutex
	registration *session.Registration
	contacts     map[string]session.Contact
	groups       map[string]session.Group
	messages     map[string]map[uint64]session.Content
	closed       bool
}

func NewStore() *Store {
	return &Store{
		contacts: make(map[string]session.Contact),
		groups:   make(map[string]session.Group),
		messages: make(map[string]map[uint64]session.Content),
	}
}

// Acquire marks the start of an exclusive library operation on the store.
func (s *Store) Acquire() {
	n := s.active.Add(1)
	s.entries.Add(1)
	for {
		peak := s.maxActive.Load()
		if n <= peak || s.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.Hold > 0 {
		time.Sleep(s.Hold)
	}
}

func (s *Store) Release() {
	s.active.Add(-1)
}

// MaxConcurrent reports the highest number of simultaneous operations seen.
func (s *Store) MaxConcurrent() int {
	return int(s.maxActive.Load())
}

// Entries reports how many operations acquired the store.
func (s *Store) Entries() int {
	return int(s.entries.Load())
}

func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) Registration(context.Context) (session.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registration == nil {
		return session.Registration{}, session.ErrNotRegistered
	}
	return *s.registration, nil
}

func (s *Store) SaveRegistration(_ context.Context, registration session.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registration = &registration
	return nil
}

func (s *Store) Contact(_ context.Context, id string) (session.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[id]
	if !ok {
		return session.Contact{}, session.ErrNotFound
	}
	return contact, nil
}

func (s *Store) SaveContacts(_ context.Context, contacts []session.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range contacts {
		s.contacts[contact.ID] = contact
	}
	return nil
}

func (s *Store) Group(_ context.Context, key []byte) (session.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[hex.EncodeToString(key)]
	if !ok {
		return session.Group{}, session.ErrNotFound
	}
	return group, nil
}

func (s *Store) SaveGroups(_ context.Context, groups []session.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, group := range groups {
		s.groups[hex.EncodeToString(group.Key)] = group
	}
	return nil
}

func (s *Store) Message(_ context.Context, thread session.Thread, timestamp uint64) (session.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.messages[thread.Key()][timestamp]
	if !ok {
		return session.Content{}, session.ErrNotFound
	}
	return content, nil
}

func (s *Store) SaveMessage(_ context.Context, thread session.Thread, content session.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTimestamp, ok := s.messages[thread.Key()]
	if !ok {
		byTimestamp = make(map[uint64]session.Content)
		s.messages[thread.Key()] = byTimestamp
	}
	byTimestamp[content.Metadata.Timestamp] = content
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Library is a scripted session.Library.
type Library struct {
	// ProvisioningURL is sent during linking when non-empty.
	ProvisioningURL string
	LinkErr         error
	LoadErr         error

	// Manager is returned by successful link and load calls.
	Manager *Manager

	mu    sync.Mutex
	calls []string
}

func (l *Library) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

// Calls returns the library operations seen so far, in order.
func (l *Library) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *Library) LinkSecondaryDevice(ctx context.Context, store session.Store, servers session.ServerEnvironment, deviceName string, provisioning chan<- string) (session.Manager, error) {
	l.record("link")
	release := acquire(store)
	defer release()

	if l.ProvisioningURL != "" {
		provisioning <- l.ProvisioningURL
	}
	if l.LinkErr != nil {
		return nil, l.LinkErr
	}

	registration := session.Registration{
		Environment: servers,
		DeviceName:  deviceName,
		LinkedAt:    time.Now().UTC(),
	}
	if l.Manager != nil {
		registration.ACI = l.Manager.WhoAmI.ACI
		registration.Number = l.Manager.WhoAmI.Number
	}
	if err := store.SaveRegistration(ctx, registration); err != nil {
		return nil, err
	}
	return l.manager(store), nil
}

func (l *Library) LoadRegistered(ctx context.Context, store session.Store) (session.Manager, error) {
	l.record("load")
	release := acquire(store)
	defer release()

	if l.LoadErr != nil {
		return nil, l.LoadErr
	}
	if _, err := store.Registration(ctx); err != nil {
		return nil, err
	}
	return l.manager(store), nil
}

// manager binds the scripted Manager to store without touching the shared
// script, so concurrent sessions each look up in their own store.
func (l *Library) manager(store session.Store) session.Manager {
	script := l.Manager
	if script == nil {
		script = &Manager{}
	}
	lookup := script.StoreLookup
	if lookup.Store == nil {
		lookup = session.StoreLookup{Store: store}
	}
	return &boundManager{Manager: script, lookup: lookup}
}

type boundManager struct {
	*Manager
	lookup session.StoreLookup
}

func (b *boundManager) MessageByTimestamp(ctx context.Context, thread session.Thread, timestamp uint64) (session.Content, error) {
	return b.lookup.MessageByTimestamp(ctx, thread, timestamp)
}

func (b *boundManager) ContactByID(ctx context.Context, id string) (session.Contact, error) {
	return b.lookup.ContactByID(ctx, id)
}

func (b *boundManager) GroupByKey(ctx context.Context, key []byte) (session.Group, error) {
	return b.lookup.GroupByKey(ctx, key)
}

func acquire(store session.Store) func() {
	instrumented, ok := store.(*Store)
	if !ok {
		return func() {}
	}
	instrumented.Acquire()
	return instrumented.Release
}

// Manager is a scripted session.Manager. Lookups go to the embedded Store
// when set, otherwise to the store the Library was handed.
type Manager struct {
	session.StoreLookup

	WhoAmI     session.WhoAmI
	WhoamiErr  error
	ReceiveErr error

	// Units are delivered in order by each stream.
	Units []session.Content
	// Block keeps a stream open after Units until its context ends.
	Block bool

	closes atomic.Int32
}

func (m *Manager) Whoami(context.Context) (session.WhoAmI, error) {
	if m.WhoamiErr != nil {
		return session.WhoAmI{}, m.WhoamiErr
	}
	return m.WhoAmI, nil
}

func (m *Manager) ReceiveMessages(context.Context) (session.MessageStream, error) {
	if m.ReceiveErr != nil {
		return nil, m.ReceiveErr
	}
	return &Stream{units: append([]session.Content(nil), m.Units...), block: m.Block}, nil
}

func (m *Manager) Close() error {
	m.closes.Add(1)
	return nil
}

// Closes reports how many times the manager was released.
func (m *Manager) Closes() int {
	return int(m.closes.Load())
}

// Stream yields a fixed sequence of units.
type Stream struct {
	units  []session.Content
	block  bool
	closed atomic.Bool
}

// NewStream returns a stream that yields units and then io.EOF.
func NewStream(units ...session.Content) *Stream {
	return &Stream{units: units}
}

func (s *Stream) Next(ctx context.Context) (session.Content, error) {
	if s.closed.Load() {
		return session.Content{}, errors.New("sessiontest: stream closed")
	}
	if len(s.units) > 0 {
		unit := s.units[0]
		s.units = s.units[1:]
		return unit, nil
	}
	if s.block {
		<-ctx.Done()
		return session.Content{}, ctx.Err()
	}
	return session.Content{}, io.EOF
}

func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Stream) Closed() bool {
	return s.closed.Load()
}
