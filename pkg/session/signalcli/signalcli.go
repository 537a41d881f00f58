// Package signalcli binds the session contract to a signal-cli daemon
// reached over its JSON-RPC socket.
//
// Each library call dials its own connection; the returned Manager owns it
// until Close.
package signalcli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"presagebridge/pkg/session"
)

// DefaultDialTimeout bounds connecting to the daemon.
const DefaultDialTimeout = 10 * time.Second

type Options struct {
	// Network is "unix" (default) or "tcp".
	Network string
	Address string

	// Environment is the service deployment the daemon was started
	// against. Linking for another environment is refused.
	Environment session.ServerEnvironment

	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Library implements session.Library.
type Library struct {
	opts Options
	log  *slog.Logger
}

var _ session.Library = (*Library)(nil)

func New(opts Options) *Library {
	if opts.Network == "" {
		opts.Network = "unix"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Library{opts: opts, log: log.With("component", "signalcli")}
}

func (l *Library) dial(ctx context.Context) (*Client, error) {
	if l.opts.Address == "" {
		return nil, fmt.Errorf("signalcli: daemon address is not configured")
	}
	dialCtx, cancel := context.WithTimeout(ctx, l.opts.DialTimeout)
	defer cancel()
	return Dial(dialCtx, l.opts.Network, l.opts.Address, l.log)
}

type linkStart struct {
	DeviceLinkURI string `json:"deviceLinkUri"`
}

type linkFinish struct {
	Number string `json:"number"`
}

func (l *Library) LinkSecondaryDevice(ctx context.Context, store session.Store, servers session.ServerEnvironment, deviceName string, provisioning chan<- string) (session.Manager, error) {
	if servers != l.opts.Environment {
		return nil, fmt.Errorf("signalcli: daemon serves %s, cannot link against %s", l.opts.Environment, servers)
	}

	client, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}

	var start linkStart
	if err := client.Call(ctx, "startLink", nil, &start); err != nil {
		client.Close()
		return nil, fmt.Errorf("signalcli: start link: %w", err)
	}

	select {
	case provisioning <- start.DeviceLinkURI:
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	}

	var finish linkFinish
	err = client.Call(ctx, "finishLink", map[string]any{
		"deviceLinkUri": start.DeviceLinkURI,
		"deviceName":    deviceName,
	}, &finish)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("signalcli: finish link: %w", err)
	}

	m := newManager(client, store, finish.Number, l.log)
	who, err := m.Whoami(ctx)
	if err != nil {
		l.log.Warn("Linked account identity not yet available", "number", finish.Number, "error", err)
	}

	registration := session.Registration{
		Environment: servers,
		DeviceName:  deviceName,
		Number:      finish.Number,
		ACI:         who.ACI,
		DeviceID:    who.DeviceID,
		LinkedAt:    time.Now().UTC(),
	}
	if err := store.SaveRegistration(ctx, registration); err != nil {
		m.Close()
		return nil, fmt.Errorf("signalcli: saving registration: %w", err)
	}

	l.log.Info("Device linked", "number", finish.Number, "device_name", deviceName)
	return m, nil
}

func (l *Library) LoadRegistered(ctx context.Context, store session.Store) (session.Manager, error) {
	registration, err := store.Registration(ctx)
	if err != nil {
		return nil, err
	}
	if registration.Number == "" {
		return nil, fmt.Errorf("signalcli: registration has no account number: %w", session.ErrNotRegistered)
	}

	client, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	return newManager(client, store, registration.Number, l.log), nil
}

// Manager implements session.Manager for one account.
type Manager struct {
	session.StoreLookup

	client  *Client
	account string
	log     *slog.Logger
}

func newManager(client *Client, store session.Store, account string, log *slog.Logger) *Manager {
	return &Manager{
		StoreLookup: session.StoreLookup{Store: store},
		client:      client,
		account:     account,
		log:         log.With("account", account),
	}
}

type userStatus struct {
	Number       string `json:"number"`
	UUID         string `json:"uuid"`
	IsRegistered bool   `json:"isRegistered"`
}

func (m *Manager) Whoami(ctx context.Context) (session.WhoAmI, error) {
	var statuses []userStatus
	err := m.client.Call(ctx, "getUserStatus", map[string]any{
		"account":   m.account,
		"recipient": []string{m.account},
	}, &statuses)
	if err != nil {
		return session.WhoAmI{}, fmt.Errorf("signalcli: whoami: %w", err)
	}

	for _, status := range statuses {
		if status.UUID != "" {
			return session.WhoAmI{ACI: status.UUID, Number: m.account}, nil
		}
	}
	return session.WhoAmI{}, fmt.Errorf("signalcli: whoami: no service identifier for %s", m.account)
}

type contactEntry struct {
	Number  string `json:"number"`
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Profile *struct {
		GivenName  string `json:"givenName"`
		FamilyName string `json:"familyName"`
	} `json:"profile,omitempty"`
}

type groupEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Members []struct {
		Number string `json:"number"`
		UUID   string `json:"uuid"`
	} `json:"members"`
}

// syncDirectory copies the daemon's contacts and groups into the store so
// the normalizer can label messages.
func (m *Manager) syncDirectory(ctx context.Context) error {
	var contacts []contactEntry
	if err := m.client.Call(ctx, "listContacts", map[string]any{"account": m.account}, &contacts); err != nil {
		return fmt.Errorf("listing contacts: %w", err)
	}

	converted := make([]session.Contact, 0, len(contacts))
	for _, c := range contacts {
		id := firstNonEmpty(c.UUID, c.Number)
		if id == "" {
			continue
		}
		name := c.Name
		if name == "" && c.Profile != nil {
			name = strings.TrimSpace(c.Profile.GivenName + " " + c.Profile.FamilyName)
		}
		converted = append(converted, session.Contact{ID: id, Name: name, Number: c.Number})
	}
	if err := m.Store.SaveContacts(ctx, converted); err != nil {
		return fmt.Errorf("saving contacts: %w", err)
	}

	var groups []groupEntry
	if err := m.client.Call(ctx, "listGroups", map[string]any{"account": m.account}, &groups); err != nil {
		return fmt.Errorf("listing groups: %w", err)
	}

	convertedGroups := make([]session.Group, 0, len(groups))
	for _, g := range groups {
		key, err := base64.StdEncoding.DecodeString(g.ID)
		if err != nil {
			m.log.Warn("Skipping group with undecodable id", "group_id", g.ID, "error", err)
			continue
		}
		members := make([]string, 0, len(g.Members))
		for _, member := range g.Members {
			members = append(members, firstNonEmpty(member.UUID, member.Number))
		}
		convertedGroups = append(convertedGroups, session.Group{Key: key, Title: g.Name, Members: members})
	}
	if err := m.Store.SaveGroups(ctx, convertedGroups); err != nil {
		return fmt.Errorf("saving groups: %w", err)
	}

	m.log.Debug("Directory synced", "contacts", len(converted), "groups", len(convertedGroups))
	return nil
}

func (m *Manager) ReceiveMessages(ctx context.Context) (session.MessageStream, error) {
	if err := m.syncDirectory(ctx); err != nil {
		m.log.Warn("Directory sync failed", "error", err)
	}

	err := m.client.Call(ctx, "subscribeReceive", map[string]any{"account": m.account}, nil)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == codeMethodNotFound {
		// Single-account daemons push receive notifications unasked.
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("signalcli: subscribe: %w", err)
	}

	return &stream{manager: m}, nil
}

func (m *Manager) Close() error {
	return m.client.Close()
}

type stream struct {
	manager *Manager
	closed  bool
}

func (s *stream) Next(ctx context.Context) (session.Content, error) {
	m := s.manager
	for {
		if s.closed {
			return session.Content{}, io.EOF
		}

		var (
			n  Notification
			ok bool
		)
		select {
		case <-ctx.Done():
			return session.Content{}, ctx.Err()
		case n, ok = <-m.client.Notifications():
		}
		if !ok {
			return session.Content{}, io.EOF
		}
		if n.Method != "receive" {
			continue
		}

		account, env, err := parseReceive(n.Params)
		if err != nil {
			m.log.Warn("Skipping receive notification", "error", err)
			continue
		}
		if account != "" && account != m.account {
			continue
		}

		content := env.content()
		m.remember(ctx, content)
		return content, nil
	}
}

// remember persists text-bearing units so later reactions can resolve them.
func (m *Manager) remember(ctx context.Context, content session.Content) {
	if _, ok := content.TextBody(); !ok {
		return
	}
	thread, err := session.ThreadFromContent(content)
	if err != nil {
		return
	}
	if err := m.Store.SaveMessage(ctx, thread, content); err != nil {
		m.log.Warn("Saving message failed", "thread", thread.String(), "error", err)
	}
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
