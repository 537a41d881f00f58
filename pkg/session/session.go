// Package session defines the contract between the bridge and the
// secure-messaging client library it drives, and the protocol content model
// that flows across it.
//
// The bridge never speaks the protocol itself. A Library links or loads a
// registered session against a Store; the resulting Manager answers identity
// and lookup queries and yields the live stream of incoming Content.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotRegistered = errors.New("session: not registered")
	ErrNotFound      = errors.New("session: not found")
)

// ServerEnvironment selects the service deployment a device links against.
type ServerEnvironment int

const (
	Production ServerEnvironment = iota
	Staging
)

func (e ServerEnvironment) String() string {
	switch e {
	case Production:
		return "production"
	case Staging:
		return "staging"
	default:
		return fmt.Sprintf("environment(%d)", int(e))
	}
}

// ParseServerEnvironment accepts "production" (or empty) and "staging".
func ParseServerEnvironment(value string) (ServerEnvironment, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "production", "live":
		return Production, nil
	case "staging":
		return Staging, nil
	default:
		return 0, fmt.Errorf("unsupported server environment %q", value)
	}
}

// WhoAmI is the registered account's own identity. ACI is the durable
// service identifier reported to hosts.
type WhoAmI struct {
	ACI      string
	Number   string
	DeviceID uint32
}

type Contact struct {
	ID     string `cbor:"1,keyasint" json:"id"`
	Name   string `cbor:"2,keyasint,omitempty" json:"name,omitempty"`
	Number string `cbor:"3,keyasint,omitempty" json:"number,omitempty"`
}

type Group struct {
	Key     []byte   `cbor:"1,keyasint" json:"key"`
	Title   string   `cbor:"2,keyasint,omitempty" json:"title,omitempty"`
	Members []string `cbor:"3,keyasint,omitempty" json:"members,omitempty"`
}

// Registration is the persisted state of a linked device.
type Registration struct {
	Environment ServerEnvironment `cbor:"1,keyasint" json:"environment"`
	DeviceName  string            `cbor:"2,keyasint" json:"device_name"`
	Number      string            `cbor:"3,keyasint,omitempty" json:"number,omitempty"`
	ACI         string            `cbor:"4,keyasint,omitempty" json:"aci,omitempty"`
	DeviceID    uint32            `cbor:"5,keyasint,omitempty" json:"device_id,omitempty"`
	LinkedAt    time.Time         `cbor:"6,keyasint" json:"linked_at"`
}

// Store is the persistence a Library keeps its session state in. One Store
// is shared by every command of a bridge session and must be safe for
// concurrent use.
type Store interface {
	Registration(ctx context.Context) (Registration, error)
	SaveRegistration(ctx context.Context, registration Registration) error

	Contact(ctx context.Context, id string) (Contact, error)
	SaveContacts(ctx context.Context, contacts []Contact) error

	Group(ctx context.Context, key []byte) (Group, error)
	SaveGroups(ctx context.Context, groups []Group) error

	Message(ctx context.Context, thread Thread, timestamp uint64) (Content, error)
	SaveMessage(ctx context.Context, thread Thread, content Content) error

	Close() error
}

// Library is the mutating entry point of the messaging client.
type Library interface {
	// LinkSecondaryDevice registers this store as a secondary device. The
	// provisioning URL is sent on provisioning at most once, as soon as it
	// is known; the call itself returns only when linking completes.
	LinkSecondaryDevice(ctx context.Context, store Store, servers ServerEnvironment, deviceName string, provisioning chan<- string) (Manager, error)

	// LoadRegistered opens the session previously linked into store.
	LoadRegistered(ctx context.Context, store Store) (Manager, error)
}

// Lookup is the read-only surface the message normalizer depends on.
type Lookup interface {
	MessageByTimestamp(ctx context.Context, thread Thread, timestamp uint64) (Content, error)
	ContactByID(ctx context.Context, id string) (Contact, error)
	GroupByKey(ctx context.Context, key []byte) (Group, error)
}

// Manager is a registered session.
type Manager interface {
	Lookup

	Whoami(ctx context.Context) (WhoAmI, error)

	// ReceiveMessages opens the live stream of incoming units. The stream
	// is not restartable; a new call opens a new stream.
	ReceiveMessages(ctx context.Context) (MessageStream, error)

	// Close releases the connection held by the session. The bridge calls
	// it once the command that obtained the manager has finished.
	Close() error
}

// MessageStream yields units in delivery order. Next returns io.EOF once
// the underlying connection has ended.
type MessageStream interface {
	Next(ctx context.Context) (Content, error)
	Close() error
}
