// Package record defines the events a bridge session reports and the
// fixed-layout record they are flattened into for the host callback.
package record

import "presagebridge/pkg/handle"

// Account is the host's opaque token for a session. The bridge echoes it in
// every record and never interprets it.
type Account uintptr

// Event is one outcome reported to the host.
type Event interface {
	isEvent()
	Name() string
}

// ChannelReady is emitted once per session, before any command runs, and
// carries the handle commands are submitted against.
type ChannelReady struct {
	Sender handle.Handle
}

// LinkQRReady carries the provisioning URL to render as a QR code.
type LinkQRReady struct {
	URL string
}

// IdentityResolved carries the account's own identity. An empty Identity
// means it could not be determined.
type IdentityResolved struct {
	Identity string
}

// Message is one normalized conversation entry. Timestamp is protocol time.
// Group is empty for direct conversations.
type Message struct {
	Sent      bool
	Timestamp uint64
	Sender    string
	Group     string
	Body      string
}

func (ChannelReady) isEvent()     {}
func (LinkQRReady) isEvent()      {}
func (IdentityResolved) isEvent() {}
func (Message) isEvent()          {}

func (ChannelReady) Name() string     { return "channel_ready" }
func (LinkQRReady) Name() string      { return "link_qr_ready" }
func (IdentityResolved) Name() string { return "identity_resolved" }
func (Message) Name() string          { return "message" }

// Record is the flat shape handed to the host. Nil string pointers are
// absent fields.
type Record struct {
	Account   Account
	Sender    handle.Handle
	QRCode    *string
	Identity  *string
	Timestamp uint64
	IsSent    bool
	Who       *string
	Group     *string
	Body      *string
}

// Callback receives records synchronously on the session's consumer loop.
// Strings a record references belong to the host once the callback returns.
type Callback func(Record)

// Marshal flattens event into a record for account.
func Marshal(account Account, event Event) Record {
	rec := Record{Account: account}

	switch ev := event.(type) {
	case ChannelReady:
		rec.Sender = ev.Sender
	case LinkQRReady:
		rec.QRCode = stringPtr(ev.URL)
	case IdentityResolved:
		// Always present: the empty string is the failure sentinel.
		identity := ev.Identity
		rec.Identity = &identity
	case Message:
		rec.Timestamp = ev.Timestamp
		rec.IsSent = ev.Sent
		rec.Who = optional(ev.Sender)
		rec.Group = optional(ev.Group)
		rec.Body = stringPtr(ev.Body)
	}

	return rec
}

// Decode recovers the event a record was marshaled from. Go hosts use it to
// switch on typed events instead of probing optional fields.
func Decode(rec Record) Event {
	switch {
	case rec.QRCode != nil:
		return LinkQRReady{URL: *rec.QRCode}
	case rec.Identity != nil:
		return IdentityResolved{Identity: *rec.Identity}
	case rec.Body != nil:
		return Message{
			Sent:      rec.IsSent,
			Timestamp: rec.Timestamp,
			Sender:    deref(rec.Who),
			Group:     deref(rec.Group),
			Body:      *rec.Body,
		}
	default:
		return ChannelReady{Sender: rec.Sender}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stringPtr(s string) *string {
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
