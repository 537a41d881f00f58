package session

// Content is one incoming protocol unit as delivered by the Library.
type Content struct {
	Metadata Metadata `cbor:"1,keyasint" json:"metadata"`
	Body     Body     `cbor:"2,keyasint" json:"body"`
}

// Metadata describes the envelope a unit arrived in. Timestamp is protocol
// time in milliseconds, not local wall clock.
type Metadata struct {
	Sender       string `cbor:"1,keyasint" json:"sender"`
	SenderDevice uint32 `cbor:"2,keyasint,omitempty" json:"sender_device,omitempty"`
	Timestamp    uint64 `cbor:"3,keyasint" json:"timestamp"`
}

// Body holds exactly one populated variant. A Body with no variant set is
// an unrecognised kind.
type Body struct {
	Null    *NullMessage    `cbor:"1,keyasint,omitempty" json:"null,omitempty"`
	Data    *DataMessage    `cbor:"2,keyasint,omitempty" json:"data,omitempty"`
	Sync    *SyncMessage    `cbor:"3,keyasint,omitempty" json:"sync,omitempty"`
	Call    *CallMessage    `cbor:"4,keyasint,omitempty" json:"call,omitempty"`
	Typing  *TypingMessage  `cbor:"5,keyasint,omitempty" json:"typing,omitempty"`
	Receipt *ReceiptMessage `cbor:"6,keyasint,omitempty" json:"receipt,omitempty"`
}

// Kind names the populated variant for logging.
func (b Body) Kind() string {
	switch {
	case b.Null != nil:
		return "null"
	case b.Data != nil:
		return "data"
	case b.Sync != nil:
		return "sync"
	case b.Call != nil:
		return "call"
	case b.Typing != nil:
		return "typing"
	case b.Receipt != nil:
		return "receipt"
	default:
		return "unknown"
	}
}

type NullMessage struct{}

type DataMessage struct {
	Body      *string       `cbor:"1,keyasint,omitempty" json:"body,omitempty"`
	Quote     *Quote        `cbor:"2,keyasint,omitempty" json:"quote,omitempty"`
	Reaction  *Reaction     `cbor:"3,keyasint,omitempty" json:"reaction,omitempty"`
	Group     *GroupContext `cbor:"4,keyasint,omitempty" json:"group,omitempty"`
	Timestamp uint64        `cbor:"5,keyasint,omitempty" json:"timestamp,omitempty"`
}

type Quote struct {
	ID     uint64  `cbor:"1,keyasint,omitempty" json:"id,omitempty"`
	Author string  `cbor:"2,keyasint,omitempty" json:"author,omitempty"`
	Text   *string `cbor:"3,keyasint,omitempty" json:"text,omitempty"`
}

type Reaction struct {
	Emoji               *string `cbor:"1,keyasint,omitempty" json:"emoji,omitempty"`
	TargetAuthor        string  `cbor:"2,keyasint,omitempty" json:"target_author,omitempty"`
	TargetSentTimestamp *uint64 `cbor:"3,keyasint,omitempty" json:"target_sent_timestamp,omitempty"`
	Remove              bool    `cbor:"4,keyasint,omitempty" json:"remove,omitempty"`
}

// GroupContext identifies the group a data message belongs to.
type GroupContext struct {
	Key []byte `cbor:"1,keyasint" json:"key"`
}

type SyncMessage struct {
	Sent *SyncSent `cbor:"1,keyasint,omitempty" json:"sent,omitempty"`
}

// SyncSent is a message this account sent from another linked device.
type SyncSent struct {
	Destination string       `cbor:"1,keyasint,omitempty" json:"destination,omitempty"`
	Timestamp   uint64       `cbor:"2,keyasint,omitempty" json:"timestamp,omitempty"`
	Message     *DataMessage `cbor:"3,keyasint,omitempty" json:"message,omitempty"`
}

type CallMessage struct {
	Kind string `cbor:"1,keyasint,omitempty" json:"kind,omitempty"`
}

type TypingMessage struct {
	Action string `cbor:"1,keyasint,omitempty" json:"action,omitempty"`
}

type ReceiptMessage struct {
	Kind       string   `cbor:"1,keyasint,omitempty" json:"kind,omitempty"`
	Timestamps []uint64 `cbor:"2,keyasint,omitempty" json:"timestamps,omitempty"`
}

// TextBody returns the text of a data message, or of the data message
// wrapped by a sync-sent unit.
func (c Content) TextBody() (string, bool) {
	data := c.Body.Data
	if data == nil && c.Body.Sync != nil && c.Body.Sync.Sent != nil {
		data = c.Body.Sync.Sent.Message
	}
	if data == nil || data.Body == nil {
		return "", false
	}
	return *data.Body, true
}

// Ptr returns a pointer to v. Handy for building optional protocol fields.
func Ptr[T any](v T) *T {
	return &v
}
