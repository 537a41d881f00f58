package session

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNoThread is returned when a unit carries no usable conversation key.
var ErrNoThread = errors.New("session: cannot derive thread")

// ThreadKind discriminates direct conversations from groups.
type ThreadKind int

const (
	ThreadContact ThreadKind = iota + 1
	ThreadGroup
)

// Thread is a conversation key: a contact identity or a group key.
type Thread struct {
	Kind     ThreadKind
	Identity string
	GroupKey []byte
}

func ContactThread(identity string) Thread {
	return Thread{Kind: ThreadContact, Identity: identity}
}

func GroupThread(key []byte) Thread {
	return Thread{Kind: ThreadGroup, GroupKey: append([]byte(nil), key...)}
}

func (t Thread) IsGroup() bool {
	return t.Kind == ThreadGroup
}

// Key is a stable string form used for storage and logs.
func (t Thread) Key() string {
	switch t.Kind {
	case ThreadContact:
		return "contact:" + t.Identity
	case ThreadGroup:
		return "group:" + hex.EncodeToString(t.GroupKey)
	default:
		return ""
	}
}

func (t Thread) String() string {
	switch t.Kind {
	case ThreadContact:
		return fmt.Sprintf("contact %s", t.Identity)
	case ThreadGroup:
		return fmt.Sprintf("group %s", hex.EncodeToString(t.GroupKey))
	default:
		return "invalid thread"
	}
}

// ThreadFromContent derives the conversation a unit belongs to. Group
// messages key off the group; sync-sent messages key off their destination;
// everything else keys off the sender.
func ThreadFromContent(c Content) (Thread, error) {
	switch {
	case c.Body.Data != nil:
		if group := c.Body.Data.Group; group != nil && len(group.Key) > 0 {
			return GroupThread(group.Key), nil
		}
	case c.Body.Sync != nil:
		sent := c.Body.Sync.Sent
		if sent == nil {
			break
		}
		if sent.Message != nil && sent.Message.Group != nil && len(sent.Message.Group.Key) > 0 {
			return GroupThread(sent.Message.Group.Key), nil
		}
		if sent.Destination == "" {
			return Thread{}, fmt.Errorf("%w: sync message without destination", ErrNoThread)
		}
		return ContactThread(sent.Destination), nil
	}

	if c.Metadata.Sender == "" {
		return Thread{}, fmt.Errorf("%w: missing sender", ErrNoThread)
	}
	return ContactThread(c.Metadata.Sender), nil
}
