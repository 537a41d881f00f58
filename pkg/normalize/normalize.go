// Package normalize turns heterogeneous incoming protocol units into the
// single flat Message shape reported to hosts.
package normalize

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"presagebridge/pkg/record"
	"presagebridge/pkg/session"
)

const (
	BodyNullMessage = "Null message (for example deleted)"
	BodyEmptyData   = "Empty data message"
	BodyCalling     = "is calling!"

	MissingGroup = "<missing group>"
)

var (
	ErrUnsupported    = errors.New("normalize: unsupported content")
	ErrReactionTarget = errors.New("normalize: reaction target unavailable")
)

// GroupNaming selects how the group field of a message is rendered.
type GroupNaming string

const (
	// GroupTitle renders the group's display title, or MissingGroup.
	GroupTitle GroupNaming = "title"
	// GroupHex renders the raw group key, hex encoded.
	GroupHex GroupNaming = "hex"
)

func ParseGroupNaming(value string) (GroupNaming, error) {
	switch GroupNaming(value) {
	case "", GroupTitle:
		return GroupTitle, nil
	case GroupHex:
		return GroupHex, nil
	default:
		return "", fmt.Errorf("unsupported group naming %q", value)
	}
}

type Options struct {
	// ContactNames renders contact identities as "<name>: <identity>" when
	// the contact has a display name.
	ContactNames bool
	GroupNaming  GroupNaming
	Logger       *slog.Logger
}

type Normalizer struct {
	contactNames bool
	groupNaming  GroupNaming
	log          *slog.Logger
}

func New(opts Options) *Normalizer {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	naming := opts.GroupNaming
	if naming == "" {
		naming = GroupTitle
	}

	return &Normalizer{
		contactNames: opts.ContactNames,
		groupNaming:  naming,
		log:          log.With("component", "normalize"),
	}
}

// Normalize converts one unit. A non-nil error means the unit was dropped;
// the error says why.
func (n *Normalizer) Normalize(ctx context.Context, lookup session.Lookup, content session.Content) (record.Message, error) {
	thread, err := session.ThreadFromContent(content)
	if err != nil {
		n.log.Debug("Dropping unit without thread", "kind", content.Body.Kind(), "error", err)
		return record.Message{}, err
	}

	var (
		body string
		sent bool
	)

	switch {
	case content.Body.Null != nil:
		body = BodyNullMessage
	case content.Body.Data != nil:
		body, err = n.formatDataMessage(ctx, lookup, thread, content.Body.Data)
	case content.Body.Sync != nil && content.Body.Sync.Sent != nil && content.Body.Sync.Sent.Message != nil:
		body, err = n.formatDataMessage(ctx, lookup, thread, content.Body.Sync.Sent.Message)
		sent = true
	case content.Body.Call != nil:
		body = BodyCalling
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, content.Body.Kind())
	}
	if err != nil {
		n.log.Debug("Dropping unit", "thread", thread.String(), "kind", content.Body.Kind(), "error", err)
		return record.Message{}, err
	}

	msg := record.Message{
		Sent:      sent,
		Timestamp: content.Metadata.Timestamp,
		Body:      body,
	}

	switch {
	case !thread.IsGroup():
		// Sent messages attribute the recipient in the same field.
		msg.Sender = n.contactLabel(ctx, lookup, thread.Identity)
	case sent:
		msg.Group = n.groupLabel(ctx, lookup, thread.GroupKey)
	default:
		msg.Sender = n.contactLabel(ctx, lookup, content.Metadata.Sender)
		msg.Group = n.groupLabel(ctx, lookup, thread.GroupKey)
	}

	n.log.Debug("Normalized message", "who", msg.Sender, "group", msg.Group, "sent", msg.Sent, "timestamp", msg.Timestamp)
	return msg, nil
}

func (n *Normalizer) formatDataMessage(ctx context.Context, lookup session.Lookup, thread session.Thread, data *session.DataMessage) (string, error) {
	switch {
	case data.Quote != nil && data.Quote.Text != nil && data.Body != nil:
		return fmt.Sprintf("Answer to message \"%s\": %s", *data.Quote.Text, *data.Body), nil
	case data.Reaction != nil && data.Reaction.TargetSentTimestamp != nil && data.Reaction.Emoji != nil:
		return n.formatReaction(ctx, lookup, thread, data.Reaction)
	case data.Body != nil:
		return *data.Body, nil
	default:
		return BodyEmptyData, nil
	}
}

func (n *Normalizer) formatReaction(ctx context.Context, lookup session.Lookup, thread session.Thread, reaction *session.Reaction) (string, error) {
	timestamp := *reaction.TargetSentTimestamp

	target, err := lookup.MessageByTimestamp(ctx, thread, timestamp)
	if err != nil {
		return "", fmt.Errorf("%w: no message in %s sent at %d: %w", ErrReactionTarget, thread.String(), timestamp, err)
	}

	body, ok := target.TextBody()
	if !ok {
		return "", fmt.Errorf("%w: message reacted to has no body", ErrReactionTarget)
	}

	return fmt.Sprintf("Reacted with %s to message: \"%s\"", *reaction.Emoji, body), nil
}

func (n *Normalizer) contactLabel(ctx context.Context, lookup session.Lookup, identity string) string {
	if !n.contactNames || identity == "" {
		return identity
	}

	contact, err := lookup.ContactByID(ctx, identity)
	if err != nil || contact.Name == "" {
		return identity
	}
	return contact.Name + ": " + identity
}

func (n *Normalizer) groupLabel(ctx context.Context, lookup session.Lookup, key []byte) string {
	if n.groupNaming == GroupHex {
		return hex.EncodeToString(key)
	}

	group, err := lookup.GroupByKey(ctx, key)
	if err != nil || group.Title == "" {
		return MissingGroup
	}
	return group.Title
}

// DropReason classifies a Normalize error for metrics labels.
func DropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrNoThread):
		return "no_thread"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrReactionTarget):
		return "reaction_target"
	default:
		return "other"
	}
}
