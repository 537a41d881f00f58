package signalcli

import (
	"encoding/base64"
	"fmt"

	"presagebridge/pkg/jsoncodec"
	"presagebridge/pkg/session"
)

// receiveParams is the payload of a "receive" notification. Daemons started
// for a single account put the envelope at the top level; subscriptions on a
// multi-account daemon nest it under "result".
type receiveParams struct {
	Account  string         `json:"account,omitempty"`
	Envelope *envelope      `json:"envelope,omitempty"`
	Result   *receiveParams `json:"result,omitempty"`
	Error    *RPCError      `json:"error,omitempty"`
}

type envelope struct {
	Source         string          `json:"source,omitempty"`
	SourceNumber   string          `json:"sourceNumber,omitempty"`
	SourceUUID     string          `json:"sourceUuid,omitempty"`
	SourceDevice   uint32          `json:"sourceDevice,omitempty"`
	Timestamp      uint64          `json:"timestamp"`
	DataMessage    *dataMessage    `json:"dataMessage,omitempty"`
	SyncMessage    *syncMessage    `json:"syncMessage,omitempty"`
	CallMessage    map[string]any  `json:"callMessage,omitempty"`
	TypingMessage  *typingMessage  `json:"typingMessage,omitempty"`
	ReceiptMessage *receiptMessage `json:"receiptMessage,omitempty"`
}

type dataMessage struct {
	Timestamp    uint64        `json:"timestamp"`
	Message      *string       `json:"message,omitempty"`
	Quote        *quote        `json:"quote,omitempty"`
	Reaction     *reaction     `json:"reaction,omitempty"`
	GroupInfo    *groupInfo    `json:"groupInfo,omitempty"`
	RemoteDelete *remoteDelete `json:"remoteDelete,omitempty"`
}

type quote struct {
	ID         uint64  `json:"id"`
	Author     string  `json:"author,omitempty"`
	AuthorUUID string  `json:"authorUuid,omitempty"`
	Text       *string `json:"text,omitempty"`
}

type reaction struct {
	Emoji               *string `json:"emoji,omitempty"`
	TargetAuthor        string  `json:"targetAuthor,omitempty"`
	TargetAuthorUUID    string  `json:"targetAuthorUuid,omitempty"`
	TargetSentTimestamp *uint64 `json:"targetSentTimestamp,omitempty"`
	IsRemove            bool    `json:"isRemove,omitempty"`
}

type groupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type,omitempty"`
}

type remoteDelete struct {
	Timestamp uint64 `json:"timestamp"`
}

type syncMessage struct {
	SentMessage *sentMessage `json:"sentMessage,omitempty"`
}

type sentMessage struct {
	dataMessage
	Destination       string `json:"destination,omitempty"`
	DestinationNumber string `json:"destinationNumber,omitempty"`
	DestinationUUID   string `json:"destinationUuid,omitempty"`
}

type typingMessage struct {
	Action    string `json:"action"`
	Timestamp uint64 `json:"timestamp"`
}

type receiptMessage struct {
	IsDelivery bool     `json:"isDelivery,omitempty"`
	IsRead     bool     `json:"isRead,omitempty"`
	IsViewed   bool     `json:"isViewed,omitempty"`
	Timestamps []uint64 `json:"timestamps,omitempty"`
}

// parseReceive extracts the envelope from a receive notification.
func parseReceive(raw jsoncodec.RawMessage) (string, *envelope, error) {
	var params receiveParams
	if err := jsoncodec.Unmarshal(raw, &params); err != nil {
		return "", nil, fmt.Errorf("decoding receive params: %w", err)
	}
	if params.Result != nil {
		params = *params.Result
	}
	if params.Error != nil {
		return params.Account, nil, params.Error
	}
	if params.Envelope == nil {
		return params.Account, nil, fmt.Errorf("receive notification without envelope")
	}
	return params.Account, params.Envelope, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// content maps an envelope onto the protocol content model. Envelopes that
// carry none of the known message kinds map to an empty Body.
func (e *envelope) content() session.Content {
	c := session.Content{
		Metadata: session.Metadata{
			Sender:       firstNonEmpty(e.SourceUUID, e.SourceNumber, e.Source),
			SenderDevice: e.SourceDevice,
			Timestamp:    e.Timestamp,
		},
	}

	switch {
	case e.DataMessage != nil && e.DataMessage.RemoteDelete != nil:
		c.Body.Null = &session.NullMessage{}
	case e.DataMessage != nil:
		c.Body.Data = e.DataMessage.toSession()
	case e.SyncMessage != nil && e.SyncMessage.SentMessage != nil:
		sent := e.SyncMessage.SentMessage
		c.Body.Sync = &session.SyncMessage{Sent: &session.SyncSent{
			Destination: firstNonEmpty(sent.DestinationUUID, sent.DestinationNumber, sent.Destination),
			Timestamp:   sent.Timestamp,
			Message:     sent.dataMessage.toSession(),
		}}
	case e.SyncMessage != nil:
		c.Body.Sync = &session.SyncMessage{}
	case e.CallMessage != nil:
		c.Body.Call = &session.CallMessage{Kind: callKind(e.CallMessage)}
	case e.TypingMessage != nil:
		c.Body.Typing = &session.TypingMessage{Action: e.TypingMessage.Action}
	case e.ReceiptMessage != nil:
		c.Body.Receipt = &session.ReceiptMessage{
			Kind:       e.ReceiptMessage.kind(),
			Timestamps: e.ReceiptMessage.Timestamps,
		}
	}

	return c
}

func (d *dataMessage) toSession() *session.DataMessage {
	out := &session.DataMessage{
		Body:      d.Message,
		Timestamp: d.Timestamp,
	}
	if d.Quote != nil {
		out.Quote = &session.Quote{
			ID:     d.Quote.ID,
			Author: firstNonEmpty(d.Quote.AuthorUUID, d.Quote.Author),
			Text:   d.Quote.Text,
		}
	}
	if d.Reaction != nil {
		out.Reaction = &session.Reaction{
			Emoji:               d.Reaction.Emoji,
			TargetAuthor:        firstNonEmpty(d.Reaction.TargetAuthorUUID, d.Reaction.TargetAuthor),
			TargetSentTimestamp: d.Reaction.TargetSentTimestamp,
			Remove:              d.Reaction.IsRemove,
		}
	}
	if d.GroupInfo != nil && d.GroupInfo.GroupID != "" {
		if key, err := base64.StdEncoding.DecodeString(d.GroupInfo.GroupID); err == nil {
			out.Group = &session.GroupContext{Key: key}
		}
	}
	return out
}

func callKind(call map[string]any) string {
	for _, kind := range []string{"offerMessage", "answerMessage", "hangupMessage", "busyMessage", "iceUpdate"} {
		if _, ok := call[kind]; ok {
			return kind
		}
	}
	return "unknown"
}

func (r *receiptMessage) kind() string {
	switch {
	case r.IsRead:
		return "read"
	case r.IsViewed:
		return "viewed"
	default:
		return "delivery"
	}
}
