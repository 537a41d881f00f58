package host

import (
	"fmt"
	"time"

	"presagebridge/pkg/record"
)

// Describe renders one record as a single human-readable line.
func Describe(ev record.Event) string {
	switch e := ev.(type) {
	case record.ChannelReady:
		return fmt.Sprintf("session %s ready", e.Sender)
	case record.LinkQRReady:
		return "scan to link: " + e.URL
	case record.IdentityResolved:
		if e.Identity == "" {
			return "identity unknown"
		}
		return "identity " + e.Identity
	case record.Message:
		return DescribeMessage(e)
	default:
		return ev.Name()
	}
}

// DescribeMessage renders "[time] sender -> group: body". Sent messages
// are marked with "(me)".
func DescribeMessage(m record.Message) string {
	at := time.UnixMilli(int64(m.Timestamp)).UTC().Format(time.DateTime)
	who := m.Sender
	if who == "" {
		who = "?"
	}
	if m.Sent {
		who += " (me)"
	}
	if m.Group != "" {
		return fmt.Sprintf("[%s] %s -> %s: %s", at, who, m.Group, m.Body)
	}
	return fmt.Sprintf("[%s] %s: %s", at, who, m.Body)
}
