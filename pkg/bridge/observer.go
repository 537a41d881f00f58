package bridge

import (
	"context"
	"log/slog"
	"time"

	"presagebridge/pkg/bus"
)

const observerBuffer = 64

func observeEvents(ctx context.Context, events <-chan bus.Event, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"session", event.Session,
		"command", event.Command,
		"request_id", event.RequestID,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventCommandAbandoned:
		log.Warn("Bridge event", attrs...)
	case bus.EventCommandFinished:
		if event.Error != "" {
			log.Warn("Bridge event", append(attrs, "error", event.Error)...)
			return
		}
		log.Info("Bridge event", attrs...)
	case bus.EventSessionOpened, bus.EventSessionClosed:
		log.Info("Bridge event", attrs...)
	case bus.EventUnitDropped:
		log.Debug("Bridge event", append(attrs, "error", event.Error)...)
	default:
		log.Debug("Bridge event", attrs...)
	}
}
