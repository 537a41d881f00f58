package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"presagebridge/pkg/bus"
	"presagebridge/pkg/normalize"
	"presagebridge/pkg/record"
	"presagebridge/pkg/session"
)

// process executes one command. Failures are reported through logs and
// records, never to the producer; the returned error only feeds metrics.
func (s *Session) process(command Command, log *slog.Logger) error {
	switch cmd := command.(type) {
	case LinkDevice:
		return s.link(s.ctx, cmd, log)
	case Whoami:
		return s.whoami(s.ctx, log)
	case Receive:
		return s.receive(s.ctx, log)
	default:
		return fmt.Errorf("bridge: unknown command %T", command)
	}
}

func (s *Session) link(ctx context.Context, cmd LinkDevice, log *slog.Logger) error {
	provisioning := make(chan string, 1)

	var waiter sync.WaitGroup
	waiter.Add(1)
	go func() {
		defer waiter.Done()
		url, ok := <-provisioning
		if !ok {
			return
		}
		log.Info("Provisioning URL ready")
		s.emit(record.LinkQRReady{URL: url})
	}()

	manager, err := s.rt.library.LinkSecondaryDevice(ctx, s.store, cmd.Servers, cmd.DeviceName, provisioning)
	close(provisioning)
	waiter.Wait()

	if err != nil {
		log.Error("Linking device failed", "device_name", cmd.DeviceName, "servers", cmd.Servers.String(), "error", err)
		return err
	}
	defer closeManager(manager, log)

	who, err := manager.Whoami(ctx)
	if err != nil {
		log.Error("Resolving identity after link failed", "error", err)
		s.emit(record.IdentityResolved{})
		return err
	}

	log.Info("Device linked", "device_name", cmd.DeviceName)
	s.emit(record.IdentityResolved{Identity: who.ACI})
	return nil
}

func (s *Session) whoami(ctx context.Context, log *slog.Logger) error {
	identity, err := s.resolveIdentity(ctx)
	if err != nil {
		log.Warn("Whoami failed", "error", err)
	}
	s.emit(record.IdentityResolved{Identity: identity})
	return err
}

func (s *Session) resolveIdentity(ctx context.Context) (string, error) {
	manager, err := s.rt.library.LoadRegistered(ctx, s.store)
	if err != nil {
		return "", fmt.Errorf("load registered: %w", err)
	}
	defer closeManager(manager, s.log)

	who, err := manager.Whoami(ctx)
	if err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	return who.ACI, nil
}

func (s *Session) receive(ctx context.Context, log *slog.Logger) error {
	manager, err := s.rt.library.LoadRegistered(ctx, s.store)
	if err != nil {
		log.Error("Loading registered session failed", "error", err)
		return err
	}
	defer closeManager(manager, log)

	stream, err := manager.ReceiveMessages(ctx)
	if err != nil {
		log.Error("Opening message stream failed", "error", err)
		return err
	}
	defer stream.Close()

	var delivered, dropped int
	for {
		content, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Info("Message stream ended", "delivered", delivered, "dropped", dropped)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Message stream stopped", "delivered", delivered, "dropped", dropped)
				return nil
			}
			log.Error("Message stream failed", "error", err)
			return err
		}

		msg, err := s.rt.normalizer.Normalize(ctx, manager, content)
		if err != nil {
			dropped++
			reason := normalize.DropReason(err)
			s.rt.metrics.UnitDropped(reason)
			s.rt.events.Publish(context.Background(), bus.Event{
				Type:    bus.EventUnitDropped,
				Session: s.handle.String(),
				Command: Receive{}.Name(),
				Payload: map[string]string{"reason": reason, "kind": content.Body.Kind()},
				Error:   err.Error(),
			})
			continue
		}

		delivered++
		s.emit(msg)
	}
}

func closeManager(manager session.Manager, log *slog.Logger) {
	if err := manager.Close(); err != nil {
		log.Warn("Closing session manager failed", "error", err)
	}
}
