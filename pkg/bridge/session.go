package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"presagebridge/pkg/bus"
	"presagebridge/pkg/handle"
	"presagebridge/pkg/ids"
	"presagebridge/pkg/metrics"
	"presagebridge/pkg/record"
	"presagebridge/pkg/session"
)

type queued struct {
	id       string
	command  Command
	queuedAt time.Time
}

// Session is one opened store with its command queue and consumer loop.
type Session struct {
	rt       *Runtime
	handle   handle.Handle
	account  record.Account
	store    session.Store
	queue    *bus.Queue[queued]
	callback record.Callback
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	emitMu     sync.Mutex
	finishOnce sync.Once
	finishErr  error
}

func newSession(rt *Runtime, account record.Account, st session.Store, callback record.Callback) *Session {
	ctx, cancel := context.WithCancel(rt.ctx)
	return &Session{
		rt:       rt,
		account:  account,
		store:    st,
		queue:    bus.NewQueue[queued](rt.capacity),
		callback: callback,
		log:      rt.base.With("component", "bridge.session", "account", uintptr(account)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (s *Session) enqueue(ctx context.Context, command Command) error {
	if command == nil {
		return fmt.Errorf("bridge: nil command")
	}
	q := queued{id: ids.Request(), command: command, queuedAt: time.Now()}

	s.rt.metrics.CommandQueued()
	if err := s.queue.Send(ctx, q); err != nil {
		s.rt.metrics.CommandDequeued()
		s.log.Warn("Command not queued", "command", command.Name(), "error", err)
		return err
	}

	s.publish(bus.EventCommandQueued, q, nil)
	return nil
}

// emit hands one record to the host. Records of one session are never
// delivered concurrently.
func (s *Session) emit(event record.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.callback(record.Marshal(s.account, event))
	s.rt.metrics.EventEmitted(event.Name())
}

func (s *Session) publish(eventType bus.EventType, q queued, err error) {
	event := bus.Event{
		Type:      eventType,
		Session:   s.handle.String(),
		Command:   q.command.Name(),
		RequestID: q.id,
	}
	if err != nil {
		event.Error = err.Error()
	}
	s.rt.events.Publish(context.Background(), event)
}

// run is the consumer loop. It returns once the queue is closed or the
// session is stopped, leaving any unconsumed commands in the queue.
func (s *Session) run() {
	defer close(s.done)

	s.emit(record.ChannelReady{Sender: s.handle})

	for {
		q, ok := s.queue.Receive(s.ctx)
		if !ok {
			return
		}
		if s.ctx.Err() != nil {
			s.abandon(q)
			return
		}
		s.rt.metrics.CommandDequeued()
		s.execute(q)
	}
}

func (s *Session) execute(q queued) {
	log := s.log.With("command", q.command.Name(), "request_id", q.id)
	log.Debug("Command started", "waited", time.Since(q.queuedAt))
	s.publish(bus.EventCommandStarted, q, nil)

	started := time.Now()
	err := s.process(q.command, log)
	elapsed := time.Since(started)

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeFailed
		log.Warn("Command failed", "error", err, "duration", elapsed)
	} else {
		log.Debug("Command finished", "duration", elapsed)
	}
	s.rt.metrics.CommandFinished(q.command.Name(), outcome, elapsed.Seconds())
	s.publish(bus.EventCommandFinished, q, err)
}

func (s *Session) abandon(q queued) {
	s.rt.metrics.CommandDequeued()
	s.rt.metrics.CommandFinished(q.command.Name(), metrics.OutcomeAbandoned, 0)
	s.publish(bus.EventCommandAbandoned, q, nil)
	s.log.Warn("Abandoned queued command", "command", q.command.Name(), "request_id", q.id)
}

// stop cancels the command in progress before closing the queue, so the
// consumer never starts another command afterwards.
func (s *Session) stop() {
	s.cancel()
	s.queue.Close()
}

// finish abandons queued commands and closes the store. The consumer loop
// must have returned.
func (s *Session) finish() error {
	s.finishOnce.Do(func() {
		for _, q := range s.queue.Drain() {
			s.abandon(q)
		}

		if err := s.store.Close(); err != nil {
			s.finishErr = fmt.Errorf("bridge: closing store: %w", err)
			s.log.Error("Closing store failed", "error", err)
		}

		s.rt.metrics.SessionClosed()
		s.rt.events.Publish(context.Background(), bus.Event{Type: bus.EventSessionClosed, Session: s.handle.String()})
		s.log.Info("Session closed")
	})
	return s.finishErr
}
