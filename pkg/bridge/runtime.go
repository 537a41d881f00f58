// Package bridge runs messaging sessions on behalf of a host.
//
// A Runtime owns any number of sessions. Each session has its own store,
// a bounded command queue and one consumer goroutine that executes commands
// strictly one at a time and reports results through the host callback.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"presagebridge/pkg/bus"
	"presagebridge/pkg/handle"
	"presagebridge/pkg/metrics"
	"presagebridge/pkg/normalize"
	"presagebridge/pkg/record"
	"presagebridge/pkg/session"
	"presagebridge/pkg/store"
)

// StoreOpener opens the store a session runs against.
type StoreOpener func(ctx context.Context, path string) (session.Store, error)

type Options struct {
	Library session.Library

	// OpenStore defaults to an unsealed pkg/store that refuses schema
	// migrations.
	OpenStore StoreOpener

	// QueueCapacity bounds each session's command queue.
	QueueCapacity int

	Normalize normalize.Options
	Logger    *slog.Logger
	Metrics   *metrics.Bridge

	// Events receives lifecycle events. The runtime creates and closes its
	// own when nil.
	Events *bus.Events

	// ObserveEvents logs every lifecycle event at a level matching its
	// outcome.
	ObserveEvents bool
}

type Runtime struct {
	library    session.Library
	openStore  StoreOpener
	capacity   int
	normalizer *normalize.Normalizer
	base       *slog.Logger
	log        *slog.Logger
	metrics    *metrics.Bridge
	events     *bus.Events
	ownsEvents bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sessions handle.Table[*Session]

	mu        sync.Mutex
	destroyed bool
}

// DefaultStoreOpener opens an unsealed store and raises on schema conflicts.
func DefaultStoreOpener(log *slog.Logger) StoreOpener {
	return func(ctx context.Context, path string) (session.Store, error) {
		return store.Open(ctx, path, store.Options{Migration: store.MigrationRaise, Logger: log})
	}
}

func NewRuntime(opts Options) *Runtime {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Normalize.Logger == nil {
		opts.Normalize.Logger = log
	}
	openStore := opts.OpenStore
	if openStore == nil {
		openStore = DefaultStoreOpener(log)
	}
	events := opts.Events
	ownsEvents := events == nil
	if ownsEvents {
		events = bus.NewEvents()
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Runtime{
		library:    opts.Library,
		openStore:  openStore,
		capacity:   opts.QueueCapacity,
		normalizer: normalize.New(opts.Normalize),
		base:       log,
		log:        log.With("component", "bridge.runtime"),
		metrics:    opts.Metrics,
		events:     events,
		ownsEvents: ownsEvents,
		ctx:        ctx,
		cancel:     cancel,
	}

	if opts.ObserveEvents {
		events, unsubscribe := r.events.Subscribe(ctx, observerBuffer)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer unsubscribe()
			observeEvents(ctx, events, log.With("component", "bridge.events"))
		}()
	}

	return r
}

// Events returns the lifecycle event bus.
func (r *Runtime) Events() *bus.Events {
	return r.events
}

// Open opens the store at storePath and starts a session for account. The
// session's first record is ChannelReady carrying the returned handle. When
// the store cannot be opened nothing is reported to callback.
func (r *Runtime) Open(ctx context.Context, account record.Account, storePath string, callback record.Callback) (handle.Handle, error) {
	if r.library == nil {
		return 0, ErrNoLibrary
	}
	if callback == nil {
		return 0, fmt.Errorf("bridge: callback is required")
	}

	r.mu.Lock()
	destroyed := r.destroyed
	r.mu.Unlock()
	if destroyed {
		return 0, ErrRuntimeDestroyed
	}

	st, err := r.openStore(ctx, storePath)
	if err != nil {
		r.log.Error("Opening store failed", "path", storePath, "error", err)
		return 0, fmt.Errorf("bridge: open store %s: %w", storePath, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		_ = st.Close()
		return 0, ErrRuntimeDestroyed
	}

	s := newSession(r, account, st, callback)
	s.handle = r.sessions.Insert(s)
	s.log = s.log.With("session", s.handle.String())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run()
	}()

	r.metrics.SessionOpened()
	r.events.Publish(r.ctx, bus.Event{Type: bus.EventSessionOpened, Session: s.handle.String(), Payload: map[string]string{"path": storePath}})
	r.log.Info("Session opened", "session", s.handle.String(), "path", storePath)
	return s.handle, nil
}

// Send queues command on the session identified by sender. It blocks while
// the session's queue is full.
func (r *Runtime) Send(ctx context.Context, sender handle.Handle, command Command) error {
	s, err := r.sessions.Get(sender)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, command)
}

// Close stops one session: the command in progress is cancelled, queued
// commands are abandoned and the store is closed. The handle becomes invalid.
func (r *Runtime) Close(sender handle.Handle) error {
	s, err := r.sessions.Remove(sender)
	if err != nil {
		return err
	}
	s.stop()
	<-s.done
	return s.finish()
}

// Destroy stops every session and releases the runtime. Commands still
// queued are abandoned, not executed. A second call returns
// ErrRuntimeDestroyed.
func (r *Runtime) Destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrRuntimeDestroyed
	}
	r.destroyed = true
	r.mu.Unlock()

	r.cancel()
	sessions := r.sessions.RemoveAll()
	for _, s := range sessions {
		s.stop()
	}
	r.wg.Wait()

	var firstErr error
	for _, s := range sessions {
		if err := s.finish(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if r.ownsEvents {
		r.events.Close()
	}
	r.log.Info("Runtime destroyed", "sessions", len(sessions))
	return firstErr
}
