// Package host drives bridge sessions from Go. It plays the part a foreign
// host plays over the C boundary: it supplies the record callback, waits
// for the session to become ready and submits commands.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"presagebridge/pkg/bridge"
	"presagebridge/pkg/bus"
	"presagebridge/pkg/handle"
	"presagebridge/pkg/record"
)

// DefaultBuffer is the record backlog a Feed holds before the session's
// consumer loop blocks on the host.
const DefaultBuffer = 64

var ErrClosed = errors.New("host: session closed")

// Feed turns the synchronous record callback into a channel. Once closed,
// records are dropped so a departed host never stalls a session.
type Feed struct {
	records chan record.Event

	done      chan struct{}
	closeOnce sync.Once
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed{
		records: make(chan record.Event, buffer),
		done:    make(chan struct{}),
	}
}

// Callback is a record.Callback.
func (f *Feed) Callback(rec record.Record) {
	select {
	case f.records <- record.Decode(rec):
	case <-f.done:
	}
}

// Records is never closed; select on Done as well.
func (f *Feed) Records() <-chan record.Event {
	return f.records
}

func (f *Feed) Done() <-chan struct{} {
	return f.done
}

func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Attached is one open session seen from the host side.
type Attached struct {
	rt     *bridge.Runtime
	handle handle.Handle
	feed   *Feed
}

// Attach opens a session and consumes its ChannelReady record.
func Attach(ctx context.Context, rt *bridge.Runtime, account record.Account, storePath string) (*Attached, error) {
	feed := NewFeed(DefaultBuffer)

	h, err := rt.Open(ctx, account, storePath, feed.Callback)
	if err != nil {
		feed.Close()
		return nil, err
	}

	a := &Attached{rt: rt, handle: h, feed: feed}

	select {
	case ev := <-feed.Records():
		ready, ok := ev.(record.ChannelReady)
		if !ok || ready.Sender != h {
			_ = a.Close()
			return nil, fmt.Errorf("host: expected channel ready, got %s", ev.Name())
		}
	case <-ctx.Done():
		_ = a.Close()
		return nil, ctx.Err()
	}

	return a, nil
}

func (a *Attached) Handle() handle.Handle {
	return a.handle
}

// Records delivers every record after ChannelReady.
func (a *Attached) Records() <-chan record.Event {
	return a.feed.Records()
}

// Send queues command without waiting for it to run.
func (a *Attached) Send(ctx context.Context, command bridge.Command) error {
	return a.rt.Send(ctx, a.handle, command)
}

// Run queues command and hands each record to fn until the command has
// finished and every record it produced was delivered. It must not be used
// concurrently with Send on the same session.
func (a *Attached) Run(ctx context.Context, command bridge.Command, fn func(record.Event)) error {
	lifecycle, unsubscribe := a.rt.Events().Subscribe(ctx, 256)
	defer unsubscribe()

	if err := a.Send(ctx, command); err != nil {
		return err
	}

	session := a.handle.String()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.feed.Records():
			fn(ev)
		case event, ok := <-lifecycle:
			if !ok {
				return ErrClosed
			}
			if event.Session != session {
				continue
			}
			switch event.Type {
			case bus.EventCommandFinished:
				a.drain(fn)
				return nil
			case bus.EventCommandAbandoned, bus.EventSessionClosed:
				a.drain(fn)
				return ErrClosed
			}
		}
	}
}

// drain delivers records already handed over by the session. The consumer
// loop emits before publishing command_finished, so nothing is left behind.
func (a *Attached) drain(fn func(record.Event)) {
	for {
		select {
		case ev := <-a.feed.Records():
			fn(ev)
		default:
			return
		}
	}
}

// Close stops the session. Records it still emits are discarded.
func (a *Attached) Close() error {
	a.feed.Close()
	err := a.rt.Close(a.handle)
	if errors.Is(err, handle.ErrInvalid) {
		return nil
	}
	return err
}
