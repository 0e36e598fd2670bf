package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls the dispatcher. OnDrop and OnSinkPanic run synchronously,
// on the emitting goroutine and the relay goroutine respectively.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool

	// SinkTimeout is the deadline placed on the context of each sink call.
	// Zero leaves the context without a deadline.
	SinkTimeout time.Duration

	OnDrop      func(Event)
	OnSinkPanic func(Event, any)
}

// Dispatcher relays events to a Sink on one background goroutine so that
// authentication flows never wait on audit I/O.
type Dispatcher struct {
	cfg  Config
	sink Sink

	queue   chan Event
	stop    chan struct{}
	stopped chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

// NewDispatcher starts the relay goroutine. It returns nil when cfg is
// disabled; a nil Dispatcher accepts and ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan Event, cfg.BufferSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer close(d.stopped)
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event
// only.
func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			if d.cfg.OnSinkPanic != nil {
				d.cfg.OnSinkPanic(event, r)
			}
		}
	}()
	d.sink.Emit(ctx, event)
}

// Emit queues event. With DropIfFull a full buffer discards the event;
// otherwise Emit waits for space, ctx cancellation or Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
			if d.cfg.OnDrop != nil {
				d.cfg.OnDrop(event)
			}
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close stops accepting events, flushes the buffer into the sink and waits
// for the relay goroutine to exit.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		<-d.stopped
	})
}

// Dropped counts events discarded on a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts events lost to a panicking sink.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
