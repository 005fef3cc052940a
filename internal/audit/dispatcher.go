package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultEmitTimeout bounds one sink call when Config.EmitTimeout is 0.
const DefaultEmitTimeout = 5 * time.Second

// dropLogEvery throttles the backpressure warning to one per this many
// dropped events.
const dropLogEvery = 1000

// Config controls dispatcher buffering and sink delivery.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// EmitTimeout is the deadline placed on each sink call.
	EmitTimeout time.Duration
	Logger      *zap.Logger
}

// Dispatcher forwards audit events to a sink from a single goroutine, so
// sinks see events in emission order and never run concurrently.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logger    *zap.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher, or returns nil when audit is disabled.
// Every method is safe on a nil *Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = DefaultEmitTimeout
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event
// but does not stop the dispatcher.
func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EmitTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked",
				zap.String("event_type", event.EventType),
				zap.Any("panic", r),
			)
		}
	}()
	d.sink.Emit(ctx, event)
}

// Emit queues event. With DropIfFull a full buffer drops the event and
// counts it; otherwise Emit blocks until there is room or ctx ends.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			if n := d.dropped.Add(1); n%dropLogEvery == 1 {
				d.logger.Warn("audit buffer full, dropping events",
					zap.Uint64("dropped_total", n),
					zap.Int("buffer_size", d.cfg.BufferSize),
				)
			}
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops accepting events and waits until the buffer is drained.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events DropIfFull discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
