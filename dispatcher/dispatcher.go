// Package dispatcher feeds ticks to strategy instances. Every instance gets
// one goroutine and one queue, so calls into a strategy are never
// concurrent while different instances run in parallel.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/evdnx/gofloor/executor"
	"github.com/evdnx/gofloor/logger"
	"github.com/evdnx/gofloor/strategy"
	"github.com/evdnx/gofloor/types"
)

var (
	ErrStarted   = errors.New("dispatcher already started")
	ErrClosed    = errors.New("dispatcher closed")
	ErrDuplicate = errors.New("duplicate instance")
)

// Marker is implemented by executors that revalue positions on every tick.
// The revalued positions are delivered to their owners before the tick.
type Marker interface {
	MarkToMarket(tick types.Tick) []types.Position
}

// event is either a tick or a position update.
type event struct {
	tick     *types.Tick
	position *types.Position
}

type runner struct {
	id       string
	strategy strategy.Strategy
	queue    chan event
	log      logger.Logger

	failures int
	firstErr error
}

type Dispatcher struct {
	exec      executor.Executor
	log       logger.Logger
	queueSize int

	mu           sync.RWMutex
	runners      map[string]*runner
	byInstrument map[string][]*runner
	started      bool
	closed       bool
	wg           sync.WaitGroup
}

// New creates a dispatcher that sends orders to exec. queueSize bounds each
// instance's queue; Dispatch blocks while a queue is full.
func New(exec executor.Executor, queueSize int, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		exec:         exec,
		log:          log,
		queueSize:    queueSize,
		runners:      make(map[string]*runner),
		byInstrument: make(map[string][]*runner),
	}
}

// Add registers an instance. It must be called before Start.
func (d *Dispatcher) Add(id string, instruments []string, s strategy.Strategy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrStarted
	}
	if _, ok := d.runners[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	r := &runner{
		id:       id,
		strategy: s,
		queue:    make(chan event, d.queueSize),
		log:      d.log.With(logger.String("instance", id)),
	}
	for _, inst := range instruments {
		d.byInstrument[inst] = append(d.byInstrument[inst], r)
	}
	d.runners[id] = r
	return nil
}

// Start launches one goroutine per instance. Once ctx is done queued ticks
// are dropped; a tick already being processed always completes.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrStarted
	}
	d.started = true
	for _, r := range d.runners {
		d.wg.Add(1)
		go func(r *runner) {
			defer d.wg.Done()
			d.loop(ctx, r)
		}(r)
	}
	return nil
}

// Run starts the dispatcher, waits for ctx to be done and closes it.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Close()
}

// Dispatch revalues positions and routes tick to every instance trading its
// instrument.
func (d *Dispatcher) Dispatch(ctx context.Context, tick types.Tick) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	if !d.started {
		return errors.New("dispatcher not started")
	}
	if m, ok := d.exec.(Marker); ok {
		for _, pos := range m.MarkToMarket(tick) {
			if r, ok := d.runners[pos.Strategy]; ok {
				if err := send(ctx, r, event{position: &pos}); err != nil {
					return err
				}
			}
		}
	}
	for _, r := range d.byInstrument[tick.Instrument] {
		t := tick
		if err := send(ctx, r, event{tick: &t}); err != nil {
			return err
		}
	}
	return nil
}

func send(ctx context.Context, r *runner, ev event) error {
	select {
	case r.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting ticks, drains the queues and waits for every
// instance. It returns the first failure of each instance, combined.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, r := range d.runners {
		close(r.queue)
	}
	started := d.started
	d.mu.Unlock()
	if started {
		d.wg.Wait()
	}

	var err error
	for _, r := range d.runners {
		if r.firstErr != nil {
			err = multierr.Append(err, fmt.Errorf("instance %s: %d failures, first: %w", r.id, r.failures, r.firstErr))
		}
	}
	return err
}

func (d *Dispatcher) loop(ctx context.Context, r *runner) {
	// state writes of an accepted tick are not cut short by shutdown
	work := context.WithoutCancel(ctx)
	for ev := range r.queue {
		switch {
		case ev.position != nil:
			if err := r.strategy.OnPositionUpdate(work, *ev.position); err != nil {
				r.fail("position_update_failed", err)
			}
		case ev.tick != nil:
			if ctx.Err() != nil {
				continue
			}
			d.handleTick(work, r, *ev.tick)
		}
	}
}

func (d *Dispatcher) handleTick(ctx context.Context, r *runner, tick types.Tick) {
	orders, err := r.strategy.OnTick(ctx, tick)
	if err != nil {
		r.fail("tick_failed", err)
	}
	for _, o := range orders {
		positions, err := d.exec.Submit(ctx, o)
		if err != nil {
			r.log.Warn("order_rejected",
				logger.String("order_id", o.ID),
				logger.String("reason", o.Reason),
				logger.Err(err),
			)
			continue
		}
		for _, pos := range positions {
			if err := r.strategy.OnPositionUpdate(ctx, pos); err != nil {
				r.fail("position_update_failed", err)
			}
		}
	}
}

func (r *runner) fail(msg string, err error) {
	r.failures++
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.log.Error(msg, logger.Err(err))
}
