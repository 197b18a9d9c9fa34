package audit

import (
	"sync"
	"sync/atomic"

	"github.com/evdnx/gofloor/metrics"
)

// AsyncSink hands events to a background goroutine through a bounded queue.
// When the queue is full the event is dropped and counted.
type AsyncSink struct {
	next    Sink
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &AsyncSink{
		next:  next,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for e := range s.queue {
		s.next.LogEvent(e)
	}
}

func (s *AsyncSink) LogEvent(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
		metrics.AuditEventsDropped.Inc()
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting events and waits until the queue is drained.
func (s *AsyncSink) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
	return nil
}
