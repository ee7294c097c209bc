package worker

import "log"

// asyncSinkBuffer bounds how many LifecycleEvents may be queued before
// Emit starts dropping events rather than blocking its caller.
const asyncSinkBuffer = 256

// AsyncSink decouples LifecycleEvent delivery from the caller: Emit
// enqueues onto a buffered channel and returns immediately, so a slow
// downstream Sink — an auditstore write stalled on disk I/O, a statusfeed
// websocket write stalled on a dead subscriber — never blocks a tunnel's
// hot path, including its teardown sequence (spec §4.4, §5: "auditstore
// writes, bandwidth sampling, and statusfeed fan-out all happen off the
// hot path"). Under sustained overload the buffer fills and further
// events are dropped with a log line rather than stalling teardown.
type AsyncSink struct {
	next   Sink
	events chan LifecycleEvent
}

// NewAsyncSink wraps next and starts its drain goroutine. next.Emit is
// only ever called from that goroutine, never from the caller of Emit.
func NewAsyncSink(next Sink) *AsyncSink {
	s := &AsyncSink{next: next, events: make(chan LifecycleEvent, asyncSinkBuffer)}
	go s.drain()
	return s
}

// Emit implements Sink. It never blocks: a full buffer drops the event.
func (s *AsyncSink) Emit(ev LifecycleEvent) {
	select {
	case s.events <- ev:
	default:
		log.Printf("[worker] lifecycle sink overloaded, dropping %s event for tunnel %d", ev.Event, ev.TunnelId)
	}
}

func (s *AsyncSink) drain() {
	for ev := range s.events {
		s.next.Emit(ev)
	}
}
