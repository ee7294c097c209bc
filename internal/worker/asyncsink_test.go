package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsyncSink_EmitDoesNotBlockOnSlowNext(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	sink := NewAsyncSink(sinkFunc(func(ev LifecycleEvent) {
		<-release
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	start := time.Now()
	sink.Emit(LifecycleEvent{Event: EventConnected})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond, "Emit must return immediately, not wait for the slow downstream sink")
	close(release)
}

func TestAsyncSink_DeliversEventsInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []EventKind
	done := make(chan struct{})

	sink := NewAsyncSink(sinkFunc(func(ev LifecycleEvent) {
		mu.Lock()
		got = append(got, ev.Event)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
	}))

	sink.Emit(LifecycleEvent{Event: EventConnected})
	sink.Emit(LifecycleEvent{Event: EventDisconnected})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected both events to be delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventConnected, EventDisconnected}, got)
}

func TestAsyncSink_DropsEventsWhenBufferFull(t *testing.T) {
	block := make(chan struct{})
	var delivered int
	var mu sync.Mutex
	sink := NewAsyncSink(sinkFunc(func(ev LifecycleEvent) {
		<-block
		mu.Lock()
		delivered++
		mu.Unlock()
	}))

	// One event occupies the drain goroutine; asyncSinkBuffer more fill the
	// channel; anything past that must be dropped rather than block Emit.
	for i := 0; i < asyncSinkBuffer+10; i++ {
		sink.Emit(LifecycleEvent{Event: EventConnected})
	}
	close(block)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered > 0
	}, time.Second, 10*time.Millisecond)
}
